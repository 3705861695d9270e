package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vetclinic/internal/payment/domain"
	"github.com/smallbiznis/vetclinic/pkg/db/pagination"
	"github.com/smallbiznis/vetclinic/pkg/tenantdb"
	"gorm.io/gorm"
)

const transactionsTable = "payment_transactions"

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTransaction(ctx context.Context, db *tenantdb.DB, txn *domain.Transaction) error {
	return db.Insert(ctx, transactionsTable, txn, tenantdb.WriteOptions{})
}

func (r *repo) FindTransaction(ctx context.Context, db *tenantdb.DB, ref domain.TransactionRef) (*domain.Transaction, error) {
	var filter tenantdb.Filter
	switch {
	case ref.ID != 0:
		filter = tenantdb.ByID(ref.ID)
	case ref.ProviderPaymentID != "":
		filter = tenantdb.Eq("provider_payment_id", ref.ProviderPaymentID)
	default:
		return nil, nil
	}
	return tenantdb.SelectOne[domain.Transaction](ctx, db, transactionsTable, tenantdb.SelectOptions{
		Filter: filter,
		Order:  "id DESC",
	})
}

// UpdateTransaction applies data only while the transaction is in one of the
// from states and reports whether the row changed.
func (r *repo) UpdateTransaction(ctx context.Context, db *tenantdb.DB, id snowflake.ID, from []domain.TransactionStatus, data map[string]any) (bool, error) {
	filter := tenantdb.ByID(id)
	if len(from) > 0 {
		values := make([]any, 0, len(from))
		for _, status := range from {
			values = append(values, status)
		}
		filter = tenantdb.And(filter, tenantdb.In("status", values...))
	}
	rows, err := db.Update(ctx, transactionsTable, data, filter, tenantdb.WriteOptions{})
	return rows > 0, err
}

func (r *repo) ListTransactions(ctx context.Context, db *tenantdb.DB, invoiceID snowflake.ID, cursor *pagination.Cursor, limit int) ([]domain.Transaction, error) {
	filter := tenantdb.Eq("invoice_id", invoiceID)
	if cursor != nil {
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		filter = tenantdb.And(filter, func(q *gorm.DB) *gorm.DB {
			return q.Where("id < ?", cursorID)
		})
	}
	return tenantdb.SelectAll[domain.Transaction](ctx, db, transactionsTable, tenantdb.SelectOptions{
		Filter: filter,
		Order:  "id DESC",
		Limit:  limit,
	})
}

// Webhook events are deduplicated before the tenant is trusted, so they go
// through the shared handle.

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, provider_event_id, event_type,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, tenant_id, provider, provider_event_id, event_type,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.TenantID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
