package receipt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	invoicedomain "github.com/smallbiznis/vetclinic/internal/invoice/domain"
	"github.com/smallbiznis/vetclinic/internal/requestctx"
	tenantdomain "github.com/smallbiznis/vetclinic/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const dateLayout = "02/01/2006"

var Module = fx.Module("receipt",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Invoices invoicedomain.Service
	Tenants  tenantdomain.Service
	Log      *zap.Logger
}

type Service struct {
	invoices invoicedomain.Service
	tenants  tenantdomain.Service
	log      *zap.Logger
	render   func(Data) ([]byte, error)
}

// Receipt is a rendered PDF ready to be streamed.
type Receipt struct {
	Filename string
	Content  []byte
}

func New(p Params) *Service {
	return &Service{
		invoices: p.Invoices,
		tenants:  p.Tenants,
		log:      p.Log.Named("receipt"),
		render:   renderPDF,
	}
}

// Render builds the receipt of a paid invoice owned by the caller's tenant.
func (s *Service) Render(ctx context.Context, caller requestctx.Caller, invoiceID string) (*Receipt, error) {
	invoice, err := s.invoices.Get(ctx, caller, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != invoicedomain.InvoiceStatusPaid || invoice.PaidAt == nil {
		return nil, invoicedomain.ErrNotPaid
	}

	clinicName := caller.TenantID
	tenant, err := s.tenants.Get(ctx, caller.TenantID)
	switch {
	case err == nil:
		clinicName = tenant.Name
	case errors.Is(err, tenantdomain.ErrNotFound):
	default:
		return nil, err
	}

	method := ""
	if invoice.PaymentMethod != nil {
		method = *invoice.PaymentMethod
	}
	data := Data{
		ClinicName:    clinicName,
		ClinicID:      caller.TenantID,
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     invoice.CreatedAt.Format(dateLayout),
		DatePaid:      invoice.PaidAt.Format(dateLayout),
		PaymentMethod: method,
		Amount:        invoice.Amount.String(),
		Currency:      strings.ToUpper(invoice.Currency),
	}

	content, err := s.render(data)
	if err != nil {
		s.log.Error("failed to render receipt",
			zap.String("tenant_id", caller.TenantID),
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
		return nil, err
	}

	return &Receipt{
		Filename: fmt.Sprintf("recibo-%s.pdf", invoice.InvoiceNumber),
		Content:  content,
	}, nil
}
