package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/vetclinic/internal/requestctx"
)

type Service interface {
	Get(ctx context.Context, caller requestctx.Caller, id string) (Invoice, error)
	Void(ctx context.Context, caller requestctx.Caller, id string) (Invoice, error)
}

var (
	ErrInvalidID      = errors.New("invalid_invoice_id")
	ErrNotFound       = errors.New("invoice_not_found")
	ErrAlreadyPaid    = errors.New("invoice_already_paid")
	ErrAlreadyVoid    = errors.New("invoice_already_void")
	ErrNotPaid        = errors.New("invoice_not_paid")
	ErrStatusConflict = errors.New("invoice_status_conflict")
)
