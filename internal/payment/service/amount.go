package service

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/vetclinic/internal/config"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
)

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts an invoice amount to the integer the processor
// charges. Zero-decimal currencies such as PYG are charged in whole units.
func ToMinorUnits(amount decimal.Decimal, currency string, cfg config.PaymentsConfig) (int64, error) {
	value := amount
	if !cfg.IsZeroDecimal(currency) {
		value = value.Mul(hundred)
	}
	value = value.Round(0)
	if !value.IsPositive() {
		return 0, paymentdomain.ErrInvalidAmount
	}
	return value.IntPart(), nil
}
