package sales

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// EvaluateCredit decides the credit check. A missing or non-positive limit means unlimited.
// exposure is what the customer already owes or has on open orders; total is the new order.
func EvaluateCredit(limit *float64, exposure, total float64) CreditCheck {
	projected := decimal.NewFromFloat(exposure).Add(decimal.NewFromFloat(total)).Round(2)
	check := CreditCheck{Status: CreditPassed, Limit: limit, Exposure: projected.InexactFloat64()}
	if limit == nil || *limit <= 0 {
		return check
	}
	if projected.GreaterThan(decimal.NewFromFloat(*limit)) {
		check.Status = CreditFailed
	}
	return check
}

func (s *Service) creditCheck(ctx context.Context, tx TxRepository, c Customer, total float64) (CreditCheck, error) {
	exposure, err := tx.CustomerExposure(ctx, c.CompanyID, c.ID)
	if err != nil {
		return CreditCheck{}, fmt.Errorf("customer exposure: %w", err)
	}
	return EvaluateCredit(c.CreditLimit, exposure, total), nil
}
