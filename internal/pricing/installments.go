// Package pricing computes installment plans for credit card payments.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"coursemarket/internal/config"
)

// ErrInvalidInstallmentCount is returned for counts below 1 or above the
// configured maximum.
var ErrInvalidInstallmentCount = errors.New("invalid installment count")

// Quote is the result of an installment calculation. TotalAmount is
// always InstallmentValue times the count, so the charged total and the
// per-installment value can never drift apart by rounding.
type Quote struct {
	InstallmentValue float64 `json:"installment_value"`
	TotalAmount      float64 `json:"total_amount"`
	InterestRate     float64 `json:"interest_rate"`
	HasInterest      bool    `json:"has_interest"`
}

// Calculate prices an amount across n installments. Counts up to the
// interest-free threshold split the amount evenly; above it the standard
// annuity formula applies with the per-count monthly rate from the
// config table (falling back for unmapped counts). All arithmetic runs
// in decimal and is rounded to cents only at the final output.
func Calculate(amount float64, n int, cfg config.InstallmentConfig) (*Quote, error) {
	if n < 1 || n > cfg.MaxInstallments {
		return nil, ErrInvalidInstallmentCount
	}

	total := decimal.NewFromFloat(amount)
	count := decimal.NewFromInt(int64(n))

	if n <= cfg.InterestFreeCount {
		value := total.Div(count).Round(2)
		if err := checkMinimum(value, n, cfg); err != nil {
			return nil, err
		}
		return &Quote{
			InstallmentValue: value.InexactFloat64(),
			TotalAmount:      value.Mul(count).InexactFloat64(),
			InterestRate:     0,
			HasInterest:      false,
		}, nil
	}

	ratePercent, ok := cfg.InterestRates[n]
	if !ok {
		ratePercent = cfg.FallbackInterestRate
	}

	// installment = amount * r*(1+r)^n / ((1+r)^n - 1)
	r := decimal.NewFromFloat(ratePercent).Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)
	compound := one.Add(r).Pow(count)
	value := total.Mul(r.Mul(compound)).Div(compound.Sub(one)).Round(2)
	if err := checkMinimum(value, n, cfg); err != nil {
		return nil, err
	}

	return &Quote{
		InstallmentValue: value.InexactFloat64(),
		TotalAmount:      value.Mul(count).InexactFloat64(),
		InterestRate:     ratePercent,
		HasInterest:      true,
	}, nil
}

// checkMinimum rejects plans whose per-installment value would fall
// below the configured floor. Single-installment charges are exempt so
// cheap courses stay purchasable.
func checkMinimum(value decimal.Decimal, n int, cfg config.InstallmentConfig) error {
	if n > 1 && value.LessThan(decimal.NewFromFloat(cfg.MinInstallmentValue)) {
		return ErrInvalidInstallmentCount
	}
	return nil
}
