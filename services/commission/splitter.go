// Package commission splits a charge between the platform and the provider.
// The provider amount is always derived from the commission so the two parts sum
// back to the total by construction.
package commission

import (
	"math"

	"github.com/shopspring/decimal"

	"homeclean/services/payerr"
)

// DefaultRate is the platform commission (20%).
var DefaultRate = decimal.RequireFromString("0.20")

// Split is one charge divided into its two parts, all in minor units.
type Split struct {
	Total          int64 `json:"total"`
	Commission     int64 `json:"commission"`
	ProviderAmount int64 `json:"providerAmount"`
}

type Splitter struct {
	rate decimal.Decimal
}

func NewSplitter(rate decimal.Decimal) (*Splitter, error) {
	if !rate.IsPositive() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, payerr.New(payerr.InvalidAmount, "commission rate %s outside (0,1)", rate)
	}
	return &Splitter{rate: rate}, nil
}

// ParseSplitter builds a Splitter from a configured rate such as "0.20".
func ParseSplitter(rate string) (*Splitter, error) {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, payerr.Wrap(payerr.InvalidAmount, err, "commission rate %q", rate)
	}
	return NewSplitter(d)
}

func (s *Splitter) Rate() decimal.Decimal {
	return s.rate
}

// Split computes commission = round(total*rate), half away from zero, and
// providerAmount = total - commission.
func (s *Splitter) Split(total int64) (Split, error) {
	if total < 0 {
		return Split{}, payerr.New(payerr.InvalidAmount, "negative total %d", total)
	}
	commission := decimal.NewFromInt(total).Mul(s.rate).Round(0).IntPart()
	return Split{
		Total:          total,
		Commission:     commission,
		ProviderAmount: total - commission,
	}, nil
}

// Validate checks the sum invariant. Called at every write site that persists a split.
func Validate(sp Split) error {
	if sp.Commission < 0 || sp.ProviderAmount < 0 {
		return payerr.New(payerr.InvalidAmount, "negative part in split %+v", sp)
	}
	if sp.Commission+sp.ProviderAmount != sp.Total {
		return payerr.New(payerr.InvalidAmount, "split %d+%d does not sum to %d",
			sp.Commission, sp.ProviderAmount, sp.Total)
	}
	return nil
}

// ToMinorUnits converts a major-unit price (100.00) into minor units (10000).
func ToMinorUnits(major float64) (int64, error) {
	if math.IsNaN(major) || math.IsInf(major, 0) {
		return 0, payerr.New(payerr.InvalidAmount, "non-finite amount")
	}
	if major < 0 {
		return 0, payerr.New(payerr.InvalidAmount, "negative amount %v", major)
	}
	return decimal.NewFromFloat(major).Shift(2).Round(0).IntPart(), nil
}
