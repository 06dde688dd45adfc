package domain

import (
	"github.com/shopspring/decimal"
)

// Money is an amount in the platform's single settlement currency.
type Money = decimal.Decimal

var Zero = decimal.Zero

func NewMoney(v int64) Money {
	return decimal.NewFromInt(v)
}

func ParseMoney(s string) (Money, error) {
	m, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, ErrInvalidInput
	}
	return m.Round(2), nil
}

func IsPositive(m Money) bool {
	return m.GreaterThan(decimal.Zero)
}

func Sum(amounts ...Money) Money {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
