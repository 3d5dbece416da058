package model

import (
	"math"

	"github.com/shopspring/decimal"

	"course-payments/internal/domain"
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ToMinor converts a major-unit amount (499.00) to minor units (49900),
// rounding half away from zero. Amounts outside the int64 range are
// rejected instead of wrapping.
func ToMinor(major decimal.Decimal) (int64, error) {
	minor := major.Shift(2).Round(0)
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, domain.ErrAmountOutOfRange
	}
	return minor.IntPart(), nil
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
