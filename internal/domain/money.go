package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// USDC carries six decimal places; balances are stored as int64 micros.
const microsPerUnit = 1_000_000

// MaxAmountMicros caps a single transfer or withdrawal at 1,000,000 USDC.
const MaxAmountMicros int64 = 1_000_000 * microsPerUnit

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountTooLarge = errors.New("amount exceeds maximum")

	amountPattern = regexp.MustCompile(`^\d+(\.\d{1,6})?$`)
)

// ParseAmount converts a decimal string such as "12.5" into USDC micros.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if !amountPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal USDC value to micros, rejecting sub-micro precision.
func FromDecimal(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	micros := d.Shift(6)
	if !micros.Equal(micros.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than 6 decimal places", ErrInvalidAmount)
	}
	if micros.GreaterThan(decimal.NewFromInt(MaxAmountMicros)) {
		return 0, ErrAmountTooLarge
	}
	return micros.IntPart(), nil
}

// ToDecimal converts micros to a decimal USDC value.
func ToDecimal(micros int64) decimal.Decimal {
	return decimal.New(micros, -6)
}

// FormatMicros renders micros as a plain decimal string without trailing zeros ("12.5").
func FormatMicros(micros int64) string {
	return ToDecimal(micros).String()
}

// FormatMicrosFixed renders micros with two decimal places for display in messages.
func FormatMicrosFixed(micros int64) string {
	return ToDecimal(micros).StringFixed(2)
}
