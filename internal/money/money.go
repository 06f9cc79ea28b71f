// Package money converts decimal amounts to exact scaled integers and back.
//
// Amounts are carried as int64 minor units (cents for prices, basis points for
// rates) and never as floats. Every function that can fail reports it through an
// error; callers must treat an error as "cannot price", not as zero.
package money

import (
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxSafeInteger bounds every scaled value (2^53-1), so amounts stay exact
// when handed to clients that decode JSON numbers as doubles.
const MaxSafeInteger int64 = 1<<53 - 1

// ZeroAmount is the canonical rendering of an unusable scaled value.
const ZeroAmount = "0.00"

var (
	ErrInvalidDecimal = errors.New("invalid decimal amount")
	ErrNegativeScale  = errors.New("scale must not be negative")
	ErrOutOfRange     = errors.New("amount exceeds safe integer range")
)

var decimalPattern = regexp.MustCompile(`^[+-]?\d+(?:\.\d+)?$`)

var (
	maxSafe    = decimal.NewFromInt(MaxSafeInteger)
	basisScale = int32(-4)
)

// DecimalToScaled parses text such as "12.345" into an integer scaled by
// 10^scale, rounding half-up on the magnitude at the first dropped digit.
func DecimalToScaled(text string, scale int) (int64, error) {
	if scale < 0 {
		return 0, ErrNegativeScale
	}
	raw := strings.TrimSpace(text)
	if raw == "" || !decimalPattern.MatchString(raw) {
		return 0, ErrInvalidDecimal
	}
	factor := decimal.New(1, int32(scale))
	if factor.GreaterThan(maxSafe) {
		return 0, ErrOutOfRange
	}

	negative := strings.HasPrefix(raw, "-")
	magnitude := strings.TrimLeft(raw, "+-")

	intPart, fracPart, _ := strings.Cut(magnitude, ".")
	padded := fracPart + strings.Repeat("0", scale+1)
	kept := padded[:scale]
	roundDigit := padded[scale]

	major, err := decimal.NewFromString(intPart)
	if err != nil {
		return 0, ErrInvalidDecimal
	}
	scaled := major.Mul(factor)
	if kept != "" {
		minor, err := decimal.NewFromString(kept)
		if err != nil {
			return 0, ErrInvalidDecimal
		}
		scaled = scaled.Add(minor)
	}
	if scaled.GreaterThan(maxSafe) {
		return 0, ErrOutOfRange
	}
	if roundDigit >= '5' {
		scaled = scaled.Add(decimal.NewFromInt(1))
		if scaled.GreaterThan(maxSafe) {
			return 0, ErrOutOfRange
		}
	}

	value := scaled.IntPart()
	if negative {
		value = -value
	}
	return value, nil
}

// ScaledToDecimal renders a two-digit scaled value ("-12.05"). Values outside
// the safe range render as ZeroAmount.
func ScaledToDecimal(v int64) string {
	if !IsSafe(v) {
		return ZeroAmount
	}
	return decimal.New(v, -2).StringFixed(2)
}

// FeeFromBasisPoints returns round(base*rate/10000), rounding halves away from
// zero.
func FeeFromBasisPoints(baseCents, rateBasisPoints int64) (int64, error) {
	if !IsSafe(baseCents) || !IsSafe(rateBasisPoints) {
		return 0, ErrOutOfRange
	}
	product := decimal.NewFromInt(baseCents).Mul(decimal.NewFromInt(rateBasisPoints))
	if product.Abs().GreaterThan(maxSafe) {
		return 0, ErrOutOfRange
	}
	return product.Shift(basisScale).Round(0).IntPart(), nil
}

// AmountToCents parses a price amount such as "19.99".
func AmountToCents(amount string) (int64, error) {
	return DecimalToScaled(amount, 2)
}

// RateToBasisPoints parses a percentage such as "2.50" into basis points (250).
func RateToBasisPoints(percent string) (int64, error) {
	return DecimalToScaled(percent, 2)
}

// CentsToAmount is the display form of a cent value.
func CentsToAmount(cents int64) string {
	return ScaledToDecimal(cents)
}

// BasisPointsToPercent is the display form of a rate ("2.50").
func BasisPointsToPercent(basisPoints int64) string {
	return ScaledToDecimal(basisPoints)
}

// LineTotal multiplies a unit price amount by a quantity in cents.
func LineTotal(priceAmount string, quantity int) (int64, error) {
	unit, err := AmountToCents(priceAmount)
	if err != nil {
		return 0, err
	}
	total := decimal.NewFromInt(unit).Mul(decimal.NewFromInt(int64(quantity)))
	if total.Abs().GreaterThan(maxSafe) {
		return 0, ErrOutOfRange
	}
	return total.IntPart(), nil
}

// Add sums cent values, failing instead of leaving the safe range.
func Add(a, b int64) (int64, error) {
	if !IsSafe(a) || !IsSafe(b) {
		return 0, ErrOutOfRange
	}
	sum := a + b
	if !IsSafe(sum) {
		return 0, ErrOutOfRange
	}
	return sum, nil
}

// IsSafe reports whether v lies within ±MaxSafeInteger.
func IsSafe(v int64) bool {
	return v >= -MaxSafeInteger && v <= MaxSafeInteger
}

// ParseInteger accepts loosely typed input (JSON numbers, numeric strings) and
// returns it as an integer when it is integral and within the safe range.
func ParseInteger(raw any) (int64, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case nil:
		return 0, ErrInvalidDecimal
	case int:
		d = decimal.NewFromInt(int64(v))
	case int32:
		d = decimal.NewFromInt32(v)
	case int64:
		d = decimal.NewFromInt(v)
	case float64:
		if math.IsNaN(v) || v > float64(MaxSafeInteger) || v < -float64(MaxSafeInteger) {
			return 0, ErrOutOfRange
		}
		d = decimal.NewFromFloat(v)
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return 0, ErrInvalidDecimal
		}
		d = parsed
	case interface{ String() string }:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return 0, ErrInvalidDecimal
		}
		d = parsed
	default:
		return 0, ErrInvalidDecimal
	}
	if !d.IsInteger() {
		return 0, ErrInvalidDecimal
	}
	if d.Abs().GreaterThan(maxSafe) {
		return 0, ErrOutOfRange
	}
	return d.IntPart(), nil
}
