package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cents is an amount in the currency's minor unit (USD cents). All totals are
// accumulated in Cents so float summation error never reaches the processor.
type Cents int64

var (
	// ErrOverflow occurs when an operation would exceed int64 capacity.
	ErrOverflow = errors.New("money: arithmetic overflow")

	// ErrInvalidFormat occurs when parsing fails.
	ErrInvalidFormat = errors.New("money: invalid format")

	// ErrNegativeAmount occurs when a price is below zero.
	ErrNegativeAmount = errors.New("money: negative amount not allowed")
)

// MaxStripeAmount is the processor ceiling in minor units ($999,999.99).
const MaxStripeAmount Cents = 99_999_999

// FromFloat converts a major-unit amount to cents, rounding half away from zero.
func FromFloat(major float64) Cents {
	return Cents(math.Round(major * 100))
}

// FromMajor parses a decimal string such as "29.99", "$5" or "0.125" into cents
// using half-up rounding on the third decimal.
//
//   - FromMajor("10.5")   → 1050
//   - FromMajor("0.125")  → 13
func FromMajor(raw string) (Cents, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidFormat)
	}
	negative := strings.HasPrefix(s, "-")
	if negative {
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if strings.Contains(fracPart, ".") {
		return 0, fmt.Errorf("%w: too many decimal points", ErrInvalidFormat)
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
		}
	}

	var frac int64
	roundUp := false
	switch {
	case len(fracPart) > 2:
		roundUp = fracPart[2] >= '5'
		fracPart = fracPart[:2]
	case len(fracPart) == 1:
		fracPart += "0"
	case len(fracPart) == 0:
		fracPart = "00"
	}
	frac, _ = strconv.ParseInt(fracPart, 10, 64)
	if roundUp {
		frac++
	}

	if whole > (math.MaxInt64-frac)/100 {
		return 0, ErrOverflow
	}
	total := Cents(whole*100 + frac)
	if negative {
		total = -total
	}
	return total, nil
}

// Add returns c+other, failing on overflow.
func (c Cents) Add(other Cents) (Cents, error) {
	sum := c + other
	if (other > 0 && sum < c) || (other < 0 && sum > c) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Major returns the amount in major units.
func (c Cents) Major() float64 {
	return float64(c) / 100
}

// String renders the amount with two decimals, e.g. "29.99".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Display renders the amount for emails, e.g. "$29.99".
func (c Cents) Display() string {
	if c < 0 {
		return "-$" + (-c).String()
	}
	return "$" + c.String()
}

// ValidateStripeAmount checks the amount is chargeable: positive and within the
// processor ceiling.
func ValidateStripeAmount(c Cents) error {
	if c <= 0 {
		return fmt.Errorf("money: stripe amount must be positive, got %d", c)
	}
	if c > MaxStripeAmount {
		return fmt.Errorf("money: stripe amount exceeds maximum (%d > %d)", c, MaxStripeAmount)
	}
	return nil
}

// WithinTolerance reports whether |a-b| <= tolerance, all in major units. The
// comparison happens in cents to keep 29.99 vs 29.990000001 stable.
func WithinTolerance(a, b, tolerance float64) bool {
	diff := FromFloat(a) - FromFloat(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= FromFloat(tolerance)
}
