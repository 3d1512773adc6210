// Package pricing recomputes cart totals from the catalog so the amount
// charged never depends on client-declared prices.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/money"
)

// DefaultTolerance is one cent, in major units.
const DefaultTolerance = 0.01

var (
	// ErrUnknownItem matches every UnknownItemError.
	ErrUnknownItem = errors.New("pricing: unknown item")

	// ErrPriceMismatch is returned when the declared total differs from the
	// authoritative one by more than the tolerance.
	ErrPriceMismatch = errors.New("pricing: declared total does not match")
)

// UnknownItemError names a requested key absent from the catalog.
type UnknownItemError struct {
	Key string
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("pricing: unknown item %q", e.Key)
}

// Is makes errors.Is(err, ErrUnknownItem) hold.
func (e *UnknownItemError) Is(target error) bool {
	return target == ErrUnknownItem
}

// MismatchError carries both totals for logging.
type MismatchError struct {
	Declared      float64
	Authoritative float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("pricing: declared total %.2f does not match %.2f", e.Declared, e.Authoritative)
}

// Is makes errors.Is(err, ErrPriceMismatch) hold.
func (e *MismatchError) Is(target error) bool {
	return target == ErrPriceMismatch
}

// PriceSource is the catalog as seen by the authority.
type PriceSource interface {
	Prices(ctx context.Context) (map[string]money.Cents, error)
}

// Authority prices carts from the catalog.
type Authority struct {
	source    PriceSource
	tolerance float64
	metrics   *metrics.Metrics
}

// NewAuthority creates an authority. A non-positive tolerance uses DefaultTolerance.
func NewAuthority(source PriceSource, tolerance float64, m *metrics.Metrics) *Authority {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Authority{source: source, tolerance: tolerance, metrics: m}
}

// AuthoritativeTotal sums the stored prices of keys in major units. Duplicate
// keys are charged once per occurrence.
func (a *Authority) AuthoritativeTotal(ctx context.Context, keys []string) (float64, error) {
	cents, err := a.TotalCents(ctx, keys)
	if err != nil {
		return 0, err
	}
	return cents.Major(), nil
}

// TotalCents is AuthoritativeTotal in minor units.
func (a *Authority) TotalCents(ctx context.Context, keys []string) (money.Cents, error) {
	prices, err := a.source.Prices(ctx)
	if err != nil {
		a.metrics.ObservePriceCheck("error")
		return 0, fmt.Errorf("pricing: load catalog: %w", err)
	}

	var total money.Cents
	for _, key := range keys {
		price, ok := prices[key]
		if !ok {
			a.metrics.ObservePriceCheck("unknown_item")
			return 0, &UnknownItemError{Key: key}
		}
		if total, err = total.Add(price); err != nil {
			a.metrics.ObservePriceCheck("error")
			return 0, fmt.Errorf("pricing: %w", err)
		}
	}
	return total, nil
}

// Check compares a client-declared total with the authoritative one.
func (a *Authority) Check(declared, authoritative float64) error {
	if !money.WithinTolerance(declared, authoritative, a.tolerance) {
		a.metrics.ObservePriceCheck("mismatch")
		return &MismatchError{Declared: declared, Authoritative: authoritative}
	}
	a.metrics.ObservePriceCheck("ok")
	return nil
}
