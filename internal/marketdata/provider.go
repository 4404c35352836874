// Package marketdata fetches observed financial values used to verify
// assumptions.
package marketdata

import (
	"context"
	"fmt"
	"time"
)

// ActualValue is an observed value and where it came from.
type ActualValue struct {
	Value  string
	Source string
	AsOf   time.Time
}

// Provider returns domain.ErrActualNotFound when no value is available yet.
type Provider interface {
	GetActualValue(ctx context.Context, ticker, metric string, asOf time.Time) (*ActualValue, error)
}

// Period maps a date to its calendar quarter, e.g. 2024-Q3.
func Period(t time.Time) string {
	return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
}

var (
	_ Provider = (*HTTPProvider)(nil)
	_ Provider = (*StaticProvider)(nil)
)
