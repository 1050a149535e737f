// Package numerator provides domain contracts for document auto-numbering.
// Implementations live in the infrastructure layer.
package numerator

import (
	"context"
	"fmt"
	"time"
)

// ResetPeriod controls when a sequence starts again from 1.
type ResetPeriod string

const (
	ResetYear  ResetPeriod = "year"
	ResetMonth ResetPeriod = "month"
	ResetNever ResetPeriod = "never"
)

// Config holds numbering configuration for one document kind.
type Config struct {
	// Prefix added to all numbers (e.g., "CNT", "TRF")
	Prefix string

	// IncludeYear adds the period's year to the number
	IncludeYear bool

	// PadWidth is the minimum number width (default 5)
	PadWidth int

	Reset ResetPeriod
}

// DefaultConfig returns yearly numbering: PREFIX-YYYY-00001.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		IncludeYear: true,
		PadWidth:    5,
		Reset:       ResetYear,
	}
}

// Key names the sequence a number for period is drawn from.
func (c Config) Key(period time.Time) string {
	switch c.Reset {
	case ResetMonth:
		return c.Prefix + "_" + period.Format("2006_01")
	case ResetYear:
		return c.Prefix + "_" + period.Format("2006")
	default:
		return c.Prefix
	}
}

// Format renders the n-th number of period.
func (c Config) Format(period time.Time, n int64) string {
	width := c.PadWidth
	if width <= 0 {
		width = 5
	}
	if c.IncludeYear {
		return fmt.Sprintf("%s-%s-%0*d", c.Prefix, period.Format("2006"), width, n)
	}
	return fmt.Sprintf("%s-%0*d", c.Prefix, width, n)
}

// Generator hands out sequential document numbers.
type Generator interface {
	// Next returns the next number of cfg's sequence for period. Inside a
	// transaction the number is only consumed if the transaction commits.
	Next(ctx context.Context, cfg Config, period time.Time) (string, error)
}
