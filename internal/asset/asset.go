// Package asset defines the exchange asset entity and the symbol catalog
// used to resolve ingestion scope.
package asset

import (
	"time"

	"github.com/mxfell/barvault/internal/errors"
)

// Frequency selects the bar granularity of a bundle.
type Frequency string

const (
	// Minute bars; ingestion chunks are calendar months.
	Minute Frequency = "minute"

	// Daily bars; ingestion chunks are calendar years.
	Daily Frequency = "daily"
)

// ParseFrequency validates a frequency string.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case Minute, Daily:
		return Frequency(s), nil
	}
	return "", errors.Wrapf(errors.ErrInvalidFrequency, "%q", s)
}

// Delta returns the duration of one period at this frequency.
func (f Frequency) Delta() time.Duration {
	if f == Minute {
		return time.Minute
	}
	return 24 * time.Hour
}

// PeriodLabel returns the chunk label of the period containing t:
// "YYYY-MM" for minute frequency, "YYYY" for daily.
func (f Frequency) PeriodLabel(t time.Time) string {
	if f == Minute {
		return t.UTC().Format("2006-01")
	}
	return t.UTC().Format("2006")
}

func (f Frequency) String() string { return string(f) }

// Asset identifies one trading pair on an exchange together with its valid
// trading lifetime. The lifetime clips chunk boundaries during planning.
type Asset struct {
	Sid       int64     `json:"sid"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	StartDate time.Time `json:"start_date"`
	EndMinute time.Time `json:"end_minute"`
	EndDaily  time.Time `json:"end_daily"`
}

// EndFor returns the asset's last tradable instant at the given frequency.
// Zero means the lifetime is open-ended.
func (a Asset) EndFor(f Frequency) time.Time {
	if f == Minute {
		return a.EndMinute
	}
	return a.EndDaily
}

// Symbols returns the symbols of a slice of assets, preserving order.
func Symbols(assets []Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Symbol
	}
	return out
}
