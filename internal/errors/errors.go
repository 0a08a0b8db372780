// Package errors consolidates error definitions for the whole project.
//
// It provides sentinel errors for common conditions, typed errors that
// carry diagnostic payloads (gap ranges, affected symbols), category
// checking functions, and wrapping utilities.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Bundle / store errors
	ErrBundleNotFound   = errors.New("bundle not found")
	ErrValueNotFound    = errors.New("no value at requested timestamp")
	ErrInvalidFrequency = errors.New("invalid history frequency")
	ErrOverlappingData  = errors.New("overlapping data in bundle")
	ErrRangeOutOfBounds = errors.New("write range outside bundle metadata bounds")

	// Catalog errors
	ErrSymbolNotFound  = errors.New("symbol not found in catalog")
	ErrCatalogNotFound = errors.New("symbol catalog not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// ============================================================================
// Typed errors with payloads
// ============================================================================

// GapRange is a compressed run of contiguous missing periods, inclusive on
// both ends.
type GapRange struct {
	Start time.Time
	End   time.Time
}

func (g GapRange) String() string {
	if g.Start.Equal(g.End) {
		return g.Start.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s..%s",
		g.Start.UTC().Format(time.RFC3339), g.End.UTC().Format(time.RFC3339))
}

// NoDataAvailableError indicates that no overlapping trading window could
// be computed for the requested asset and date scope.
type NoDataAvailableError struct {
	Exchange  string
	Symbols   []string
	Frequency string
}

func (e *NoDataAvailableError) Error() string {
	return fmt.Sprintf("no %s data available on %s for symbols [%s]",
		e.Frequency, e.Exchange, strings.Join(e.Symbols, ","))
}

// StagingNotFoundError indicates that a staged chunk expected at merge time
// is missing.
type StagingNotFoundError struct {
	Path string
}

func (e *StagingNotFoundError) Error() string {
	return fmt.Sprintf("staged bundle not found at %s", e.Path)
}

// EmptyValuesError is raised by the raise-mode gap policy. It carries the
// compressed ranges of calendar periods with missing values.
type EmptyValuesError struct {
	Name      string
	EndMinute time.Time
	Ranges    []GapRange
}

func (e *EmptyValuesError) Error() string {
	ranges := make([]string, len(e.Ranges))
	for i, r := range e.Ranges {
		ranges[i] = r.String()
	}
	return fmt.Sprintf("%s has empty rows in ranges: [%s]",
		e.Name, strings.Join(ranges, ", "))
}

// PricingDataNotLoadedError indicates that a requested read window is not
// fully present in the bundle. Symbols lists the assets that failed the
// coverage check, not the whole batch, unless the failure is batch-wide.
type PricingDataNotLoadedError struct {
	Field           string
	Exchange        string
	Symbols         []string
	Frequency       string
	FirstTradingDay time.Time
}

func (e *PricingDataNotLoadedError) Error() string {
	return fmt.Sprintf("pricing data for field %q not loaded on %s for symbols [%s] (%s)",
		e.Field, e.Exchange, strings.Join(e.Symbols, ","), e.Frequency)
}

// ConflictError indicates a write whose declared range overlaps data
// already present in the bundle for the same asset. Re-ingesting an
// already-merged range is expected to produce it; callers treat it as
// benign.
type ConflictError struct {
	Sid   int64
	Start time.Time
	End   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sid %d: write range %s..%s overlaps existing bundle data",
		e.Sid, e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrOverlappingData }

// ============================================================================
// Helper functions for error checking
// ============================================================================

// IsNoDataAvailable returns true if err reports an empty trading window.
func IsNoDataAvailable(err error) bool {
	var e *NoDataAvailableError
	return errors.As(err, &e)
}

// IsStagingNotFound returns true if err reports a missing staged chunk.
func IsStagingNotFound(err error) bool {
	var e *StagingNotFoundError
	return errors.As(err, &e)
}

// IsEmptyValues returns true if err was raised by the raise-mode gap policy.
func IsEmptyValues(err error) bool {
	var e *EmptyValuesError
	return errors.As(err, &e)
}

// IsPricingDataNotLoaded returns true if err reports an uncovered read window.
func IsPricingDataNotLoaded(err error) bool {
	var e *PricingDataNotLoadedError
	return errors.As(err, &e)
}

// IsConflict returns true if err reports an overlapping write. Overlap is
// never fatal; it means the range was already merged.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOverlappingData)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New creates a new error. Convenience wrapper for errors.New.
func New(text string) error { return errors.New(text) }
