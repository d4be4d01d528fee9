package domain

import (
	"errors"
	"fmt"
)

// ErrUnavailable means the upstream has no data for the requested key or
// date. It is an expected outcome, not a failure.
var ErrUnavailable = errors.New("no upstream data")

// NetworkError is returned when every URL variant failed with a transient
// error or timed out.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network: %s: %v", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError is returned when no parser strategy produced rows.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Source, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// RecordError describes one dropped row.
type RecordError struct {
	Line   int
	Reason string
	Raw    string
}

func (e *RecordError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Raw)
}

// MergeError is returned when one instrument's history could not be persisted.
type MergeError struct {
	Instrument string
	Err        error
}

func (e *MergeError) Error() string { return fmt.Sprintf("merge %s: %v", e.Instrument, e.Err) }
func (e *MergeError) Unwrap() error { return e.Err }

// ConfigError is returned for invalid arguments before any network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %s", e.Field, e.Reason) }
