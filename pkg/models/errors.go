package models

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput  = errors.New("empty input")
	ErrUnreadable  = errors.New("unreadable input")
	ErrNoHeaders   = errors.New("no header line")
	ErrNoDataRows  = errors.New("no data rows")
	ErrNoStatement = errors.New("no statement found")
)

// InputError is fatal for the whole import: there is nothing to parse.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return fmt.Sprintf("input error: %v", e.Err) }
func (e *InputError) Unwrap() error { return e.Err }

// ParseError means the file structure could not be read in the given format.
// Callers may retry with a different format.
type ParseError struct {
	Format string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error (%s) at line %d: %v", e.Format, e.Line, e.Err)
	}
	return fmt.Sprintf("parse error (%s): %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FieldAnomaly records a recovered problem on one record.
type FieldAnomaly struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *FieldAnomaly) Error() string {
	return fmt.Sprintf("line %d: field %q value %q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *FieldAnomaly) Unwrap() error { return e.Err }

// RuleAnomaly records a condition that could not be evaluated.
type RuleAnomaly struct {
	RuleID  string
	Pattern string
	Err     error
}

func (e *RuleAnomaly) Error() string {
	return fmt.Sprintf("rule %s: pattern %q: %v", e.RuleID, e.Pattern, e.Err)
}

func (e *RuleAnomaly) Unwrap() error { return e.Err }
