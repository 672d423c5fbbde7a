package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaError reports a required column missing from an input table.
type SchemaError struct {
	Table  string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s table: missing required column %q", e.Table, e.Column)
}

// DateParseError reports a date-bearing field that is not a calendar date.
type DateParseError struct {
	Field string
	Row   int // 0-based data row, -1 when not row-bound
	Value string
	Err   error
}

func (e *DateParseError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("parsing %s %q: not a calendar date", e.Field, e.Value)
	}
	return fmt.Sprintf("row %d: parsing %s %q: not a calendar date", e.Row, e.Field, e.Value)
}

func (e *DateParseError) Unwrap() error { return e.Err }

// ValueError reports a non-date cell that could not be converted.
type ValueError struct {
	Column string
	Row    int
	Value  string
	Err    error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("row %d: invalid %s value %q", e.Row, e.Column, e.Value)
}

func (e *ValueError) Unwrap() error { return e.Err }

// FactorError reports a split factor that is zero or negative.
type FactorError struct {
	SecurityID int64
	SplitDate  time.Time
	Factor     decimal.Decimal
}

func (e *FactorError) Error() string {
	return fmt.Sprintf("security %d: split on %s has non-positive factor %s",
		e.SecurityID, e.SplitDate.Format(DateLayout), e.Factor)
}

// DegenerateGroupWarning is returned alongside a successful adjustment when
// several split events share one (security, date). Their factors were
// multiplied together in input order.
type DegenerateGroupWarning struct {
	SecurityID int64
	SplitDate  time.Time
	Events     int
	Combined   decimal.Decimal
}

func (w DegenerateGroupWarning) String() string {
	return fmt.Sprintf("security %d: %d split events on %s combined into factor %s",
		w.SecurityID, w.Events, w.SplitDate.Format(DateLayout), w.Combined)
}
