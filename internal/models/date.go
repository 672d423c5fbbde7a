package models

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format.
const DateLayout = "2006-01-02"

var dateFormats = []string{
	DateLayout,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006/01/02",
}

var errNotADate = errors.New("unrecognised date format")

// ParseDate parses s as a calendar date. field names the value in the
// returned *DateParseError.
func ParseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return Date(t), nil
		}
	}
	return time.Time{}, &DateParseError{Field: field, Row: -1, Value: s, Err: errNotADate}
}
