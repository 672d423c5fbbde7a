package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Column names as they appear in the vendor price-volume and split exports.
const (
	ColSecurityID  = "tradingItemId"
	ColPricingDate = "pricingDate"
	ColClose       = "close"
	ColCloseUSD    = "closeUsd"
	ColVolume      = "volume"

	ColSplitDate   = "SplitDate"
	ColSplitFactor = "latestSplitFactor"
)

// PriceColumns are the columns every price table must carry.
var PriceColumns = []string{ColSecurityID, ColPricingDate, ColClose, ColCloseUSD, ColVolume}

// SplitColumns are the columns every split table must carry.
var SplitColumns = []string{ColSecurityID, ColSplitDate, ColSplitFactor}

// PriceRecord is one daily pricing row for a security.
type PriceRecord struct {
	SecurityID  int64
	PricingDate time.Time
	Close       decimal.NullDecimal
	CloseUSD    decimal.NullDecimal
	Volume      decimal.NullDecimal

	// Extra holds passthrough columns keyed by column name.
	Extra map[string]string
}

// PriceTable is an ordered set of price rows together with the column
// layout they were read with.
type PriceTable struct {
	Columns []string
	Rows    []PriceRecord
}

// SplitEvent is a split that took effect on SplitDate. Factor is the ratio
// by which the share count was multiplied (2 for a 2-for-1 split).
type SplitEvent struct {
	SecurityID int64
	SplitDate  time.Time
	Factor     decimal.Decimal
}

// Validate checks that the table declares every required price column.
func (t PriceTable) Validate() error {
	return RequireColumns("prices", t.Columns, PriceColumns)
}

// IsCore reports whether col is one of the typed price columns.
func IsCore(col string) bool {
	for _, c := range PriceColumns {
		if c == col {
			return true
		}
	}
	return false
}

// RequireColumns returns a SchemaError for the first required column that
// is not present in columns.
func RequireColumns(table string, columns, required []string) error {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := have[c]; !ok {
			return &SchemaError{Table: table, Column: c}
		}
	}
	return nil
}

// Date truncates t to a UTC calendar date.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
