// Package views renders the HTML pages served by the app.
//
// Pages are written in templ; run `templ generate` after editing a .templ file.
package views

import (
	"fmt"
	"time"

	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/shopspring/decimal"
)

// AdjustedPrices shows one security's adjusted rows next to the factor
// applied to each.
type AdjustedPrices struct {
	SecurityID int64
	AsOf       time.Time
	Rows       []models.PriceRecord
	Factors    []decimal.Decimal
}

// Title is the page heading.
func (v AdjustedPrices) Title() string {
	return fmt.Sprintf("Security %d as of %s", v.SecurityID, day(v.AsOf))
}

func (v AdjustedPrices) factor(i int) string {
	if i >= len(v.Factors) {
		return ""
	}
	return v.Factors[i].String()
}

func day(t time.Time) string {
	return t.Format(models.DateLayout)
}

func cell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
