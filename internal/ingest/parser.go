package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/shopspring/decimal"
)

// buildColumnIndex creates a map from column name to array index.
func buildColumnIndex(columns []Column) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, col := range columns {
		idx[col.Name] = i
	}
	return idx
}

// cell returns the raw value of col in row, or nil when absent.
func cell(row []interface{}, idx map[string]int, col string) interface{} {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return nil
	}
	return row[i]
}

// getString safely extracts a string from row data.
func getString(row []interface{}, idx map[string]int, col string) string {
	switch v := cell(row, idx, col).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// getDecimal extracts a nullable decimal. Empty cells are null.
func getDecimal(row []interface{}, idx map[string]int, col string, rowNum int) (decimal.NullDecimal, error) {
	switch v := cell(row, idx, col).(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case float64:
		return decimal.NewNullDecimal(decimal.NewFromFloat(v)), nil
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(v)), nil
	case json.Number:
		return parseDecimal(v.String(), col, rowNum)
	case string:
		return parseDecimal(v, col, rowNum)
	default:
		return decimal.NullDecimal{}, &models.ValueError{Column: col, Row: rowNum, Value: fmt.Sprintf("%v", v)}
	}
}

func parseDecimal(s, col string, rowNum int) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "na":
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, &models.ValueError{Column: col, Row: rowNum, Value: s, Err: err}
	}
	return decimal.NewNullDecimal(d), nil
}

// getInt64 extracts a required integer identifier. Integral decimals such
// as "2590360.0" are accepted.
func getInt64(row []interface{}, idx map[string]int, col string, rowNum int) (int64, error) {
	d, err := getDecimal(row, idx, col, rowNum)
	if err != nil {
		return 0, err
	}
	if !d.Valid || !d.Decimal.IsInteger() {
		return 0, &models.ValueError{Column: col, Row: rowNum, Value: getString(row, idx, col)}
	}
	return d.Decimal.IntPart(), nil
}

// getTime extracts a required calendar date.
func getTime(row []interface{}, idx map[string]int, col string, rowNum int) (time.Time, error) {
	s := getString(row, idx, col)
	t, err := models.ParseDate(col, s)
	if err != nil {
		var perr *models.DateParseError
		if errors.As(err, &perr) {
			perr.Row = rowNum
		}
		return time.Time{}, err
	}
	return t, nil
}

// ParsePrices parses a price-volume table into typed rows. Columns other
// than the core price columns are carried through as strings.
func ParsePrices(dt *Datatable) (models.PriceTable, error) {
	columns := dt.ColumnNames()
	if err := models.RequireColumns("prices", columns, models.PriceColumns); err != nil {
		return models.PriceTable{}, err
	}

	var extra []string
	for _, c := range columns {
		if !models.IsCore(c) {
			extra = append(extra, c)
		}
	}

	idx := buildColumnIndex(dt.Columns)
	rows := make([]models.PriceRecord, 0, len(dt.Data))

	for i, row := range dt.Data {
		id, err := getInt64(row, idx, models.ColSecurityID, i)
		if err != nil {
			return models.PriceTable{}, err
		}
		date, err := getTime(row, idx, models.ColPricingDate, i)
		if err != nil {
			return models.PriceTable{}, err
		}

		pr := models.PriceRecord{SecurityID: id, PricingDate: date}
		if pr.Close, err = getDecimal(row, idx, models.ColClose, i); err != nil {
			return models.PriceTable{}, err
		}
		if pr.CloseUSD, err = getDecimal(row, idx, models.ColCloseUSD, i); err != nil {
			return models.PriceTable{}, err
		}
		if pr.Volume, err = getDecimal(row, idx, models.ColVolume, i); err != nil {
			return models.PriceTable{}, err
		}

		if len(extra) > 0 {
			pr.Extra = make(map[string]string, len(extra))
			for _, c := range extra {
				pr.Extra[c] = getString(row, idx, c)
			}
		}

		rows = append(rows, pr)
	}

	return models.PriceTable{Columns: columns, Rows: rows}, nil
}

// ParseSplits parses a split-info table into typed events.
func ParseSplits(dt *Datatable) ([]models.SplitEvent, error) {
	if err := models.RequireColumns("splits", dt.ColumnNames(), models.SplitColumns); err != nil {
		return nil, err
	}

	idx := buildColumnIndex(dt.Columns)
	events := make([]models.SplitEvent, 0, len(dt.Data))

	for i, row := range dt.Data {
		id, err := getInt64(row, idx, models.ColSecurityID, i)
		if err != nil {
			return nil, err
		}
		date, err := getTime(row, idx, models.ColSplitDate, i)
		if err != nil {
			return nil, err
		}
		factor, err := getDecimal(row, idx, models.ColSplitFactor, i)
		if err != nil {
			return nil, err
		}
		if !factor.Valid {
			return nil, &models.ValueError{Column: models.ColSplitFactor, Row: i}
		}

		events = append(events, models.SplitEvent{SecurityID: id, SplitDate: date, Factor: factor.Decimal})
	}

	return events, nil
}

// FormatPrices renders a price table back into column-oriented form,
// preserving column order. Decimals are rendered as strings, nulls as nil.
func FormatPrices(t models.PriceTable) *Datatable {
	dt := &Datatable{
		Columns: make([]Column, len(t.Columns)),
		Data:    make([][]interface{}, 0, len(t.Rows)),
	}
	for i, c := range t.Columns {
		dt.Columns[i] = Column{Name: c, Type: columnType(c)}
	}

	for _, r := range t.Rows {
		row := make([]interface{}, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = cellValue(r, c)
		}
		dt.Data = append(dt.Data, row)
	}
	return dt
}

// FormatSplits renders split events as a split-info table.
func FormatSplits(events []models.SplitEvent) *Datatable {
	dt := &Datatable{
		Columns: []Column{
			{Name: models.ColSecurityID, Type: TypeInteger},
			{Name: models.ColSplitDate, Type: TypeDate},
			{Name: models.ColSplitFactor, Type: TypeDecimal},
		},
		Data: make([][]interface{}, 0, len(events)),
	}
	for _, ev := range events {
		dt.Data = append(dt.Data, []interface{}{
			ev.SecurityID, ev.SplitDate.Format(models.DateLayout), ev.Factor.String(),
		})
	}
	return dt
}

func columnType(col string) string {
	switch col {
	case models.ColSecurityID:
		return TypeInteger
	case models.ColPricingDate:
		return TypeDate
	case models.ColClose, models.ColCloseUSD, models.ColVolume:
		return TypeDecimal
	}
	return TypeString
}

func cellValue(r models.PriceRecord, col string) interface{} {
	switch col {
	case models.ColSecurityID:
		return r.SecurityID
	case models.ColPricingDate:
		return r.PricingDate.Format(models.DateLayout)
	case models.ColClose:
		return nullString(r.Close)
	case models.ColCloseUSD:
		return nullString(r.CloseUSD)
	case models.ColVolume:
		return nullString(r.Volume)
	}
	return r.Extra[col]
}

func nullString(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
