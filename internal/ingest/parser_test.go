package ingest

import (
	"testing"

	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceDatatable(rows ...[]interface{}) *Datatable {
	return &Datatable{
		Columns: []Column{
			{Name: "tradingItemId"},
			{Name: "pricingDate"},
			{Name: "exchange"},
			{Name: "close"},
			{Name: "closeUsd"},
			{Name: "volume"},
		},
		Data: rows,
	}
}

func TestParsePrices(t *testing.T) {
	dt := priceDatatable(
		[]interface{}{"2590360", "2014-06-02", "NasdaqGS", "628.65", "628.65", "13149400"},
		[]interface{}{float64(2590360), "2014-06-03 00:00:00", "NasdaqGS", 637.54, nil, ""},
	)

	table, err := ParsePrices(dt)
	require.NoError(t, err)

	assert.Equal(t, []string{"tradingItemId", "pricingDate", "exchange", "close", "closeUsd", "volume"}, table.Columns)
	require.Len(t, table.Rows, 2)

	first := table.Rows[0]
	assert.Equal(t, int64(2590360), first.SecurityID)
	assert.Equal(t, "2014-06-02", first.PricingDate.Format(models.DateLayout))
	assert.True(t, first.Close.Decimal.Equal(decimal.RequireFromString("628.65")))
	assert.True(t, first.Volume.Valid)
	assert.Equal(t, map[string]string{"exchange": "NasdaqGS"}, first.Extra)

	second := table.Rows[1]
	assert.Equal(t, int64(2590360), second.SecurityID)
	assert.Equal(t, "2014-06-03", second.PricingDate.Format(models.DateLayout))
	assert.True(t, second.Close.Decimal.Equal(decimal.RequireFromString("637.54")))
	assert.False(t, second.CloseUSD.Valid)
	assert.False(t, second.Volume.Valid)
}

func TestParsePrices_Errors(t *testing.T) {
	tests := []struct {
		name  string
		dt    *Datatable
		check func(t *testing.T, err error)
	}{
		{
			name: "missing column",
			dt: &Datatable{
				Columns: []Column{{Name: "tradingItemId"}, {Name: "pricingDate"}, {Name: "close"}, {Name: "volume"}},
			},
			check: func(t *testing.T, err error) {
				var schemaErr *models.SchemaError
				require.ErrorAs(t, err, &schemaErr)
				assert.Equal(t, "closeUsd", schemaErr.Column)
				assert.Equal(t, "prices", schemaErr.Table)
			},
		},
		{
			name: "bad date",
			dt:   priceDatatable([]interface{}{"1", "06/02/2014x", "", "1", "1", "1"}),
			check: func(t *testing.T, err error) {
				var dateErr *models.DateParseError
				require.ErrorAs(t, err, &dateErr)
				assert.Equal(t, 0, dateErr.Row)
				assert.Equal(t, "pricingDate", dateErr.Field)
			},
		},
		{
			name: "empty date",
			dt:   priceDatatable([]interface{}{"1", "", "", "1", "1", "1"}),
			check: func(t *testing.T, err error) {
				var dateErr *models.DateParseError
				require.ErrorAs(t, err, &dateErr)
			},
		},
		{
			name: "fractional security id",
			dt:   priceDatatable([]interface{}{"12.5", "2014-06-02", "", "1", "1", "1"}),
			check: func(t *testing.T, err error) {
				var valueErr *models.ValueError
				require.ErrorAs(t, err, &valueErr)
				assert.Equal(t, "tradingItemId", valueErr.Column)
			},
		},
		{
			name: "non-numeric close",
			dt:   priceDatatable([]interface{}{"1", "2014-06-02", "", "abc", "1", "1"}),
			check: func(t *testing.T, err error) {
				var valueErr *models.ValueError
				require.ErrorAs(t, err, &valueErr)
				assert.Equal(t, "close", valueErr.Column)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrices(tt.dt)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestParseSplits(t *testing.T) {
	dt := &Datatable{
		Columns: []Column{{Name: "tradingItemId"}, {Name: "SplitDate"}, {Name: "latestSplitFactor"}, {Name: "note"}},
		Data: [][]interface{}{
			{"2590360", "2014-06-09", "7", "seven for one"},
			{"2590360", "2005-02-28", "2.0", ""},
		},
	}

	events, err := ParseSplits(dt)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2590360), events[0].SecurityID)
	assert.Equal(t, "2014-06-09", events[0].SplitDate.Format(models.DateLayout))
	assert.True(t, events[0].Factor.Equal(decimal.NewFromInt(7)))
	assert.True(t, events[1].Factor.Equal(decimal.NewFromInt(2)))
}

func TestParseSplits_MissingFactor(t *testing.T) {
	dt := &Datatable{
		Columns: []Column{{Name: "tradingItemId"}, {Name: "SplitDate"}, {Name: "latestSplitFactor"}},
		Data:    [][]interface{}{{"1", "2014-06-09", ""}},
	}

	_, err := ParseSplits(dt)
	var valueErr *models.ValueError
	require.ErrorAs(t, err, &valueErr)
	assert.Equal(t, "latestSplitFactor", valueErr.Column)
}

func TestFormatPrices_RoundTripsColumnOrder(t *testing.T) {
	dt := priceDatatable(
		[]interface{}{"7", "2014-06-02", "NYSE", "10.5", "", "100"},
	)
	table, err := ParsePrices(dt)
	require.NoError(t, err)

	out := FormatPrices(table)
	assert.Equal(t, dt.ColumnNames(), out.ColumnNames())
	assert.Equal(t, TypeDecimal, out.Columns[3].Type)
	assert.Equal(t, TypeString, out.Columns[2].Type)
	require.Len(t, out.Data, 1)
	assert.Equal(t, []interface{}{int64(7), "2014-06-02", "NYSE", "10.5", nil, "100"}, out.Data[0])
}

func TestFormatSplits(t *testing.T) {
	events := []models.SplitEvent{{SecurityID: 3, SplitDate: mustDate(t, "2014-06-09"), Factor: decimal.NewFromInt(7)}}

	dt := FormatSplits(events)
	parsed, err := ParseSplits(dt)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, events[0].SecurityID, parsed[0].SecurityID)
	assert.True(t, events[0].SplitDate.Equal(parsed[0].SplitDate))
}
