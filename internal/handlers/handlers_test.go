package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mauv0809/splitadjust/internal/adjust"
	"github.com/mauv0809/splitadjust/internal/db"
	"github.com/mauv0809/splitadjust/internal/metrics"
	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const aapl = 2590360

func day(s string) time.Time {
	d, err := models.ParseDate("test", s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// fakeStore serves fixed prices and splits and records writes.
type fakeStore struct {
	prices models.PriceTable
	splits []models.SplitEvent

	loadErr     error
	priceFilter db.PriceFilter
	splitIDs    []int64
	savedRuns   int
	savedAsOf   time.Time
	upserted    []models.PriceRecord
	replaced    []models.SplitEvent
	lastUpdate  time.Time
}

func (s *fakeStore) LoadPrices(_ context.Context, f db.PriceFilter) (models.PriceTable, error) {
	s.priceFilter = f
	return s.prices, s.loadErr
}

func (s *fakeStore) LoadSplits(_ context.Context, ids []int64) ([]models.SplitEvent, error) {
	s.splitIDs = ids
	return s.splits, s.loadErr
}

func (s *fakeStore) SaveRun(_ context.Context, asOf time.Time, _ *adjust.Result) (uuid.UUID, error) {
	s.savedRuns++
	s.savedAsOf = asOf
	return uuid.MustParse("6f1c2a52-6a43-4c63-9a55-0f4b8c7d1e20"), nil
}

func (s *fakeStore) UpsertPrices(_ context.Context, rows []models.PriceRecord) (int, error) {
	s.upserted = append(s.upserted, rows...)
	return len(rows), nil
}

func (s *fakeStore) ReplaceSplits(_ context.Context, events []models.SplitEvent) (int, error) {
	s.replaced = events
	return len(events), nil
}

func (s *fakeStore) GetPriceCount(context.Context) (int, error) { return len(s.prices.Rows), nil }
func (s *fakeStore) GetSplitCount(context.Context) (int, error) { return len(s.splits), nil }
func (s *fakeStore) GetRunCount(context.Context) (int, error)   { return s.savedRuns, nil }

func (s *fakeStore) GetLastPriceUpdate(context.Context) (time.Time, error) {
	return s.lastUpdate, nil
}

type fakeFetcher struct {
	prices models.PriceTable
	splits []models.SplitEvent
	err    error

	table string
	ids   []int64
	since time.Time
}

func (f *fakeFetcher) FetchPrices(_ context.Context, table string, ids []int64, since time.Time) (models.PriceTable, error) {
	f.table, f.ids, f.since = table, ids, since
	return f.prices, f.err
}

func (f *fakeFetcher) FetchSplits(_ context.Context, table string, ids []int64) ([]models.SplitEvent, error) {
	f.table, f.ids = table, ids
	return f.splits, f.err
}

func aaplStore() *fakeStore {
	return &fakeStore{
		prices: models.PriceTable{
			Columns: models.PriceColumns,
			Rows: []models.PriceRecord{
				{SecurityID: aapl, PricingDate: day("2014-06-06"), Close: dec("700"), CloseUSD: dec("700"), Volume: dec("10")},
				{SecurityID: aapl, PricingDate: day("2014-06-09"), Close: dec("95"), CloseUSD: dec("95"), Volume: dec("70")},
			},
		},
		splits: []models.SplitEvent{
			{SecurityID: aapl, SplitDate: day("2014-06-09"), Factor: decimal.NewFromInt(7)},
		},
	}
}

func newAdjustHandler(store PriceStore, opts ...adjust.Option) (*AdjustHandler, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	asOf := func() time.Time { return day("2019-03-31") }
	return NewAdjustHandler(adjust.New(opts...), store, m, zap.NewNop(), asOf), m
}

func serve(method, target, body string, route string, h echo.HandlerFunc) *httptest.ResponseRecorder {
	e := echo.New()
	switch method {
	case http.MethodGet:
		e.GET(route, h)
	default:
		e.POST(route, h)
	}
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(http.MethodGet, "/health", "", "/health", New().Health)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIndex(t *testing.T) {
	rec := serve(http.MethodGet, "/", "", "/", New().Index)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
	assert.Contains(t, rec.Body.String(), "Split adjustment")
}

const adjustBody = `{
	"as_of": "2019-03-31",
	"prices": {
		"columns": [
			{"name": "tradingItemId"}, {"name": "pricingDate"}, {"name": "currency"},
			{"name": "close"}, {"name": "closeUsd"}, {"name": "volume"}
		],
		"data": [
			[2590360, "2014-06-09", "USD", 95, 95, 70],
			[2590360, "2014-06-06", "USD", "700", 700, 10],
			[2590360, "2014-06-05", "USD", 690, 690, null]
		]
	},
	"splits": {
		"columns": [{"name": "tradingItemId"}, {"name": "SplitDate"}, {"name": "latestSplitFactor"}],
		"data": [[2590360, "2014-06-09", %s]]
	}
}`

func TestAdjust(t *testing.T) {
	h, m := newAdjustHandler(nil)
	rec := serve(http.MethodPost, "/adjust", strings.Replace(adjustBody, "%s", "7", 1), "/adjust", h.Adjust)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AsOf      string   `json:"as_of"`
		InputRows int      `json:"input_rows"`
		Warnings  []string `json:"warnings"`
		Prices    struct {
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
			Data [][]interface{} `json:"data"`
		} `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "2019-03-31", resp.AsOf)
	assert.Equal(t, 3, resp.InputRows)
	assert.Empty(t, resp.Warnings)
	require.Len(t, resp.Prices.Columns, 6)
	assert.Equal(t, "currency", resp.Prices.Columns[2].Name)

	// The null-volume row is dropped and the rest are sorted by date.
	require.Len(t, resp.Prices.Data, 2)
	assert.Equal(t, []interface{}{float64(aapl), "2014-06-06", "USD", "100", "100", "70"}, resp.Prices.Data[0])
	assert.Equal(t, []interface{}{float64(aapl), "2014-06-09", "USD", "95", "95", "70"}, resp.Prices.Data[1])

	assert.Equal(t, 3.0, testutil.ToFloat64(m.InputRows.WithLabelValues("http")))
}

func TestAdjust_BadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"prices":`},
		{"zero factor", strings.Replace(adjustBody, "%s", "0", 1)},
		{"missing factor column", `{"prices":{"columns":[{"name":"tradingItemId"},{"name":"pricingDate"},{"name":"close"},{"name":"closeUsd"},{"name":"volume"}],"data":[]},"splits":{"columns":[{"name":"tradingItemId"},{"name":"SplitDate"}],"data":[]}}`},
		{"missing price column", `{"prices":{"columns":[{"name":"tradingItemId"}],"data":[]},"splits":{"columns":[],"data":[]}}`},
		{"bad as_of", strings.Replace(strings.Replace(adjustBody, "%s", "7", 1), "2019-03-31", "31/03/2019", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newAdjustHandler(nil)
			rec := serve(http.MethodPost, "/adjust", tt.body, "/adjust", h.Adjust)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp StatusResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestAdjustRun(t *testing.T) {
	store := aaplStore()
	h, _ := newAdjustHandler(store)

	rec := serve(http.MethodPost, "/admin/adjust/run?as_of=2015-01-02&ids=2590360", "", "/admin/adjust/run", h.AdjustRun)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "6f1c2a52-6a43-4c63-9a55-0f4b8c7d1e20", resp.RunID)

	assert.Equal(t, 1, store.savedRuns)
	assert.Equal(t, day("2015-01-02"), store.savedAsOf)
	assert.Equal(t, []int64{aapl}, store.priceFilter.IDs)
	assert.Equal(t, day("2015-01-02"), store.priceFilter.Until)
	assert.Equal(t, []int64{aapl}, store.splitIDs)
}

func TestAdjustRun_LegacyAnchorLoadsAllSplits(t *testing.T) {
	store := aaplStore()
	h, _ := newAdjustHandler(store, adjust.WithLegacyAnchor())

	rec := serve(http.MethodPost, "/admin/adjust/run?ids=2590360", "", "/admin/adjust/run", h.AdjustRun)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, store.splitIDs)
	assert.Equal(t, day("2019-03-31"), store.savedAsOf)
}

func TestAdjustRun_Errors(t *testing.T) {
	t.Run("bad ids", func(t *testing.T) {
		h, _ := newAdjustHandler(aaplStore())
		rec := serve(http.MethodPost, "/admin/adjust/run?ids=AAPL", "", "/admin/adjust/run", h.AdjustRun)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		store := aaplStore()
		store.loadErr = errors.New("connection refused")
		h, _ := newAdjustHandler(store)
		rec := serve(http.MethodPost, "/admin/adjust/run", "", "/admin/adjust/run", h.AdjustRun)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
		assert.Zero(t, store.savedRuns)
	})
}

func TestSecurityAdjusted(t *testing.T) {
	store := aaplStore()
	h, _ := newAdjustHandler(store)

	rec := serve(http.MethodGet, "/securities/2590360/adjusted?from=2014-06-03&to=2014-06-13", "",
		"/securities/:id/adjusted", h.SecurityAdjusted)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, "<td>2014-06-06</td><td>100</td><td>100</td><td>70</td><td>7</td>")
	assert.Contains(t, body, "<td>2014-06-09</td><td>95</td><td>95</td><td>70</td><td>1</td>")
	assert.Equal(t, day("2014-06-03"), store.priceFilter.From)
	assert.Equal(t, day("2014-06-13"), store.priceFilter.Until)
}

func TestSecurityAdjusted_BadID(t *testing.T) {
	h, _ := newAdjustHandler(aaplStore())
	rec := serve(http.MethodGet, "/securities/apple/adjusted", "", "/securities/:id/adjusted", h.SecurityAdjusted)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestPrices(t *testing.T) {
	store := &fakeStore{lastUpdate: day("2019-03-29")}
	fetcher := &fakeFetcher{prices: aaplStore().prices}
	h := NewIngestHandler(fetcher, store, "SPGLOBAL/PRICEVOLUME", "SPGLOBAL/SPLITINFO", zap.NewNop())

	rec := serve(http.MethodPost, "/admin/ingest/prices?ids=2590360,%202590361", "", "/admin/ingest/prices", h.IngestPrices)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "SPGLOBAL/PRICEVOLUME", fetcher.table)
	assert.Equal(t, []int64{2590360, 2590361}, fetcher.ids)
	assert.Equal(t, day("2019-03-29"), fetcher.since)
	assert.Len(t, store.upserted, 2)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)
}

func TestIngestPrices_Full(t *testing.T) {
	store := &fakeStore{lastUpdate: day("2019-03-29")}
	fetcher := &fakeFetcher{}
	h := NewIngestHandler(fetcher, store, "P", "S", zap.NewNop())

	rec := serve(http.MethodPost, "/admin/ingest/prices?full=true", "", "/admin/ingest/prices", h.IngestPrices)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fetcher.since.IsZero())
	assert.Nil(t, fetcher.ids)
}

func TestIngestPrices_FetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("API error (status 500)")}
	h := NewIngestHandler(fetcher, &fakeStore{}, "P", "S", zap.NewNop())

	rec := serve(http.MethodPost, "/admin/ingest/prices", "", "/admin/ingest/prices", h.IngestPrices)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to fetch prices")
}

func TestIngestSplits(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{splits: aaplStore().splits}
	h := NewIngestHandler(fetcher, store, "P", "SPGLOBAL/SPLITINFO", zap.NewNop())

	rec := serve(http.MethodPost, "/admin/ingest/splits", "", "/admin/ingest/splits", h.IngestSplits)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SPGLOBAL/SPLITINFO", fetcher.table)
	assert.Len(t, store.replaced, 1)
}

func TestIngestStatus(t *testing.T) {
	store := aaplStore()
	store.lastUpdate = day("2014-06-09")
	h := NewIngestHandler(nil, store, "P", "S", zap.NewNop())

	rec := serve(http.MethodGet, "/admin/ingest/status", "", "/admin/ingest/status", h.IngestStatus)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"prices":2,"splits":1,"runs":0,"last_price_update":"2014-06-09"}`, rec.Body.String())
}

func TestParseIDs(t *testing.T) {
	tests := []struct {
		in      string
		want    []int64
		wantErr bool
	}{
		{"", nil, false},
		{"2590360", []int64{2590360}, false},
		{" 1, 2,,3 ", []int64{1, 2, 3}, false},
		{"1,x", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseIDs(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
