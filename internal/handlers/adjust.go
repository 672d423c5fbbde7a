package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/mauv0809/splitadjust/internal/adjust"
	"github.com/mauv0809/splitadjust/internal/db"
	"github.com/mauv0809/splitadjust/internal/ingest"
	"github.com/mauv0809/splitadjust/internal/metrics"
	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/mauv0809/splitadjust/internal/views"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceStore is the storage AdjustHandler reads from and records runs to.
type PriceStore interface {
	LoadPrices(ctx context.Context, f db.PriceFilter) (models.PriceTable, error)
	LoadSplits(ctx context.Context, ids []int64) ([]models.SplitEvent, error)
	SaveRun(ctx context.Context, asOf time.Time, res *adjust.Result) (uuid.UUID, error)
}

// AdjustHandler serves split adjustment endpoints.
type AdjustHandler struct {
	adjuster *adjust.Adjuster
	store    PriceStore
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// defaultAsOf supplies the knowledge date when a request names none.
	defaultAsOf func() time.Time
}

// NewAdjustHandler creates an adjust handler. store may be nil, in which
// case only the stateless endpoint is usable.
func NewAdjustHandler(a *adjust.Adjuster, store PriceStore, m *metrics.Metrics, logger *zap.Logger, defaultAsOf func() time.Time) *AdjustHandler {
	return &AdjustHandler{
		adjuster:    a,
		store:       store,
		metrics:     m,
		logger:      logger,
		defaultAsOf: defaultAsOf,
	}
}

// AdjustRequest is the body of POST /adjust.
type AdjustRequest struct {
	AsOf   string           `json:"as_of"`
	Prices ingest.Datatable `json:"prices"`
	Splits ingest.Datatable `json:"splits"`
}

// AdjustResponse is the reply of POST /adjust.
type AdjustResponse struct {
	AsOf      string            `json:"as_of"`
	Elapsed   string            `json:"elapsed"`
	InputRows int               `json:"input_rows"`
	Warnings  []string          `json:"warnings"`
	Prices    *ingest.Datatable `json:"prices"`
}

func (h *AdjustHandler) asOf(raw string) (time.Time, error) {
	if raw == "" {
		return models.Date(h.defaultAsOf()), nil
	}
	return models.ParseDate("as_of", raw)
}

func (h *AdjustHandler) run(source string, prices models.PriceTable, splits []models.SplitEvent, asOf time.Time) (*adjust.Result, time.Duration, error) {
	start := time.Now()
	res, err := h.adjuster.Adjust(prices, splits, asOf)
	elapsed := time.Since(start)
	h.metrics.Observe(source, res, elapsed)
	return res, elapsed, err
}

// Adjust handles POST /adjust
// Adjusts the posted price table for the posted splits. Nothing is stored.
func (h *AdjustHandler) Adjust(c echo.Context) error {
	var req AdjustRequest
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return failure(c, http.StatusBadRequest, "Invalid request body: %v", err)
	}

	asOf, err := h.asOf(req.AsOf)
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}
	prices, err := ingest.ParsePrices(&req.Prices)
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}
	splits, err := ingest.ParseSplits(&req.Splits)
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}

	res, elapsed, err := h.run("http", prices, splits, asOf)
	if err != nil {
		h.logger.Warn("Adjustment rejected", zap.Error(err))
		return failure(c, errorStatus(err), "Adjustment failed: %v", err)
	}

	warnings := make([]string, len(res.Warnings))
	for i, w := range res.Warnings {
		warnings[i] = w.String()
	}

	return c.JSON(http.StatusOK, AdjustResponse{
		AsOf:      asOf.Format(models.DateLayout),
		Elapsed:   elapsed.String(),
		InputRows: res.InputRows,
		Warnings:  warnings,
		Prices:    ingest.FormatPrices(res.Table),
	})
}

// AdjustRun handles POST /admin/adjust/run
// Adjusts stored prices and records the output as a run. Query params:
// - as_of: knowledge date (optional, defaults to the configured date)
// - ids: comma-separated trading item ids (optional, defaults to all)
func (h *AdjustHandler) AdjustRun(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()

	asOf, err := h.asOf(c.QueryParam("as_of"))
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}
	ids, err := parseIDs(c.QueryParam("ids"))
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}

	h.logger.Info("Starting adjustment run",
		zap.String("as_of", asOf.Format(models.DateLayout)), zap.Int("ids", len(ids)))

	prices, err := h.store.LoadPrices(ctx, db.PriceFilter{IDs: ids, Until: asOf})
	if err != nil {
		return failure(c, http.StatusInternalServerError, "Failed to load prices: %v", err)
	}
	splits, err := h.loadSplits(ctx, ids)
	if err != nil {
		return failure(c, http.StatusInternalServerError, "Failed to load splits: %v", err)
	}

	res, _, err := h.run("run", prices, splits, asOf)
	if err != nil {
		h.logger.Error("Adjustment run failed", zap.Error(err))
		return failure(c, errorStatus(err), "Adjustment failed: %v", err)
	}

	runID, err := h.store.SaveRun(ctx, asOf, res)
	if err != nil {
		h.logger.Error("Error saving run", zap.Error(err))
		return failure(c, http.StatusInternalServerError, "Failed to save run: %v", err)
	}

	elapsed := time.Since(start)
	h.logger.Info("Adjustment run complete",
		zap.String("run_id", runID.String()),
		zap.Int("rows", len(res.Table.Rows)),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("elapsed", elapsed))

	return c.JSON(http.StatusOK, StatusResponse{
		Success: true,
		Message: fmt.Sprintf("Adjusted %d prices as of %s", len(res.Table.Rows), asOf.Format(models.DateLayout)),
		Count:   len(res.Table.Rows),
		Elapsed: elapsed.String(),
		RunID:   runID.String(),
	})
}

// SecurityAdjusted handles GET /securities/:id/adjusted
// Renders one security's adjusted prices. Query params:
// - as_of: knowledge date (optional)
// - from, to: pricing date window (optional)
func (h *AdjustHandler) SecurityAdjusted(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return failure(c, http.StatusBadRequest, "invalid security id %q", c.Param("id"))
	}
	asOf, err := h.asOf(c.QueryParam("as_of"))
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}
	from, err := parseDate(c, "from")
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}
	to, err := parseDate(c, "to")
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}
	if to.IsZero() || to.After(asOf) {
		to = asOf
	}

	prices, err := h.store.LoadPrices(ctx, db.PriceFilter{IDs: []int64{id}, From: from, Until: to})
	if err != nil {
		return failure(c, http.StatusInternalServerError, "Failed to load prices: %v", err)
	}
	splits, err := h.loadSplits(ctx, []int64{id})
	if err != nil {
		return failure(c, http.StatusInternalServerError, "Failed to load splits: %v", err)
	}

	res, _, err := h.run("view", prices, splits, asOf)
	if err != nil {
		return failure(c, errorStatus(err), "Adjustment failed: %v", err)
	}

	schedules, _, err := adjust.BuildSchedules(splits, asOf, h.adjuster.LegacyAnchor())
	if err != nil {
		return failure(c, errorStatus(err), "%v", err)
	}
	factors := make([]decimal.Decimal, len(res.Table.Rows))
	for i, r := range res.Table.Rows {
		factors[i] = schedules[id].FactorAt(r.PricingDate)
	}

	return Render(c, http.StatusOK, views.AdjustedTable(views.AdjustedPrices{
		SecurityID: id,
		AsOf:       asOf,
		Rows:       res.Table.Rows,
		Factors:    factors,
	}))
}

// loadSplits returns the splits for ids. The legacy anchor depends on the
// whole split table, so it always loads every security.
func (h *AdjustHandler) loadSplits(ctx context.Context, ids []int64) ([]models.SplitEvent, error) {
	if h.adjuster.LegacyAnchor() {
		ids = nil
	}
	return h.store.LoadSplits(ctx, ids)
}
