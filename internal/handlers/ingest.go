package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mauv0809/splitadjust/internal/models"
	"go.uber.org/zap"
)

// Fetcher retrieves remote price and split tables.
type Fetcher interface {
	FetchPrices(ctx context.Context, table string, ids []int64, since time.Time) (models.PriceTable, error)
	FetchSplits(ctx context.Context, table string, ids []int64) ([]models.SplitEvent, error)
}

// IngestStore is the storage IngestHandler writes to.
type IngestStore interface {
	UpsertPrices(ctx context.Context, rows []models.PriceRecord) (int, error)
	ReplaceSplits(ctx context.Context, events []models.SplitEvent) (int, error)
	GetPriceCount(ctx context.Context) (int, error)
	GetSplitCount(ctx context.Context) (int, error)
	GetRunCount(ctx context.Context) (int, error)
	GetLastPriceUpdate(ctx context.Context) (time.Time, error)
}

// IngestHandler handles data ingestion endpoints.
type IngestHandler struct {
	client     Fetcher
	repo       IngestStore
	priceTable string
	splitTable string
	logger     *zap.Logger
}

// NewIngestHandler creates a new ingest handler. client may be nil, in
// which case only the status endpoint is usable.
func NewIngestHandler(client Fetcher, repo IngestStore, priceTable, splitTable string, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		client:     client,
		repo:       repo,
		priceTable: priceTable,
		splitTable: splitTable,
		logger:     logger,
	}
}

// IngestPrices handles POST /admin/ingest/prices
// Fetches daily price-volume rows. Query params:
// - ids: comma-separated trading item ids (optional, defaults to all)
// - full: if "true", fetch all history (default: incremental)
func (h *IngestHandler) IngestPrices(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()

	ids, err := parseIDs(c.QueryParam("ids"))
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}
	fullFetch := c.QueryParam("full") == "true"

	h.logger.Info("Starting price ingestion", zap.Int64s("ids", ids), zap.Bool("full", fullFetch))

	// Refetch from the last stored date so late corrections are picked up.
	var since time.Time
	if !fullFetch {
		since, err = h.repo.GetLastPriceUpdate(ctx)
		if err != nil {
			return failure(c, http.StatusInternalServerError, "Failed to read last update: %v", err)
		}
		h.logger.Info("Incremental fetch", zap.Time("since", since))
	}

	table, err := h.client.FetchPrices(ctx, h.priceTable, ids, since)
	if err != nil {
		h.logger.Error("Error fetching prices", zap.Error(err))
		return failure(c, http.StatusInternalServerError, "Failed to fetch prices: %v", err)
	}

	count, err := h.repo.UpsertPrices(ctx, table.Rows)
	if err != nil {
		h.logger.Error("Error upserting prices", zap.Error(err))
		return failure(c, http.StatusInternalServerError, "Failed to upsert prices: %v", err)
	}

	elapsed := time.Since(start)
	h.logger.Info("Price ingestion complete", zap.Int("rows", count), zap.Duration("elapsed", elapsed))

	return c.JSON(http.StatusOK, StatusResponse{
		Success: true,
		Message: fmt.Sprintf("Successfully ingested %d prices", count),
		Count:   count,
		Elapsed: elapsed.String(),
	})
}

// IngestSplits handles POST /admin/ingest/splits
// Replaces stored split history for every security returned. Query params:
// - ids: comma-separated trading item ids (optional, defaults to all)
func (h *IngestHandler) IngestSplits(c echo.Context) error {
	ctx := c.Request().Context()
	start := time.Now()

	ids, err := parseIDs(c.QueryParam("ids"))
	if err != nil {
		return failure(c, http.StatusBadRequest, "%v", err)
	}

	h.logger.Info("Starting split ingestion", zap.Int64s("ids", ids))

	events, err := h.client.FetchSplits(ctx, h.splitTable, ids)
	if err != nil {
		h.logger.Error("Error fetching splits", zap.Error(err))
		return failure(c, http.StatusInternalServerError, "Failed to fetch splits: %v", err)
	}

	count, err := h.repo.ReplaceSplits(ctx, events)
	if err != nil {
		h.logger.Error("Error replacing splits", zap.Error(err))
		return failure(c, http.StatusInternalServerError, "Failed to store splits: %v", err)
	}

	elapsed := time.Since(start)
	h.logger.Info("Split ingestion complete", zap.Int("events", count), zap.Duration("elapsed", elapsed))

	return c.JSON(http.StatusOK, StatusResponse{
		Success: true,
		Message: fmt.Sprintf("Successfully ingested %d split events", count),
		Count:   count,
		Elapsed: elapsed.String(),
	})
}

// IngestStatus handles GET /admin/ingest/status
// Returns current ingestion status and counts.
func (h *IngestHandler) IngestStatus(c echo.Context) error {
	ctx := c.Request().Context()

	priceCount, _ := h.repo.GetPriceCount(ctx)
	splitCount, _ := h.repo.GetSplitCount(ctx)
	runCount, _ := h.repo.GetRunCount(ctx)
	lastPriceUpdate, _ := h.repo.GetLastPriceUpdate(ctx)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"prices":            priceCount,
		"splits":            splitCount,
		"runs":              runCount,
		"last_price_update": lastPriceUpdate.Format(models.DateLayout),
	})
}
