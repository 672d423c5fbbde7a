package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mauv0809/splitadjust/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://data.nasdaq.com/api/v3/datatables"
	defaultTimeout = 60 * time.Second
	rateLimit      = 2 // requests per second (conservative for authenticated users)
	maxAttempts    = 3
)

var errRateLimited = errors.New("rate limited (429)")

// Client is a rate-limited client for Nasdaq Data Link Tables API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    time.Duration
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another Tables API endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryBackoff sets the base delay between retries.
func WithRetryBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

// WithRateLimit overrides the request rate. rate.Inf disables limiting.
func WithRateLimit(limit rate.Limit) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(limit, 1) }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new Data Link Tables API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		backoff: time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchTable fetches data from a table with the given parameters.
// Handles pagination automatically and returns all rows.
func (c *Client) FetchTable(ctx context.Context, table string, params map[string]string) (*Response, error) {
	allData := &Response{}
	var cursorID *string

	for {
		resp, err := c.fetchPage(ctx, table, params, cursorID)
		if err != nil {
			return nil, err
		}

		// Merge columns (only needed on first page)
		if len(allData.Datatable.Columns) == 0 {
			allData.Datatable.Columns = resp.Datatable.Columns
		}

		allData.Datatable.Data = append(allData.Datatable.Data, resp.Datatable.Data...)

		if resp.Meta.NextCursorID == nil || *resp.Meta.NextCursorID == "" {
			break
		}
		cursorID = resp.Meta.NextCursorID
		c.logger.Debug("Fetching next page",
			zap.String("table", table),
			zap.String("cursor", (*cursorID)[:min(20, len(*cursorID))]))
	}

	return allData, nil
}

// fetchPage fetches a single page of data.
func (c *Client) fetchPage(ctx context.Context, table string, params map[string]string, cursorID *string) (*Response, error) {
	u, err := url.Parse(fmt.Sprintf("%s/%s.json", c.baseURL, table))
	if err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}

	q := u.Query()
	q.Set("api_key", c.apiKey)
	for k, v := range params {
		q.Set(k, v)
	}
	if cursorID != nil {
		q.Set("qopts.cursor_id", *cursorID)
	}
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(1<<attempt)
			c.logger.Info("Retrying request", zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.doRequest(ctx, u.String())
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.Warn("Request failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, urlStr string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, string(body))
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return &resp, nil
}

func idFilter(params map[string]string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	params[models.ColSecurityID] = strings.Join(parts, ",")
}

// FetchPrices fetches daily price-volume rows from a Tables API table.
// If ids is empty, fetches all securities. If since is zero, fetches all history.
func (c *Client) FetchPrices(ctx context.Context, table string, ids []int64, since time.Time) (models.PriceTable, error) {
	params := make(map[string]string)
	idFilter(params, ids)

	if !since.IsZero() {
		params[models.ColPricingDate+".gte"] = since.Format(models.DateLayout)
	}

	resp, err := c.FetchTable(ctx, table, params)
	if err != nil {
		return models.PriceTable{}, fmt.Errorf("fetching prices: %w", err)
	}

	c.logger.Info("Fetched price rows", zap.String("table", table), zap.Int("rows", len(resp.Datatable.Data)))
	return ParsePrices(&resp.Datatable)
}

// FetchSplits fetches split events from a Tables API table.
// If ids is empty, fetches all securities.
func (c *Client) FetchSplits(ctx context.Context, table string, ids []int64) ([]models.SplitEvent, error) {
	params := make(map[string]string)
	idFilter(params, ids)

	resp, err := c.FetchTable(ctx, table, params)
	if err != nil {
		return nil, fmt.Errorf("fetching splits: %w", err)
	}

	c.logger.Info("Fetched split rows", zap.String("table", table), zap.Int("rows", len(resp.Datatable.Data)))
	return ParseSplits(&resp.Datatable)
}
