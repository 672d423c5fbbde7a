package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/mauv0809/splitadjust/internal/views"
)

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

// Health returns application health status
// @Summary Health check
// @Description Returns the health status of the application
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Index(c echo.Context) error {
	return Render(c, http.StatusOK, views.Index())
}

// Render writes a templ component as the HTML response body.
func Render(c echo.Context, status int, t templ.Component) error {
	var buf bytes.Buffer
	if err := t.Render(c.Request().Context(), &buf); err != nil {
		return err
	}
	return c.HTML(status, buf.String())
}

// StatusResponse is the JSON response for admin and error replies.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

func failure(c echo.Context, status int, format string, args ...any) error {
	return c.JSON(status, StatusResponse{
		Success: false,
		Message: fmt.Sprintf(format, args...),
	})
}

// isInputError reports whether err was caused by the caller's data rather
// than by the service.
func isInputError(err error) bool {
	var (
		schemaErr *models.SchemaError
		dateErr   *models.DateParseError
		valueErr  *models.ValueError
		factorErr *models.FactorError
	)
	return errors.As(err, &schemaErr) ||
		errors.As(err, &dateErr) ||
		errors.As(err, &valueErr) ||
		errors.As(err, &factorErr)
}

func errorStatus(err error) int {
	if isInputError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// parseIDs reads a comma-separated list of trading item ids.
func parseIDs(param string) ([]int64, error) {
	if strings.TrimSpace(param) == "" {
		return nil, nil
	}
	parts := strings.Split(param, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", models.ColSecurityID, p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseDate reads an optional date query parameter. Empty yields zero time.
func parseDate(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	return models.ParseDate(name, v)
}
