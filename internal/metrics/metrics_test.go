package metrics

import (
	"testing"
	"time"

	"github.com/mauv0809/splitadjust/internal/adjust"
	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	res := &adjust.Result{
		Table:     models.PriceTable{Rows: make([]models.PriceRecord, 3)},
		Warnings:  []models.DegenerateGroupWarning{{SecurityID: 1}},
		InputRows: 4,
	}
	m.Observe("http", res, 25*time.Millisecond)
	m.Observe("http", nil, 0)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.InputRows.WithLabelValues("http")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutputRows.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Warnings.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("http")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration))
}

func TestObserveNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.Observe("cli", &adjust.Result{}, time.Second) })
}
