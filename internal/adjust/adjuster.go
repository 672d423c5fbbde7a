package adjust

import (
	"sort"
	"time"

	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Adjuster rescales price history for stock splits.
type Adjuster struct {
	workers      int
	legacyAnchor bool
	logger       *zap.Logger
}

// Option configures an Adjuster.
type Option func(*Adjuster)

// WithWorkers evaluates up to n securities concurrently. n <= 1 keeps the
// computation on the calling goroutine.
func WithWorkers(n int) Option {
	return func(a *Adjuster) { a.workers = n }
}

// WithLegacyAnchor limits the full cumulative factor to prices dated no
// earlier than one business day before the earliest split in the split
// table. Older prices are left unscaled, matching the historical batch job.
// This is the anchor step of the batch algorithm exactly as written; without
// it every price before a security's first split receives the full factor.
func WithLegacyAnchor() Option {
	return func(a *Adjuster) { a.legacyAnchor = true }
}

// WithLogger sets the logger used for warnings and run summaries.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adjuster) { a.logger = l }
}

// New creates an Adjuster.
func New(opts ...Option) *Adjuster {
	a := &Adjuster{workers: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// LegacyAnchor reports whether the adjuster was built with WithLegacyAnchor.
func (a *Adjuster) LegacyAnchor() bool { return a.legacyAnchor }

// Result is the output of one adjustment.
type Result struct {
	Table    models.PriceTable
	Warnings []models.DegenerateGroupWarning

	// InputRows counts price rows dated on or before the knowledge date.
	InputRows int
	// Adjusted counts securities that had at least one split applied.
	Adjusted int
}

// Adjust returns prices dated on or before asOf with close and closeUsd
// divided, and volume multiplied, by the cumulative factor of every split
// known as of asOf that took effect after the pricing date.
//
// Output rows are ordered by security then pricing date; rows with a null
// volume are dropped. The input table is not modified.
func (a *Adjuster) Adjust(prices models.PriceTable, splits []models.SplitEvent, asOf time.Time) (*Result, error) {
	if err := prices.Validate(); err != nil {
		return nil, err
	}
	asOf = models.Date(asOf)

	schedules, warnings, err := BuildSchedules(splits, asOf, a.legacyAnchor)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		a.logger.Warn("Combined split events sharing a date",
			zap.Int64("security_id", w.SecurityID),
			zap.String("split_date", w.SplitDate.Format(models.DateLayout)),
			zap.Int("events", w.Events),
			zap.String("factor", w.Combined.String()))
	}

	rows := make([]models.PriceRecord, 0, len(prices.Rows))
	for _, r := range prices.Rows {
		if models.Date(r.PricingDate).After(asOf) {
			continue
		}
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SecurityID != rows[j].SecurityID {
			return rows[i].SecurityID < rows[j].SecurityID
		}
		return models.Date(rows[i].PricingDate).Before(models.Date(rows[j].PricingDate))
	})

	factors := make([]decimal.Decimal, len(rows))
	if err := a.evaluate(rows, schedules, factors); err != nil {
		return nil, err
	}

	out := make([]models.PriceRecord, 0, len(rows))
	adjusted := make(map[int64]struct{})
	for i, r := range rows {
		if !r.Volume.Valid {
			continue
		}
		csf := factors[i]
		if !csf.Equal(one) {
			r.Close = divide(r.Close, csf)
			r.CloseUSD = divide(r.CloseUSD, csf)
			r.Volume = decimal.NewNullDecimal(r.Volume.Decimal.Mul(csf))
			adjusted[r.SecurityID] = struct{}{}
		}
		out = append(out, r)
	}

	columns := make([]string, len(prices.Columns))
	copy(columns, prices.Columns)

	a.logger.Debug("Adjusted prices for splits",
		zap.String("as_of", asOf.Format(models.DateLayout)),
		zap.Int("input_rows", len(rows)),
		zap.Int("output_rows", len(out)),
		zap.Int("split_securities", len(schedules)),
		zap.Int("warnings", len(warnings)))

	return &Result{
		Table:     models.PriceTable{Columns: columns, Rows: out},
		Warnings:  warnings,
		InputRows: len(rows),
		Adjusted:  len(adjusted),
	}, nil
}

// evaluate fills factors[i] with the cumulative split factor of rows[i].
// rows must be sorted by security so each security is a contiguous run.
func (a *Adjuster) evaluate(rows []models.PriceRecord, schedules map[int64]*Schedule, factors []decimal.Decimal) error {
	fill := func(start, end int) {
		s := schedules[rows[start].SecurityID]
		for i := start; i < end; i++ {
			factors[i] = s.FactorAt(models.Date(rows[i].PricingDate))
		}
	}

	if a.workers <= 1 {
		for start, end := 0, 0; start < len(rows); start = end {
			end = runEnd(rows, start)
			fill(start, end)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(a.workers)
	for start, end := 0, 0; start < len(rows); start = end {
		end = runEnd(rows, start)
		g.Go(func() error {
			fill(start, end)
			return nil
		})
	}
	return g.Wait()
}

// runEnd returns the index one past the last row sharing rows[start]'s
// security.
func runEnd(rows []models.PriceRecord, start int) int {
	end := start + 1
	for end < len(rows) && rows[end].SecurityID == rows[start].SecurityID {
		end++
	}
	return end
}

func divide(v decimal.NullDecimal, by decimal.Decimal) decimal.NullDecimal {
	if !v.Valid {
		return v
	}
	return decimal.NewNullDecimal(v.Decimal.Div(by))
}
