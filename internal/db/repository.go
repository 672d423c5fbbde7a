package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mauv0809/splitadjust/internal/adjust"
	"github.com/mauv0809/splitadjust/internal/models"
	"github.com/shopspring/decimal"
)

// Repository handles database operations for prices, splits and runs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PriceFilter narrows LoadPrices. Zero values mean no restriction.
type PriceFilter struct {
	IDs   []int64
	From  time.Time
	Until time.Time
}

// UpsertPrices inserts or updates daily price rows.
// Returns the number of rows written.
func (r *Repository) UpsertPrices(ctx context.Context, rows []models.PriceRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		extra := row.Extra
		if extra == nil {
			extra = map[string]string{}
		}
		batch.Queue(`
			INSERT INTO daily_price_volume (
				trading_item_id, pricing_date, close, close_usd, volume, extra, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (trading_item_id, pricing_date) DO UPDATE SET
				close = EXCLUDED.close,
				close_usd = EXCLUDED.close_usd,
				volume = EXCLUDED.volume,
				extra = EXCLUDED.extra,
				updated_at = NOW()
		`,
			row.SecurityID, row.PricingDate,
			toNumeric(row.Close), toNumeric(row.CloseUSD), toNumeric(row.Volume),
			extra,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	count := 0
	for range rows {
		if _, err := br.Exec(); err != nil {
			return count, fmt.Errorf("upserting price: %w", err)
		}
		count++
	}
	return count, nil
}

// ReplaceSplits swaps the stored split history of every security present in
// events for the given events, in one transaction.
func (r *Repository) ReplaceSplits(ctx context.Context, events []models.SplitEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM split_events WHERE trading_item_id = ANY($1)", splitIDs(events)); err != nil {
		return 0, fmt.Errorf("deleting splits: %w", err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"split_events"},
		[]string{"trading_item_id", "split_date", "factor"},
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.SecurityID, e.SplitDate, toNumeric(decimal.NewNullDecimal(e.Factor))}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copying splits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing splits: %w", err)
	}
	return int(n), nil
}

// LoadPrices returns stored prices ordered by security and date. Columns
// are the core price columns followed by every passthrough column seen.
func (r *Repository) LoadPrices(ctx context.Context, f PriceFilter) (models.PriceTable, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT trading_item_id, pricing_date, close, close_usd, volume, extra
		FROM daily_price_volume
		WHERE ($1::bigint[] IS NULL OR trading_item_id = ANY($1))
		  AND ($2::date IS NULL OR pricing_date >= $2)
		  AND ($3::date IS NULL OR pricing_date <= $3)
		ORDER BY trading_item_id, pricing_date
	`, nullIDs(f.IDs), nullDate(f.From), nullDate(f.Until))
	if err != nil {
		return models.PriceTable{}, fmt.Errorf("querying prices: %w", err)
	}
	defer rows.Close()

	var records []models.PriceRecord
	for rows.Next() {
		var (
			rec                       models.PriceRecord
			closePx, closeUSD, volume pgtype.Numeric
		)
		if err := rows.Scan(&rec.SecurityID, &rec.PricingDate, &closePx, &closeUSD, &volume, &rec.Extra); err != nil {
			return models.PriceTable{}, fmt.Errorf("scanning price: %w", err)
		}
		rec.PricingDate = models.Date(rec.PricingDate)
		rec.Close = fromNumeric(closePx)
		rec.CloseUSD = fromNumeric(closeUSD)
		rec.Volume = fromNumeric(volume)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return models.PriceTable{}, fmt.Errorf("reading prices: %w", err)
	}

	return models.PriceTable{Columns: priceColumns(records), Rows: records}, nil
}

// LoadSplits returns stored split events in insertion order.
func (r *Repository) LoadSplits(ctx context.Context, ids []int64) ([]models.SplitEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT trading_item_id, split_date, factor
		FROM split_events
		WHERE ($1::bigint[] IS NULL OR trading_item_id = ANY($1))
		ORDER BY id
	`, nullIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("querying splits: %w", err)
	}
	defer rows.Close()

	var events []models.SplitEvent
	for rows.Next() {
		var (
			e      models.SplitEvent
			factor pgtype.Numeric
		)
		if err := rows.Scan(&e.SecurityID, &e.SplitDate, &factor); err != nil {
			return nil, fmt.Errorf("scanning split: %w", err)
		}
		e.SplitDate = models.Date(e.SplitDate)
		e.Factor = fromNumeric(factor).Decimal
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveRun records an adjustment run and its output rows. Returns the run id.
func (r *Repository) SaveRun(ctx context.Context, asOf time.Time, res *adjust.Result) (uuid.UUID, error) {
	id := uuid.New()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO adjustment_runs (id, as_of, input_rows, output_rows, warnings)
		VALUES ($1, $2, $3, $4, $5)
	`, id, asOf, res.InputRows, len(res.Table.Rows), len(res.Warnings))
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting run: %w", err)
	}

	rows := res.Table.Rows
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"adjusted_prices"},
		[]string{"run_id", "trading_item_id", "pricing_date", "close", "close_usd", "volume"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			return []any{id, row.SecurityID, row.PricingDate,
				toNumeric(row.Close), toNumeric(row.CloseUSD), toNumeric(row.Volume)}, nil
		}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("copying adjusted prices: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("committing run: %w", err)
	}
	return id, nil
}

// GetPriceCount returns the number of stored price rows.
func (r *Repository) GetPriceCount(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM daily_price_volume").Scan(&count)
	return count, err
}

// GetSplitCount returns the number of stored split events.
func (r *Repository) GetSplitCount(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM split_events").Scan(&count)
	return count, err
}

// GetRunCount returns the number of recorded adjustment runs.
func (r *Repository) GetRunCount(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM adjustment_runs").Scan(&count)
	return count, err
}

// GetLastPriceUpdate returns the most recent pricing date stored.
func (r *Repository) GetLastPriceUpdate(ctx context.Context) (time.Time, error) {
	var last time.Time
	err := r.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(pricing_date), '1970-01-01'::date) FROM daily_price_volume").Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last price date: %w", err)
	}
	return last, nil
}

// toNumeric converts a nullable decimal for database insertion.
func toNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

// fromNumeric treats NULL and non-finite values as null.
func fromNumeric(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(n.Int, n.Exp))
}

func nullIDs(ids []int64) any {
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func splitIDs(events []models.SplitEvent) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, e := range events {
		if _, ok := seen[e.SecurityID]; !ok {
			seen[e.SecurityID] = struct{}{}
			ids = append(ids, e.SecurityID)
		}
	}
	return ids
}

func priceColumns(rows []models.PriceRecord) []string {
	seen := make(map[string]struct{})
	var extra []string
	for _, r := range rows {
		for k := range r.Extra {
			if _, ok := seen[k]; !ok && !models.IsCore(k) {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(append([]string(nil), models.PriceColumns...), extra...)
}
