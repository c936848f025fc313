package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// WindowStore implements domain.WindowStore using PostgreSQL. Undefined
// metrics are stored as SQL NULL.
type WindowStore struct {
	pool *pgxpool.Pool
}

var _ domain.WindowStore = (*WindowStore)(nil)

// NewWindowStore creates a WindowStore backed by the given connection pool.
func NewWindowStore(pool *pgxpool.Pool) *WindowStore {
	return &WindowStore{pool: pool}
}

const windowSelectCols = `symbol, window_end, vwap, rv, bv, jump_ratio, trade_count, volume`

// metricParam maps a Metric to a nullable SQL parameter.
func metricParam(m domain.Metric) *float64 {
	if !m.Valid {
		return nil
	}
	v := m.Value
	return &v
}

func metricFrom(p *float64) domain.Metric {
	if p == nil {
		return domain.Undefined()
	}
	return domain.Defined(*p)
}

func scanWindowRows(rows pgx.Rows) ([]domain.WindowResult, error) {
	var results []domain.WindowResult
	for rows.Next() {
		var (
			r                  domain.WindowResult
			vwap, rv, bv, jump *float64
		)
		if err := rows.Scan(
			&r.Symbol, &r.WindowEnd, &vwap, &rv, &bv, &jump,
			&r.TradeCount, &r.Volume,
		); err != nil {
			return nil, err
		}
		r.VWAP = metricFrom(vwap)
		r.RV = metricFrom(rv)
		r.BV = metricFrom(bv)
		r.JumpRatio = metricFrom(jump)
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertBatch inserts window results using pgx Batch. A window re-emitted
// for the same symbol and boundary is silently skipped.
func (s *WindowStore) InsertBatch(ctx context.Context, results []domain.WindowResult) error {
	if len(results) == 0 {
		return nil
	}

	const query = `
		INSERT INTO window_results (
			symbol, window_end, vwap, rv, bv, jump_ratio, trade_count, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, window_end) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(query,
			r.Symbol, r.WindowEnd,
			metricParam(r.VWAP), metricParam(r.RV),
			metricParam(r.BV), metricParam(r.JumpRatio),
			r.TradeCount, r.Volume,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert window result: %w", err)
		}
	}
	return nil
}

// ListBySymbol returns the most recent window results for symbol, newest
// first.
func (s *WindowStore) ListBySymbol(ctx context.Context, symbol string, limit int) ([]domain.WindowResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+windowSelectCols+`
		 FROM window_results
		 WHERE symbol = $1
		 ORDER BY window_end DESC
		 LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list windows by symbol: %w", err)
	}
	defer rows.Close()

	results, err := scanWindowRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan windows: %w", err)
	}
	return results, nil
}

// ListBefore returns every window result older than the cutoff, oldest
// first, for archival.
func (s *WindowStore) ListBefore(ctx context.Context, before time.Time) ([]domain.WindowResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+windowSelectCols+`
		 FROM window_results
		 WHERE window_end < $1
		 ORDER BY window_end ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list windows before: %w", err)
	}
	defer rows.Close()

	results, err := scanWindowRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan windows: %w", err)
	}
	return results, nil
}

// DeleteBefore removes window results older than the cutoff and reports how
// many rows went away.
func (s *WindowStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM window_results WHERE window_end < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete windows before: %w", err)
	}
	return tag.RowsAffected(), nil
}
