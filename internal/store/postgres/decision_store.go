package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL.
type DecisionStore struct {
	pool *pgxpool.Pool
}

var _ domain.DecisionStore = (*DecisionStore)(nil)

// NewDecisionStore creates a DecisionStore backed by the given connection pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

const decisionSelectCols = `id, cycle_id, symbol, target_weight, target_qty,
	held_qty, order_id, skipped, reason, decided_at`

func scanDecisionRows(rows pgx.Rows) ([]domain.RebalanceDecision, error) {
	var decisions []domain.RebalanceDecision
	for rows.Next() {
		var d domain.RebalanceDecision
		if err := rows.Scan(
			&d.ID, &d.CycleID, &d.Symbol, &d.TargetWeight, &d.TargetQty,
			&d.HeldQty, &d.OrderID, &d.Skipped, &d.Reason, &d.DecidedAt,
		); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// InsertBatch inserts the decisions of one cycle using pgx Batch.
func (s *DecisionStore) InsertBatch(ctx context.Context, decisions []domain.RebalanceDecision) error {
	if len(decisions) == 0 {
		return nil
	}

	const query = `
		INSERT INTO rebalance_decisions (
			id, cycle_id, symbol, target_weight, target_qty,
			held_qty, order_id, skipped, reason, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, d := range decisions {
		batch.Queue(query,
			d.ID, d.CycleID, d.Symbol, d.TargetWeight, d.TargetQty,
			d.HeldQty, d.OrderID, d.Skipped, d.Reason, d.DecidedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range decisions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert decision: %w", err)
		}
	}
	return nil
}

// ListByCycle returns every decision of one cycle ordered by symbol.
func (s *DecisionStore) ListByCycle(ctx context.Context, cycleID string) ([]domain.RebalanceDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionSelectCols+`
		 FROM rebalance_decisions
		 WHERE cycle_id = $1
		 ORDER BY symbol ASC`,
		cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions by cycle: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return decisions, nil
}

// ListBefore returns every decision older than the cutoff, oldest first.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RebalanceDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionSelectCols+`
		 FROM rebalance_decisions
		 WHERE decided_at < $1
		 ORDER BY decided_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions before: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return decisions, nil
}

// DeleteBefore removes decisions older than the cutoff.
func (s *DecisionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rebalance_decisions WHERE decided_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete decisions before: %w", err)
	}
	return tag.RowsAffected(), nil
}
