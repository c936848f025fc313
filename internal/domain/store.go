package domain

import (
	"context"
	"io"
	"time"
)

// WindowStore persists closed window results.
type WindowStore interface {
	InsertBatch(ctx context.Context, results []WindowResult) error
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]WindowResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]WindowResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RebalanceDecision is the audit record for one instrument in one cycle.
type RebalanceDecision struct {
	ID           string
	CycleID      string
	Symbol       string
	TargetWeight float64
	TargetQty    float64
	HeldQty      float64
	OrderID      string
	Skipped      bool
	Reason       string
	DecidedAt    time.Time
}

// DecisionStore persists per-cycle rebalance decisions for audit.
type DecisionStore interface {
	InsertBatch(ctx context.Context, decisions []RebalanceDecision) error
	ListByCycle(ctx context.Context, cycleID string) ([]RebalanceDecision, error)
	ListBefore(ctx context.Context, before time.Time) ([]RebalanceDecision, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter uploads a blob to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged records out of the primary store into object storage.
type Archiver interface {
	Archive(ctx context.Context, before time.Time) error
}
