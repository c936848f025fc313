package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

// Archiver implements domain.Archiver by querying the primary stores for
// aged records, serializing them to JSONL, and uploading the files to object
// storage. The archived rows are deleted from the primary store only after
// the upload succeeded.
type Archiver struct {
	writer    domain.BlobWriter
	windows   domain.WindowStore
	decisions domain.DecisionStore
	logger    *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. decisions may be nil when decision
// persistence is disabled.
func NewArchiver(writer domain.BlobWriter, windows domain.WindowStore, decisions domain.DecisionStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		windows:   windows,
		decisions: decisions,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Archive moves every window result and rebalance decision older than the
// cutoff into object storage.
func (a *Archiver) Archive(ctx context.Context, before time.Time) error {
	windowCount, err := a.archiveWindows(ctx, before)
	if err != nil {
		return err
	}

	var decisionCount int64
	if a.decisions != nil {
		decisionCount, err = a.archiveDecisions(ctx, before)
		if err != nil {
			return err
		}
	}

	a.logger.Info("archive complete",
		slog.Time("before", before),
		slog.Int64("windows", windowCount),
		slog.Int64("decisions", decisionCount))
	return nil
}

func (a *Archiver) archiveWindows(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.windows.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive windows query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(results)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive windows marshal: %w", err)
	}

	path := archivePath("windows", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive windows upload: %w", err)
	}

	deleted, err := a.windows.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive windows delete: %w", err)
	}
	return deleted, nil
}

func (a *Archiver) archiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	decisions, err := a.decisions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions query: %w", err)
	}
	if len(decisions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(decisions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions marshal: %w", err)
	}

	path := archivePath("decisions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions upload: %w", err)
	}

	deleted, err := a.decisions.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions delete: %w", err)
	}
	return deleted, nil
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath builds the object key archive/<kind>/<YYYY-MM-DD>.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}
