package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftwoodlabs/quantbot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

type memWindowStore struct {
	results []domain.WindowResult
	deleted []time.Time
}

func (m *memWindowStore) InsertBatch(context.Context, []domain.WindowResult) error { return nil }

func (m *memWindowStore) ListBySymbol(context.Context, string, int) ([]domain.WindowResult, error) {
	return nil, nil
}

func (m *memWindowStore) ListBefore(_ context.Context, before time.Time) ([]domain.WindowResult, error) {
	var out []domain.WindowResult
	for _, r := range m.results {
		if r.WindowEnd.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memWindowStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.deleted = append(m.deleted, before)
	var kept []domain.WindowResult
	var n int64
	for _, r := range m.results {
		if r.WindowEnd.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.results = kept
	return n, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveUploadsJSONLThenDeletes(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := &memWindowStore{results: []domain.WindowResult{
		{Symbol: "AAPL", WindowEnd: cutoff.Add(-time.Hour), VWAP: domain.Defined(100), TradeCount: 3},
		{Symbol: "MSFT", WindowEnd: cutoff.Add(-2 * time.Hour), VWAP: domain.Undefined()},
		{Symbol: "AAPL", WindowEnd: cutoff.Add(time.Hour), VWAP: domain.Defined(101)},
	}}
	writer := newMemWriter()
	a := NewArchiver(writer, store, nil, testLogger())

	require.NoError(t, a.Archive(context.Background(), cutoff))

	key := "archive/windows/2026-08-01.jsonl"
	payload, ok := writer.objects[key]
	require.True(t, ok, "expected upload at %s, got %v", key, writer.objects)
	require.Equal(t, "application/x-ndjson", writer.types[key])

	var lines []domain.WindowResult
	sc := bufio.NewScanner(bytes.NewReader(payload))
	for sc.Scan() {
		var r domain.WindowResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		lines = append(lines, r)
	}
	require.Len(t, lines, 2, "only rows older than the cutoff are archived")
	require.False(t, lines[1].VWAP.Valid, "undefined metrics survive the JSONL round trip as null")

	require.Len(t, store.results, 1, "archived rows are deleted after upload")
	require.Len(t, store.deleted, 1)
}

func TestArchiveNothingToDo(t *testing.T) {
	writer := newMemWriter()
	a := NewArchiver(writer, &memWindowStore{}, nil, testLogger())

	require.NoError(t, a.Archive(context.Background(), time.Now()))
	require.Empty(t, writer.objects, "no upload when nothing is old enough")
}
