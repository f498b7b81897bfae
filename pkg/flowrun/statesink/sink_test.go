package statesink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(runID string, seq int, nodeID string) Record {
	return Record{
		RunID:     runID,
		NodeID:    nodeID,
		Sequence:  seq,
		Output:    map[string]any{"node": nodeID},
		Path:      []string{"a", nodeID},
		Timestamp: time.Now().UTC(),
	}
}

// TestMemorySink_WriteAndRead tests records come back in write order.
func TestMemorySink_WriteAndRead(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, sampleRecord("r1", 1, "a")))
	require.NoError(t, sink.Write(ctx, sampleRecord("r1", 2, "b")))
	require.NoError(t, sink.Write(ctx, sampleRecord("r2", 1, "x")))

	records := sink.Records("r1")
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].NodeID)
	assert.Equal(t, "b", records[1].NodeID)
	assert.Len(t, sink.Records("r2"), 1)
	assert.Empty(t, sink.Records("ghost"))
}

// TestMemorySink_PathIsolated tests mutating the caller's path slice does
// not corrupt stored records.
func TestMemorySink_PathIsolated(t *testing.T) {
	sink := NewMemorySink()
	rec := sampleRecord("r1", 1, "a")

	require.NoError(t, sink.Write(context.Background(), rec))
	rec.Path[0] = "mutated"

	assert.Equal(t, "a", sink.Records("r1")[0].Path[0])
}

// TestMemorySink_Closed tests writes after close are refused.
func TestMemorySink_Closed(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Close())

	err := sink.Write(context.Background(), sampleRecord("r1", 1, "a"))

	assert.ErrorIs(t, err, ErrSinkClosed)
}

// TestSQLiteSink_RoundTrip tests persistence and ordered retrieval.
func TestSQLiteSink_RoundTrip(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer sink.Close()
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, sampleRecord("r1", 2, "b")))
	require.NoError(t, sink.Write(ctx, sampleRecord("r1", 1, "a")))

	records, err := sink.Records(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Ordered by sequence, not insertion.
	assert.Equal(t, 1, records[0].Sequence)
	assert.Equal(t, "a", records[0].NodeID)
	assert.Equal(t, []string{"a", "a"}, records[0].Path)
	out := records[0].Output.(map[string]any)
	assert.Equal(t, "a", out["node"])
}

// TestSQLiteSink_Upsert tests rewriting a sequence replaces the record.
func TestSQLiteSink_Upsert(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer sink.Close()
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, sampleRecord("r1", 1, "old")))
	require.NoError(t, sink.Write(ctx, sampleRecord("r1", 1, "new")))

	records, err := sink.Records(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].NodeID)
}

// TestSQLiteSink_DeleteRun tests run deletion only touches that run.
func TestSQLiteSink_DeleteRun(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer sink.Close()
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, sampleRecord("r1", 1, "a")))
	require.NoError(t, sink.Write(ctx, sampleRecord("r2", 1, "x")))

	require.NoError(t, sink.DeleteRun(ctx, "r1"))

	records, err := sink.Records(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, records)
	records, err = sink.Records(ctx, "r2")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestSQLiteSink_Closed tests operations after close are refused.
func TestSQLiteSink_Closed(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.ErrorIs(t, sink.Write(context.Background(), sampleRecord("r1", 1, "a")), ErrSinkClosed)
	_, err = sink.Records(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrSinkClosed)
	assert.NoError(t, sink.Close())
}
