package statesink

import (
	"context"
	"sync"
)

// MemorySink is an in-memory sink for testing. Data is lost when the
// process exits.
type MemorySink struct {
	mu     sync.RWMutex
	byRun  map[string][]Record
	closed bool
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{byRun: make(map[string][]Record)}
}

// Write implements Sink.
func (m *MemorySink) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrSinkClosed
	}

	// Copy the path so the caller's slice is not retained.
	rec.Path = append([]string(nil), rec.Path...)
	m.byRun[rec.RunID] = append(m.byRun[rec.RunID], rec)
	return nil
}

// Records returns all records for a run in write order.
func (m *MemorySink) Records(runID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record(nil), m.byRun[runID]...)
}

// Close implements Sink.
func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
