package model

import "context"

// MockClient is a test double. Unset funcs return empty responses.
type MockClient struct {
	// CompleteFunc handles Complete calls.
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)
	// StreamFunc handles Stream calls. When nil, Stream falls back to
	// CompleteFunc and yields the content as a single delta.
	StreamFunc func(ctx context.Context, req Request) (<-chan Delta, error)
}

// Compile-time interface check.
var _ Client = (*MockClient)(nil)

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &Response{}, nil
}

// Stream implements Client.
func (m *MockClient) Stream(ctx context.Context, req Request) (<-chan Delta, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}

	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan Delta, 2)
	ch <- Delta{Content: resp.Content}
	ch <- Delta{Usage: &resp.Usage}
	close(ch)
	return ch, nil
}
