package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewFunc tests function-backed tools carry their name and logic.
func TestNewFunc(t *testing.T) {
	tl := NewFunc("adder", func(_ context.Context, input map[string]any) (map[string]any, error) {
		a, _ := input["a"].(int)
		b, _ := input["b"].(int)
		return map[string]any{"sum": a + b}, nil
	})

	assert.Equal(t, "adder", tl.Name())

	out, err := tl.Call(context.Background(), map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, 5, out["sum"])
}

// TestRegistry_RegisterAndGet tests registration and lookup.
func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("echo", func(_ context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	})

	tl, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tl.Name())
	assert.True(t, r.Has("echo"))
	assert.False(t, r.Has("ghost"))
	assert.Equal(t, 1, r.Len())
}

// TestRegistry_ReplaceKeepsLatest tests re-registering replaces the tool.
func TestRegistry_ReplaceKeepsLatest(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("t", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("old")
	})
	r.RegisterFunc("t", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"version": "new"}, nil
	})

	tl, ok := r.Get("t")
	require.True(t, ok)
	out, err := tl.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "new", out["version"])
	assert.Equal(t, 1, r.Len())
}

// TestRegistry_Delete tests removal.
func TestRegistry_Delete(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("gone", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, nil
	})

	r.Delete("gone")

	assert.False(t, r.Has("gone"))
	assert.Equal(t, 0, r.Len())
}

// TestRegistry_NamesSorted tests names come back sorted.
func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	nop := func(_ context.Context, _ map[string]any) (map[string]any, error) { return nil, nil }
	r.RegisterFunc("zeta", nop)
	r.RegisterFunc("alpha", nop)
	r.RegisterFunc("mid", nop)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}
