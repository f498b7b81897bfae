package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVars() map[string]any {
	return map[string]any{
		"input": map[string]any{
			"mode":  "fast",
			"count": 3,
			"ready": true,
		},
		"nodes": map[string]any{
			"review": map[string]any{
				"output": map[string]any{
					"approved": true,
					"score":    0.75,
					"summary":  "looks good overall",
				},
			},
		},
	}
}

// TestEval_Equality tests == and != against paths and literals.
func TestEval_Equality(t *testing.T) {
	vars := testVars()

	cases := []struct {
		expr string
		want bool
	}{
		{"input.mode == fast", true},
		{"input.mode == 'fast'", true},
		{`input.mode == "slow"`, false},
		{"input.mode != slow", true},
		{"input.count == 3", true},
		{"nodes.review.output.approved == true", true},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

// TestEval_NumericComparison tests the ordered operators.
func TestEval_NumericComparison(t *testing.T) {
	vars := testVars()

	cases := []struct {
		expr string
		want bool
	}{
		{"input.count > 2", true},
		{"input.count < 2", false},
		{"input.count >= 3", true},
		{"input.count <= 3", true},
		{"nodes.review.output.score > 0.5", true},
		{"nodes.review.output.score >= 0.75", true},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

// TestEval_Contains tests substring matching.
func TestEval_Contains(t *testing.T) {
	vars := testVars()

	got, err := Eval("nodes.review.output.summary contains good", vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval("nodes.review.output.summary contains terrible", vars)
	require.NoError(t, err)
	assert.False(t, got)
}

// TestEval_Connectives tests and/or short-circuiting left to right.
func TestEval_Connectives(t *testing.T) {
	vars := testVars()

	cases := []struct {
		expr string
		want bool
	}{
		{"input.mode == fast and input.count > 2", true},
		{"input.mode == slow and input.count > 2", false},
		{"input.mode == slow or input.count > 2", true},
		{"input.mode == slow or input.count > 9", false},
	}
	for _, tc := range cases {
		got, err := Eval(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

// TestEval_Negation tests not and ! prefixes.
func TestEval_Negation(t *testing.T) {
	vars := testVars()

	got, err := Eval("not input.ready", vars)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Eval("!input.ready", vars)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Eval("not input.mode == slow", vars)
	require.NoError(t, err)
	assert.True(t, got)
}

// TestEval_TruthyPath tests a bare operand evaluates its truthiness.
func TestEval_TruthyPath(t *testing.T) {
	vars := testVars()

	got, err := Eval("input.ready", vars)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Eval("input.missing", vars)
	require.NoError(t, err)
	// Unresolved identifiers fall back to non-empty string literals.
	assert.True(t, got)

	got, err = Eval("", vars)
	require.NoError(t, err)
	assert.False(t, got)
}

// TestEval_CustomOperator tests registered operators apply.
func TestEval_CustomOperator(t *testing.T) {
	e := New(WithCustomOperator("startswith", func(l, r any) bool {
		ls, lok := l.(string)
		rs, rok := r.(string)
		return lok && rok && len(ls) >= len(rs) && ls[:len(rs)] == rs
	}))

	got, err := e.Evaluate("nodes.review.output.summary startswith looks", testVars())

	require.NoError(t, err)
	assert.True(t, got)
}

// TestResolve tests operand resolution rules.
func TestResolve(t *testing.T) {
	vars := testVars()

	assert.Equal(t, "fast", Resolve("input.mode", vars))
	assert.Equal(t, "quoted", Resolve("'quoted'", vars))
	assert.Equal(t, true, Resolve("true", vars))
	assert.Equal(t, nil, Resolve("null", vars))
	assert.Equal(t, int64(5), Resolve("5", vars))
	assert.Equal(t, 2.5, Resolve("2.5", vars))
	assert.Equal(t, "unknown_literal", Resolve("unknown_literal", vars))
}

// TestIsTruthy tests the truthiness table.
func TestIsTruthy(t *testing.T) {
	assert.False(t, IsTruthy(nil))
	assert.False(t, IsTruthy(false))
	assert.False(t, IsTruthy(""))
	assert.False(t, IsTruthy(0))
	assert.False(t, IsTruthy(0.0))
	assert.True(t, IsTruthy(true))
	assert.True(t, IsTruthy("x"))
	assert.True(t, IsTruthy(1))
	assert.True(t, IsTruthy([]any{}))
}

// TestToFloat64 tests numeric coercion.
func TestToFloat64(t *testing.T) {
	assert.Equal(t, 3.0, ToFloat64(3))
	assert.Equal(t, 3.5, ToFloat64(3.5))
	assert.Equal(t, 2.0, ToFloat64("2"))
	assert.Equal(t, 0.0, ToFloat64(map[string]any{}))
}
