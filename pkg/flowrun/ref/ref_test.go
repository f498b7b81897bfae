package ref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVars() map[string]any {
	return map[string]any{
		"input": map[string]any{
			"name": "Ada",
			"tags": []any{"first", "second"},
			"user": map[string]any{"id": 7},
		},
		"nodes": map[string]any{
			"classify": map[string]any{
				"output": map[string]any{"content": "billing", "score": 0.9},
			},
		},
	}
}

// TestExpand_Basic tests simple substitution.
func TestExpand_Basic(t *testing.T) {
	got := Expand("Hello {{ input.name }}!", testVars())

	assert.Equal(t, "Hello Ada!", got)
}

// TestExpand_NestedAndIndexed tests deep paths and slice indexing.
func TestExpand_NestedAndIndexed(t *testing.T) {
	vars := testVars()

	assert.Equal(t, "billing", Expand("{{ nodes.classify.output.content }}", vars))
	assert.Equal(t, "second", Expand("{{ input.tags.1 }}", vars))
	assert.Equal(t, "7", Expand("{{ input.user.id }}", vars))
}

// TestExpand_MissingIsEmpty tests unresolved paths substitute empty
// strings by default.
func TestExpand_MissingIsEmpty(t *testing.T) {
	got := Expand("before {{ input.missing }} after", testVars())

	assert.Equal(t, "before  after", got)
}

// TestExpand_WhitespaceTolerant tests marker whitespace variants.
func TestExpand_WhitespaceTolerant(t *testing.T) {
	vars := testVars()

	assert.Equal(t, "Ada", Expand("{{input.name}}", vars))
	assert.Equal(t, "Ada", Expand("{{   input.name   }}", vars))
}

// TestExpand_MultipleReferences tests several markers in one string.
func TestExpand_MultipleReferences(t *testing.T) {
	got := Expand("{{ input.name }}: {{ nodes.classify.output.content }}", testVars())

	assert.Equal(t, "Ada: billing", got)
}

// TestExpand_Strict tests strict mode fails on unresolved paths.
func TestExpand_Strict(t *testing.T) {
	r := NewResolver(WithStrict())

	_, err := r.Expand("{{ input.missing }} and {{ also.gone }}", testVars())

	require.Error(t, err)
	var ue *UnresolvedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, []string{"input.missing", "also.gone"}, ue.Paths)
	assert.Contains(t, err.Error(), "input.missing")
}

// TestExpandMap_TypePreservation tests a value that is exactly one
// reference keeps the resolved type.
func TestExpandMap_TypePreservation(t *testing.T) {
	got := ExpandMap(map[string]any{
		"score":    "{{ nodes.classify.output.score }}",
		"rendered": "score={{ nodes.classify.output.score }}",
		"list":     "{{ input.tags }}",
		"plain":    42,
	}, testVars())

	assert.Equal(t, 0.9, got["score"])
	assert.Equal(t, "score=0.9", got["rendered"])
	assert.Equal(t, []any{"first", "second"}, got["list"])
	assert.Equal(t, 42, got["plain"])
}

// TestExpandMap_Recursive tests nested maps and slices expand too.
func TestExpandMap_Recursive(t *testing.T) {
	got := ExpandMap(map[string]any{
		"outer": map[string]any{
			"inner": "{{ input.name }}",
		},
		"items": []any{"{{ input.name }}", "literal"},
	}, testVars())

	outer := got["outer"].(map[string]any)
	assert.Equal(t, "Ada", outer["inner"])
	items := got["items"].([]any)
	assert.Equal(t, "Ada", items[0])
	assert.Equal(t, "literal", items[1])
}

// TestExpandMap_Nil tests a nil map stays nil.
func TestExpandMap_Nil(t *testing.T) {
	assert.Nil(t, ExpandMap(nil, testVars()))
}

// TestLookup tests path traversal outcomes.
func TestLookup(t *testing.T) {
	vars := testVars()

	v, ok := Lookup("input.user.id", vars)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = Lookup("input.user.ghost", vars)
	assert.False(t, ok)

	_, ok = Lookup("input.tags.9", vars)
	assert.False(t, ok)

	_, ok = Lookup("input.name.deeper", vars)
	assert.False(t, ok)

	_, ok = Lookup("", vars)
	assert.False(t, ok)
}

// TestStringify tests value rendering rules.
func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "plain", Stringify("plain"))
	assert.Equal(t, "3.5", Stringify(3.5))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
	assert.Equal(t, `["x"]`, Stringify([]any{"x"}))
}
