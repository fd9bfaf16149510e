package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Create(t *testing.T) {
	n := NewNode("patient", "px-1", map[string]any{"namespace": "brca", "age": 51})
	pattern, params, err := n.Create("px")
	require.NoError(t, err)

	assert.Equal(t, "(px:patient {age: $px_age, name: $px_name, namespace: $px_namespace, qualified_address: $px_qualified_address})", pattern)
	assert.Equal(t, map[string]any{
		"px_age":               51,
		"px_name":              "px-1",
		"px_namespace":         "brca",
		"px_qualified_address": "brca::px-1",
	}, params)
}

func TestNode_Match(t *testing.T) {
	n := NewNode("patient", "px-1", map[string]any{"namespace": "brca", "age": 51})
	pattern, params, err := n.Match("px")
	require.NoError(t, err)
	assert.Equal(t, "(px:patient {name: $px_name, namespace: $px_namespace})", pattern)
	assert.Equal(t, "px-1", params["px_name"])

	anon := NewNode("cohort", "", map[string]any{"CohortID": "brca"})
	pattern, _, err = anon.Match("co")
	require.NoError(t, err)
	assert.Equal(t, "(co:cohort {CohortID: $co_CohortID})", pattern)
}

func TestNode_ValuesNeverSpliced(t *testing.T) {
	n := NewNode("cohort", "x'}) DETACH DELETE (n", nil)
	pattern, params, err := n.Create("co")
	require.NoError(t, err)
	assert.NotContains(t, pattern, "DELETE")
	assert.Equal(t, "x'}) DETACH DELETE (n", params["co_name"])
}

func TestNode_InvalidLabels(t *testing.T) {
	_, _, err := NewNode("bad label", "x", nil).Create("n")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, _, err = NewNode("patient", "x", map[string]any{"bad-key": 1}).Create("n")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, _, err = NewNode("patient", "x", nil).Create("1n")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestValidID(t *testing.T) {
	assert.NoError(t, ValidID("brca-2021"))
	assert.ErrorIs(t, ValidID("ns::name"), ErrInvalidName)
	assert.ErrorIs(t, ValidID(""), ErrInvalidName)
}

func TestQualifiedAddress(t *testing.T) {
	assert.Equal(t, "brca::slide-9", NewNode("slide", "slide-9", map[string]any{"namespace": "brca"}).QualifiedAddress())
	assert.Equal(t, "slide-9", NewNode("slide", "slide-9", nil).QualifiedAddress())
}

func TestMergeParams(t *testing.T) {
	got := MergeParams(map[string]any{"a": 1}, map[string]any{"b": 2}, nil)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, got)
}
