package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIntLeafRejectsStringOperation(t *testing.T) {
	_, err := NewIntLeaf("age", StartsWith, 5)
	assert.Error(t, err)
}

func TestNewStringLeafRejectsIntOperation(t *testing.T) {
	_, err := NewStringLeaf("name", LessThan, "x")
	assert.Error(t, err)
}

func TestNewIntLeafAcceptsValidOperations(t *testing.T) {
	for _, op := range []Operation{Equals, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual} {
		leaf, err := NewIntLeaf("age", op, 42)
		require.NoError(t, err)
		assert.Equal(t, op, leaf.Op)
		assert.Equal(t, int32(42), leaf.IntValue)
	}
}

func TestNewStringLeafAcceptsValidOperations(t *testing.T) {
	for _, op := range []Operation{Equals, StartsWith, EndsWith, Contains} {
		leaf, err := NewStringLeaf("name", op, "hello")
		require.NoError(t, err)
		assert.Equal(t, op, leaf.Op)
		assert.Equal(t, "hello", leaf.StringValue)
	}
}

func TestNewVectorSimilarLeafRejectsEmptyVector(t *testing.T) {
	_, err := NewVectorSimilarLeaf("embedding", nil)
	assert.Error(t, err)
}

func TestNewVectorSimilarLeaf(t *testing.T) {
	leaf, err := NewVectorSimilarLeaf("embedding", []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, VectorSimilar, leaf.Op)
	assert.Equal(t, []float32{1, 2, 3}, leaf.Vector)
}

func TestNodeVariantsImplementNode(t *testing.T) {
	var nodes = []Node{
		And{Left: MatchAll, Right: MatchNone},
		Or{Left: MatchAll, Right: MatchNone},
		Not{Child: MatchAll},
		Leaf{FieldName: "x", Op: Equals, IntValue: 1},
		MatchAll,
		MatchNone,
	}
	assert.Len(t, nodes, 6)
}
