package graphindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, maxConns, blockSize int) *GraphIndex {
	t.Helper()
	gi, err := Open(Config{
		Directory: t.TempDir(),
		MaxConns:  maxConns,
		BlockSize: blockSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gi.Close() })
	return gi
}

func TestSetAndGetConnections(t *testing.T) {
	gi := open(t, 8, 4)

	require.NoError(t, gi.SetConnections(0, []int64{1, 2, 3}))

	got, err := gi.GetConnections(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestSetConnectionsRejectsOverCapacity(t *testing.T) {
	gi := open(t, 2, 4)
	err := gi.SetConnections(0, []int64{1, 2, 3})
	assert.Error(t, err)
}

func TestAddConnectionAppends(t *testing.T) {
	gi := open(t, 8, 4)
	require.NoError(t, gi.SetConnections(0, []int64{1}))
	require.NoError(t, gi.AddConnection(0, 2))

	got, err := gi.GetConnections(0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)
}

func TestAddConnectionRejectsAtCapacity(t *testing.T) {
	gi := open(t, 1, 4)
	require.NoError(t, gi.AddConnection(0, 1))
	err := gi.AddConnection(0, 2)
	assert.Error(t, err)
}

func TestNodesAcrossPagesAreIndependent(t *testing.T) {
	gi := open(t, 4, 2)

	for i := int64(0); i < 10; i++ {
		require.NoError(t, gi.SetConnections(i, []int64{i, i + 100}))
	}
	for i := int64(0); i < 10; i++ {
		got, err := gi.GetConnections(i)
		require.NoError(t, err)
		assert.Equal(t, []int64{i, i + 100}, got)
	}
}

func TestEmptyNodeHasNoConnections(t *testing.T) {
	gi := open(t, 4, 4)
	got, err := gi.GetConnections(0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
