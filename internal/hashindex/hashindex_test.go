package hashindex

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, bucketCount uint32) *HashIndex {
	t.Helper()
	hi, err := Open(Config{
		Directory:   t.TempDir(),
		BucketCount: bucketCount,
		SegmentSize: 4096,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hi.Close() })
	return hi
}

func TestPutGetRoundTrip(t *testing.T) {
	hi := open(t, 16)

	_, err := hi.Put("alpha", 100)
	require.NoError(t, err)

	off, ok, err := hi.Get("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), off)
}

func TestGetReturnsLastWrittenValue(t *testing.T) {
	hi := open(t, 16)

	_, err := hi.Put("key", 1)
	require.NoError(t, err)
	_, err = hi.Put("key", 2)
	require.NoError(t, err)
	_, err = hi.Put("key", 3)
	require.NoError(t, err)

	off, ok, err := hi.Get("key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), off)
}

func TestRemoveTombstonesKey(t *testing.T) {
	hi := open(t, 16)

	_, err := hi.Put("key", 10)
	require.NoError(t, err)
	require.NoError(t, hi.Remove("key"))

	_, ok, err := hi.Get("key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUnknownKeyNotFound(t *testing.T) {
	hi := open(t, 16)
	_, ok, err := hi.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValueOffsetsExcludesTombstonesAndDedupesByKey(t *testing.T) {
	hi := open(t, 4)

	for i := 0; i < 20; i++ {
		_, err := hi.Put(fmt.Sprintf("key-%d", i), int64(i*10))
		require.NoError(t, err)
	}
	require.NoError(t, hi.Remove("key-5"))
	_, err := hi.Put("key-5", 999)
	require.NoError(t, err)
	require.NoError(t, hi.Remove("key-7"))

	offsets, err := hi.ValueOffsets()
	require.NoError(t, err)

	assert.Len(t, offsets, 19)
	assert.Contains(t, offsets, int64(999))
	assert.NotContains(t, offsets, int64(50))
}

func TestDifferentKeysHashToBucketsIndependently(t *testing.T) {
	hi := open(t, 8)
	for i := 0; i < 50; i++ {
		_, err := hi.Put(fmt.Sprintf("k%d", i), int64(i))
		require.NoError(t, err)
	}
	for i := 0; i < 50; i++ {
		off, ok, err := hi.Get(fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(i), off)
	}
}
