package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *KVStore {
	t.Helper()
	kv, err := Open(Config{
		Directory:            t.TempDir(),
		DataSegmentSize:      4096,
		IndexSegmentSize:     4096,
		HashIndexBucketCount: 16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestPutGetStringRoundTrip(t *testing.T) {
	kv := open(t)

	_, err := kv.PutString("name", "axon", false)
	require.NoError(t, err)

	v, ok, err := kv.GetString("name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "axon", v)
}

func TestPutGetIntRoundTrip(t *testing.T) {
	kv := open(t)

	_, err := kv.PutInt("count", 7, false)
	require.NoError(t, err)

	v, ok, err := kv.GetInt("count")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(7), v)
}

func TestPutGetFloatArrayRoundTrip(t *testing.T) {
	kv := open(t)
	vec := []float32{0.1, 0.2, 0.3}

	_, err := kv.PutFloatArray("vec", vec, false)
	require.NoError(t, err)

	v, ok, err := kv.GetFloatArray("vec")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec, v)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	kv := open(t)
	_, ok, err := kv.GetString("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveHidesValue(t *testing.T) {
	kv := open(t)
	_, err := kv.PutString("key", "val", false)
	require.NoError(t, err)

	require.NoError(t, kv.Remove("key"))

	_, ok, err := kv.GetString("key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitPersistsMetadataAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	kv, err := Open(Config{
		Directory:            dir,
		DataSegmentSize:      4096,
		IndexSegmentSize:     4096,
		HashIndexBucketCount: 16,
	})
	require.NoError(t, err)

	_, err = kv.PutString("durable", "value", true)
	require.NoError(t, err)
	require.NoError(t, kv.Close())

	reopened, err := Open(Config{
		Directory:            dir,
		DataSegmentSize:      4096,
		IndexSegmentSize:     4096,
		HashIndexBucketCount: 16,
	})
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.GetString("durable")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestPutOverwritesPreviousValue(t *testing.T) {
	kv := open(t)

	_, err := kv.PutInt("k", 1, false)
	require.NoError(t, err)
	_, err = kv.PutInt("k", 2, false)
	require.NoError(t, err)

	v, ok, err := kv.GetInt("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(2), v)
}
