package datalog

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, segmentSize int64) *DataLog {
	t.Helper()
	dl, err := Open(Config{
		Directory:     filepath.Join(t.TempDir(), "data"),
		SegmentSize:   segmentSize,
		SegmentPrefix: "segment",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dl.Close() })
	return dl
}

func TestPutGetStringRoundTrip(t *testing.T) {
	dl := open(t, 4096)
	offset, err := dl.PutString("k1", "hello world")
	require.NoError(t, err)

	got, err := dl.GetString(offset)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestPutGetIntRoundTrip(t *testing.T) {
	dl := open(t, 4096)
	offset, err := dl.PutInt("answer", 42)
	require.NoError(t, err)

	got, err := dl.GetInt(offset)
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)
}

func TestPutGetFloatArrayRoundTrip(t *testing.T) {
	dl := open(t, 4096)
	vec := []float32{1.5, -2.25, 3.125, 0}
	offset, err := dl.PutFloatArray("vec", vec)
	require.NoError(t, err)

	got, err := dl.GetFloatArray(offset)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestPutGetFloatMatrixRoundTrip(t *testing.T) {
	dl := open(t, 4096)
	matrix := [][]float32{{1, 2, 3}, {4, 5, 6}}
	offset, err := dl.PutFloatMatrix("mat", matrix)
	require.NoError(t, err)

	got, err := dl.GetFloatMatrix(offset)
	require.NoError(t, err)
	assert.Equal(t, matrix, got)
}

func TestPutGetBytesRoundTrip(t *testing.T) {
	dl := open(t, 4096)
	data := []byte{0x00, 0xFF, 0x10, 0x42}
	offset, err := dl.PutBytes("raw", data)
	require.NoError(t, err)

	got, err := dl.GetBytes(offset)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetRejectsTypeMismatch(t *testing.T) {
	dl := open(t, 4096)
	offset, err := dl.PutInt("x", 7)
	require.NoError(t, err)

	_, err = dl.GetString(offset)
	assert.Error(t, err)
}

func TestEntriesAreIndividuallyAddressableAndOffsetsDoNotOverlap(t *testing.T) {
	dl := open(t, 4096)

	off1, err := dl.PutString("a", "first")
	require.NoError(t, err)
	off2, err := dl.PutString("b", "second")
	require.NoError(t, err)

	assert.NotEqual(t, off1, off2)

	v1, err := dl.GetString(off1)
	require.NoError(t, err)
	v2, err := dl.GetString(off2)
	require.NoError(t, err)
	assert.Equal(t, "first", v1)
	assert.Equal(t, "second", v2)
}

func TestConcurrentWritersReserveNonOverlappingRegions(t *testing.T) {
	dl := open(t, 1<<20)

	const n = 200
	offsets := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			off, err := dl.PutInt("k", int32(i))
			require.NoError(t, err)
			offsets[i] = off
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, off := range offsets {
		assert.False(t, seen[off], "offset %d reserved twice", off)
		seen[off] = true

		v, err := dl.GetInt(off)
		require.NoError(t, err)
		_ = v
	}
	assert.Len(t, seen, n)
}

func TestSpansMultipleSegments(t *testing.T) {
	dl := open(t, 64)

	vec := make([]float32, 32)
	for i := range vec {
		vec[i] = float32(i)
	}

	var offsets []int64
	for i := 0; i < 10; i++ {
		off, err := dl.PutFloatArray("v", vec)
		require.NoError(t, err)
		offsets = append(offsets, off)
	}

	for _, off := range offsets {
		got, err := dl.GetFloatArray(off)
		require.NoError(t, err)
		assert.Equal(t, vec, got)
	}
}

func TestWatermarksAdvanceMonotonically(t *testing.T) {
	dl := open(t, 4096)

	_, err := dl.PutString("a", "x")
	require.NoError(t, err)
	committedAfterFirst := dl.Committed()
	reservedAfterFirst := dl.Reserved()

	_, err = dl.PutString("b", "y")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, dl.Committed(), committedAfterFirst)
	assert.Greater(t, dl.Reserved(), reservedAfterFirst)
}
