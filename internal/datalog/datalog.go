// Package datalog implements an append-only log of typed binary entries,
// addressable by their starting 64-bit offset, backed by a pagedfile.PagedFile.
//
// Concurrent writers claim non-overlapping regions with an atomic
// reserve-then-calculate protocol (see writeEntry): a writer first reserves
// the maximum possible size the entry could occupy via an atomic add, then
// computes the tight aligned layout within that reservation, writes
// everything except the leading length field, and finally publishes the
// length with a release store. Readers only ever need an acquire load of
// that length field to know the entry is fully visible -- no locks are
// taken on the read path.
package datalog

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/pagedfile"
	"github.com/vulcanodb/axon/pkg/errors"
)

// ValueType tags the type of value stored in an entry's payload.
type ValueType int32

const (
	ValueTypeString      ValueType = 1
	ValueTypeInteger     ValueType = 2
	ValueTypeFloatArray  ValueType = 3
	ValueTypeFloatMatrix ValueType = 4
	ValueTypeBytes       ValueType = 5
)

func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeInteger:
		return "integer"
	case ValueTypeFloatArray:
		return "floatArray"
	case ValueTypeFloatMatrix:
		return "floatMatrix"
	case ValueTypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("unknown(%d)", int32(vt))
	}
}

// rawSizeFieldSize is the width, in bytes, of the leading length field that
// is published last and read first.
const rawSizeFieldSize = 4

// postRawHeaderBase is the fixed portion of the header that follows the
// rawSize field: a 4-byte value-type tag and a 4-byte key length.
const postRawHeaderBase = 8

// Config holds the parameters needed to open a DataLog.
type Config struct {
	// Directory is the directory segment files for this log live in.
	Directory string
	// SegmentSize is the fixed size of each underlying pagedfile segment.
	// Must be a multiple of 8 so the 4-byte rawSize field of an entry never
	// straddles a segment boundary (every reservation is 8-byte aligned).
	SegmentSize int64
	// SegmentPrefix is the filename prefix for segment files.
	SegmentPrefix string
	Logger        *zap.SugaredLogger
}

// DataLog is an append-only typed binary log with lock-free reads and
// atomically-serialized writer space reservation.
type DataLog struct {
	pf  *pagedfile.PagedFile
	log *zap.SugaredLogger

	reserved  atomic.Int64
	committed atomic.Int64
}

// Open opens (creating if necessary) the DataLog rooted at cfg.Directory.
// The caller is responsible for advancing Reserved/Committed to the correct
// recovered watermark if reopening an existing log (see KVStore, which
// recovers these from its metadata file).
func Open(cfg Config) (*DataLog, error) {
	if cfg.SegmentSize%8 != 0 {
		return nil, fmt.Errorf("datalog: segment size must be a multiple of 8, got %d", cfg.SegmentSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	pf, err := pagedfile.Open(pagedfile.Config{
		Directory:   cfg.Directory,
		Prefix:      cfg.SegmentPrefix,
		SegmentSize: cfg.SegmentSize,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &DataLog{pf: pf, log: cfg.Logger}, nil
}

// Reserved returns the current reservation watermark: every byte below it
// has been claimed by some writer (though not necessarily published yet).
func (dl *DataLog) Reserved() int64 { return dl.reserved.Load() }

// Committed returns the current commit watermark: every byte below it was
// claimed by a reservation that has fully completed (published or not --
// trailing slack within a reservation is never reused regardless).
func (dl *DataLog) Committed() int64 { return dl.committed.Load() }

// SetWatermarks restores the reservation/commit counters after recovery.
// Must only be called before any concurrent writer has started.
func (dl *DataLog) SetWatermarks(reserved, committed int64) {
	dl.reserved.Store(reserved)
	dl.committed.Store(committed)
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) / align * align
}

// PutString appends a String-tagged entry and returns its starting offset.
func (dl *DataLog) PutString(key, value string) (int64, error) {
	return dl.writeEntry(key, ValueTypeString, nil, []byte(value))
}

// PutInt appends an Integer-tagged entry and returns its starting offset.
func (dl *DataLog) PutInt(key string, value int32) (int64, error) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(value))
	return dl.writeEntry(key, ValueTypeInteger, nil, payload)
}

// PutFloatArray appends a FloatArray-tagged entry and returns its starting offset.
func (dl *DataLog) PutFloatArray(key string, value []float32) (int64, error) {
	payload := make([]byte, len(value)*4)
	for i, f := range value {
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(f))
	}
	return dl.writeEntry(key, ValueTypeFloatArray, []int32{int32(len(value))}, payload)
}

// PutFloatMatrix appends a FloatMatrix-tagged entry and returns its starting
// offset. The caller must ensure the matrix is rectangular.
func (dl *DataLog) PutFloatMatrix(key string, value [][]float32) (int64, error) {
	rows := len(value)
	cols := 0
	if rows > 0 {
		cols = len(value[0])
	}
	payload := make([]byte, rows*cols*4)
	for r, row := range value {
		for c, f := range row {
			binary.LittleEndian.PutUint32(payload[(r*cols+c)*4:], math.Float32bits(f))
		}
	}
	return dl.writeEntry(key, ValueTypeFloatMatrix, []int32{int32(rows), int32(cols)}, payload)
}

// PutBytes appends a Bytes-tagged entry and returns its starting offset.
func (dl *DataLog) PutBytes(key string, value []byte) (int64, error) {
	return dl.writeEntry(key, ValueTypeBytes, nil, value)
}

// writeEntry implements the reserve-then-calculate write protocol described
// in the package doc.
func (dl *DataLog) writeEntry(key string, valueType ValueType, extra []int32, payload []byte) (int64, error) {
	keyBytes := []byte(key)
	keyLen := int64(len(keyBytes))
	extraCount := int64(len(extra))
	payloadSize := int64(len(payload))

	postRawHeaderSize := postRawHeaderBase + extraCount*4
	totalHeaderSize := rawSizeFieldSize + postRawHeaderSize

	maxEntrySize := alignUp(totalHeaderSize+keyLen+7+payloadSize, 8)

	newReserved := dl.reserved.Add(maxEntrySize)
	offset := newReserved - maxEntrySize

	unalignedPayloadOffset := offset + totalHeaderSize + keyLen
	alignedPayloadOffset := alignUp(unalignedPayloadOffset, 8)
	internalPadding := alignedPayloadOffset - unalignedPayloadOffset

	rawSize := postRawHeaderSize + keyLen + internalPadding + payloadSize
	if rawSize > math.MaxInt32 {
		return 0, fmt.Errorf("datalog: entry too large to encode (rawSize=%d)", rawSize)
	}

	header := make([]byte, postRawHeaderSize+keyLen)
	pos := 0
	binary.LittleEndian.PutUint32(header[pos:], uint32(valueType))
	pos += 4
	binary.LittleEndian.PutUint32(header[pos:], uint32(keyLen))
	pos += 4
	for _, e := range extra {
		binary.LittleEndian.PutUint32(header[pos:], uint32(e))
		pos += 4
	}
	copy(header[pos:], keyBytes)

	if err := dl.writeAt(offset+rawSizeFieldSize, header); err != nil {
		return 0, err
	}
	if payloadSize > 0 {
		if err := dl.writeAt(alignedPayloadOffset, payload); err != nil {
			return 0, err
		}
	}

	if err := dl.storeRawSizeRelease(offset, int32(rawSize)); err != nil {
		return 0, err
	}

	fetchMaxInt64(&dl.committed, offset+maxEntrySize)
	return offset, nil
}

// entryHeader is the decoded, post-rawSize portion of an entry plus the
// derived payload location -- shared by every typed getter.
type entryHeader struct {
	valueType     ValueType
	key           string
	extra         []int32
	payloadOffset int64
	payloadSize   int64
}

// extraCountForType returns how many 4-byte header ints follow the
// typeTag/keyLen pair for a given value type. This is intrinsic to the type
// tag itself, so readHeader always derives it from the decoded valueType
// rather than trusting a caller's expectation -- using the wrong count
// would misplace the key and payload offsets.
func extraCountForType(vt ValueType) int {
	switch vt {
	case ValueTypeFloatArray:
		return 1
	case ValueTypeFloatMatrix:
		return 2
	default:
		return 0
	}
}

func (dl *DataLog) readHeader(offset int64) (entryHeader, error) {
	rawSize, err := dl.loadRawSizeAcquire(offset)
	if err != nil {
		return entryHeader{}, err
	}
	if rawSize <= 0 {
		return entryHeader{}, fmt.Errorf("datalog: entry at offset %d is not published (rawSize=%d)", offset, rawSize)
	}

	base, err := dl.readAt(offset+rawSizeFieldSize, postRawHeaderBase)
	if err != nil {
		return entryHeader{}, err
	}
	valueType := ValueType(binary.LittleEndian.Uint32(base[0:4]))
	keyLen := int64(binary.LittleEndian.Uint32(base[4:8]))
	extraCount := extraCountForType(valueType)

	var extra []int32
	if extraCount > 0 {
		extraBytes, err := dl.readAt(offset+rawSizeFieldSize+postRawHeaderBase, extraCount*4)
		if err != nil {
			return entryHeader{}, err
		}
		extra = make([]int32, extraCount)
		for i := range extra {
			extra[i] = int32(binary.LittleEndian.Uint32(extraBytes[i*4:]))
		}
	}

	postRawHeaderSize := int64(postRawHeaderBase) + int64(extraCount)*4
	keyOffset := offset + rawSizeFieldSize + postRawHeaderSize
	keyBytes, err := dl.readAt(keyOffset, int(keyLen))
	if err != nil {
		return entryHeader{}, err
	}

	unalignedPayloadOffset := keyOffset + keyLen
	alignedPayloadOffset := alignUp(unalignedPayloadOffset, 8)
	internalPadding := alignedPayloadOffset - unalignedPayloadOffset

	payloadSize := int64(rawSize) - postRawHeaderSize - keyLen - internalPadding
	if payloadSize < 0 {
		return entryHeader{}, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted,
			"datalog: negative payload size computed while decoding entry").WithOffset(int(offset))
	}

	return entryHeader{
		valueType:     valueType,
		key:           string(keyBytes),
		extra:         extra,
		payloadOffset: alignedPayloadOffset,
		payloadSize:   payloadSize,
	}, nil
}

func typeMismatch(offset int64, key string, expected, actual ValueType) error {
	return errors.NewTypeMismatchError(key, offset, document.FieldType(expected), document.FieldType(actual)).
		WithDetail("expected", expected.String()).
		WithDetail("actual", actual.String())
}

// GetString reads the String-tagged entry at offset.
func (dl *DataLog) GetString(offset int64) (string, error) {
	h, err := dl.readHeader(offset)
	if err != nil {
		return "", err
	}
	if h.valueType != ValueTypeString {
		return "", typeMismatch(offset, h.key, ValueTypeString, h.valueType)
	}
	b, err := dl.readAt(h.payloadOffset, int(h.payloadSize))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetInt reads the Integer-tagged entry at offset.
func (dl *DataLog) GetInt(offset int64) (int32, error) {
	h, err := dl.readHeader(offset)
	if err != nil {
		return 0, err
	}
	if h.valueType != ValueTypeInteger {
		return 0, typeMismatch(offset, h.key, ValueTypeInteger, h.valueType)
	}
	b, err := dl.readAt(h.payloadOffset, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// GetFloatArray reads the FloatArray-tagged entry at offset.
func (dl *DataLog) GetFloatArray(offset int64) ([]float32, error) {
	h, err := dl.readHeader(offset)
	if err != nil {
		return nil, err
	}
	if h.valueType != ValueTypeFloatArray {
		return nil, typeMismatch(offset, h.key, ValueTypeFloatArray, h.valueType)
	}
	count := int(h.extra[0])
	b, err := dl.readAt(h.payloadOffset, count*4)
	if err != nil {
		return nil, err
	}
	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// GetFloatMatrix reads the FloatMatrix-tagged entry at offset.
func (dl *DataLog) GetFloatMatrix(offset int64) ([][]float32, error) {
	h, err := dl.readHeader(offset)
	if err != nil {
		return nil, err
	}
	if h.valueType != ValueTypeFloatMatrix {
		return nil, typeMismatch(offset, h.key, ValueTypeFloatMatrix, h.valueType)
	}
	rows, cols := int(h.extra[0]), int(h.extra[1])
	b, err := dl.readAt(h.payloadOffset, rows*cols*4)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, rows)
	for r := range out {
		row := make([]float32, cols)
		for c := range row {
			row[c] = math.Float32frombits(binary.LittleEndian.Uint32(b[(r*cols+c)*4:]))
		}
		out[r] = row
	}
	return out, nil
}

// GetBytes reads the Bytes-tagged entry at offset.
func (dl *DataLog) GetBytes(offset int64) ([]byte, error) {
	h, err := dl.readHeader(offset)
	if err != nil {
		return nil, err
	}
	if h.valueType != ValueTypeBytes {
		return nil, typeMismatch(offset, h.key, ValueTypeBytes, h.valueType)
	}
	return dl.readAt(h.payloadOffset, int(h.payloadSize))
}

// Key returns the key an entry was written under, without decoding its payload.
func (dl *DataLog) Key(offset int64) (string, error) {
	h, err := dl.readHeader(offset)
	if err != nil {
		return "", err
	}
	return h.key, nil
}

// writeAt copies data into the log's mapped segments starting at offset,
// transparently spanning segment boundaries.
func (dl *DataLog) writeAt(offset int64, data []byte) error {
	segSize := dl.pf.SegmentSize()
	pos := offset
	remaining := data
	for len(remaining) > 0 {
		mm, err := dl.pf.EnsureSegment(pos)
		if err != nil {
			return err
		}
		localOff := pos % segSize
		n := int64(len(mm)) - localOff
		if n > int64(len(remaining)) {
			n = int64(len(remaining))
		}
		copy(mm[localOff:localOff+n], remaining[:n])
		remaining = remaining[n:]
		pos += n
	}
	return nil
}

// readAt returns a copy of length bytes starting at offset, transparently
// spanning segment boundaries.
func (dl *DataLog) readAt(offset int64, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	segSize := dl.pf.SegmentSize()
	out := make([]byte, length)
	pos := offset
	written := 0
	for written < length {
		mm, err := dl.pf.EnsureSegment(pos)
		if err != nil {
			return nil, err
		}
		localOff := pos % segSize
		n := int64(len(mm)) - localOff
		remaining := int64(length - written)
		if n > remaining {
			n = remaining
		}
		copy(out[written:], mm[localOff:localOff+n])
		written += int(n)
		pos += n
	}
	return out, nil
}

// storeRawSizeRelease publishes rawSize at offset with release-store
// semantics via an atomic write through an unsafe-cast pointer into the
// mapped segment. Every entry's reservation is 8-byte aligned (maxEntrySize
// is always a multiple of 8) and segment sizes are required to be multiples
// of 8, so the 4-byte field never straddles a segment boundary.
func (dl *DataLog) storeRawSizeRelease(offset int64, rawSize int32) error {
	mm, err := dl.pf.EnsureSegment(offset)
	if err != nil {
		return err
	}
	localOff := offset % dl.pf.SegmentSize()
	ptr := (*int32)(unsafe.Pointer(&mm[localOff]))
	atomic.StoreInt32(ptr, rawSize)
	return nil
}

// loadRawSizeAcquire reads the rawSize field at offset with acquire-load
// semantics, pairing with storeRawSizeRelease.
func (dl *DataLog) loadRawSizeAcquire(offset int64) (int32, error) {
	mm, err := dl.pf.EnsureSegment(offset)
	if err != nil {
		return 0, err
	}
	localOff := offset % dl.pf.SegmentSize()
	ptr := (*int32)(unsafe.Pointer(&mm[localOff]))
	return atomic.LoadInt32(ptr), nil
}

// fetchMaxInt64 atomically sets *a to the larger of its current value and val.
func fetchMaxInt64(a *atomic.Int64, val int64) {
	for {
		old := a.Load()
		if val <= old {
			return
		}
		if a.CompareAndSwap(old, val) {
			return
		}
	}
}

// Flush flushes dirty mapped pages to disk.
func (dl *DataLog) Flush() error { return dl.pf.Flush() }

// Close unmaps and closes all segments.
func (dl *DataLog) Close() error { return dl.pf.Close() }
