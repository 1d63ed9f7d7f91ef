// Package hashindex implements a durable, bucketed append-only hash table
// mapping arbitrary string keys to 64-bit DataLog offsets. It never updates
// an entry in place: a later write for the same key simply appends a new
// entry, and a removal appends a tombstone (dataOffset == -1). Lookups scan
// a bucket's entries and keep the last match.
//
// Each bucket is an independent append-only log with its own PagedFile, so
// two different buckets never contend on the same mmap'd region. Bucket
// PagedFiles are created lazily on first access (a Get or a Put), so a large, mostly-empty
// bucket space (the default is 2^16 buckets) costs nothing beyond a
// directory entry for buckets that are never touched.
package hashindex

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/vulcanodb/axon/internal/pagedfile"
	"github.com/vulcanodb/axon/pkg/errors"
)

// Tombstone is the dataOffset value written to mark a key as removed.
const Tombstone int64 = -1

// notFound is returned internally by bucket lookups that saw no matching key at all.
const notFound int64 = -2

// Config holds the parameters needed to open a HashIndex.
type Config struct {
	// Directory is the root directory buckets are created under.
	Directory string
	// BucketCount is the number of hash buckets. Should be a power of two.
	BucketCount uint32
	// SegmentSize is the fixed size of each bucket's underlying pagedfile segments.
	SegmentSize int64
	Logger      *zap.SugaredLogger
}

type bucket struct {
	pf        *pagedfile.PagedFile
	reserved  atomic.Int64
	committed atomic.Int64
}

// HashIndex is a bucketed, append-only, key -> offset durable hash table.
type HashIndex struct {
	dir         string
	bucketCount uint32
	segmentSize int64
	log         *zap.SugaredLogger

	mu      sync.Mutex
	buckets []*atomic.Pointer[bucket]
}

// Open prepares a HashIndex rooted at cfg.Directory. No bucket files are
// created until a key first hashes into them.
func Open(cfg Config) (*HashIndex, error) {
	if cfg.BucketCount == 0 {
		return nil, fmt.Errorf("hashindex: bucket count must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	buckets := make([]*atomic.Pointer[bucket], cfg.BucketCount)
	for i := range buckets {
		buckets[i] = &atomic.Pointer[bucket]{}
	}

	return &HashIndex{
		dir:         cfg.Directory,
		bucketCount: cfg.BucketCount,
		segmentSize: cfg.SegmentSize,
		log:         cfg.Logger,
		buckets:     buckets,
	}, nil
}

// bucketIndex selects the bucket a key hashes into:
// (xxhash(key) & 0x7FFFFFFF) % bucketCount.
func (hi *HashIndex) bucketIndex(key string) uint32 {
	h := xxhash.Sum64String(key)
	masked := uint32(h) & 0x7FFFFFFF
	return masked % hi.bucketCount
}

func (hi *HashIndex) getBucket(idx uint32) (*bucket, error) {
	if b := hi.buckets[idx].Load(); b != nil {
		return b, nil
	}

	hi.mu.Lock()
	defer hi.mu.Unlock()

	if b := hi.buckets[idx].Load(); b != nil {
		return b, nil
	}

	dir := filepath.Join(hi.dir, fmt.Sprintf("bucket-%05d", idx))
	pf, err := pagedfile.Open(pagedfile.Config{
		Directory:   dir,
		Prefix:      fmt.Sprintf("index-b%d-seg", idx),
		SegmentSize: hi.segmentSize,
		Logger:      hi.log,
	})
	if err != nil {
		return nil, err
	}

	b := &bucket{pf: pf}
	hi.buckets[idx].Store(b)
	return b, nil
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) / align * align
}

// Put appends a new entry mapping key to dataOffset in its bucket and
// returns the entry's own offset within that bucket's log.
func (hi *HashIndex) Put(key string, dataOffset int64) (int64, error) {
	idx := hi.bucketIndex(key)
	b, err := hi.getBucket(idx)
	if err != nil {
		return 0, err
	}
	return putEntry(b, key, dataOffset)
}

// Remove appends a tombstone entry for key.
func (hi *HashIndex) Remove(key string) error {
	_, err := hi.Put(key, Tombstone)
	return err
}

// Get returns the last-written dataOffset for key, or ok=false if the key
// has never been written or was last written as a tombstone.
func (hi *HashIndex) Get(key string) (offset int64, ok bool, err error) {
	idx := hi.bucketIndex(key)
	b, err := hi.getBucket(idx)
	if err != nil {
		return 0, false, err
	}

	last, err := scanBucketForKey(b, key)
	if err != nil {
		return 0, false, err
	}
	if last == notFound || last == Tombstone {
		return 0, false, nil
	}
	return last, true, nil
}

func putEntry(b *bucket, key string, dataOffset int64) (int64, error) {
	keyBytes := []byte(key)
	keyLen := int64(len(keyBytes))

	headerAndKey := int64(8) + keyLen // entryLen(4) + keyLen(4) + key
	paddedHeaderAndKey := alignUp(headerAndKey, 8)
	entryLen := paddedHeaderAndKey + 8 // + dataOffset (i64)

	newReserved := b.reserved.Add(entryLen)
	offset := newReserved - entryLen

	buf := make([]byte, entryLen-4) // everything after the entryLen field
	binary.LittleEndian.PutUint32(buf[0:4], uint32(keyLen))
	copy(buf[4:4+keyLen], keyBytes)
	binary.LittleEndian.PutUint64(buf[paddedHeaderAndKey-4:], uint64(dataOffset))

	if err := writeAt(b.pf, offset+4, buf); err != nil {
		return 0, err
	}
	if err := storeInt32Release(b.pf, offset, int32(entryLen)); err != nil {
		return 0, err
	}

	fetchMaxInt64(&b.committed, offset+entryLen)
	return offset, nil
}

// scanBucketForKey walks a bucket's committed entries and returns the
// dataOffset of the last entry whose key matches, or notFound if none did.
func scanBucketForKey(b *bucket, key string) (int64, error) {
	committed := b.committed.Load()
	result := notFound

	var cursor int64
	for cursor < committed {
		entryLen, err := loadInt32Acquire(b.pf, cursor)
		if err != nil {
			return 0, err
		}
		if entryLen <= 0 {
			break
		}

		head, err := readAt(b.pf, cursor+4, 4)
		if err != nil {
			return 0, err
		}
		keyLen := int64(binary.LittleEndian.Uint32(head))

		keyBytes, err := readAt(b.pf, cursor+8, int(keyLen))
		if err != nil {
			return 0, err
		}

		paddedHeaderAndKey := alignUp(8+keyLen, 8)
		offBytes, err := readAt(b.pf, cursor+paddedHeaderAndKey, 8)
		if err != nil {
			return 0, err
		}
		dataOffset := int64(binary.LittleEndian.Uint64(offBytes))

		if string(keyBytes) == key {
			result = dataOffset
		}

		cursor += int64(entryLen)
	}

	return result, nil
}

// ValueOffsets returns the deduplicated set of currently-live dataOffsets
// across every bucket (tombstones excluded), keeping the last value written
// per key.
func (hi *HashIndex) ValueOffsets() ([]int64, error) {
	var out []int64
	for idx := range hi.buckets {
		b := hi.buckets[idx].Load()
		if b == nil {
			continue
		}
		live, err := liveOffsetsInBucket(b)
		if err != nil {
			return nil, err
		}
		out = append(out, live...)
	}
	return out, nil
}

func liveOffsetsInBucket(b *bucket) ([]int64, error) {
	committed := b.committed.Load()
	last := make(map[string]int64)
	order := make([]string, 0)

	var cursor int64
	for cursor < committed {
		entryLen, err := loadInt32Acquire(b.pf, cursor)
		if err != nil {
			return nil, err
		}
		if entryLen <= 0 {
			break
		}

		head, err := readAt(b.pf, cursor+4, 4)
		if err != nil {
			return nil, err
		}
		keyLen := int64(binary.LittleEndian.Uint32(head))

		keyBytes, err := readAt(b.pf, cursor+8, int(keyLen))
		if err != nil {
			return nil, err
		}
		key := string(keyBytes)

		paddedHeaderAndKey := alignUp(8+keyLen, 8)
		offBytes, err := readAt(b.pf, cursor+paddedHeaderAndKey, 8)
		if err != nil {
			return nil, err
		}
		dataOffset := int64(binary.LittleEndian.Uint64(offBytes))

		if _, seen := last[key]; !seen {
			order = append(order, key)
		}
		last[key] = dataOffset

		cursor += int64(entryLen)
	}

	out := make([]int64, 0, len(order))
	for _, key := range order {
		if v := last[key]; v != Tombstone {
			out = append(out, v)
		}
	}
	return out, nil
}

// CommittedApprox returns the maximum per-bucket committed offset across
// every opened bucket. This is an informational aggregate persisted in a
// KVStore's metadata file for wire-format fidelity with a conventional
// {dataLog, hashIndex} committed-offset pair; HashIndex recovery never
// depends on it since each bucket's log is self-describing and recovered
// independently by Recover.
func (hi *HashIndex) CommittedApprox() int64 {
	var max int64
	for idx := range hi.buckets {
		b := hi.buckets[idx].Load()
		if b == nil {
			continue
		}
		if c := b.committed.Load(); c > max {
			max = c
		}
	}
	return max
}

// Recover opens every bucket directory already present on disk and rescans
// its committed region, resetting reserved/committed to the offset of the
// first invalid (truncated or partially written) entry. Call once after
// Open on a pre-existing directory, before any writer starts: bucket
// directories that were never created are skipped, since an empty bucket
// has nothing to recover.
func (hi *HashIndex) Recover() error {
	matches, err := filepath.Glob(filepath.Join(hi.dir, "bucket-*"))
	if err != nil {
		return fmt.Errorf("hashindex: failed to list bucket directories: %w", err)
	}

	for _, match := range matches {
		var idx uint32
		if _, err := fmt.Sscanf(filepath.Base(match), "bucket-%d", &idx); err != nil {
			continue
		}
		if idx >= uint32(len(hi.buckets)) {
			continue
		}
		b, err := hi.getBucket(idx)
		if err != nil {
			return err
		}
		if err := recoverBucket(b); err != nil {
			return err
		}
	}
	return nil
}

// recoverBucket scans forward from offset 0 while entries look valid
// (entryLen > 0) and resets reserved/committed to the first offset that
// doesn't. A freshly truncated segment file reads as all zeros, so an
// unwritten or partially-written tail naturally terminates the scan without
// needing an externally supplied ceiling.
func recoverBucket(b *bucket) error {
	var cursor int64
	for {
		entryLen, err := loadInt32Acquire(b.pf, cursor)
		if err != nil {
			return err
		}
		if entryLen <= 0 {
			break
		}
		cursor += int64(entryLen)
	}
	b.reserved.Store(cursor)
	b.committed.Store(cursor)
	return nil
}

func writeAt(pf *pagedfile.PagedFile, offset int64, data []byte) error {
	segSize := pf.SegmentSize()
	pos := offset
	remaining := data
	for len(remaining) > 0 {
		mm, err := pf.EnsureSegment(pos)
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

func readAt(pf *pagedfile.PagedFile, offset int64, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	segSize := pf.SegmentSize()
	out := make([]byte, length)
	pos := offset
	written := 0
	for written < length {
		mm, err := pf.EnsureSegment(pos)
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

func storeInt32Release(pf *pagedfile.PagedFile, offset int64, value int32) error {
	mm, err := pf.EnsureSegment(offset)
	if err != nil {
		return err
	}
	localOff := offset % pf.SegmentSize()
	ptr := (*int32)(unsafe.Pointer(&mm[localOff]))
	atomic.StoreInt32(ptr, value)
	return nil
}

func loadInt32Acquire(pf *pagedfile.PagedFile, offset int64) (int32, error) {
	mm, err := pf.EnsureSegment(offset)
	if err != nil {
		return 0, err
	}
	localOff := offset % pf.SegmentSize()
	ptr := (*int32)(unsafe.Pointer(&mm[localOff]))
	return atomic.LoadInt32(ptr), nil
}

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

// Flush flushes dirty pages of every opened bucket to disk.
func (hi *HashIndex) Flush() error {
	closeErr := errors.NewCloseError()
	for idx := range hi.buckets {
		b := hi.buckets[idx].Load()
		if b == nil {
			continue
		}
		if err := b.pf.Flush(); err != nil {
			closeErr.Add(fmt.Sprintf("bucket-%05d", idx), err)
		}
	}
	return closeErr.OrNil()
}

// Close unmaps and closes every opened bucket.
func (hi *HashIndex) Close() error {
	closeErr := errors.NewCloseError()
	for idx := range hi.buckets {
		b := hi.buckets[idx].Load()
		if b == nil {
			continue
		}
		if err := b.pf.Close(); err != nil {
			closeErr.Add(fmt.Sprintf("bucket-%05d", idx), err)
		}
	}
	return closeErr.OrNil()
}
