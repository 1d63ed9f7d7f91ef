package indexhandler

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/internal/pagedfile"
)

const longSize = 8

// PagedLongArrayConfig holds the parameters needed to open a PagedLongArray.
type PagedLongArrayConfig struct {
	Directory string
	Prefix    string
	BlockSize int
	Logger    *zap.SugaredLogger
}

// PagedLongArray is a dense, memory-mapped array of int64 slots addressed by
// a zero-based index, used for the hnswId -> internalDocId bridge a
// HNSWHandler maintains.
type PagedLongArray struct {
	pf    *pagedfile.PagedFile
	count atomic.Int64
}

// OpenPagedLongArray opens or creates a PagedLongArray rooted at cfg.Directory.
func OpenPagedLongArray(cfg PagedLongArrayConfig) (*PagedLongArray, error) {
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("indexhandler: block size must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "idmap"
	}

	pf, err := pagedfile.Open(pagedfile.Config{
		Directory:   cfg.Directory,
		Prefix:      cfg.Prefix,
		SegmentSize: int64(cfg.BlockSize) * longSize,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &PagedLongArray{pf: pf}, nil
}

func (a *PagedLongArray) slot(index int64) ([]byte, error) {
	offset := index * longSize
	mm, err := a.pf.EnsureSegment(offset)
	if err != nil {
		return nil, err
	}
	local := offset % a.pf.SegmentSize()
	return mm[local : local+longSize], nil
}

// Set stores value at index, extending the array's reported Len if needed.
func (a *PagedLongArray) Set(index int64, value int64) error {
	buf, err := a.slot(index)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf, uint64(value))
	fetchMaxInt64(&a.count, index+1)
	return nil
}

// Get returns the value at index and whether index is below Len. A slot
// below Len that was never Set reads as 0 with ok true.
func (a *PagedLongArray) Get(index int64) (int64, bool, error) {
	if index < 0 || index >= a.count.Load() {
		return 0, false, nil
	}
	buf, err := a.slot(index)
	if err != nil {
		return 0, false, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), true, nil
}

// Len returns one past the highest index ever Set.
func (a *PagedLongArray) Len() int64 { return a.count.Load() }

// SetLen overrides the reported length, used during recovery once the
// caller has determined how many slots were written in a prior process
// lifetime (the backing PagedFile persists the bytes but not this in-memory
// watermark).
func (a *PagedLongArray) SetLen(n int64) { a.count.Store(n) }

func fetchMaxInt64(addr *atomic.Int64, val int64) {
	for {
		cur := addr.Load()
		if val <= cur {
			return
		}
		if addr.CompareAndSwap(cur, val) {
			return
		}
	}
}

// Flush flushes the underlying PagedFile's dirty pages.
func (a *PagedLongArray) Flush() error { return a.pf.Flush() }

// Close closes the underlying PagedFile.
func (a *PagedLongArray) Close() error { return a.pf.Close() }
