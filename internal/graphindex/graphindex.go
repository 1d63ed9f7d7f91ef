// Package graphindex stores HNSW adjacency lists on memory-mapped pages,
// one GraphIndex per layer. Each node occupies a fixed slot:
//
//	[i64 count] [i64 neighbor0] ... [i64 neighbor_{maxConns-1}]
//
// Count is stored as a full 8-byte word purely to keep the neighbor array
// 8-byte aligned; only its low 32 bits are ever meaningful.
package graphindex

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/internal/pagedfile"
	"github.com/vulcanodb/axon/pkg/errors"
)

const countFieldSize = 8
const neighborSize = 8

// Config holds the parameters needed to open a GraphIndex.
type Config struct {
	Directory string
	Prefix    string
	MaxConns  int
	BlockSize int
	Logger    *zap.SugaredLogger
}

// GraphIndex stores one HNSW layer's adjacency lists.
type GraphIndex struct {
	pf       *pagedfile.PagedFile
	maxConns int
	slotSize int64
}

// Open opens or creates a GraphIndex rooted at cfg.Directory.
func Open(cfg Config) (*GraphIndex, error) {
	if cfg.MaxConns <= 0 {
		return nil, fmt.Errorf("graphindex: maxConns must be positive")
	}
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("graphindex: block size must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "graph"
	}

	slotSize := countFieldSize + int64(cfg.MaxConns)*neighborSize
	segmentSize := slotSize * int64(cfg.BlockSize)

	pf, err := pagedfile.Open(pagedfile.Config{
		Directory:   cfg.Directory,
		Prefix:      cfg.Prefix,
		SegmentSize: segmentSize,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &GraphIndex{pf: pf, maxConns: cfg.MaxConns, slotSize: slotSize}, nil
}

// MaxConns returns the maximum number of neighbors a node may have.
func (gi *GraphIndex) MaxConns() int { return gi.maxConns }

func (gi *GraphIndex) slotOffset(id int64) int64 { return id * gi.slotSize }

func (gi *GraphIndex) slot(id int64) ([]byte, error) {
	offset := gi.slotOffset(id)
	mm, err := gi.pf.EnsureSegment(offset)
	if err != nil {
		return nil, err
	}
	localOffset := offset % gi.pf.SegmentSize()
	return mm[localOffset : localOffset+gi.slotSize], nil
}

// SetConnections overwrites id's full neighbor list. Rejects len(neighbors) > MaxConns.
func (gi *GraphIndex) SetConnections(id int64, neighbors []int64) error {
	if len(neighbors) > gi.maxConns {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "graphindex: too many neighbors for slot capacity").
			WithProvided(len(neighbors)).WithExpected(gi.maxConns)
	}

	buf, err := gi.slot(id)
	if err != nil {
		return err
	}
	for i, n := range neighbors {
		binary.LittleEndian.PutUint64(buf[countFieldSize+int64(i)*neighborSize:], uint64(n))
	}
	gi.storeCountRelease(buf, int64(len(neighbors)))
	return nil
}

// AddConnection appends neighbor to id's list. Rejects if id is already at capacity.
func (gi *GraphIndex) AddConnection(id, neighbor int64) error {
	buf, err := gi.slot(id)
	if err != nil {
		return err
	}
	count := gi.loadCountAcquire(buf)
	if int(count) >= gi.maxConns {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "graphindex: node already at neighbor capacity").
			WithProvided(count).WithExpected(gi.maxConns)
	}
	binary.LittleEndian.PutUint64(buf[countFieldSize+count*neighborSize:], uint64(neighbor))
	gi.storeCountRelease(buf, count+1)
	return nil
}

// GetConnections returns a copy of id's current neighbor list.
func (gi *GraphIndex) GetConnections(id int64) ([]int64, error) {
	buf, err := gi.slot(id)
	if err != nil {
		return nil, err
	}
	count := gi.loadCountAcquire(buf)
	neighbors := make([]int64, count)
	for i := range neighbors {
		neighbors[i] = int64(binary.LittleEndian.Uint64(buf[countFieldSize+int64(i)*neighborSize:]))
	}
	return neighbors, nil
}

func (gi *GraphIndex) storeCountRelease(slot []byte, count int64) {
	ptr := (*int64)(unsafe.Pointer(&slot[0]))
	atomic.StoreInt64(ptr, count)
}

func (gi *GraphIndex) loadCountAcquire(slot []byte) int64 {
	ptr := (*int64)(unsafe.Pointer(&slot[0]))
	return atomic.LoadInt64(ptr)
}

// Flush flushes the underlying PagedFile's dirty pages.
func (gi *GraphIndex) Flush() error { return gi.pf.Flush() }

// Close closes the underlying PagedFile.
func (gi *GraphIndex) Close() error { return gi.pf.Close() }
