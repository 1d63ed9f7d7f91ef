// Package pagedfile provides a growable sequence of fixed-size,
// memory-mapped, file-backed segments indexed by a global 64-bit offset.
//
// A PagedFile does not know anything about the byte layout written inside
// it -- that is DataLog's and HashIndex's job. Its only contract is: given a
// global offset, hand back the mmap'd segment that offset falls within,
// creating and truncating the backing file on first use. Segment creation
// is serialized by a mutex with a double-checked lookup; reads of segments
// that already exist never take the lock, mirroring the lock-free-reads /
// locked-rotation split the teacher storage package used for its single
// active segment file.
package pagedfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	"github.com/vulcanodb/axon/pkg/errors"
	"github.com/vulcanodb/axon/pkg/filesys"
)

// Config holds the parameters needed to open a PagedFile.
type Config struct {
	// Directory is the directory segment files are created in. Created if missing.
	Directory string
	// Prefix is the filename prefix, e.g. "segment" yields "segment-00000.dat".
	Prefix string
	// SegmentSize is the fixed size, in bytes, of every segment.
	SegmentSize int64
	// Logger receives structured diagnostics. A nil Logger is replaced with a no-op.
	Logger *zap.SugaredLogger
}

type segment struct {
	index uint64
	file  *os.File
	mm    mmap.MMap
}

// PagedFile manages the set of memory-mapped segments backing a single
// logical address space.
type PagedFile struct {
	dir         string
	prefix      string
	segmentSize int64
	log         *zap.SugaredLogger

	mu       sync.Mutex
	segments atomic.Pointer[[]*segment]

	closed atomic.Bool
}

// Open creates (if necessary) cfg.Directory and returns a PagedFile ready to
// serve EnsureSegment calls. It does not eagerly map any segment.
func Open(cfg Config) (*PagedFile, error) {
	if cfg.SegmentSize <= 0 {
		return nil, fmt.Errorf("pagedfile: segment size must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	if err := filesys.CreateDir(cfg.Directory, 0755, true); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to create pagedfile directory").
			WithPath(cfg.Directory)
	}

	pf := &PagedFile{
		dir:         cfg.Directory,
		prefix:      cfg.Prefix,
		segmentSize: cfg.SegmentSize,
		log:         cfg.Logger,
	}
	empty := make([]*segment, 0)
	pf.segments.Store(&empty)
	return pf, nil
}

// SegmentSize returns the fixed size of each segment.
func (pf *PagedFile) SegmentSize() int64 { return pf.segmentSize }

// segmentName returns the deterministic filename for segment index idx. The
// index, not an allocation-order counter, determines the name, so reopening
// the same PagedFile after a restart maps the same offsets to the same file.
func (pf *PagedFile) segmentName(idx uint64) string {
	return fmt.Sprintf("%s-%05d.dat", pf.prefix, idx)
}

// EnsureSegment returns the mmap'd byte slice covering globalOffset, sized
// segmentSize, creating and truncating the backing file on first use.
// Segment lookups for already-created segments never take pf.mu.
func (pf *PagedFile) EnsureSegment(globalOffset int64) ([]byte, error) {
	if globalOffset < 0 {
		return nil, fmt.Errorf("pagedfile: negative offset %d", globalOffset)
	}
	idx := uint64(globalOffset) / uint64(pf.segmentSize)

	if seg := pf.lookup(idx); seg != nil {
		return seg.mm, nil
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	if seg := pf.lookup(idx); seg != nil {
		return seg.mm, nil
	}

	seg, err := pf.createSegment(idx)
	if err != nil {
		return nil, err
	}

	cur := pf.segments.Load()
	next := make([]*segment, len(*cur))
	copy(next, *cur)
	for uint64(len(next)) <= idx {
		next = append(next, nil)
	}
	next[idx] = seg
	pf.segments.Store(&next)

	return seg.mm, nil
}

func (pf *PagedFile) lookup(idx uint64) *segment {
	cur := pf.segments.Load()
	if cur == nil || idx >= uint64(len(*cur)) {
		return nil
	}
	return (*cur)[idx]
}

func (pf *PagedFile) createSegment(idx uint64) (*segment, error) {
	name := pf.segmentName(idx)
	path := filepath.Join(pf.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to open segment file").
			WithFileName(name).WithPath(path).WithSegmentID(int(idx))
	}

	if err := file.Truncate(pf.segmentSize); err != nil {
		file.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to size segment file").
			WithFileName(name).WithPath(path).WithSegmentID(int(idx))
	}

	mm, err := mmap.MapRegion(file, int(pf.segmentSize), mmap.RDWR, 0, 0)
	if err != nil {
		file.Close()
		return nil, errors.ClassifyMmapError(err, name, path, int(idx))
	}

	pf.log.Debugw("pagedfile: segment mapped", "path", path, "index", idx, "size", pf.segmentSize)
	return &segment{index: idx, file: file, mm: mm}, nil
}

// Flush flushes every mapped segment's dirty pages to the backing file.
func (pf *PagedFile) Flush() error {
	cur := pf.segments.Load()
	closeErr := errors.NewCloseError()
	for _, seg := range *cur {
		if seg == nil {
			continue
		}
		if err := seg.mm.Flush(); err != nil {
			closeErr.Add(pf.segmentName(seg.index), err)
		}
	}
	return closeErr.OrNil()
}

// Close unmaps and closes every segment. It is not safe to call
// EnsureSegment concurrently with Close.
func (pf *PagedFile) Close() error {
	if !pf.closed.CompareAndSwap(false, true) {
		return nil
	}

	cur := pf.segments.Load()
	closeErr := errors.NewCloseError()
	for _, seg := range *cur {
		if seg == nil {
			continue
		}
		if err := seg.mm.Flush(); err != nil {
			closeErr.Add(pf.segmentName(seg.index)+":flush", err)
		}
		if err := seg.mm.Unmap(); err != nil {
			closeErr.Add(pf.segmentName(seg.index)+":unmap", err)
		}
		if err := seg.file.Close(); err != nil {
			closeErr.Add(pf.segmentName(seg.index)+":close", err)
		}
	}
	return closeErr.OrNil()
}
