// Package vectorindex stores fixed-dimension float32 vectors, keyed by a
// monotonically increasing 64-bit vector id, on memory-mapped pages. A page
// (a PagedFile segment) holds exactly blockSize vectors, so a vector's
// page/slot is a pure function of its id -- no separate directory is
// needed to locate it.
package vectorindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/internal/pagedfile"
	"github.com/vulcanodb/axon/pkg/errors"
)

// Metric scores the similarity of two equal-length vectors; higher means
// more similar.
type Metric func(a, b []float32) float32

// Cosine computes cosine similarity in [-1, 1].
func Cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// DotProduct computes the raw inner product of two vectors.
func DotProduct(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// Config holds the parameters needed to open a VectorIndex. Dimensions and
// BlockSize are immutable for the lifetime of the on-disk index.
type Config struct {
	Directory  string
	Prefix     string
	Dimensions int
	BlockSize  int
	Logger     *zap.SugaredLogger
}

// VectorIndex stores fixed-dimension vectors on memory-mapped pages.
type VectorIndex struct {
	pf         *pagedfile.PagedFile
	dimensions int
	blockSize  int
	slotSize   int64

	count atomic.Int64
}

// Open opens or creates a VectorIndex rooted at cfg.Directory.
func Open(cfg Config) (*VectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vectorindex: dimensions must be positive")
	}
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("vectorindex: block size must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "vec"
	}

	slotSize := int64(cfg.Dimensions) * 4
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

	return &VectorIndex{pf: pf, dimensions: cfg.Dimensions, blockSize: cfg.BlockSize, slotSize: slotSize}, nil
}

// Dimensions returns the fixed vector length this index stores.
func (vi *VectorIndex) Dimensions() int { return vi.dimensions }

// Count returns the number of vectors added so far.
func (vi *VectorIndex) Count() int64 { return vi.count.Load() }

// SetCount overrides the vector counter, used during recovery once the
// caller has determined the highest live vector id from the graph index.
func (vi *VectorIndex) SetCount(n int64) { vi.count.Store(n) }

func (vi *VectorIndex) validateVector(vec []float32) error {
	if len(vec) != vi.dimensions {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "vectorindex: vector has wrong dimensionality").
			WithProvided(len(vec)).WithExpected(vi.dimensions)
	}
	return nil
}

// AddVector appends vec and returns its newly assigned id.
func (vi *VectorIndex) AddVector(vec []float32) (int64, error) {
	if err := vi.validateVector(vec); err != nil {
		return 0, err
	}

	id := vi.count.Add(1) - 1
	if err := vi.writeVector(id, vec); err != nil {
		return 0, err
	}
	return id, nil
}

func (vi *VectorIndex) writeVector(id int64, vec []float32) error {
	offset := id * vi.slotSize
	mm, err := vi.pf.EnsureSegment(offset)
	if err != nil {
		return err
	}
	localOffset := offset % vi.pf.SegmentSize()

	buf := mm[localOffset : localOffset+vi.slotSize]
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return nil
}

// GetVector returns a bounds-checked copy of the vector stored at id.
func (vi *VectorIndex) GetVector(id int64) ([]float32, error) {
	if id < 0 || id >= vi.count.Load() {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "vectorindex: vector id out of range").
			WithProvided(id)
	}

	offset := id * vi.slotSize
	mm, err := vi.pf.EnsureSegment(offset)
	if err != nil {
		return nil, err
	}
	localOffset := offset % vi.pf.SegmentSize()

	buf := mm[localOffset : localOffset+vi.slotSize]
	vec := make([]float32, vi.dimensions)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// SimilarityToQuery scores the vector stored at id against query without
// requiring the caller to first call GetVector.
func (vi *VectorIndex) SimilarityToQuery(id int64, query []float32, metric Metric) (float32, error) {
	vec, err := vi.GetVector(id)
	if err != nil {
		return 0, err
	}
	return metric(vec, query), nil
}

// SimilarityBetween scores the two stored vectors at id1 and id2.
func (vi *VectorIndex) SimilarityBetween(id1, id2 int64, metric Metric) (float32, error) {
	v1, err := vi.GetVector(id1)
	if err != nil {
		return 0, err
	}
	v2, err := vi.GetVector(id2)
	if err != nil {
		return 0, err
	}
	return metric(v1, v2), nil
}

// Flush flushes the underlying PagedFile's dirty pages.
func (vi *VectorIndex) Flush() error { return vi.pf.Flush() }

// Close closes the underlying PagedFile.
func (vi *VectorIndex) Close() error { return vi.pf.Close() }
