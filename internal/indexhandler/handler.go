// Package indexhandler adapts the per-field physical indexes (HNSW for
// vector fields, the inverted index for string fields) behind a single
// Handler interface the query compiler and the store orchestrator drive
// without caring which concrete index backs a field.
package indexhandler

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/hnsw"
	"github.com/vulcanodb/axon/internal/invertedindex"
	"github.com/vulcanodb/axon/internal/vectorindex"
	"github.com/vulcanodb/axon/pkg/errors"
	"github.com/vulcanodb/axon/query"
)

// IndexMatch pairs an internal document id with its score against a leaf
// query, as produced by a Handler's Search.
type IndexMatch struct {
	InternalID int64
	Score      float32
}

// Handler indexes one document field and serves query.Leaf lookups against
// the index it maintains.
type Handler interface {
	FieldName() string
	Index(internalID int64, doc document.Document) error
	Remove(internalID int64) error
	Search(leaf query.Leaf, maxResults int) ([]IndexMatch, error)
	Flush() error
	Close() error
}

// HNSWConfig holds the parameters needed to open a HNSWHandler.
type HNSWConfig struct {
	Directory      string
	FieldName      string
	Dimensions     int
	BlockSize      int
	EfConstruction int
	EfSearch       int
	M              int
	MMax           int
	MMax0          int
	Metric         vectorindex.Metric
	Logger         *zap.SugaredLogger
}

// HNSWHandler indexes a Vector field through an hnsw.Index, bridging the
// index's own local vector ids to persister internal ids via a
// PagedLongArray -- the two id spaces are assigned independently and must
// not be confused.
type HNSWHandler struct {
	fieldName string
	index     *hnsw.Index
	idMap     *PagedLongArray
	log       *zap.SugaredLogger
}

// OpenHNSWHandler opens or creates a HNSWHandler rooted at cfg.Directory.
func OpenHNSWHandler(cfg HNSWConfig) (*HNSWHandler, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 1024
	}

	index, err := hnsw.Open(hnsw.Config{
		Directory:      filepath.Join(cfg.Directory, "hnsw"),
		Dimensions:     cfg.Dimensions,
		BlockSize:      cfg.BlockSize,
		EfConstruction: cfg.EfConstruction,
		EfSearch:       cfg.EfSearch,
		M:              cfg.M,
		MMax:           cfg.MMax,
		MMax0:          cfg.MMax0,
		Metric:         cfg.Metric,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	idMap, err := OpenPagedLongArray(PagedLongArrayConfig{
		Directory: filepath.Join(cfg.Directory, "id_map"),
		Prefix:    "idmap",
		BlockSize: cfg.BlockSize,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	// idMap is appended to in lockstep with every hnsw.Insert, so its length
	// always equals the index's vector count -- the PagedFile persists the
	// bytes across a restart, only this watermark needs reseeding.
	idMap.SetLen(index.VectorCount())

	return &HNSWHandler{fieldName: cfg.FieldName, index: index, idMap: idMap, log: cfg.Logger}, nil
}

// FieldName returns the document field this handler indexes.
func (h *HNSWHandler) FieldName() string { return h.fieldName }

// Index inserts doc's vector field into the HNSW graph and records the
// hnswId -> internalID mapping.
func (h *HNSWHandler) Index(internalID int64, doc document.Document) error {
	v, ok := doc.Fields[h.fieldName]
	if !ok || v.Type != document.FieldTypeVector {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "indexhandler: field is of invalid type").
			WithField(h.fieldName)
	}

	hnswID, err := h.index.Insert(v.Vector)
	if err != nil {
		return err
	}
	return h.idMap.Set(hnswID, internalID)
}

// Remove is a no-op: HNSW never deletes vectors from the graph. A removed
// document's hnswId stays mapped and reachable by search; the vectorized
// runner filters it out by checking the persister at residual-evaluation
// time.
func (h *HNSWHandler) Remove(internalID int64) error { return nil }

// Search runs a VectorSimilar leaf through the HNSW index and translates
// results from hnsw-local ids to persister internal ids.
func (h *HNSWHandler) Search(leaf query.Leaf, maxResults int) ([]IndexMatch, error) {
	if leaf.Op != query.VectorSimilar {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "indexhandler: HNSWHandler only serves VectorSimilar leaves").
			WithField(leaf.FieldName)
	}

	matches, err := h.index.Search(leaf.Vector, maxResults)
	if err != nil {
		return nil, err
	}

	results := make([]IndexMatch, 0, len(matches))
	for _, m := range matches {
		internalID, ok, err := h.idMap.Get(m.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		results = append(results, IndexMatch{InternalID: internalID, Score: m.Score})
	}
	return results, nil
}

// Flush flushes the HNSW index and the id map.
func (h *HNSWHandler) Flush() error {
	closeErr := errors.NewCloseError()
	if err := h.index.Flush(); err != nil {
		closeErr.Add("hnsw", err)
	}
	if err := h.idMap.Flush(); err != nil {
		closeErr.Add("id_map", err)
	}
	return closeErr.OrNil()
}

// Close closes the HNSW index and the id map.
func (h *HNSWHandler) Close() error {
	closeErr := errors.NewCloseError()
	if err := h.index.Close(); err != nil {
		closeErr.Add("hnsw", err)
	}
	if err := h.idMap.Close(); err != nil {
		closeErr.Add("id_map", err)
	}
	return closeErr.OrNil()
}

// StringConfig holds the parameters needed to open a StringHandler.
type StringConfig struct {
	Directory        string
	FieldName        string
	DataSegmentSize  int64
	IndexSegmentSize int64
	BucketCount      uint32
	Logger           *zap.SugaredLogger
}

// StringHandler indexes a String field through an invertedindex.InvertedIndex.
type StringHandler struct {
	fieldName string
	index     *invertedindex.InvertedIndex
	log       *zap.SugaredLogger
}

// OpenStringHandler opens or creates a StringHandler rooted at cfg.Directory.
func OpenStringHandler(cfg StringConfig) (*StringHandler, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	index, err := invertedindex.Open(invertedindex.Config{
		Directory:        filepath.Join(cfg.Directory, "inverted"),
		DataSegmentSize:  cfg.DataSegmentSize,
		IndexSegmentSize: cfg.IndexSegmentSize,
		BucketCount:      cfg.BucketCount,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &StringHandler{fieldName: cfg.FieldName, index: index, log: cfg.Logger}, nil
}

// FieldName returns the document field this handler indexes.
func (h *StringHandler) FieldName() string { return h.fieldName }

// Index adds doc's string field value as a term posting for internalID.
func (h *StringHandler) Index(internalID int64, doc document.Document) error {
	v, ok := doc.Fields[h.fieldName]
	if !ok || v.Type != document.FieldTypeString {
		return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "indexhandler: field is of invalid type").
			WithField(h.fieldName)
	}
	return h.index.Add(v.Str, internalID)
}

// Remove is a no-op: posting lists are append-only, matching the HNSW
// handler's tolerance for stale entries -- a removed document's id may
// still appear in a term's posting list and is filtered by the runner's
// presence check during residual evaluation.
func (h *StringHandler) Remove(internalID int64) error { return nil }

// Search runs a string-class leaf (Equals/StartsWith/EndsWith/Contains)
// against the inverted index.
func (h *StringHandler) Search(leaf query.Leaf, maxResults int) ([]IndexMatch, error) {
	var ids []int64
	var err error
	switch leaf.Op {
	case query.Equals:
		ids, err = h.index.Equals(leaf.StringValue)
	case query.StartsWith:
		ids, err = h.index.StartsWith(leaf.StringValue)
	case query.EndsWith:
		ids, err = h.index.EndsWith(leaf.StringValue)
	case query.Contains:
		ids, err = h.index.Contains(leaf.StringValue)
	default:
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "indexhandler: StringHandler does not serve this operation").
			WithField(leaf.FieldName).WithProvided(leaf.Op.String())
	}
	if err != nil {
		return nil, err
	}

	if maxResults > 0 && len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	results := make([]IndexMatch, len(ids))
	for i, id := range ids {
		results[i] = IndexMatch{InternalID: id, Score: 1.0}
	}
	return results, nil
}

// Flush flushes the inverted index.
func (h *StringHandler) Flush() error { return h.index.Flush() }

// Close closes the inverted index.
func (h *StringHandler) Close() error { return h.index.Close() }
