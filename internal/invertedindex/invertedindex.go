// Package invertedindex maps string-field terms to the internal document
// ids whose value equals that term, backed by a single KVStore keyed by
// term. Each posting list is stored as a comma-separated ASCII list of
// internal ids, appended to on every add.
package invertedindex

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/internal/kvstore"
	"github.com/vulcanodb/axon/pkg/errors"
)

// Config holds the parameters needed to open an InvertedIndex.
type Config struct {
	Directory        string
	DataSegmentSize  int64
	IndexSegmentSize int64
	BucketCount      uint32
	Logger           *zap.SugaredLogger
}

// InvertedIndex is a term -> posting-list store for exact and substring
// matching over a single string field.
type InvertedIndex struct {
	store *kvstore.KVStore
}

// Open opens or creates the InvertedIndex rooted at cfg.Directory.
func Open(cfg Config) (*InvertedIndex, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	store, err := kvstore.Open(kvstore.Config{
		Directory:            cfg.Directory,
		DataSegmentSize:      cfg.DataSegmentSize,
		IndexSegmentSize:     cfg.IndexSegmentSize,
		HashIndexBucketCount: cfg.BucketCount,
		Logger:               cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &InvertedIndex{store: store}, nil
}

// Add appends internalID to term's posting list, creating it if this is
// term's first occurrence.
func (ii *InvertedIndex) Add(term string, internalID int64) error {
	existing, ok, err := ii.store.GetString(term)
	if err != nil {
		return err
	}

	id := strconv.FormatInt(internalID, 10)
	var updated string
	if ok {
		updated = existing + "," + id
	} else {
		updated = id
	}

	_, err = ii.store.PutString(term, updated, true)
	return err
}

// GetIDs returns every internal id posted under term.
func (ii *InvertedIndex) GetIDs(term string) ([]int64, error) {
	raw, ok, err := ii.store.GetString(term)
	if err != nil || !ok {
		return nil, err
	}
	return parsePostingList(raw)
}

func parsePostingList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errors.NewStorageError(err, errors.ErrorCodeSegmentCorrupted, "invertedindex: posting list entry is not a valid id").
				WithDetail("raw", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Terms enumerates every distinct term the index currently has a posting
// list for, by walking the KVStore's hash index offset stream.
func (ii *InvertedIndex) Terms() ([]string, error) {
	offsets, err := ii.store.HashIndex().ValueOffsets()
	if err != nil {
		return nil, err
	}
	terms := make([]string, 0, len(offsets))
	for _, off := range offsets {
		key, err := ii.store.DataLog().Key(off)
		if err != nil {
			return nil, err
		}
		terms = append(terms, key)
	}
	return terms, nil
}

// Equals returns the posting list for an exact term match -- O(1).
func (ii *InvertedIndex) Equals(value string) ([]int64, error) {
	return ii.GetIDs(value)
}

// StartsWith, EndsWith and Contains are linear in the number of distinct
// terms: every term is filtered by the predicate and its posting list is
// merged into the result. This is a known limitation for large, high-
// cardinality string fields.
func (ii *InvertedIndex) StartsWith(prefix string) ([]int64, error) {
	return ii.matchTerms(func(term string) bool { return strings.HasPrefix(term, prefix) })
}

// EndsWith matches every term ending with suffix.
func (ii *InvertedIndex) EndsWith(suffix string) ([]int64, error) {
	return ii.matchTerms(func(term string) bool { return strings.HasSuffix(term, suffix) })
}

// Contains matches every term containing substr.
func (ii *InvertedIndex) Contains(substr string) ([]int64, error) {
	return ii.matchTerms(func(term string) bool { return strings.Contains(term, substr) })
}

func (ii *InvertedIndex) matchTerms(predicate func(string) bool) ([]int64, error) {
	terms, err := ii.Terms()
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, term := range terms {
		if !predicate(term) {
			continue
		}
		termIDs, err := ii.GetIDs(term)
		if err != nil {
			return nil, err
		}
		ids = append(ids, termIDs...)
	}
	return ids, nil
}

// Flush flushes the underlying KVStore.
func (ii *InvertedIndex) Flush() error { return ii.store.Flush() }

// Close closes the underlying KVStore.
func (ii *InvertedIndex) Close() error { return ii.store.Close() }
