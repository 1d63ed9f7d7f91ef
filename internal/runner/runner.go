// Package runner implements VectorizedRunner: the final stage of a search
// that walks the candidate ids selected by the index tree, applies the
// residual matcher to each, and keeps the top-scoring survivors.
package runner

import (
	"container/heap"
	"sort"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/querycompile"
	"github.com/vulcanodb/axon/pkg/errors"
)

// batchSize bounds how many candidates are drawn into a working slice at
// once -- sized to fit comfortably in L1/L2 cache.
const batchSize = 1024

// PresenceChecker reports whether an internal id still names a live
// document, satisfied by *persister.DocumentPersister.Exists. Both HNSW and
// inverted-index handlers tolerate stale entries (a removed or superseded
// document's id can still surface from a search), so the runner filters
// them out here before a residual matcher ever runs.
type PresenceChecker interface {
	Exists(internalID int64) (bool, error)
}

// ResultDocument pairs a materialized document with the combined score it
// ranked by.
type ResultDocument struct {
	Document document.Document
	Score    float32
}

type scoredID struct {
	internalID int64
	score      float32
}

// topKHeap is a min-heap of scoredID keyed by score, so the worst-scoring
// survivor can be evicted in O(log maxResults) once the heap is full --
// the same bounded-best-first pattern internal/hnsw's searchLayer uses.
type topKHeap []scoredID

func (h topKHeap) Len() int            { return len(h) }
func (h topKHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h topKHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *topKHeap) Push(x interface{}) { *h = append(*h, x.(scoredID)) }
func (h *topKHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Run evaluates residualMatcher against every candidate in batches of
// batchSize, dropping any candidate whose document no longer exists, keeps
// the maxResults highest-scoring matches (scored by ctx's running average),
// and materializes them into ResultDocuments sorted descending by score.
func Run(
	candidates []int64,
	residualMatcher querycompile.DocumentMatcher,
	ctx *querycompile.ExecutionContext,
	reader querycompile.DocumentReader,
	presence PresenceChecker,
	maxResults int,
) ([]ResultDocument, error) {
	if maxResults <= 0 {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "runner: maxResults must be positive").
			WithField("maxResults").WithProvided(maxResults)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	h := make(topKHeap, 0, maxResults)

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		for _, internalID := range batch {
			alive, err := presence.Exists(internalID)
			if err != nil {
				return nil, err
			}
			if !alive {
				continue
			}

			result, err := residualMatcher(internalID, reader)
			if err != nil {
				return nil, err
			}
			if !result.Matches {
				continue
			}
			ctx.RecordScore(internalID, result.Score)
			score := ctx.AverageScore(internalID)

			if h.Len() < maxResults {
				heap.Push(&h, scoredID{internalID: internalID, score: score})
			} else if h.Len() > 0 && score > h[0].score {
				heap.Pop(&h)
				heap.Push(&h, scoredID{internalID: internalID, score: score})
			}
		}
	}

	survivors := make([]scoredID, len(h))
	copy(survivors, h)
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].score > survivors[j].score })

	results := make([]ResultDocument, 0, len(survivors))
	for _, s := range survivors {
		doc, err := reader.ReadByInternalID(s.internalID)
		if err != nil {
			return nil, err
		}
		results = append(results, ResultDocument{Document: doc, Score: s.score})
	}
	return results, nil
}
