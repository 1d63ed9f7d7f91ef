// Package hnsw builds and searches a Hierarchical Navigable Small World
// graph over the vectors held by a vectorindex.VectorIndex, using one
// graphindex.GraphIndex per layer. It implements the canonical
// insert/searchLayer/selectNeighborsHeuristic/greedySearch algorithms
// (Malkov & Yashunin), adapted throughout to a similarity score (higher is
// better) rather than a distance (lower is better).
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/vulcanodb/axon/internal/graphindex"
	"github.com/vulcanodb/axon/internal/kvstore"
	"github.com/vulcanodb/axon/internal/vectorindex"
	"github.com/vulcanodb/axon/pkg/errors"
)

// Match is a single search result: the internal vector id and its score
// against the query.
type Match struct {
	ID    int64
	Score float32
}

// Config holds the immutable parameters of an HNSWIndex.
type Config struct {
	Directory      string
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

const metadataEnterPointKey = "enterPoint"
const metadataMaxLayerKey = "maxLayer"

// Index is a persistent HNSW vector index.
type Index struct {
	dir        string
	dimensions int
	efC        int
	efS        int
	m          int
	mMax       int
	mMax0      int
	mL         float64
	metric     vectorindex.Metric
	blockSize  int
	log        *zap.SugaredLogger

	vectors  *vectorindex.VectorIndex
	metadata *kvstore.KVStore

	mu          sync.RWMutex // Insert holds the write lock (graph mutation); Search holds the read lock
	graphs      []*graphindex.GraphIndex
	enterPoint  int64
	maxLayer    int
	initialized bool
}

// Open opens or creates the HNSW index rooted at cfg.Directory.
func Open(cfg Config) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw: dimensions must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.MMax <= 0 {
		cfg.MMax = cfg.M
	}
	if cfg.MMax0 <= 0 {
		cfg.MMax0 = 2 * cfg.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 200
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 1024
	}
	if cfg.Metric == nil {
		cfg.Metric = vectorindex.Cosine
	}

	vectors, err := vectorindex.Open(vectorindex.Config{
		Directory:  filepath.Join(cfg.Directory, "vectors"),
		Dimensions: cfg.Dimensions,
		BlockSize:  cfg.BlockSize,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	metadata, err := kvstore.Open(kvstore.Config{
		Directory:            filepath.Join(cfg.Directory, "metadata"),
		DataSegmentSize:      1 << 16,
		IndexSegmentSize:     1 << 16,
		HashIndexBucketCount: 16,
		Logger:               cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	idx := &Index{
		dir:        cfg.Directory,
		dimensions: cfg.Dimensions,
		efC:        cfg.EfConstruction,
		efS:        cfg.EfSearch,
		m:          cfg.M,
		mMax:       cfg.MMax,
		mMax0:      cfg.MMax0,
		mL:         1 / math.Log(float64(cfg.M)),
		metric:     cfg.Metric,
		blockSize:  cfg.BlockSize,
		log:        cfg.Logger,
		vectors:    vectors,
		metadata:   metadata,
	}

	if err := idx.recover(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) recover() error {
	enterPoint, ok, err := idx.metadata.GetInt(metadataEnterPointKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	maxLayer, _, err := idx.metadata.GetInt(metadataMaxLayerKey)
	if err != nil {
		return err
	}

	idx.enterPoint = int64(enterPoint)
	idx.maxLayer = int(maxLayer)
	idx.initialized = true

	for l := 0; l <= idx.maxLayer; l++ {
		if _, err := idx.ensureLayer(l); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) layerCapacity(layer int) int {
	if layer == 0 {
		return idx.mMax0
	}
	return idx.mMax
}

func (idx *Index) ensureLayer(layer int) (*graphindex.GraphIndex, error) {
	for len(idx.graphs) <= layer {
		l := len(idx.graphs)
		gi, err := graphindex.Open(graphindex.Config{
			Directory: filepath.Join(idx.dir, "graph", fmt.Sprintf("layer-%d", l)),
			Prefix:    "graph",
			MaxConns:  idx.layerCapacity(l),
			BlockSize: idx.blockSize,
			Logger:    idx.log,
		})
		if err != nil {
			return nil, err
		}
		idx.graphs = append(idx.graphs, gi)
	}
	return idx.graphs[layer], nil
}

func (idx *Index) persistGlobals() error {
	if _, err := idx.metadata.PutInt(metadataEnterPointKey, int32(idx.enterPoint), false); err != nil {
		return err
	}
	if _, err := idx.metadata.PutInt(metadataMaxLayerKey, int32(idx.maxLayer), true); err != nil {
		return err
	}
	return nil
}

// VectorCount returns the number of vectors inserted so far, used by
// HNSWHandler to recover its hnswId -> internalDocId bridge's length.
func (idx *Index) VectorCount() int64 { return idx.vectors.Count() }

func (idx *Index) similarity(id int64, query []float32) (float32, error) {
	return idx.vectors.SimilarityToQuery(id, query, idx.metric)
}

// Insert adds vec to the index and returns its newly assigned vector id.
func (idx *Index) Insert(vec []float32) (int64, error) {
	if len(vec) != idx.dimensions {
		return 0, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "hnsw: vector has wrong dimensionality").
			WithProvided(len(vec)).WithExpected(idx.dimensions)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	newID, err := idx.vectors.AddVector(vec)
	if err != nil {
		return 0, err
	}

	vectorMaxLayer := int(math.Round(-math.Log(rand.Float64()) * idx.mL))

	if !idx.initialized {
		if _, err := idx.ensureLayer(vectorMaxLayer); err != nil {
			return 0, err
		}
		idx.enterPoint = newID
		idx.maxLayer = vectorMaxLayer
		idx.initialized = true
		if err := idx.persistGlobals(); err != nil {
			return 0, err
		}
		return newID, nil
	}

	currentID := idx.enterPoint
	for l := idx.maxLayer; l > vectorMaxLayer; l-- {
		graph, err := idx.ensureLayer(l)
		if err != nil {
			return 0, err
		}
		currentID, err = idx.greedySearch(vec, currentID, graph)
		if err != nil {
			return 0, err
		}
	}

	top := vectorMaxLayer
	if idx.maxLayer < top {
		top = idx.maxLayer
	}
	for layer := top; layer >= 0; layer-- {
		graph, err := idx.ensureLayer(layer)
		if err != nil {
			return 0, err
		}

		w, err := idx.searchLayer(vec, currentID, graph, idx.efC)
		if err != nil {
			return 0, err
		}
		neighbors := idx.selectNeighborsHeuristic(w, idx.m)

		for _, n := range neighbors {
			if err := graph.AddConnection(newID, n.ID); err != nil {
				return 0, err
			}
			if err := idx.addBidirectional(graph, idx.layerCapacity(layer), newID, n.ID); err != nil {
				return 0, err
			}
		}
		if len(neighbors) > 0 {
			currentID = neighbors[0].ID
		}
	}

	if vectorMaxLayer > idx.maxLayer {
		if _, err := idx.ensureLayer(vectorMaxLayer); err != nil {
			return 0, err
		}
		idx.enterPoint = newID
		idx.maxLayer = vectorMaxLayer
		if err := idx.persistGlobals(); err != nil {
			return 0, err
		}
	}

	return newID, nil
}

// addBidirectional adds the reverse edge b -> a, shrinking b's neighbor
// list via the same diversity heuristic if it is already at capacity.
func (idx *Index) addBidirectional(graph *graphindex.GraphIndex, capacity int, a, b int64) error {
	conns, err := graph.GetConnections(b)
	if err != nil {
		return err
	}
	if len(conns) < capacity {
		return graph.AddConnection(b, a)
	}

	bVec, err := idx.vectors.GetVector(b)
	if err != nil {
		return err
	}

	candidates := make([]Match, 0, len(conns)+1)
	for _, c := range conns {
		score, err := idx.similarity(c, bVec)
		if err != nil {
			return err
		}
		candidates = append(candidates, Match{ID: c, Score: score})
	}
	aScore, err := idx.similarity(a, bVec)
	if err != nil {
		return err
	}
	candidates = append(candidates, Match{ID: a, Score: aScore})

	selected := idx.selectNeighborsHeuristic(candidates, capacity)
	ids := make([]int64, len(selected))
	for i, s := range selected {
		ids[i] = s.ID
	}
	return graph.SetConnections(b, ids)
}

// greedySearch walks from entry to the connected neighbor with higher
// similarity, stopping when no neighbor improves on the current node.
func (idx *Index) greedySearch(query []float32, entry int64, graph *graphindex.GraphIndex) (int64, error) {
	cur := entry
	curScore, err := idx.similarity(cur, query)
	if err != nil {
		return 0, err
	}

	for {
		neighbors, err := graph.GetConnections(cur)
		if err != nil {
			return 0, err
		}

		improved := false
		for _, n := range neighbors {
			score, err := idx.similarity(n, query)
			if err != nil {
				return 0, err
			}
			if score > curScore {
				cur, curScore = n, score
				improved = true
			}
		}
		if !improved {
			return cur, nil
		}
	}
}

// searchLayer is canonical HNSW Algorithm 2, adapted to a similarity score:
// candidates is explored best-first (max-heap), W is the running result
// bounded to ef (min-heap so the worst element is evicted first).
func (idx *Index) searchLayer(query []float32, entry int64, graph *graphindex.GraphIndex, ef int) ([]Match, error) {
	entryScore, err := idx.similarity(entry, query)
	if err != nil {
		return nil, err
	}

	visited := roaring.New()
	visited.Add(uint32(entry))

	candidates := &maxHeap{{ID: entry, Score: entryScore}}
	heap.Init(candidates)
	w := &minHeap{{ID: entry, Score: entryScore}}
	heap.Init(w)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(Match)
		if w.Len() >= ef && c.Score < (*w)[0].Score {
			break
		}

		neighbors, err := graph.GetConnections(c.ID)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if visited.Contains(uint32(n)) {
				continue
			}
			visited.Add(uint32(n))

			score, err := idx.similarity(n, query)
			if err != nil {
				return nil, err
			}
			if w.Len() < ef || score > (*w)[0].Score {
				heap.Push(candidates, Match{ID: n, Score: score})
				heap.Push(w, Match{ID: n, Score: score})
				if w.Len() > ef {
					heap.Pop(w)
				}
			}
		}
	}

	result := make([]Match, w.Len())
	copy(result, *w)
	sort.Slice(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	return result, nil
}

// selectNeighborsHeuristic is Algorithm 4: take candidates best-first,
// accepting c only if it is not closer to any already-selected neighbor
// than it is to the query -- the diversity criterion that keeps the graph
// well connected instead of clustering around the single closest point.
func (idx *Index) selectNeighborsHeuristic(candidates []Match, m int) []Match {
	sorted := make([]Match, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	selected := make([]Match, 0, m)
	for _, c := range sorted {
		if len(selected) >= m {
			break
		}
		diverse := true
		for _, r := range selected {
			simCR, err := idx.vectors.SimilarityBetween(c.ID, r.ID, idx.metric)
			if err != nil {
				continue
			}
			if simCR > c.Score {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c)
		}
	}
	return selected
}

// Search returns the top-k matches for query, or an empty result if the
// index holds no vectors yet.
func (idx *Index) Search(query []float32, k int) ([]Match, error) {
	if len(query) != idx.dimensions {
		return nil, errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "hnsw: query vector has wrong dimensionality").
			WithProvided(len(query)).WithExpected(idx.dimensions)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.initialized {
		return nil, nil
	}

	cur := idx.enterPoint
	for l := idx.maxLayer; l >= 1; l-- {
		graph, err := idx.ensureLayer(l)
		if err != nil {
			return nil, err
		}
		cur, err = idx.greedySearch(query, cur, graph)
		if err != nil {
			return nil, err
		}
	}

	layer0, err := idx.ensureLayer(0)
	if err != nil {
		return nil, err
	}
	w, err := idx.searchLayer(query, cur, layer0, idx.efS)
	if err != nil {
		return nil, err
	}

	if len(w) > k {
		w = w[:k]
	}
	return w, nil
}

// Flush flushes the vector store, every graph layer, and the metadata store.
func (idx *Index) Flush() error {
	closeErr := errors.NewCloseError()
	if err := idx.vectors.Flush(); err != nil {
		closeErr.Add("vectors", err)
	}
	for i, g := range idx.graphs {
		if err := g.Flush(); err != nil {
			closeErr.Add(fmt.Sprintf("layer-%d", i), err)
		}
	}
	if err := idx.metadata.Flush(); err != nil {
		closeErr.Add("metadata", err)
	}
	return closeErr.OrNil()
}

// Close closes the vector store, every graph layer, and the metadata store.
func (idx *Index) Close() error {
	closeErr := errors.NewCloseError()
	if err := idx.vectors.Close(); err != nil {
		closeErr.Add("vectors", err)
	}
	for i, g := range idx.graphs {
		if err := g.Close(); err != nil {
			closeErr.Add(fmt.Sprintf("layer-%d", i), err)
		}
	}
	if err := idx.metadata.Close(); err != nil {
		closeErr.Add("metadata", err)
	}
	return closeErr.OrNil()
}
