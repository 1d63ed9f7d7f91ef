// Package axon is VulcanoDB's storage/query core: an embedded document
// store that answers hybrid queries combining approximate-nearest-neighbor
// vector similarity with boolean predicates over string and integer
// fields. Store is the orchestrator tying together the write-ahead log,
// the document persister, the per-field index handlers, and the query
// executor built from internal/querysplit, internal/querycompile and
// internal/runner.
package axon

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/indexhandler"
	"github.com/vulcanodb/axon/internal/persister"
	"github.com/vulcanodb/axon/internal/querycompile"
	"github.com/vulcanodb/axon/internal/querysplit"
	"github.com/vulcanodb/axon/internal/registry"
	"github.com/vulcanodb/axon/internal/runner"
	"github.com/vulcanodb/axon/internal/vectorindex"
	"github.com/vulcanodb/axon/internal/wal"
	"github.com/vulcanodb/axon/pkg/errors"
	"github.com/vulcanodb/axon/pkg/logger"
	"github.com/vulcanodb/axon/pkg/options"
	"github.com/vulcanodb/axon/query"
	"github.com/vulcanodb/axon/telemetry"
)

// VectorFieldSpec declares a document field to be indexed by HNSW.
type VectorFieldSpec struct {
	FieldName      string
	Dimensions     int
	Metric         vectorindex.Metric
	BlockSize      int
	EfConstruction int
	EfSearch       int
	M              int
	MMax           int
	MMax0          int
}

// StringFieldSpec declares a document field to be indexed by the inverted index.
type StringFieldSpec struct {
	FieldName string
}

// Config holds the parameters needed to open a Store.
type Config struct {
	Directory string

	VectorFields []VectorFieldSpec
	StringFields []StringFieldSpec

	DataSegmentSize   int64
	IndexSegmentSize  int64
	BucketCount       uint32
	WALSegmentSize    int64
	MaxResultsPerLeaf int

	// WriterConcurrency bounds the persister's per-field write/read/remove
	// fan-out. Zero means unbounded.
	WriterConcurrency int

	// CheckpointInterval, if positive, runs a background goroutine that
	// checkpoints the WAL on this cadence. Zero disables it; Close always
	// performs one final checkpoint regardless.
	CheckpointInterval time.Duration

	// DefaultMetric scores VectorSimilar leaves that land in the residual
	// tree (an indexed vector field combined via Or/Not with a non-indexed
	// predicate). Defaults to vectorindex.Cosine.
	DefaultMetric vectorindex.Metric

	// Metrics receives the counters and timers described in spec.md §6.
	// Defaults to telemetry.Noop() when nil.
	Metrics *telemetry.Metrics

	// Logger, if set, is used as-is. Otherwise one is built from Logging,
	// falling back to logger.Noop() if Logging is also the zero value.
	Logger *zap.SugaredLogger

	// Logging configures the logger built when Logger is nil.
	Logging logger.Config
}

func (cfg *Config) applyDefaults() error {
	if cfg.DataSegmentSize <= 0 {
		cfg.DataSegmentSize = 256 << 20
	}
	if cfg.IndexSegmentSize <= 0 {
		cfg.IndexSegmentSize = 16 << 20
	}
	if cfg.BucketCount == 0 {
		cfg.BucketCount = 1 << 16
	}
	if cfg.WALSegmentSize <= 0 {
		cfg.WALSegmentSize = 64 << 20
	}
	if cfg.Logger == nil {
		if cfg.Logging.Mode == "" && cfg.Logging.Level == "" && len(cfg.Logging.Fields) == 0 {
			cfg.Logger = logger.Noop()
		} else {
			built, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}
			cfg.Logger = built
		}
	}
	if cfg.DefaultMetric == nil {
		cfg.DefaultMetric = vectorindex.Cosine
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.Noop()
	}
	return nil
}

// NewConfig builds a Config from Axon's functional-options surface
// (pkg/options), applying optFuncs over NewDefaultOptions(). VectorFields
// and StringFields still need to be supplied by the caller: Options has no
// notion of per-field schema, only the on-disk layout and the HNSW defaults
// a vector field falls back to when it leaves BlockSize/EfConstruction/
// EfSearch/M/MMax/MMax0 at zero.
func NewConfig(directory string, vectorFields []VectorFieldSpec, stringFields []StringFieldSpec, optFuncs ...options.OptionFunc) Config {
	opts := options.NewDefaultOptions()
	opts.DataDir = directory
	for _, opt := range optFuncs {
		opt(&opts)
	}

	fields := make([]VectorFieldSpec, len(vectorFields))
	for i, spec := range vectorFields {
		fields[i] = spec.withHNSWDefaults(opts)
	}

	return Config{
		Directory:          opts.DataDir,
		VectorFields:       fields,
		StringFields:       stringFields,
		DataSegmentSize:    int64(opts.SegmentOptions.Size),
		IndexSegmentSize:   int64(opts.SegmentOptions.Size),
		BucketCount:        opts.BucketCount,
		WALSegmentSize:     int64(opts.WalOptions.SegmentSize),
		WriterConcurrency:  opts.WriterConcurrency,
		CheckpointInterval: opts.CheckpointInterval,
	}
}

// withHNSWDefaults fills any zero-valued HNSW parameter in spec from opts'
// store-wide HNSW defaults, leaving fields the caller did set untouched.
func (spec VectorFieldSpec) withHNSWDefaults(opts options.Options) VectorFieldSpec {
	if spec.BlockSize == 0 {
		spec.BlockSize = opts.HNSWOptions.BlockSize
	}
	if spec.EfConstruction == 0 {
		spec.EfConstruction = opts.HNSWOptions.EfConstruction
	}
	if spec.EfSearch == 0 {
		spec.EfSearch = opts.HNSWOptions.EfSearch
	}
	if spec.M == 0 {
		spec.M = opts.HNSWOptions.M
	}
	if spec.MMax == 0 {
		spec.MMax = opts.HNSWOptions.MMax
	}
	if spec.MMax0 == 0 {
		spec.MMax0 = opts.HNSWOptions.MMax0
	}
	return spec
}

// Store is VulcanoDB's embedded storage/query core, rooted at one
// dataFolder. It is safe for concurrent use.
type Store struct {
	log    *zap.SugaredLogger
	closed atomic.Bool

	wal               *wal.WAL
	persister         *persister.DocumentPersister
	registry          *registry.Registry
	maxResultsPerLeaf int
	defaultMetric     vectorindex.Metric
	metrics           *telemetry.Metrics

	checkpointStop chan struct{}
	checkpointDone chan struct{}
}

// Open opens (or creates) a Store rooted at cfg.Directory: opens the WAL
// and persister, builds and registers an index handler for each declared
// field, then replays any WAL entries left uncommitted by a prior crash.
func Open(cfg Config) (*Store, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	w, err := wal.Open(wal.Config{
		Directory:   filepath.Join(cfg.Directory, "wal"),
		SegmentSize: cfg.WALSegmentSize,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	p, err := persister.Open(persister.Config{
		Directory:         filepath.Join(cfg.Directory, "dictionary"),
		DataSegmentSize:   cfg.DataSegmentSize,
		IndexSegmentSize:  cfg.IndexSegmentSize,
		BucketCount:       cfg.BucketCount,
		WriterConcurrency: cfg.WriterConcurrency,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Config{Logger: cfg.Logger})
	if err := openHandlers(reg, cfg); err != nil {
		return nil, err
	}

	s := &Store{
		log:               cfg.Logger,
		wal:               w,
		persister:         p,
		registry:          reg,
		maxResultsPerLeaf: cfg.MaxResultsPerLeaf,
		defaultMetric:     cfg.DefaultMetric,
		metrics:           cfg.Metrics,
	}

	cfg.Metrics.RegisterDocumentCountFunc(func() float64 {
		ids, err := p.AllInternalIDs()
		if err != nil {
			return 0
		}
		return float64(len(ids))
	})
	cfg.Metrics.RegisterInsertQueueFunc(func() float64 {
		return float64(p.InFlightWrites())
	})

	if err := s.replay(); err != nil {
		return nil, err
	}

	if cfg.CheckpointInterval > 0 {
		s.startCheckpointLoop(cfg.CheckpointInterval)
	}
	return s, nil
}

// startCheckpointLoop runs a background WAL checkpoint every interval until
// Close stops it. Close always performs one last checkpoint itself, so a
// missed tick at shutdown is never lost work.
func (s *Store) startCheckpointLoop(interval time.Duration) {
	s.checkpointStop = make(chan struct{})
	s.checkpointDone = make(chan struct{})

	go func() {
		defer close(s.checkpointDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.wal.Checkpoint(); err != nil {
					s.log.Warnw("background wal checkpoint failed", "error", err)
				}
			case <-s.checkpointStop:
				return
			}
		}
	}()
}

func openHandlers(reg *registry.Registry, cfg Config) error {
	for _, spec := range cfg.VectorFields {
		handler, err := indexhandler.OpenHNSWHandler(indexhandler.HNSWConfig{
			Directory:      filepath.Join(cfg.Directory, "hnsw", spec.FieldName),
			FieldName:      spec.FieldName,
			Dimensions:     spec.Dimensions,
			BlockSize:      spec.BlockSize,
			EfConstruction: spec.EfConstruction,
			EfSearch:       spec.EfSearch,
			M:              spec.M,
			MMax:           spec.MMax,
			MMax0:          spec.MMax0,
			Metric:         spec.Metric,
			Logger:         cfg.Logger,
		})
		if err != nil {
			return err
		}
		if err := reg.Register(spec.FieldName, handler); err != nil {
			return err
		}
	}

	for _, spec := range cfg.StringFields {
		handler, err := indexhandler.OpenStringHandler(indexhandler.StringConfig{
			Directory:        filepath.Join(cfg.Directory, "inverted", spec.FieldName),
			FieldName:        spec.FieldName,
			DataSegmentSize:  cfg.DataSegmentSize,
			IndexSegmentSize: cfg.IndexSegmentSize,
			BucketCount:      cfg.BucketCount,
			Logger:           cfg.Logger,
		})
		if err != nil {
			return err
		}
		if err := reg.Register(spec.FieldName, handler); err != nil {
			return err
		}
	}
	return nil
}

// replay re-applies every WAL record left uncommitted by a prior crash,
// then advances the checkpoint watermark past them.
func (s *Store) replay() error {
	records, err := s.wal.ReadUncommitted()
	if err != nil {
		return err
	}

	for _, rec := range records {
		id, err := document.ParseID(rec.DocumentID)
		if err != nil {
			return errors.NewWalReplayError(err, uint64(rec.TxID), "axon: wal record has invalid document id")
		}

		switch rec.Kind {
		case wal.RecordAdd:
			if _, err := s.applyAdd(document.New(id, rec.Fields)); err != nil {
				return errors.NewWalReplayError(err, uint64(rec.TxID), "axon: failed to replay add record")
			}
		case wal.RecordRemove:
			if err := s.applyRemove(id); err != nil {
				return errors.NewWalReplayError(err, uint64(rec.TxID), "axon: failed to replay remove record")
			}
		}

		if err := s.wal.Commit(rec.TxID); err != nil {
			return err
		}
	}

	if len(records) == 0 {
		return nil
	}
	s.metrics.WalReplayed(len(records))
	return s.wal.Checkpoint()
}

// Add persists doc and indexes it, recording a WAL entry that is replayed
// on recovery if the process crashes before it commits.
func (s *Store) Add(doc document.Document) (persister.InternalID, error) {
	if s.closed.Load() {
		return 0, errors.NewNotInitializedError("axon.Store.Add")
	}
	start := time.Now()
	defer func() { s.metrics.DocumentInsertLatency(time.Since(start).Seconds()) }()

	txID, err := s.wal.RecordAddEntry(doc.ID.String(), doc.Fields)
	if err != nil {
		return 0, err
	}

	internalID, err := s.applyAdd(doc)
	if err != nil {
		return 0, err
	}

	if err := s.wal.Commit(txID); err != nil {
		return 0, err
	}
	s.metrics.DocumentWritten(approximateByteSize(doc))
	return internalID, nil
}

// approximateByteSize estimates a document's on-disk footprint for the
// documentsWritten/writeBytes counter pair; it does not need to match the
// persister's actual encoding byte-for-byte.
func approximateByteSize(doc document.Document) int {
	n := len(doc.ID.String())
	for name, v := range doc.Fields {
		n += len(name)
		switch v.Type {
		case document.FieldTypeString:
			n += len(v.Str)
		case document.FieldTypeInteger:
			n += 4
		case document.FieldTypeVector:
			n += 4 * len(v.Vector)
		case document.FieldTypeMatrix:
			for _, row := range v.Matrix {
				n += 4 * len(row)
			}
		}
	}
	return n
}

func (s *Store) applyAdd(doc document.Document) (persister.InternalID, error) {
	result := s.persister.Write(doc)
	if !result.OK() {
		return 0, result.Err
	}

	for _, fieldName := range s.registry.FieldNames() {
		if _, ok := doc.Fields[fieldName]; !ok {
			continue
		}
		handler, _ := s.registry.Get(fieldName)
		if err := handler.Index(result.InternalID, doc); err != nil {
			return 0, err
		}
	}
	return result.InternalID, nil
}

// Remove deletes the document identified by id, recording a WAL entry that
// is replayed on recovery if the process crashes before it commits.
func (s *Store) Remove(id document.ID) error {
	if s.closed.Load() {
		return errors.NewNotInitializedError("axon.Store.Remove")
	}
	start := time.Now()
	defer func() { s.metrics.DocumentRemoveLatency(time.Since(start).Seconds()) }()

	txID, err := s.wal.RecordRemoveEntry(id.String())
	if err != nil {
		return err
	}

	if err := s.applyRemove(id); err != nil {
		return err
	}
	if err := s.wal.Commit(txID); err != nil {
		return err
	}
	s.metrics.DocumentRemoved()
	return nil
}

func (s *Store) applyRemove(id document.ID) error {
	internalID, ok, err := s.persister.InternalID(id)
	if err != nil {
		return err
	}
	if ok {
		for _, fieldName := range s.registry.FieldNames() {
			handler, _ := s.registry.Get(fieldName)
			if err := handler.Remove(internalID); err != nil {
				return err
			}
		}
	}
	return s.persister.Remove(id)
}

// Get reads back the document identified by id.
func (s *Store) Get(id document.ID) (document.Document, bool, error) {
	if s.closed.Load() {
		return document.Document{}, false, errors.NewNotInitializedError("axon.Store.Get")
	}
	return s.persister.ReadByDocumentID(id)
}

// Search splits node into an index tree and a residual tree, resolves the
// index tree to a candidate set via the registered handlers, then scans
// the candidates through the residual tree and returns the maxResults
// highest-scoring matches.
func (s *Store) Search(node query.Node, maxResults int) ([]runner.ResultDocument, error) {
	if s.closed.Load() {
		return nil, errors.NewNotInitializedError("axon.Store.Search")
	}
	start := time.Now()
	defer func() { s.metrics.QueryExecuted(time.Since(start).Seconds()) }()

	split := querysplit.Split(node, s.registry)

	indexCompiler := querycompile.NewIndexCompiler(s.registry, s.persister.AllInternalIDs, s.maxResultsPerLeaf)
	indexOp, err := indexCompiler.Compile(split.IndexTree)
	if err != nil {
		return nil, err
	}

	ctx := querycompile.NewExecutionContext()
	candidates, err := indexOp(ctx)
	if err != nil {
		return nil, err
	}

	residualCompiler := querycompile.NewResidualCompiler(s.defaultMetric)
	matcher, err := residualCompiler.Compile(split.ResidualTree)
	if err != nil {
		return nil, err
	}

	return runner.Run(candidates.ToSlice(), matcher, ctx, s.persister, s.persister, maxResults)
}

// Close flushes and closes every sub-component, aggregating any failures.
// Closing an already-closed Store is a no-op.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if s.checkpointStop != nil {
		close(s.checkpointStop)
		<-s.checkpointDone
	}

	closeErr := errors.NewCloseError()
	if err := s.registry.Flush(); err != nil {
		closeErr.Add("registry-flush", err)
	}
	if err := s.wal.Checkpoint(); err != nil {
		closeErr.Add("wal-checkpoint", err)
	}
	if err := s.registry.Close(); err != nil {
		closeErr.Add("registry-close", err)
	}
	if err := s.persister.Close(); err != nil {
		closeErr.Add("persister", err)
	}
	if err := s.wal.Close(); err != nil {
		closeErr.Add("wal", err)
	}
	return closeErr.OrNil()
}
