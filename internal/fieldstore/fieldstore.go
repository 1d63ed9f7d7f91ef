// Package fieldstore decomposes documents into per-(fieldName, valueType)
// KVStores. A document's fields are written in parallel and committed as a
// batch: individual field writes use commit=false, then commitAll publishes
// every touched store's metadata file in one pass.
package fieldstore

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/kvstore"
	"github.com/vulcanodb/axon/pkg/errors"
)

// Config holds the parameters shared by every per-field KVStore the
// FieldStore opens on demand.
type Config struct {
	Directory        string
	DataSegmentSize  int64
	IndexSegmentSize int64
	BucketCount      uint32

	// WriterConcurrency bounds the number of per-field stores written,
	// read or removed from concurrently. Zero means unbounded (errgroup's
	// default), letting the fan-out run as wide as the field count.
	WriterConcurrency int

	Logger *zap.SugaredLogger
}

func (fs *FieldStore) limit(g *errgroup.Group) {
	if fs.cfg.WriterConcurrency > 0 {
		g.SetLimit(fs.cfg.WriterConcurrency)
	}
}

// FieldStore lazily opens one KVStore per (fieldName, valueType) pair under
// <Directory>/<sanitizedFieldName>/<valueTypeName>/.
type FieldStore struct {
	cfg Config
	log *zap.SugaredLogger

	mu     sync.Mutex
	stores map[string]*kvstore.KVStore

	inFlight atomic.Int64
}

// track wraps fn so InFlight reflects how many of these goroutines are
// currently running inside the write/read/remove fan-out.
func (fs *FieldStore) track(fn func() error) func() error {
	return func() error {
		fs.inFlight.Add(1)
		defer fs.inFlight.Add(-1)
		return fn()
	}
}

// InFlight reports how many per-field store operations are currently
// running inside the fan-out. Store exposes this as a DOCUMENT_INSERT_QUEUE
// gauge via telemetry.Metrics.RegisterInsertQueueFunc.
func (fs *FieldStore) InFlight() int64 {
	return fs.inFlight.Load()
}

// Open returns a FieldStore rooted at cfg.Directory. No per-field stores
// are opened until first use.
func Open(cfg Config) (*FieldStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &FieldStore{cfg: cfg, log: cfg.Logger, stores: make(map[string]*kvstore.KVStore)}, nil
}

func storeKey(fieldName string, ft document.FieldType) string {
	return document.SanitizeFieldName(fieldName) + "/" + ft.String()
}

func (fs *FieldStore) storePath(fieldName string, ft document.FieldType) string {
	return filepath.Join(fs.cfg.Directory, document.SanitizeFieldName(fieldName), ft.String())
}

func (fs *FieldStore) store(fieldName string, ft document.FieldType) (*kvstore.KVStore, error) {
	key := storeKey(fieldName, ft)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if kv, ok := fs.stores[key]; ok {
		return kv, nil
	}

	kv, err := kvstore.Open(kvstore.Config{
		Directory:            fs.storePath(fieldName, ft),
		DataSegmentSize:      fs.cfg.DataSegmentSize,
		IndexSegmentSize:     fs.cfg.IndexSegmentSize,
		HashIndexBucketCount: fs.cfg.BucketCount,
		Logger:               fs.log,
	})
	if err != nil {
		return nil, err
	}
	fs.stores[key] = kv
	return kv, nil
}

// documentKey is the KVStore key a field value is stored under: a plain
// document id string, one entry per document per (field, type) store.
func documentKey(id document.ID) string {
	return id.String()
}

// Write persists every field of doc in parallel with commit=false, then
// commits every touched store on all-success. The caller's shape should
// already have been derived from doc via document.ShapeOf.
func (fs *FieldStore) Write(id document.ID, fields map[string]document.Value) error {
	touched, err := fs.writeUncommitted(id, fields)
	if err != nil {
		return err
	}
	return fs.commitAll(touched)
}

// writeUncommitted fans the per-field writes out over an errgroup with
// commit=false, returning the set of stores that must still be committed.
func (fs *FieldStore) writeUncommitted(id document.ID, fields map[string]document.Value) ([]*kvstore.KVStore, error) {
	var (
		g         errgroup.Group
		mu        sync.Mutex
		touched   []*kvstore.KVStore
		seenStore = make(map[*kvstore.KVStore]bool)
	)
	fs.limit(&g)

	for name, value := range fields {
		name, value := name, value
		g.Go(fs.track(func() error {
			kv, err := fs.store(name, value.Type)
			if err != nil {
				return err
			}

			key := documentKey(id)
			switch value.Type {
			case document.FieldTypeString:
				_, err = kv.PutString(key, value.Str, false)
			case document.FieldTypeInteger:
				_, err = kv.PutInt(key, value.Int, false)
			case document.FieldTypeVector:
				_, err = kv.PutFloatArray(key, value.Vector, false)
			case document.FieldTypeMatrix:
				if !value.IsRectangular() {
					err = errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "fieldstore: matrix field is not rectangular").
						WithField(name)
				} else {
					_, err = kv.PutFloatMatrix(key, value.Matrix, false)
				}
			default:
				err = errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "fieldstore: unknown field type").
					WithField(name)
			}
			if err != nil {
				return err
			}

			mu.Lock()
			if !seenStore[kv] {
				seenStore[kv] = true
				touched = append(touched, kv)
			}
			mu.Unlock()
			return nil
		}))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return touched, nil
}

func (fs *FieldStore) commitAll(stores []*kvstore.KVStore) error {
	var g errgroup.Group
	fs.limit(&g)
	for _, kv := range stores {
		kv := kv
		g.Go(fs.track(kv.Commit))
	}
	return g.Wait()
}

// Read fetches each field listed in shape for id, using the field's
// recorded type to select the correct underlying KVStore.
func (fs *FieldStore) Read(id document.ID, shape document.Shape) (map[string]document.Value, error) {
	fields := make(map[string]document.Value, len(shape))
	var mu sync.Mutex
	var g errgroup.Group
	fs.limit(&g)

	for name, ft := range shape {
		name, ft := name, ft
		g.Go(fs.track(func() error {
			kv, err := fs.store(name, ft)
			if err != nil {
				return err
			}
			key := documentKey(id)

			var value document.Value
			switch ft {
			case document.FieldTypeString:
				v, ok, err := kv.GetString(key)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				value = document.StringValue(v)
			case document.FieldTypeInteger:
				v, ok, err := kv.GetInt(key)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				value = document.IntValue(v)
			case document.FieldTypeVector:
				v, ok, err := kv.GetFloatArray(key)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				value = document.VectorValue(v)
			case document.FieldTypeMatrix:
				v, ok, err := kv.GetFloatMatrix(key)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				value = document.MatrixValue(v)
			default:
				return errors.NewValidationError(nil, errors.ErrorCodeInvalidInput, "fieldstore: unknown field type in shape").
					WithField(name)
			}

			mu.Lock()
			fields[name] = value
			mu.Unlock()
			return nil
		}))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fields, nil
}

// Remove deletes id's value from every (field, type) store named in shape.
func (fs *FieldStore) Remove(id document.ID, shape document.Shape) error {
	var g errgroup.Group
	fs.limit(&g)
	for name, ft := range shape {
		name, ft := name, ft
		g.Go(fs.track(func() error {
			kv, err := fs.store(name, ft)
			if err != nil {
				return err
			}
			return kv.Remove(documentKey(id))
		}))
	}
	return g.Wait()
}

// Close closes every opened per-field store, aggregating failures.
func (fs *FieldStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	closeErr := errors.NewCloseError()
	for key, kv := range fs.stores {
		if err := kv.Close(); err != nil {
			closeErr.Add(key, err)
		}
	}
	return closeErr.OrNil()
}
