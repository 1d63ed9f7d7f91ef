// Package persister assembles documents out of a shape dictionary and a
// FieldStore: writing a document assigns it an internal id (the dictionary
// DataLog offset its shape was written at), and reading reconstructs it by
// fanning out to each field named in that shape.
package persister

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/fieldstore"
	"github.com/vulcanodb/axon/internal/kvstore"
	"github.com/vulcanodb/axon/pkg/errors"
)

// InternalID is the dictionary DataLog offset a document's shape was
// written at. It is stable for the lifetime of the document and is what
// every index (HNSW, inverted) stores instead of the externally-visible
// DocumentId.
type InternalID = int64

// Config holds the parameters needed to open a DocumentPersister.
type Config struct {
	Directory        string
	DataSegmentSize  int64
	IndexSegmentSize int64
	BucketCount      uint32

	// WriterConcurrency bounds the FieldStore's per-field write/read/remove
	// fan-out. Zero means unbounded.
	WriterConcurrency int

	Logger *zap.SugaredLogger
}

// DocumentPersister composes a shape dictionary (a KVStore keyed by
// DocumentId string) with a FieldStore holding the actual field values.
type DocumentPersister struct {
	dictionary *kvstore.KVStore
	fields     *fieldstore.FieldStore
	log        *zap.SugaredLogger
}

// Open opens (or creates) the persister rooted at cfg.Directory.
func Open(cfg Config) (*DocumentPersister, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	dict, err := kvstore.Open(kvstore.Config{
		Directory:            cfg.Directory + "/dictionary",
		DataSegmentSize:      cfg.DataSegmentSize,
		IndexSegmentSize:     cfg.IndexSegmentSize,
		HashIndexBucketCount: cfg.BucketCount,
		Logger:               cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	fs, err := fieldstore.Open(fieldstore.Config{
		Directory:         cfg.Directory,
		DataSegmentSize:   cfg.DataSegmentSize,
		IndexSegmentSize:  cfg.IndexSegmentSize,
		BucketCount:       cfg.BucketCount,
		WriterConcurrency: cfg.WriterConcurrency,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &DocumentPersister{dictionary: dict, fields: fs, log: cfg.Logger}, nil
}

// FieldWriteError records that writing a single field of a document failed.
type FieldWriteError struct {
	Field string
	Err   error
}

func (e *FieldWriteError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldWriteError) Unwrap() error { return e.Err }

// DocumentWriteResult reports the outcome of persisting a document: its
// assigned internal id on success, or the error that prevented the shape
// from being committed. A field failure is reported as one FieldWriteError
// with Field "*" wrapping the first error the field fan-out returned; other
// failing fields are not listed.
type DocumentWriteResult struct {
	InternalID InternalID
	Err        error
}

// OK reports whether the write succeeded.
func (r DocumentWriteResult) OK() bool { return r.Err == nil }

// Write persists doc: fields first (uncommitted), then the shape as the
// commit point. If any field fails, the shape is not written and the
// document does not exist from any reader's perspective.
func (p *DocumentPersister) Write(doc document.Document) DocumentWriteResult {
	shape := document.ShapeOf(doc)

	if err := p.fields.Write(doc.ID, doc.Fields); err != nil {
		return DocumentWriteResult{Err: &FieldWriteError{Field: "*", Err: err}}
	}

	encodedShape, err := encodeShape(shape)
	if err != nil {
		return DocumentWriteResult{Err: err}
	}

	internalID, err := p.dictionary.PutString(doc.ID.String(), encodedShape, true)
	if err != nil {
		return DocumentWriteResult{Err: err}
	}

	return DocumentWriteResult{InternalID: internalID}
}

// ReadByDocumentID reconstructs a document by looking its shape up in the
// dictionary by DocumentId and fanning out to FieldStore.
func (p *DocumentPersister) ReadByDocumentID(id document.ID) (document.Document, bool, error) {
	encodedShape, ok, err := p.dictionary.GetString(id.String())
	if err != nil || !ok {
		return document.Document{}, ok, err
	}
	return p.readWithShape(id, encodedShape)
}

// ReadByInternalID reconstructs a document by reading its shape directly at
// the dictionary DataLog offset, bypassing the hash index. This preserves
// iteration order across the whole id space, which ReadByDocumentID (a
// hashed lookup) cannot.
func (p *DocumentPersister) ReadByInternalID(internalID InternalID) (document.Document, error) {
	encodedShape, err := p.dictionary.GetStringAt(internalID)
	if err != nil {
		return document.Document{}, err
	}
	documentIDKey, err := p.dictionary.DataLog().Key(internalID)
	if err != nil {
		return document.Document{}, err
	}
	id, err := document.ParseID(documentIDKey)
	if err != nil {
		return document.Document{}, errors.NewStorageError(err, errors.ErrorCodeSegmentCorrupted,
			"persister: dictionary entry key is not a valid document id")
	}

	doc, _, err := p.readWithShape(id, encodedShape)
	return doc, err
}

// Exists reports whether internalID is still the live dictionary entry for
// its document. ReadByInternalID reads dictionary bytes directly at an
// offset and so keeps returning data even after the document has been
// removed or superseded by a later write to the same DocumentId; Exists
// cross-checks the hash index's current mapping for that key to tell live
// internal ids from dead ones, used by the vectorized runner to filter
// index matches whose document is gone.
func (p *DocumentPersister) Exists(internalID InternalID) (bool, error) {
	key, err := p.dictionary.DataLog().Key(internalID)
	if err != nil {
		return false, err
	}
	liveOffset, ok, err := p.dictionary.HashIndex().Get(key)
	if err != nil || !ok {
		return false, err
	}
	return liveOffset == internalID, nil
}

// InternalID returns the current internal id backing id's dictionary entry,
// or ok=false if id has no live document.
func (p *DocumentPersister) InternalID(id document.ID) (InternalID, bool, error) {
	return p.dictionary.HashIndex().Get(id.String())
}

// AllInternalIDs returns the internal id of every currently live document,
// used to resolve MatchAll and to complement Not in the index tree.
func (p *DocumentPersister) AllInternalIDs() ([]int64, error) {
	return p.dictionary.HashIndex().ValueOffsets()
}

// InFlightWrites reports how many FieldStore operations are currently
// running inside the write/read/remove fan-out, for a DOCUMENT_INSERT_QUEUE
// gauge.
func (p *DocumentPersister) InFlightWrites() int64 {
	return p.fields.InFlight()
}

func (p *DocumentPersister) readWithShape(id document.ID, encodedShape string) (document.Document, bool, error) {
	shape, err := decodeShape(encodedShape)
	if err != nil {
		return document.Document{}, false, err
	}

	fields, err := p.fields.Read(id, shape)
	if err != nil {
		return document.Document{}, false, err
	}
	return document.New(id, fields), true, nil
}

// Remove deletes doc's fields and its dictionary entry.
func (p *DocumentPersister) Remove(id document.ID) error {
	encodedShape, ok, err := p.dictionary.GetString(id.String())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	shape, err := decodeShape(encodedShape)
	if err != nil {
		return err
	}

	if err := p.fields.Remove(id, shape); err != nil {
		return err
	}
	return p.dictionary.Remove(id.String())
}

// encodeShape gob-encodes shape for storage in the dictionary KVStore's
// string column; decodeShape is its inverse.
func encodeShape(shape document.Shape) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(shape); err != nil {
		return "", errors.NewStorageError(err, errors.ErrorCodeInternal, "persister: failed to encode shape")
	}
	return buf.String(), nil
}

func decodeShape(encoded string) (document.Shape, error) {
	var shape document.Shape
	if err := gob.NewDecoder(bytes.NewReader([]byte(encoded))).Decode(&shape); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeSegmentCorrupted, "persister: failed to decode shape")
	}
	return shape, nil
}

// Close closes the dictionary and every opened field store.
func (p *DocumentPersister) Close() error {
	closeErr := errors.NewCloseError()
	if err := p.fields.Close(); err != nil {
		closeErr.Add("fields", err)
	}
	if err := p.dictionary.Close(); err != nil {
		closeErr.Add("dictionary", err)
	}
	return closeErr.OrNil()
}
