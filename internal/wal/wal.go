// Package wal is Axon's write-ahead log: it guarantees that an add or
// remove that spans the persister and its indexes either takes effect
// completely or not at all, even across a crash. Every record starts
// uncommitted; once the persister and index updates it describes are
// durable, Commit flips its status in place. Recovery re-applies every
// record still found uncommitted.
package wal

import (
	"bytes"
	"crypto/crc32"
	"encoding/binary"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/document"
	"github.com/vulcanodb/axon/internal/pagedfile"
	"github.com/vulcanodb/axon/pkg/errors"
)

// Status is the commit state of a WAL record.
type Status int32

const (
	// StatusUncommitted marks a record whose effects may not yet be durable
	// in the main stores; it must be replayed on recovery.
	StatusUncommitted Status = 0
	// StatusCommitted marks a record whose effects are fully durable.
	StatusCommitted Status = 1
)

// RecordKind distinguishes the two operations a WAL record can carry.
type RecordKind uint8

const (
	// RecordAdd carries a full document to be (re-)written.
	RecordAdd RecordKind = iota + 1
	// RecordRemove carries a document id to be deleted.
	RecordRemove
)

// Record is a decoded WAL entry.
type Record struct {
	TxID   int64
	Status Status
	Kind   RecordKind

	DocumentID string
	Fields     map[string]document.Value // set when Kind == RecordAdd
}

// payload is the gob-encoded body of a Record; it carries only the fields
// that vary by kind, since TxID/Status are part of the fixed header.
type payload struct {
	Kind       RecordKind
	DocumentID string
	Fields     map[string]document.Value
}

const (
	rawSizeFieldSize  = 4
	postRawHeaderSize = 4 + 8 // status + txId
	headerSize        = rawSizeFieldSize + postRawHeaderSize
)

// Config holds the parameters needed to open a WAL.
type Config struct {
	Directory   string
	SegmentSize int64
	Logger      *zap.SugaredLogger
}

// WAL is an append-only, crash-recoverable log of document add/remove
// operations.
type WAL struct {
	pf  *pagedfile.PagedFile
	dir string
	log *zap.SugaredLogger

	reserved atomic.Int64
	tail     atomic.Int64 // highest offset known to hold a published entry

	nextTxID atomic.Int64

	mu      sync.Mutex
	offsets map[int64]int64 // txId -> entry offset, populated as entries are written/recovered

	checkpoint atomic.Int64 // oldest offset that still needs scanning on recovery
}

const metadataFileName = "metadata.dat"
const metadataSize = 8 + 8 + 4 // checkpoint offset + last txId + crc32

// Open opens or creates the WAL rooted at cfg.Directory and recovers its
// txId counter and checkpoint watermark from metadata.dat, if present.
func Open(cfg Config) (*WAL, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	pf, err := pagedfile.Open(pagedfile.Config{
		Directory:   filepath.Join(cfg.Directory),
		Prefix:      "wal",
		SegmentSize: cfg.SegmentSize,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	w := &WAL{pf: pf, dir: cfg.Directory, log: cfg.Logger, offsets: make(map[int64]int64)}

	if err := w.recoverMetadata(); err != nil {
		return nil, err
	}
	if err := w.rebuildOffsetMap(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *WAL) metadataPath() string {
	return filepath.Join(w.dir, metadataFileName)
}

func (w *WAL) recoverMetadata() error {
	buf, err := os.ReadFile(w.metadataPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "wal: failed to read metadata file").WithPath(w.metadataPath())
	}
	if len(buf) != metadataSize {
		return errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "wal: metadata file has unexpected size")
	}
	crc := crc32.ChecksumIEEE(buf[0:16])
	if crc != binary.LittleEndian.Uint32(buf[16:20]) {
		return errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "wal: metadata checksum mismatch")
	}
	w.checkpoint.Store(int64(binary.LittleEndian.Uint64(buf[0:8])))
	w.nextTxID.Store(int64(binary.LittleEndian.Uint64(buf[8:16])))
	return nil
}

// CommitMetadata durably records the current checkpoint offset and txId
// counter via write-new/fsync/rename.
func (w *WAL) CommitMetadata() error {
	buf := make([]byte, metadataSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(w.checkpoint.Load()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(w.nextTxID.Load()))
	crc := crc32.ChecksumIEEE(buf[0:16])
	binary.LittleEndian.PutUint32(buf[16:20], crc)

	tmpPath := w.metadataPath() + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "wal: failed to create temp metadata file").WithPath(tmpPath)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.NewStorageError(err, errors.ErrorCodeIO, "wal: failed to write metadata").WithPath(tmpPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.NewStorageError(err, errors.ErrorCodeIO, "wal: failed to fsync metadata").WithPath(tmpPath)
	}
	if err := f.Close(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "wal: failed to close metadata file").WithPath(tmpPath)
	}
	return os.Rename(tmpPath, w.metadataPath())
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) / align * align
}

func encodePayload(p payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeInternal, "wal: failed to encode record payload")
	}
	return buf.Bytes(), nil
}

func decodePayload(data []byte) (payload, error) {
	var p payload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return payload{}, errors.NewStorageError(err, errors.ErrorCodeSegmentCorrupted, "wal: failed to decode record payload")
	}
	return p, nil
}

func (w *WAL) writeRecord(status Status, txID int64, body []byte) (int64, error) {
	postRawSize := int64(postRawHeaderSize + len(body))
	entryLen := alignUp(rawSizeFieldSize+postRawSize, 8)
	offset := w.reserved.Add(entryLen) - entryLen

	buf := make([]byte, entryLen-rawSizeFieldSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(status))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(txID))
	copy(buf[postRawHeaderSize:], body)

	if err := w.writeAt(offset+rawSizeFieldSize, buf); err != nil {
		return 0, err
	}
	if err := w.storeInt32Release(offset, int32(postRawSize)); err != nil {
		return 0, err
	}
	fetchMaxInt64(&w.tail, offset+entryLen)
	return offset, nil
}

// RecordAddEntry appends an uncommitted ADD record for doc and returns its
// transaction id.
func (w *WAL) RecordAddEntry(documentID string, fields map[string]document.Value) (int64, error) {
	txID := w.nextTxID.Add(1) - 1
	body, err := encodePayload(payload{Kind: RecordAdd, DocumentID: documentID, Fields: fields})
	if err != nil {
		return 0, err
	}
	offset, err := w.writeRecord(StatusUncommitted, txID, body)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	w.offsets[txID] = offset
	w.mu.Unlock()
	return txID, nil
}

// RecordRemoveEntry appends an uncommitted REMOVE record for documentID and
// returns its transaction id.
func (w *WAL) RecordRemoveEntry(documentID string) (int64, error) {
	txID := w.nextTxID.Add(1) - 1
	body, err := encodePayload(payload{Kind: RecordRemove, DocumentID: documentID})
	if err != nil {
		return 0, err
	}
	offset, err := w.writeRecord(StatusUncommitted, txID, body)
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	w.offsets[txID] = offset
	w.mu.Unlock()
	return txID, nil
}

// Commit flips txID's status from uncommitted to committed in place and
// flushes the WAL so the commit is durable.
func (w *WAL) Commit(txID int64) error {
	w.mu.Lock()
	offset, ok := w.offsets[txID]
	w.mu.Unlock()
	if !ok {
		return errors.NewWalReplayError(nil, uint64(txID), "wal: unknown transaction id")
	}

	if err := w.casStatus(txID, offset, StatusUncommitted, StatusCommitted); err != nil {
		return err
	}
	return w.pf.Flush()
}

func (w *WAL) casStatus(txID, offset int64, old, new Status) error {
	mm, err := w.pf.EnsureSegment(offset + rawSizeFieldSize)
	if err != nil {
		return err
	}
	segSize := w.pf.SegmentSize()
	localOffset := (offset + rawSizeFieldSize) % segSize
	ptr := (*int32)(unsafe.Pointer(&mm[localOffset]))
	if !atomic.CompareAndSwapInt32(ptr, int32(old), int32(new)) {
		return errors.NewWalReplayError(nil, uint64(txID), "wal: status CAS failed, entry already committed or missing")
	}
	return nil
}

// readEntry decodes the record at offset, or ok=false if no entry has been
// published there yet (the rawSize/length field reads as zero).
func (w *WAL) readEntry(offset int64) (Record, bool, error) {
	length, err := w.loadInt32Acquire(offset)
	if err != nil {
		return Record{}, false, err
	}
	if length <= 0 {
		return Record{}, false, nil
	}

	raw, err := w.readAt(offset+4, int(length))
	if err != nil {
		return Record{}, false, err
	}

	status := Status(binary.LittleEndian.Uint32(raw[0:4]))
	txID := int64(binary.LittleEndian.Uint64(raw[4:12]))
	body := raw[12:]

	p, err := decodePayload(body)
	if err != nil {
		return Record{}, false, err
	}

	return Record{
		TxID:       txID,
		Status:     status,
		Kind:       p.Kind,
		DocumentID: p.DocumentID,
		Fields:     p.Fields,
	}, true, nil
}

// rebuildOffsetMap re-scans from the checkpoint watermark to the live tail,
// recording each entry's offset by txId so Commit can locate it without a
// full rescan, and advancing the reserved/tail/nextTxID watermarks past the
// last entry found. nextTxID must never regress to a value read from
// metadata.dat that predates entries already appended past the checkpoint,
// or a freshly allocated txId could collide with one still in the log.
func (w *WAL) rebuildOffsetMap() error {
	offset := w.checkpoint.Load()
	maxTxID := w.nextTxID.Load() - 1
	for {
		rec, ok, err := w.readEntry(offset)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		w.mu.Lock()
		w.offsets[rec.TxID] = offset
		w.mu.Unlock()
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}

		length, err := w.loadInt32Acquire(offset)
		if err != nil {
			return err
		}
		entryLen := alignUp(int64(length)+4, 8)
		offset += entryLen
	}
	if maxTxID+1 > w.nextTxID.Load() {
		w.nextTxID.Store(maxTxID + 1)
	}
	w.reserved.Store(offset)
	w.tail.Store(offset)
	return nil
}

// ReadUncommitted yields every record found with status Uncommitted from
// the checkpoint watermark forward, for crash recovery.
func (w *WAL) ReadUncommitted() ([]Record, error) {
	var uncommitted []Record
	offset := w.checkpoint.Load()
	for {
		rec, ok, err := w.readEntry(offset)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if rec.Status == StatusUncommitted {
			uncommitted = append(uncommitted, rec)
		}

		length, err := w.loadInt32Acquire(offset)
		if err != nil {
			return nil, err
		}
		offset += alignUp(int64(length)+4, 8)
	}
	return uncommitted, nil
}

// Checkpoint advances the checkpoint watermark to the current tail and
// persists it. Callers must only call this once every live entry up to the
// new watermark is committed and its effects durable in the main stores.
func (w *WAL) Checkpoint() error {
	w.checkpoint.Store(w.tail.Load())
	return w.CommitMetadata()
}

func (w *WAL) writeAt(offset int64, data []byte) error {
	remaining := data
	cur := offset
	segSize := w.pf.SegmentSize()
	for len(remaining) > 0 {
		mm, err := w.pf.EnsureSegment(cur)
		if err != nil {
			return err
		}
		localOffset := cur % segSize
		n := copy(mm[localOffset:], remaining)
		remaining = remaining[n:]
		cur += int64(n)
	}
	return nil
}

func (w *WAL) readAt(offset int64, length int) ([]byte, error) {
	out := make([]byte, length)
	remaining := out
	cur := offset
	segSize := w.pf.SegmentSize()
	for len(remaining) > 0 {
		mm, err := w.pf.EnsureSegment(cur)
		if err != nil {
			return nil, err
		}
		localOffset := cur % segSize
		n := copy(remaining, mm[localOffset:])
		remaining = remaining[n:]
		cur += int64(n)
	}
	return out, nil
}

func (w *WAL) storeInt32Release(offset int64, value int32) error {
	mm, err := w.pf.EnsureSegment(offset)
	if err != nil {
		return err
	}
	localOffset := offset % w.pf.SegmentSize()
	ptr := (*int32)(unsafe.Pointer(&mm[localOffset]))
	atomic.StoreInt32(ptr, value)
	return nil
}

func (w *WAL) loadInt32Acquire(offset int64) (int32, error) {
	mm, err := w.pf.EnsureSegment(offset)
	if err != nil {
		return 0, err
	}
	localOffset := offset % w.pf.SegmentSize()
	ptr := (*int32)(unsafe.Pointer(&mm[localOffset]))
	return atomic.LoadInt32(ptr), nil
}

func fetchMaxInt64(a *atomic.Int64, val int64) {
	for {
		cur := a.Load()
		if val <= cur {
			return
		}
		if a.CompareAndSwap(cur, val) {
			return
		}
	}
}

// Flush flushes the underlying PagedFile's dirty pages.
func (w *WAL) Flush() error { return w.pf.Flush() }

// Close flushes and closes the WAL.
func (w *WAL) Close() error { return w.pf.Close() }
