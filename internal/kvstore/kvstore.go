// Package kvstore composes a DataLog, a HashIndex and a small metadata file
// into a single-key durable typed store: put<T>(key, value) appends to the
// log and indexes the offset; get<T>(key) looks the offset up and decodes
// it, failing on a type-tag mismatch; remove(key) tombstones the index
// entry. Crash consistency comes from never advancing the metadata file's
// committed offsets past a fully-published DataLog entry.
package kvstore

import (
	"crypto/crc32"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/vulcanodb/axon/internal/datalog"
	"github.com/vulcanodb/axon/internal/hashindex"
	"github.com/vulcanodb/axon/pkg/errors"
	"github.com/vulcanodb/axon/pkg/filesys"
)

const metadataFileName = "metadata.dat"

// metadata is the on-disk crash-consistency record: two committed offsets
// plus a CRC over them, atomically replaced (write new, fsync, rename) on
// every commit.
type metadata struct {
	DataLogCommitted   int64
	HashIndexCommitted int64
}

const metadataSize = 8 + 8 + 4 // two int64 + crc32

func encodeMetadata(m metadata) []byte {
	buf := make([]byte, metadataSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.DataLogCommitted))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.HashIndexCommitted))
	crc := crc32.ChecksumIEEE(buf[0:16])
	binary.LittleEndian.PutUint32(buf[16:20], crc)
	return buf
}

func decodeMetadata(buf []byte) (metadata, error) {
	if len(buf) != metadataSize {
		return metadata{}, fmt.Errorf("kvstore: metadata file has unexpected size %d", len(buf))
	}
	crc := crc32.ChecksumIEEE(buf[0:16])
	if crc != binary.LittleEndian.Uint32(buf[16:20]) {
		return metadata{}, errors.NewStorageError(nil, errors.ErrorCodeSegmentCorrupted, "kvstore: metadata checksum mismatch")
	}
	return metadata{
		DataLogCommitted:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		HashIndexCommitted: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}, nil
}

// Config holds the parameters needed to open a KVStore.
type Config struct {
	Directory            string
	DataSegmentSize      int64
	DataSegmentPrefix    string
	IndexSegmentSize     int64
	HashIndexBucketCount uint32
	Logger               *zap.SugaredLogger
}

// KVStore is a single-key typed store composing a DataLog, a HashIndex and
// a durable metadata file.
type KVStore struct {
	dir string
	dl  *datalog.DataLog
	hi  *hashindex.HashIndex
	log *zap.SugaredLogger

	commitMu sync.Mutex
}

// Open opens (creating and/or recovering as necessary) the KVStore rooted
// at cfg.Directory.
func Open(cfg Config) (*KVStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.DataSegmentPrefix == "" {
		cfg.DataSegmentPrefix = "segment"
	}

	if err := filesys.CreateDir(cfg.Directory, 0755, true); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "kvstore: failed to create directory").
			WithPath(cfg.Directory)
	}

	dl, err := datalog.Open(datalog.Config{
		Directory:     filepath.Join(cfg.Directory, "data", "segment"),
		SegmentSize:   cfg.DataSegmentSize,
		SegmentPrefix: cfg.DataSegmentPrefix,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	hi, err := hashindex.Open(hashindex.Config{
		Directory:   filepath.Join(cfg.Directory, "index"),
		BucketCount: cfg.HashIndexBucketCount,
		SegmentSize: cfg.IndexSegmentSize,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	kv := &KVStore{dir: cfg.Directory, dl: dl, hi: hi, log: cfg.Logger}

	meta, ok, err := kv.readMetadata()
	if err != nil {
		return nil, err
	}
	if ok {
		dl.SetWatermarks(meta.DataLogCommitted, meta.DataLogCommitted)
		if err := hi.Recover(); err != nil {
			return nil, err
		}
	}

	return kv, nil
}

func (kv *KVStore) metadataPath() string {
	return filepath.Join(kv.dir, metadataFileName)
}

func (kv *KVStore) readMetadata() (metadata, bool, error) {
	buf, err := os.ReadFile(kv.metadataPath())
	if os.IsNotExist(err) {
		return metadata{}, false, nil
	}
	if err != nil {
		return metadata{}, false, errors.NewStorageError(err, errors.ErrorCodeIO, "kvstore: failed to read metadata file").
			WithPath(kv.metadataPath())
	}
	m, err := decodeMetadata(buf)
	if err != nil {
		return metadata{}, false, err
	}
	return m, true, nil
}

// Commit atomically replaces the metadata file (write new, fsync, rename)
// recording the current DataLog and HashIndex committed watermarks.
func (kv *KVStore) Commit() error {
	kv.commitMu.Lock()
	defer kv.commitMu.Unlock()

	m := metadata{
		DataLogCommitted:   kv.dl.Committed(),
		HashIndexCommitted: kv.hi.CommittedApprox(),
	}
	buf := encodeMetadata(m)

	tmpPath := kv.metadataPath() + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "kvstore: failed to create temp metadata file").
			WithPath(tmpPath)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return errors.NewStorageError(err, errors.ErrorCodeIO, "kvstore: failed to write metadata").WithPath(tmpPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.NewStorageError(err, errors.ErrorCodeIO, "kvstore: failed to fsync metadata").WithPath(tmpPath)
	}
	if err := f.Close(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "kvstore: failed to close metadata file").WithPath(tmpPath)
	}
	if err := os.Rename(tmpPath, kv.metadataPath()); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "kvstore: failed to rename metadata file into place").
			WithPath(kv.metadataPath())
	}
	return nil
}

func (kv *KVStore) put(key string, write func() (int64, error), commit bool) (int64, error) {
	offset, err := write()
	if err != nil {
		return 0, err
	}
	if _, err := kv.hi.Put(key, offset); err != nil {
		return 0, err
	}
	if commit {
		if err := kv.Commit(); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// PutString appends a String value for key, indexing and optionally committing it.
func (kv *KVStore) PutString(key, value string, commit bool) (int64, error) {
	return kv.put(key, func() (int64, error) { return kv.dl.PutString(key, value) }, commit)
}

// PutInt appends an Integer value for key, indexing and optionally committing it.
func (kv *KVStore) PutInt(key string, value int32, commit bool) (int64, error) {
	return kv.put(key, func() (int64, error) { return kv.dl.PutInt(key, value) }, commit)
}

// PutFloatArray appends a FloatArray value for key, indexing and optionally committing it.
func (kv *KVStore) PutFloatArray(key string, value []float32, commit bool) (int64, error) {
	return kv.put(key, func() (int64, error) { return kv.dl.PutFloatArray(key, value) }, commit)
}

// PutFloatMatrix appends a FloatMatrix value for key, indexing and optionally committing it.
func (kv *KVStore) PutFloatMatrix(key string, value [][]float32, commit bool) (int64, error) {
	return kv.put(key, func() (int64, error) { return kv.dl.PutFloatMatrix(key, value) }, commit)
}

// PutBytes appends a Bytes value for key, indexing and optionally committing it.
func (kv *KVStore) PutBytes(key string, value []byte, commit bool) (int64, error) {
	return kv.put(key, func() (int64, error) { return kv.dl.PutBytes(key, value) }, commit)
}

// Remove tombstones key in the hash index. The DataLog entry itself is left
// in place; it becomes unreachable once no live index entry points to it.
func (kv *KVStore) Remove(key string) error {
	return kv.hi.Remove(key)
}

func (kv *KVStore) lookup(key string) (int64, bool, error) {
	return kv.hi.Get(key)
}

// GetString reads the String value stored under key.
func (kv *KVStore) GetString(key string) (string, bool, error) {
	offset, ok, err := kv.lookup(key)
	if err != nil || !ok {
		return "", ok, err
	}
	v, err := kv.dl.GetString(offset)
	return v, true, err
}

// GetInt reads the Integer value stored under key.
func (kv *KVStore) GetInt(key string) (int32, bool, error) {
	offset, ok, err := kv.lookup(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := kv.dl.GetInt(offset)
	return v, true, err
}

// GetFloatArray reads the FloatArray value stored under key.
func (kv *KVStore) GetFloatArray(key string) ([]float32, bool, error) {
	offset, ok, err := kv.lookup(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := kv.dl.GetFloatArray(offset)
	return v, true, err
}

// GetFloatMatrix reads the FloatMatrix value stored under key.
func (kv *KVStore) GetFloatMatrix(key string) ([][]float32, bool, error) {
	offset, ok, err := kv.lookup(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := kv.dl.GetFloatMatrix(offset)
	return v, true, err
}

// GetBytes reads the Bytes value stored under key.
func (kv *KVStore) GetBytes(key string) ([]byte, bool, error) {
	offset, ok, err := kv.lookup(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	v, err := kv.dl.GetBytes(offset)
	return v, true, err
}

// GetStringAt reads a raw String entry directly by DataLog offset, bypassing
// the hash index. Used by DocumentPersister to iterate the dictionary in
// insertion order by walking internal ids directly.
func (kv *KVStore) GetStringAt(offset int64) (string, error) {
	return kv.dl.GetString(offset)
}

// DataLog exposes the underlying log for components (the dictionary in
// particular) that need raw-offset access beyond the key-indexed API.
func (kv *KVStore) DataLog() *datalog.DataLog { return kv.dl }

// HashIndex exposes the underlying hash index for components (the
// inverted index in particular) that need to enumerate every live key.
func (kv *KVStore) HashIndex() *hashindex.HashIndex { return kv.hi }

// Flush flushes both the DataLog and HashIndex's dirty pages.
func (kv *KVStore) Flush() error {
	closeErr := errors.NewCloseError()
	if err := kv.dl.Flush(); err != nil {
		closeErr.Add("datalog", err)
	}
	if err := kv.hi.Flush(); err != nil {
		closeErr.Add("hashindex", err)
	}
	return closeErr.OrNil()
}

// Close commits the current watermarks and closes both the DataLog and HashIndex.
func (kv *KVStore) Close() error {
	closeErr := errors.NewCloseError()
	if err := kv.Commit(); err != nil {
		closeErr.Add("commit", err)
	}
	if err := kv.dl.Close(); err != nil {
		closeErr.Add("datalog", err)
	}
	if err := kv.hi.Close(); err != nil {
		closeErr.Add("hashindex", err)
	}
	return closeErr.OrNil()
}
