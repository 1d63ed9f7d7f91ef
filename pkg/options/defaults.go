package options

import "time"

const (
	// DefaultDataDir is the base directory where an Axon store will keep its
	// dictionary, per-field stores, WAL, HNSW and inverted indexes if no
	// other directory is specified during initialization.
	DefaultDataDir = "/var/lib/vulcanodb/axon"

	// MinSegmentSize is the minimum allowed size for a KVStore segment file (16MB).
	MinSegmentSize uint64 = 16 * 1024 * 1024

	// MaxSegmentSize is the maximum allowed size for a KVStore segment file (4GB).
	MaxSegmentSize uint64 = 4 * 1024 * 1024 * 1024

	// DefaultSegmentSize is the default target size for a new KVStore segment file (256MB).
	DefaultSegmentSize uint64 = 256 * 1024 * 1024

	// DefaultSegmentDirectory is the default subdirectory (relative to a
	// KVStore's own directory) where segment files are stored.
	DefaultSegmentDirectory = "segment"

	// DefaultSegmentPrefix is the default prefix for segment file names,
	// e.g. "segment-00001.dat" in PagedFile's "<prefix>-NNNNN.dat" scheme.
	DefaultSegmentPrefix = "segment"

	// MinWalSegmentSize is the minimum allowed size for a WAL segment file (4MB).
	MinWalSegmentSize uint64 = 4 * 1024 * 1024

	// MaxWalSegmentSize is the maximum allowed size for a WAL segment file (1GB).
	MaxWalSegmentSize uint64 = 1 * 1024 * 1024 * 1024

	// DefaultWalSegmentSize is the default size of a WAL segment file (64MB).
	DefaultWalSegmentSize uint64 = 64 * 1024 * 1024

	// DefaultWalDirectory is the default subdirectory (relative to DataDir)
	// holding WAL segments and metadata.
	DefaultWalDirectory = "wal"

	// DefaultBucketCount is the default number of buckets a HashIndex hashes keys into (2^16).
	DefaultBucketCount uint32 = 1 << 16

	// DefaultCheckpointInterval is how often the store attempts a background WAL checkpoint.
	DefaultCheckpointInterval = 5 * time.Minute

	// DefaultHNSWBlockSize is the default number of vectors per PagedVectorIndex page.
	DefaultHNSWBlockSize = 1024

	// DefaultHNSWEfConstruction is the default dynamic candidate list size used during insertion.
	DefaultHNSWEfConstruction = 200

	// DefaultHNSWEfSearch is the default dynamic candidate list size used during search.
	DefaultHNSWEfSearch = 200

	// DefaultHNSWM is the default number of bidirectional connections created
	// per inserted vector at layers above 0.
	DefaultHNSWM = 16
)

// defaultOptions holds the default configuration settings for an Axon store.
var defaultOptions = Options{
	DataDir: DefaultDataDir,
	SegmentOptions: &segmentOptions{
		Size:      DefaultSegmentSize,
		Prefix:    DefaultSegmentPrefix,
		Directory: DefaultSegmentDirectory,
	},
	WalOptions: &walOptions{
		SegmentSize: DefaultWalSegmentSize,
		Directory:   DefaultWalDirectory,
	},
	HNSWOptions: &hnswOptions{
		BlockSize:      DefaultHNSWBlockSize,
		EfConstruction: DefaultHNSWEfConstruction,
		EfSearch:       DefaultHNSWEfSearch,
		M:              DefaultHNSWM,
		MMax:           DefaultHNSWM,
		MMax0:          2 * DefaultHNSWM,
	},
	BucketCount:        DefaultBucketCount,
	WriterConcurrency:  0,
	CheckpointInterval: DefaultCheckpointInterval,
}

// NewDefaultOptions returns a copy of Axon's default configuration, safe for
// the caller to further mutate via OptionFunc or direct field assignment.
func NewDefaultOptions() Options {
	opts := defaultOptions
	segCopy := *defaultOptions.SegmentOptions
	walCopy := *defaultOptions.WalOptions
	hnswCopy := *defaultOptions.HNSWOptions
	opts.SegmentOptions = &segCopy
	opts.WalOptions = &walCopy
	opts.HNSWOptions = &hnswCopy
	return opts
}
