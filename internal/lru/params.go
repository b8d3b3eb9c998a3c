package lru

// CollectionDisabled is the cache size threshold sentinel that disables
// garbage collection entirely.
const CollectionDisabled int64 = -1

// Default collection parameters.
const (
	// DefaultCacheSizeCollectionThreshold is the cache size in bytes at
	// which collection passes start running. Default: 40 MiB.
	DefaultCacheSizeCollectionThreshold int64 = 40 * 1024 * 1024

	// DefaultPercentileToCollect is the percentage of tracked sequence
	// numbers collected per pass.
	DefaultPercentileToCollect = 10

	// DefaultMaximumSequenceNumbersToCollect caps how many sequence
	// numbers one pass collects regardless of cache size.
	DefaultMaximumSequenceNumbersToCollect = 1000
)

// Params configures garbage collection passes.
type Params struct {
	// CacheSizeCollectionThreshold is the cache size in bytes below which
	// passes are skipped. CollectionDisabled (-1) disables collection.
	CacheSizeCollectionThreshold int64

	// PercentileToCollect is the percentage of tracked sequence numbers
	// to collect per pass. Must be in [0, 100].
	PercentileToCollect int

	// MaximumSequenceNumbersToCollect caps the number of sequence numbers
	// collected in one pass.
	MaximumSequenceNumbersToCollect int
}

// DefaultParams returns the standard collection parameters.
func DefaultParams() Params {
	return Params{
		CacheSizeCollectionThreshold:    DefaultCacheSizeCollectionThreshold,
		PercentileToCollect:             DefaultPercentileToCollect,
		MaximumSequenceNumbersToCollect: DefaultMaximumSequenceNumbersToCollect,
	}
}

// DisabledParams returns parameters with collection disabled.
func DisabledParams() Params {
	p := DefaultParams()
	p.CacheSizeCollectionThreshold = CollectionDisabled
	return p
}

// WithCacheSizeThreshold returns a copy of the default parameters with the
// given size threshold.
func WithCacheSizeThreshold(thresholdBytes int64) Params {
	p := DefaultParams()
	p.CacheSizeCollectionThreshold = thresholdBytes
	return p
}
