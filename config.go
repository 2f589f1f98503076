package lsmkv

import "go.uber.org/zap"

// Config holds database settings which are updated with ConfigOption
// functions: a memtable byte budget, whether the WAL is enabled, the
// sparse-index stride, and a logger.
type Config struct {
	maxMemtableSize   int
	walEnabled        bool
	sparseIndexStride int
	logger            *zap.SugaredLogger
}

func defaultConfig() Config {
	return Config{
		maxMemtableSize:   defaultMemtableByteBudget,
		walEnabled:        true,
		sparseIndexStride: sparseIndexStride,
		logger:            zap.NewNop().Sugar(),
	}
}

// ConfigOption helps to change default database settings.
type ConfigOption func(*Config)

// WithMaxMemtableSize sets the approximate maximum memtable size in bytes
// before it is rotated and flushed to a new segment.
func WithMaxMemtableSize(threshold int) ConfigOption {
	return func(c *Config) {
		c.maxMemtableSize = threshold
	}
}

// WithWALEnabled toggles whether puts are written to the write-ahead log
// before being acknowledged. Disabling it trades crash durability for
// throughput; it defaults to enabled.
func WithWALEnabled(enabled bool) ConfigOption {
	return func(c *Config) {
		c.walEnabled = enabled
	}
}

// WithSparseIndexStride overrides the default sparse-index stride. Mostly
// useful for tests that want to exercise multi-entry sparse indexes
// without writing megabytes of data.
func WithSparseIndexStride(stride int) ConfigOption {
	return func(c *Config) {
		c.sparseIndexStride = stride
	}
}

// WithLogger sets the structured logger used for engine lifecycle events,
// corrupt-segment skip-and-log at open, and background flush failures.
// Defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) ConfigOption {
	return func(c *Config) {
		if log != nil {
			c.logger = log
		}
	}
}
