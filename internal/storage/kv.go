package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KVEngine is the embedded key-value store behind a StateStore.
//
// Implementations must be safe for concurrent use and durable across
// process restarts unless configured in-memory.
type KVEngine interface {
	// Get returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Scan iterates over keys with prefix in key order.
	// Callback returns false to stop iteration.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// DeletePrefix removes every key starting with prefix and returns the
	// number removed.
	DeletePrefix(ctx context.Context, prefix []byte) (int, error)

	// GC triggers value log garbage collection and returns the number of
	// rewrite passes that reclaimed space.
	GC(ctx context.Context) (int, error)

	Stats(ctx context.Context) (*KVStats, error)
	Close() error
}

// KVStats contains storage engine statistics.
type KVStats struct {
	TotalSize    uint64
	LSMSize      uint64
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64
	GCRuns     uint64
}

// KVConfig configures the embedded KV engine.
type KVConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir      string `koanf:"dir"`
	InMemory bool   `koanf:"in_memory"`
	// Engine selects the backend: "badger" (default) or "sqlite".
	Engine string `koanf:"engine"`

	Badger BadgerConfig `koanf:"badger"`
	SQLite SQLiteConfig `koanf:"sqlite"`
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval string `koanf:"gc_interval"`

	// GCThreshold is the discard ratio that makes a value log file
	// eligible for rewrite.
	// Default: 0.5
	GCThreshold float64 `koanf:"gc_threshold"`

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64 `koanf:"cache_size"`

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 64MB
	ValueLogFileSize int64 `koanf:"value_log_file_size"`

	// SyncWrites fsyncs after each write. Pending digests are small and
	// losing the last few on power loss only causes a re-send.
	// Default: false
	SyncWrites bool `koanf:"sync_writes"`
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Dir:    dir,
		Engine: EngineBadger,
		Badger: DefaultBadgerConfig(),
		SQLite: DefaultSQLiteConfig(),
	}
}

// Engine names.
const (
	EngineBadger = "badger"
	EngineSQLite = "sqlite"
)

// OpenKV opens the engine named by cfg.Engine. When registerer is not nil
// the badger engine exports its size and GC metrics.
func OpenKV(cfg KVConfig, registerer prometheus.Registerer, logger *slog.Logger) (KVEngine, error) {
	switch cfg.Engine {
	case "", EngineBadger:
		e, err := NewBadgerEngine(cfg, logger)
		if err != nil {
			return nil, err
		}
		if registerer != nil {
			e.RegisterMetrics(registerer)
		}
		return e, nil
	case EngineSQLite:
		return NewSQLiteEngine(cfg, logger)
	}
	return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        16 << 20, // 16MB
		ValueLogFileSize: 64 << 20, // 64MB
	}
}

func (c BadgerConfig) gcInterval() (time.Duration, error) {
	if c.GCInterval == "" {
		return 10 * time.Minute, nil
	}
	return time.ParseDuration(c.GCInterval)
}
