package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// BadgerEngine implements KVEngine using Badger v3.
type BadgerEngine struct {
	db       *badger.DB
	cfg      BadgerConfig
	inMemory bool
	logger   *slog.Logger
	closed   atomic.Bool

	lastGCTime atomic.Int64 // Unix milliseconds
	gcRuns     atomic.Uint64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsGCRuns       prometheus.Counter

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBadgerEngine opens a Badger-based KV engine.
func NewBadgerEngine(cfg KVConfig, logger *slog.Logger) (*BadgerEngine, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger")

	interval, err := cfg.Badger.gcInterval()
	if err != nil {
		return nil, fmt.Errorf("badger: gc_interval: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}
	if cfg.Badger.CacheSize > 0 {
		opts.BlockCacheSize = cfg.Badger.CacheSize
	}
	if cfg.Badger.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.Badger.ValueLogFileSize
	}
	opts.SyncWrites = cfg.Badger.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	e := &BadgerEngine{
		db:       db,
		cfg:      cfg.Badger,
		inMemory: cfg.InMemory,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	// Value log GC is not available in memory.
	if !cfg.InMemory {
		e.wg.Add(1)
		go e.gcLoop(interval)
	}

	logger.Info("badger engine started",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", interval)
	return e, nil
}

// Get retrieves a value by key.
func (e *BadgerEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores a key-value pair.
func (e *BadgerEngine) Set(ctx context.Context, key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes a key. Deleting a missing key is not an error.
func (e *BadgerEngine) Delete(ctx context.Context, key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Scan iterates over keys with a given prefix.
func (e *BadgerEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				break
			}
		}
		return nil
	})
}

// DeletePrefix removes all keys under prefix in one write batch.
func (e *BadgerEngine) DeletePrefix(ctx context.Context, prefix []byte) (int, error) {
	var keys [][]byte
	err := e.Scan(ctx, prefix, func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	wb := e.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// GC runs value log garbage collection until Badger reports nothing left
// to rewrite.
func (e *BadgerEngine) GC(ctx context.Context) (int, error) {
	if e.inMemory {
		return 0, nil
	}
	start := time.Now()
	runs := 0
	for ctx.Err() == nil {
		err := e.db.RunValueLogGC(e.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return runs, fmt.Errorf("gc: %w", err)
		}
		runs++
	}

	e.lastGCTime.Store(time.Now().UnixMilli())
	e.gcRuns.Add(uint64(runs))
	if e.metricsGCRuns != nil {
		e.metricsGCRuns.Add(float64(runs))
	}
	e.logger.Debug("gc completed", "rewrites", runs, "elapsed", time.Since(start))
	return runs, nil
}

// Stats returns storage statistics.
func (e *BadgerEngine) Stats(ctx context.Context) (*KVStats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	lsm, vlog := e.db.Size()
	return &KVStats{
		TotalSize:    uint64(lsm + vlog),
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		LastGCTime:   e.lastGCTime.Load(),
		GCRuns:       e.gcRuns.Load(),
	}, nil
}

// Close stops background loops and closes the database.
func (e *BadgerEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stopCh)
	e.wg.Wait()

	if err := e.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	e.logger.Info("badger engine closed")
	return nil
}

// RegisterMetrics registers Badger size and GC metrics with registerer and
// starts refreshing them.
func (e *BadgerEngine) RegisterMetrics(registerer prometheus.Registerer) *BadgerEngine {
	e.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jalsync",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	e.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jalsync",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	e.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jalsync",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})
	e.metricsGCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jalsync",
		Subsystem: "badger",
		Name:      "gc_rewrites_total",
		Help:      "Value log files rewritten by Badger garbage collection",
	})

	registerer.MustRegister(
		e.metricsLSMSize,
		e.metricsValueLogSize,
		e.metricsLastGCTime,
		e.metricsGCRuns,
	)

	e.wg.Add(1)
	go e.metricsLoop(15 * time.Second)
	return e
}

func (e *BadgerEngine) refreshMetrics() {
	stats, err := e.Stats(context.Background())
	if err != nil {
		return
	}
	e.metricsLSMSize.Set(float64(stats.LSMSize))
	e.metricsValueLogSize.Set(float64(stats.ValueLogSize))
	if stats.LastGCTime > 0 {
		e.metricsLastGCTime.Set(float64(stats.LastGCTime) / 1000.0)
	}
}

func (e *BadgerEngine) metricsLoop(every time.Duration) {
	defer e.wg.Done()
	e.refreshMetrics()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.refreshMetrics()
		case <-e.stopCh:
			return
		}
	}
}

func (e *BadgerEngine) gcLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := e.GC(ctx); err != nil {
				e.logger.Error("auto gc failed", "error", err)
			}
			cancel()
		case <-e.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
