package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// SQLiteFile is the database file name inside KVConfig.Dir.
const SQLiteFile = "state.db"

// SQLiteConfig contains SQLite-specific tuning parameters.
type SQLiteConfig struct {
	// BusyTimeout is how long a writer waits for a lock.
	// Default: 5s
	BusyTimeout time.Duration `koanf:"busy_timeout"`

	// Synchronous is the PRAGMA synchronous level: OFF, NORMAL or FULL.
	// Default: NORMAL
	Synchronous string `koanf:"synchronous"`
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{BusyTimeout: 5 * time.Second, Synchronous: "NORMAL"}
}

// SQLiteEngine implements KVEngine on a single SQLite table.
type SQLiteEngine struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed atomic.Bool

	lastGCTime atomic.Int64
	gcRuns     atomic.Uint64
}

// NewSQLiteEngine opens or creates the state database.
func NewSQLiteEngine(cfg KVConfig, logger *slog.Logger) (*SQLiteEngine, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("sqlite: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sqlite")

	sync := cfg.SQLite.Synchronous
	switch sync {
	case "":
		sync = "NORMAL"
	case "OFF", "NORMAL", "FULL":
	default:
		return nil, fmt.Errorf("sqlite: unknown synchronous level %q", sync)
	}
	busy := cfg.SQLite.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := ":memory:"
	path := ""
	if !cfg.InMemory {
		path = filepath.Join(cfg.Dir, SQLiteFile)
		dsn = "file:" + path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busy.Milliseconds()),
		"PRAGMA synchronous=" + sync + ";",
	}
	if !cfg.InMemory {
		pragmas = append([]string{"PRAGMA journal_mode=WAL;"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: set %s: %w", p, err)
		}
	}
	const schema = `CREATE TABLE IF NOT EXISTS kv (
  k BLOB PRIMARY KEY,
  v BLOB NOT NULL
) WITHOUT ROWID;`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	logger.Info("sqlite engine started", "path", path, "in_memory", cfg.InMemory, "synchronous", sync)
	return &SQLiteEngine{db: db, path: path, logger: logger}, nil
}

// Get retrieves a value by key.
func (e *SQLiteEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	var v []byte
	err := e.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set stores a key-value pair.
func (e *SQLiteEngine) Set(ctx context.Context, key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO kv(k, v) VALUES(?, ?) ON CONFLICT(k) DO UPDATE SET v=excluded.v`,
		key, value)
	return err
}

// Delete removes a key. Deleting a missing key is not an error.
func (e *SQLiteEngine) Delete(ctx context.Context, key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	_, err := e.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key)
	return err
}

// Scan iterates over keys with prefix in key order.
func (e *SQLiteEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	query, args := prefixRange(`SELECT k, v FROM kv`, prefix)
	rows, err := e.db.QueryContext(ctx, query+` ORDER BY k`, args...)
	if err != nil {
		return err
	}
	// Values are collected first so fn may write through the same engine
	// without waiting on the single connection.
	type pair struct{ k, v []byte }
	var all []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.k, &p.v); err != nil {
			_ = rows.Close()
			return err
		}
		all = append(all, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, p := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(p.k, p.v) {
			break
		}
	}
	return nil
}

// DeletePrefix removes all keys under prefix in one statement.
func (e *SQLiteEngine) DeletePrefix(ctx context.Context, prefix []byte) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	query, args := prefixRange(`DELETE FROM kv`, prefix)
	res, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GC checkpoints and truncates the write-ahead log.
func (e *SQLiteEngine) GC(ctx context.Context) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	if e.path == "" {
		return 0, nil
	}
	if _, err := e.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
		return 0, fmt.Errorf("gc: %w", err)
	}
	e.lastGCTime.Store(time.Now().UnixMilli())
	e.gcRuns.Add(1)
	return 1, nil
}

// Stats returns the database size. The WAL is reported as the value log.
func (e *SQLiteEngine) Stats(ctx context.Context) (*KVStats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	var pages, size int64
	if err := e.db.QueryRowContext(ctx, `PRAGMA page_count;`).Scan(&pages); err != nil {
		return nil, err
	}
	if err := e.db.QueryRowContext(ctx, `PRAGMA page_size;`).Scan(&size); err != nil {
		return nil, err
	}
	var wal uint64
	if e.path != "" {
		if fi, err := os.Stat(e.path + "-wal"); err == nil {
			wal = uint64(fi.Size())
		}
	}
	main := uint64(pages * size)
	return &KVStats{
		TotalSize:    main + wal,
		LSMSize:      main,
		ValueLogSize: wal,
		LastGCTime:   e.lastGCTime.Load(),
		GCRuns:       e.gcRuns.Load(),
	}, nil
}

// Close closes the database.
func (e *SQLiteEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	e.logger.Info("sqlite engine closed")
	return nil
}

// prefixRange appends a key range matching prefix to stmt.
func prefixRange(stmt string, prefix []byte) (string, []any) {
	if len(prefix) == 0 {
		return stmt, nil
	}
	if end := prefixEnd(prefix); end != nil {
		return stmt + ` WHERE k >= ? AND k < ?`, []any{prefix, end}
	}
	return stmt + ` WHERE k >= ?`, []any{prefix}
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
