package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/core/service"
	tlog "github.com/yndnr/jalsync-go/internal/telemetry/logger"
)

const (
	pendingPrefix = "pending/"
	resumePrefix  = "resume/"
)

// StateStore persists pending digests and journal resume points on a
// KVEngine. It implements service.PendingStore and service.ResumeStore.
type StateStore struct {
	kv     KVEngine
	logger *slog.Logger
}

var (
	_ service.PendingStore = (*StateStore)(nil)
	_ service.ResumeStore  = (*StateStore)(nil)
)

// NewStateStore creates a store on kv.
func NewStateStore(kv KVEngine, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{kv: kv, logger: logger.With("component", "state-store")}
}

func pendingKey(key, id string) []byte {
	return []byte(pendingPrefix + key + "/" + id)
}

func pendingScope(key string) []byte {
	return []byte(pendingPrefix + key + "/")
}

// SavePending stores pd under the session key.
func (s *StateStore) SavePending(ctx context.Context, key string, pd domain.PendingDigest) error {
	if key == "" || pd.RecordID == "" {
		return domain.ErrMissingArgument.WithDetails("pending digest key and record id")
	}
	if err := s.kv.Set(ctx, pendingKey(key, pd.RecordID), encodePending(pd)); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// log tags the logger with the session the call runs for, if any.
func (s *StateStore) log(ctx context.Context) *slog.Logger {
	if id := tlog.SessionIDFromContext(ctx); id != "" {
		return s.logger.With("session_id", id)
	}
	return s.logger
}

// DeletePending removes one pending digest.
func (s *StateStore) DeletePending(ctx context.Context, key, id string) error {
	if err := s.kv.Delete(ctx, pendingKey(key, id)); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// LoadPending returns the pending digests of key, oldest first. Entries
// that fail to decode are logged and skipped.
func (s *StateStore) LoadPending(ctx context.Context, key string) ([]domain.PendingDigest, error) {
	var out []domain.PendingDigest
	err := s.kv.Scan(ctx, pendingScope(key), func(k, v []byte) bool {
		pd, err := decodePending(v)
		if err != nil {
			s.log(ctx).Warn("skipping corrupt pending digest", "key", string(k), "error", err)
			return true
		}
		if pd.RecordID == "" {
			pd.RecordID = string(bytes.TrimPrefix(k, pendingScope(key)))
		}
		out = append(out, pd)
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	sortPending(out)
	return out, nil
}

// ClearPending drops every pending digest of key.
func (s *StateStore) ClearPending(ctx context.Context, key string) (int, error) {
	n, err := s.kv.DeletePrefix(ctx, pendingScope(key))
	if err != nil {
		return n, domain.ErrStorageError.WithCause(err)
	}
	return n, nil
}

// PendingCounts returns the number of persisted pending digests per
// session key.
func (s *StateStore) PendingCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.kv.Scan(ctx, []byte(pendingPrefix), func(k, _ []byte) bool {
		rest := strings.TrimPrefix(string(k), pendingPrefix)
		if i := strings.LastIndexByte(rest, '/'); i > 0 {
			counts[rest[:i]]++
		}
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return counts, nil
}

// SaveResume stores the resume point of key, replacing any earlier one.
func (s *StateStore) SaveResume(ctx context.Context, key, id string, offset int64) error {
	if key == "" || id == "" {
		return domain.ErrMissingArgument.WithDetails("resume key and record id")
	}
	if err := s.kv.Set(ctx, []byte(resumePrefix+key), encodeResume(id, offset)); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

// LoadResume returns the resume point of key.
func (s *StateStore) LoadResume(ctx context.Context, key string) (string, int64, bool, error) {
	v, err := s.kv.Get(ctx, []byte(resumePrefix+key))
	if errors.Is(err, ErrKeyNotFound) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, domain.ErrStorageError.WithCause(err)
	}
	id, off, err := decodeResume(v)
	if err != nil {
		s.log(ctx).Warn("discarding corrupt resume point", "key", key, "error", err)
		return "", 0, false, nil
	}
	return id, off, true, nil
}

// DeleteResume removes the resume point of key.
func (s *StateStore) DeleteResume(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, []byte(resumePrefix+key)); err != nil {
		return domain.ErrStorageError.WithCause(err)
	}
	return nil
}

func sortPending(pds []domain.PendingDigest) {
	slices.SortFunc(pds, func(a, b domain.PendingDigest) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		return strings.Compare(a.RecordID, b.RecordID)
	})
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}
