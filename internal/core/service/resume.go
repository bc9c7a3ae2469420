package service

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/protocol/record"
	"github.com/yndnr/jalsync-go/internal/protocol/wire"
)

// ResumeStore persists journal resume points.
type ResumeStore interface {
	SaveResume(ctx context.Context, key, id string, offset int64) error
	LoadResume(ctx context.Context, key string) (id string, offset int64, ok bool, err error)
	DeleteResume(ctx context.Context, key string) error
}

// JournalResumeTracker holds at most one partially transferred journal
// record for a session. The offset drops to zero as soon as the first live
// payload byte of that record is consumed.
type JournalResumeTracker struct {
	store  ResumeStore
	key    string
	logger *slog.Logger

	mu    sync.Mutex
	state domain.ResumeState
}

// NewJournalResumeTracker creates a tracker. store may be nil.
func NewJournalResumeTracker(store ResumeStore, key string, logger *slog.Logger) *JournalResumeTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalResumeTracker{
		store:  store,
		key:    key,
		logger: logger.With("component", "resume", "key", key),
	}
}

// Set records a resume point. src yields the offset bytes already held
// locally; a Publisher passes nil. An offset of zero clears it.
func (t *JournalResumeTracker) Set(ctx context.Context, id string, offset int64, src io.Reader) error {
	if offset < 0 {
		return domain.ErrInvalidArgument.WithDetailsf("negative resume offset %d", offset)
	}
	if offset == 0 {
		t.Clear(ctx)
		return nil
	}
	if id == "" {
		return domain.ErrMissingArgument.WithDetails("resume record id")
	}

	st := domain.ResumeState{RecordID: id, Offset: offset, Source: src}
	t.mu.Lock()
	t.state = st
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SaveResume(ctx, t.key, id, offset); err != nil {
			return domain.ErrStorageError.WithCause(err)
		}
	}
	return nil
}

// Current returns the resume point, if any.
func (t *JournalResumeTracker) Current() domain.ResumeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Restore loads a persisted resume point without a local source.
func (t *JournalResumeTracker) Restore(ctx context.Context) (domain.ResumeState, error) {
	if t.store == nil {
		return domain.ResumeState{}, nil
	}
	id, off, ok, err := t.store.LoadResume(ctx, t.key)
	if err != nil {
		return domain.ResumeState{}, domain.ErrStorageError.WithCause(err)
	}
	if !ok || off <= 0 {
		return domain.ResumeState{}, nil
	}
	t.mu.Lock()
	t.state = domain.ResumeState{RecordID: id, Offset: off}
	st := t.state
	t.mu.Unlock()
	return st, nil
}

// ReaderOptions returns the record reader options for an incoming record.
// wireOffset is the offset announced in the record header; it must match
// the tracked offset for the same record and be zero otherwise.
func (t *JournalResumeTracker) ReaderOptions(ctx context.Context, env domain.RecordEnvelope, wireOffset int64) ([]record.ReaderOption, error) {
	t.mu.Lock()
	st := t.state
	t.mu.Unlock()

	if !st.Active() || st.RecordID != env.RecordID {
		if wireOffset > 0 {
			return nil, wire.UnexpectedValue(wire.HeaderJournalOffset, strconv.FormatInt(wireOffset, 10))
		}
		return nil, nil
	}
	if wireOffset != st.Offset {
		return nil, wire.UnexpectedValue(wire.HeaderJournalOffset, strconv.FormatInt(wireOffset, 10))
	}
	return []record.ReaderOption{
		record.WithResume(st.Offset, st.Source),
		record.WithLiveHook(func() { t.Clear(ctx) }),
	}, nil
}

// Clear drops the resume point.
func (t *JournalResumeTracker) Clear(ctx context.Context) {
	t.mu.Lock()
	had := t.state.Active()
	t.state = domain.ResumeState{}
	t.mu.Unlock()

	if had && t.store != nil {
		if err := t.store.DeleteResume(ctx, t.key); err != nil {
			t.logger.Warn("delete resume point failed", "error", err)
		}
	}
}

// Complete drops the resume point if it belongs to id. It covers a resumed
// record whose payload had fully arrived, where no live byte follows.
func (t *JournalResumeTracker) Complete(ctx context.Context, id string) {
	t.mu.Lock()
	mine := t.state.Active() && t.state.RecordID == id
	t.mu.Unlock()
	if mine {
		t.Clear(ctx)
	}
}

// Handoff returns the remaining resume point and forgets it in memory.
// The persisted copy is kept.
func (t *JournalResumeTracker) Handoff() domain.ResumeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state
	t.state = domain.ResumeState{}
	return st
}
