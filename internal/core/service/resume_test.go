package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

type resumePoint struct {
	id     string
	offset int64
}

// mockResumeStore is an in-memory ResumeStore.
type mockResumeStore struct {
	mu     sync.Mutex
	points map[string]resumePoint
	err    error
}

func newMockResumeStore() *mockResumeStore {
	return &mockResumeStore{points: make(map[string]resumePoint)}
}

func (m *mockResumeStore) SaveResume(_ context.Context, key, id string, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.points[key] = resumePoint{id: id, offset: offset}
	return nil
}

func (m *mockResumeStore) LoadResume(_ context.Context, key string) (string, int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[key]
	return p.id, p.offset, ok, nil
}

func (m *mockResumeStore) DeleteResume(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, key)
	return nil
}

func journalEnvelope(id string) domain.RecordEnvelope {
	return domain.RecordEnvelope{
		RecordID:      id,
		RecordType:    domain.RecordTypeJournal,
		SysMetaLength: 3,
		PayloadLength: 10,
	}
}

func TestJournalResumeTracker_SetAndClear(t *testing.T) {
	store := newMockResumeStore()
	tr := NewJournalResumeTracker(store, "k", nil)
	ctx := context.Background()

	if err := tr.Set(ctx, "j1", -1, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Set(-1) error = %v, want ErrInvalidArgument", err)
	}
	if err := tr.Set(ctx, "", 5, nil); !errors.Is(err, domain.ErrMissingArgument) {
		t.Errorf("Set(no id) error = %v, want ErrMissingArgument", err)
	}

	if err := tr.Set(ctx, "j1", 4, strings.NewReader("abcd")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if st := tr.Current(); st.RecordID != "j1" || st.Offset != 4 {
		t.Errorf("Current() = %+v", st)
	}
	if _, _, ok, _ := store.LoadResume(ctx, "k"); !ok {
		t.Error("resume point was not persisted")
	}

	// Zero offset clears.
	if err := tr.Set(ctx, "j1", 0, nil); err != nil {
		t.Fatalf("Set(0) error = %v", err)
	}
	if tr.Current().Active() {
		t.Error("Set(0) should clear the resume point")
	}
	if _, _, ok, _ := store.LoadResume(ctx, "k"); ok {
		t.Error("cleared resume point still persisted")
	}
}

func TestJournalResumeTracker_SetStoreError(t *testing.T) {
	store := newMockResumeStore()
	store.err = errors.New("disk full")
	tr := NewJournalResumeTracker(store, "k", nil)

	err := tr.Set(context.Background(), "j1", 4, nil)
	if !errors.Is(err, domain.ErrStorageError) {
		t.Errorf("Set() error = %v, want ErrStorageError", err)
	}
}

func TestJournalResumeTracker_ReaderOptions(t *testing.T) {
	ctx := context.Background()
	tr := NewJournalResumeTracker(nil, "k", nil)

	opts, err := tr.ReaderOptions(ctx, journalEnvelope("j1"), 0)
	if err != nil || opts != nil {
		t.Fatalf("ReaderOptions() without resume = %v, %v", opts, err)
	}
	if _, err := tr.ReaderOptions(ctx, journalEnvelope("j1"), 3); !errors.Is(err, domain.ErrUnexpectedValue) {
		t.Errorf("offset without resume point error = %v, want ErrUnexpectedValue", err)
	}

	_ = tr.Set(ctx, "j1", 4, strings.NewReader("abcd"))
	if _, err := tr.ReaderOptions(ctx, journalEnvelope("j1"), 2); !errors.Is(err, domain.ErrUnexpectedValue) {
		t.Errorf("mismatched offset error = %v, want ErrUnexpectedValue", err)
	}
	opts, err = tr.ReaderOptions(ctx, journalEnvelope("j1"), 4)
	if err != nil {
		t.Fatalf("ReaderOptions() error = %v", err)
	}
	if len(opts) != 2 {
		t.Errorf("ReaderOptions() = %d options, want 2", len(opts))
	}

	// A different record starts from zero.
	opts, err = tr.ReaderOptions(ctx, journalEnvelope("j2"), 0)
	if err != nil || opts != nil {
		t.Errorf("ReaderOptions(other) = %v, %v", opts, err)
	}
}

func TestJournalResumeTracker_RestoreAndHandoff(t *testing.T) {
	store := newMockResumeStore()
	ctx := context.Background()
	_ = store.SaveResume(ctx, "k", "j7", 12)

	tr := NewJournalResumeTracker(store, "k", nil)
	st, err := tr.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if st.RecordID != "j7" || st.Offset != 12 || st.Source != nil {
		t.Errorf("Restore() = %+v", st)
	}

	handed := tr.Handoff()
	if handed.RecordID != "j7" {
		t.Errorf("Handoff() = %+v", handed)
	}
	if tr.Current().Active() {
		t.Error("Handoff() should forget the point in memory")
	}
	if _, _, ok, _ := store.LoadResume(ctx, "k"); !ok {
		t.Error("Handoff() should keep the persisted point")
	}
}

func TestJournalResumeTracker_Complete(t *testing.T) {
	store := newMockResumeStore()
	tr := NewJournalResumeTracker(store, "k", nil)
	ctx := context.Background()

	if err := tr.Set(ctx, "j1", 10, strings.NewReader("0123456789")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	tr.Complete(ctx, "j2")
	if st := tr.Current(); st.RecordID != "j1" {
		t.Fatalf("Complete(other) cleared the point: %+v", st)
	}

	// The whole payload was already held, so no live byte ever arrives.
	tr.Complete(ctx, "j1")
	if tr.Current().Active() {
		t.Error("Complete() left the resume point")
	}
	if _, _, ok, _ := store.LoadResume(ctx, "k"); ok {
		t.Error("Complete() left the persisted resume point")
	}
}
