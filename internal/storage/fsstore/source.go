package fsstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/protocol/record"
)

// Source serves record directories to Publisher sessions.
type Source struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	changed chan struct{}
}

var (
	_ service.RecordSource   = (*Source)(nil)
	_ service.ChangeNotifier = (*Source)(nil)
)

// NewSource creates a source rooted at root.
func NewSource(root string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		root:    root,
		logger:  logger.With("component", "fs-source", "root", root),
		changed: make(chan struct{}),
	}
}

func (s *Source) typeDir(rt domain.RecordType) string {
	return filepath.Join(s.root, rt.String())
}

// NextRecord returns the first unsynced record whose name sorts after
// lastID.
func (s *Source) NextRecord(ctx context.Context, sess *domain.Session, lastID string) (*service.OutboundRecord, error) {
	entries, err := os.ReadDir(s.typeDir(sess.RecordType))
	if os.IsNotExist(err) {
		return nil, service.ErrNoRecord
	}
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if !e.IsDir() || !validName(name) || name <= lastID {
			continue
		}
		if exists(filepath.Join(s.typeDir(sess.RecordType), name, SyncedFile)) {
			continue
		}
		ob, err := s.open(sess.RecordType, name)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "id", name, "error", err)
			continue
		}
		return ob, nil
	}
	return nil, service.ErrNoRecord
}

// OpenRecord reopens id for journal resume.
func (s *Source) OpenRecord(_ context.Context, sess *domain.Session, id string) (*service.OutboundRecord, error) {
	if !validName(id) {
		return nil, service.ErrNoRecord
	}
	ob, err := s.open(sess.RecordType, id)
	if errors.Is(err, os.ErrNotExist) {
		return nil, service.ErrNoRecord
	}
	return ob, err
}

func (s *Source) open(rt domain.RecordType, id string) (*service.OutboundRecord, error) {
	dir := filepath.Join(s.typeDir(rt), id)
	sysLen, err := fileSize(filepath.Join(dir, SysMetaFile))
	if err != nil {
		return nil, err
	}
	if sysLen == 0 {
		return nil, os.ErrNotExist
	}
	appLen, err := fileSize(filepath.Join(dir, AppMetaFile))
	if err != nil {
		return nil, err
	}
	payloadLen, err := fileSize(filepath.Join(dir, PayloadFile))
	if err != nil {
		return nil, err
	}

	sys := &lazyFile{path: filepath.Join(dir, SysMetaFile)}
	app := &lazyFile{path: filepath.Join(dir, AppMetaFile)}
	payload := &lazyFile{path: filepath.Join(dir, PayloadFile)}
	return &service.OutboundRecord{
		Envelope: domain.RecordEnvelope{
			RecordID:      id,
			RecordType:    rt,
			SysMetaLength: sysLen,
			AppMetaLength: appLen,
			PayloadLength: payloadLen,
		},
		Source: record.Source{SysMeta: sys, AppMeta: app, Payload: payload},
		Close: func() error {
			return errors.Join(sys.Close(), app.Close(), payload.Close())
		},
	}, nil
}

func (s *Source) OnRecordComplete(_ context.Context, sess *domain.Session, id string, _ []byte) {
	s.logger.Debug("record sent", "session_id", sess.ID, "id", id)
}

// OnSync marks id as delivered so it is not sent again.
func (s *Source) OnSync(_ context.Context, sess *domain.Session, id string) {
	if !validName(id) {
		return
	}
	marker := filepath.Join(s.typeDir(sess.RecordType), id, SyncedFile)
	stamp := []byte(time.Now().UTC().Format(time.RFC3339) + " " + sess.PeerID + "\n")
	if err := os.WriteFile(marker, stamp, 0o644); err != nil {
		s.logger.Warn("write sync marker failed", "id", id, "error", err)
	}
}

func (s *Source) OnRecordFailure(_ context.Context, sess *domain.Session, id string, reasons []domain.RejectionReason) {
	s.logger.Warn("subscriber rejected record",
		"session_id", sess.ID,
		"id", id,
		"reasons", domain.JoinReasons(reasons))
}

// Changed implements service.ChangeNotifier.
func (s *Source) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Source) notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// Watch reports new records to live sessions until ctx ends. It watches
// the record type directories that exist when it starts.
func (s *Source) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, rt := range domain.AllRecordTypes {
		dir := s.typeDir(rt)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := w.Add(dir); err != nil {
			return err
		}
	}
	s.logger.Info("watching record directories")

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				s.logger.Debug("record directory changed", "path", event.Name)
				s.notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("record watcher error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}
