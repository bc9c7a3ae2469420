package fsstore

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
	"github.com/yndnr/jalsync-go/internal/core/service"
)

// Sink stores records received by Subscriber sessions.
type Sink struct {
	root   string
	logger *slog.Logger
}

var (
	_ service.RecordSink     = (*Sink)(nil)
	_ service.ResumeProvider = (*Sink)(nil)
	_ service.Handoff        = (*Sink)(nil)
)

// NewSink creates a sink rooted at root.
func NewSink(root string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{root: root, logger: logger.With("component", "fs-sink", "root", root)}
}

// publisherDir names the directory that collects records of one publisher.
func publisherDir(s *domain.Session) string {
	if validName(s.PublisherID) {
		return s.PublisherID
	}
	host := s.PeerID
	if h, _, err := net.SplitHostPort(s.PeerID); err == nil {
		host = h
	}
	host = strings.NewReplacer(":", "_", "/", "_", `\`, "_").Replace(host)
	if !validName(host) {
		return "unknown"
	}
	return host
}

func (k *Sink) typeDir(s *domain.Session) string {
	return filepath.Join(k.root, publisherDir(s), s.RecordType.String())
}

func (k *Sink) partialPath(s *domain.Session, id string) string {
	return filepath.Join(k.typeDir(s), partialDir, id)
}

func (k *Sink) OnSystemMetadata(_ context.Context, s *domain.Session, env domain.RecordEnvelope, r io.Reader) bool {
	if !validName(env.RecordID) {
		k.logger.Warn("refusing record id", "session_id", s.ID, "id", env.RecordID)
		return false
	}
	dir := k.partialPath(s, env.RecordID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		k.logger.Error("create partial record failed", "id", env.RecordID, "error", err)
		return false
	}
	return k.writeFile(filepath.Join(dir, SysMetaFile), r, 0)
}

func (k *Sink) OnAppMetadata(_ context.Context, s *domain.Session, env domain.RecordEnvelope, r io.Reader) bool {
	return k.writeFile(filepath.Join(k.partialPath(s, env.RecordID), AppMetaFile), r, 0)
}

// OnPayload writes the payload. A resumed journal continues the partial
// file at env.PayloadOffset.
func (k *Sink) OnPayload(_ context.Context, s *domain.Session, env domain.RecordEnvelope, r io.Reader) bool {
	if env.PayloadOffset < 0 || env.PayloadOffset > env.PayloadLength {
		k.logger.Warn("payload offset out of range", "id", env.RecordID, "offset", env.PayloadOffset)
		return false
	}
	return k.writeFile(filepath.Join(k.partialPath(s, env.RecordID), PayloadFile), r, env.PayloadOffset)
}

func (k *Sink) OnDigest(_ context.Context, s *domain.Session, env domain.RecordEnvelope, digest []byte) bool {
	path := filepath.Join(k.partialPath(s, env.RecordID), DigestFile)
	if err := os.WriteFile(path, []byte(hex.EncodeToString(digest)+"\n"), 0o644); err != nil {
		k.logger.Error("write digest failed", "id", env.RecordID, "error", err)
		return false
	}
	return true
}

// OnDigestResponse moves a confirmed record to its final place and drops
// any other.
func (k *Sink) OnDigestResponse(_ context.Context, s *domain.Session, id string, outcome domain.DigestOutcome) bool {
	if !validName(id) {
		return outcome != domain.DigestConfirmed
	}
	partial := k.partialPath(s, id)
	if outcome != domain.DigestConfirmed {
		k.logger.Warn("discarding record", "session_id", s.ID, "id", id, "outcome", outcome)
		if err := os.RemoveAll(partial); err != nil {
			k.logger.Warn("remove partial record failed", "id", id, "error", err)
		}
		return true
	}

	final := filepath.Join(k.typeDir(s), id)
	if err := os.RemoveAll(final); err != nil {
		k.logger.Error("replace record failed", "id", id, "error", err)
		return false
	}
	if err := os.Rename(partial, final); err != nil {
		k.logger.Error("commit record failed", "id", id, "error", err)
		return false
	}
	k.logger.Debug("record committed", "session_id", s.ID, "id", id)
	return true
}

// OnJournalMissing drops the partial copy the publisher no longer has.
func (k *Sink) OnJournalMissing(_ context.Context, s *domain.Session, id string) bool {
	if !validName(id) {
		return true
	}
	if err := os.RemoveAll(k.partialPath(s, id)); err != nil {
		k.logger.Warn("remove partial journal failed", "id", id, "error", err)
		return false
	}
	return true
}

// ResumePoint offers the newest partial journal payload that has not been
// completed yet.
func (k *Sink) ResumePoint(_ context.Context, s *domain.Session) (string, int64, io.Reader, bool) {
	if s.RecordType != domain.RecordTypeJournal {
		return "", 0, nil, false
	}
	base := filepath.Join(k.typeDir(s), partialDir)
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", 0, nil, false
	}

	var (
		bestID   string
		bestSize int64
		bestTime time.Time
	)
	for _, e := range entries {
		if !e.IsDir() || !validName(e.Name()) {
			continue
		}
		dir := filepath.Join(base, e.Name())
		if exists(filepath.Join(dir, DigestFile)) {
			continue
		}
		fi, err := os.Stat(filepath.Join(dir, PayloadFile))
		if err != nil || fi.Size() == 0 {
			continue
		}
		if bestID == "" || fi.ModTime().After(bestTime) {
			bestID, bestSize, bestTime = e.Name(), fi.Size(), fi.ModTime()
		}
	}
	if bestID == "" {
		return "", 0, nil, false
	}
	return bestID, bestSize, &lazyFile{path: filepath.Join(base, bestID, PayloadFile)}, true
}

// OnSessionClosed reports what the session left behind.
func (k *Sink) OnSessionClosed(_ context.Context, s *domain.Session, pending []domain.PendingDigest, resume domain.ResumeState) {
	if len(pending) == 0 && !resume.Active() {
		return
	}
	k.logger.Info("session closed with unfinished records",
		"session_id", s.ID,
		"pending", len(pending),
		"resume_id", resume.RecordID,
		"resume_offset", resume.Offset)
}

// writeFile copies r to path starting at offset. Bytes past offset are
// discarded first; a shorter file fails.
func (k *Sink) writeFile(path string, r io.Reader, offset int64) bool {
	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		k.logger.Error("open record file failed", "path", path, "error", err)
		return false
	}
	defer f.Close()

	if offset > 0 {
		fi, err := f.Stat()
		if err != nil || fi.Size() < offset {
			k.logger.Error("partial payload shorter than resume offset", "path", path, "offset", offset)
			return false
		}
		if err := f.Truncate(offset); err != nil {
			k.logger.Error("truncate partial payload failed", "path", path, "error", err)
			return false
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return false
		}
	}
	if _, err := io.Copy(f, r); err != nil {
		k.logger.Warn("write record file failed", "path", path, "error", err)
		return false
	}
	if err := f.Sync(); err != nil {
		k.logger.Error("sync record file failed", "path", path, "error", err)
		return false
	}
	return true
}
