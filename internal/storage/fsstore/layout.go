package fsstore

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// File names inside a record directory.
const (
	SysMetaFile = "sys.xml"
	AppMetaFile = "app.xml"
	PayloadFile = "payload"
	DigestFile  = "digest"
	SyncedFile  = ".synced"

	partialDir = ".partial"
)

// validName reports whether id can be used as a single path element.
func validName(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\`+"\x00")
}

// WriteRecord creates a record directory under root. An empty app is not
// written.
func WriteRecord(root string, rt domain.RecordType, id string, sys, app, payload []byte) error {
	if !validName(id) {
		return domain.ErrInvalidArgument.WithDetailsf("record id %q", id)
	}
	dir := filepath.Join(root, rt.String(), id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, SysMetaFile), sys, 0o644); err != nil {
		return err
	}
	if len(app) > 0 {
		if err := os.WriteFile(filepath.Join(dir, AppMetaFile), app, 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, PayloadFile), payload, 0o644)
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// lazyFile opens path on first read and closes it at EOF or on Close.
// A missing file reads as empty.
type lazyFile struct {
	path string
	f    *os.File
	done bool
}

func (l *lazyFile) Read(p []byte) (int, error) {
	if l.done {
		return 0, io.EOF
	}
	if l.f == nil {
		f, err := os.Open(l.path)
		if os.IsNotExist(err) {
			l.done = true
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		l.f = f
	}
	n, err := l.f.Read(p)
	if err == io.EOF {
		_ = l.Close()
		l.done = true
	}
	return n, err
}

func (l *lazyFile) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
