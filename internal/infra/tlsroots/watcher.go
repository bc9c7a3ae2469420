package tlsroots

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events a certificate rotation
// produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher serves the current certificate and reloads it on file changes.
type Watcher struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	debounce time.Duration
	onReload func(notAfter time.Time)

	mu       sync.RWMutex
	cert     *tls.Certificate
	notAfter time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithDebounce sets the debounce duration.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithOnReload registers a callback run after every successful reload.
func WithOnReload(fn func(notAfter time.Time)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher loads the key pair and returns a watcher for it.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	if certFile == "" || keyFile == "" {
		return nil, ErrNoCertificate
	}
	w := &Watcher{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "tls", "cert_file", certFile)

	if err := w.reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return w, nil
}

// Run watches the certificate and key until ctx ends. A failed reload
// keeps the previous certificate.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer fw.Close()

	dirs := map[string]bool{filepath.Dir(w.certFile): true, filepath.Dir(w.keyFile): true}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	names := map[string]bool{filepath.Clean(w.certFile): true, filepath.Clean(w.keyFile): true}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !names[filepath.Clean(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.reload(); err != nil {
				w.logger.Error("certificate reload failed", "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("certificate watcher error", "error", err)
		}
	}
}

// GetCertificate implements tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cert, nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (w *Watcher) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cert, nil
}

// NotAfter returns the expiry of the current certificate.
func (w *Watcher) NotAfter() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.notAfter
}

func (w *Watcher) reload() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("parse leaf: %w", err)
	}
	cert.Leaf = leaf

	w.mu.Lock()
	w.cert = &cert
	w.notAfter = leaf.NotAfter
	w.mu.Unlock()

	w.logger.Info("certificate loaded", "subject", leaf.Subject.CommonName, "not_after", leaf.NotAfter)
	if w.onReload != nil {
		w.onReload(leaf.NotAfter)
	}
	return nil
}
