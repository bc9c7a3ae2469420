package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// RegistryScope selects what maxConcurrentSessions counts.
type RegistryScope uint8

const (
	// ScopePeer limits sessions per peer identity.
	ScopePeer RegistryScope = iota
	// ScopeGlobal limits sessions across all peers.
	ScopeGlobal
)

// ParseRegistryScope parses "peer" or "global".
func ParseRegistryScope(s string) (RegistryScope, error) {
	switch s {
	case "", "peer":
		return ScopePeer, nil
	case "global":
		return ScopeGlobal, nil
	}
	return ScopePeer, domain.ErrInvalidArgument.WithDetailsf("unknown session scope %q", s)
}

// RegistryConfig configures a SessionRegistry.
type RegistryConfig struct {
	// MaxConcurrentSessions of zero means unlimited.
	MaxConcurrentSessions int
	Scope                 RegistryScope

	// OnEvict runs after a session was evicted, outside the registry lock.
	OnEvict func(s *domain.Session)
	// OnAdmit runs after a session was registered.
	OnAdmit func(s *domain.Session)
	// OnChange reports the number of registered sessions after every change.
	OnChange func(active int)

	Logger *slog.Logger
	Clock  func() time.Time
}

// SessionRegistry tracks live sessions and enforces the concurrency limit.
// When the limit is reached the least recently touched session in scope is
// evicted to make room.
type SessionRegistry struct {
	cfg    RegistryConfig
	logger *slog.Logger

	mu       sync.Mutex
	limit    int
	sessions map[string]*domain.Session
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(cfg RegistryConfig) *SessionRegistry {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry{
		cfg:      cfg,
		logger:   logger.With("component", "registry"),
		limit:    cfg.MaxConcurrentSessions,
		sessions: make(map[string]*domain.Session),
	}
}

// SetLimit changes maxConcurrentSessions. Existing sessions are kept until
// the next admission.
func (r *SessionRegistry) SetLimit(n int) {
	r.mu.Lock()
	r.limit = n
	r.mu.Unlock()
}

// Admit registers s, evicting the oldest sessions in scope while the limit
// is reached. It returns the evicted sessions.
func (r *SessionRegistry) Admit(s *domain.Session) ([]*domain.Session, error) {
	if s == nil || s.ID == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("session without id")
	}
	s.Touch(r.cfg.Clock())

	r.mu.Lock()
	if _, ok := r.sessions[s.ID]; ok {
		r.mu.Unlock()
		return nil, domain.ErrInvalidArgument.WithDetailsf("session %s already registered", s.ID)
	}

	var evicted []*domain.Session
	if r.limit > 0 {
		for r.countLocked(r.scopeOf(s)) >= r.limit {
			victim := r.oldestLocked(r.scopeOf(s))
			if victim == nil {
				break
			}
			delete(r.sessions, victim.ID)
			evicted = append(evicted, victim)
		}
	}
	r.sessions[s.ID] = s
	active := len(r.sessions)
	r.mu.Unlock()

	for _, v := range evicted {
		r.logger.Info("session evicted",
			"session_id", v.ID,
			"peer", v.PeerID,
			"last_touched", v.LastTouched(),
			"admitted", s.ID,
		)
		if r.cfg.OnEvict != nil {
			r.cfg.OnEvict(v)
		}
	}
	if r.cfg.OnAdmit != nil {
		r.cfg.OnAdmit(s)
	}
	r.changed(active)
	return evicted, nil
}

// Touch records activity on id.
func (r *SessionRegistry) Touch(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.Touch(r.cfg.Clock())
	}
	return ok
}

// Remove unregisters id. Removing an unknown id is a no-op.
func (r *SessionRegistry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	active := len(r.sessions)
	r.mu.Unlock()
	if ok {
		r.changed(active)
	}
	return ok
}

// Get returns the session registered under id.
func (r *SessionRegistry) Get(id string) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all sessions, oldest first.
func (r *SessionRegistry) List() []*domain.Session {
	r.mu.Lock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of sessions for peer, or all sessions when peer
// is empty.
func (r *SessionRegistry) Count(peer string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(peer)
}

// scopeOf returns the peer key counted against the limit, "" for global.
func (r *SessionRegistry) scopeOf(s *domain.Session) string {
	if r.cfg.Scope == ScopeGlobal {
		return ""
	}
	return s.PeerID
}

func (r *SessionRegistry) countLocked(peer string) int {
	if peer == "" {
		return len(r.sessions)
	}
	n := 0
	for _, s := range r.sessions {
		if s.PeerID == peer {
			n++
		}
	}
	return n
}

func (r *SessionRegistry) oldestLocked(peer string) *domain.Session {
	var oldest *domain.Session
	for _, s := range r.sessions {
		if peer != "" && s.PeerID != peer {
			continue
		}
		if oldest == nil || s.LastTouched().Before(oldest.LastTouched()) {
			oldest = s
		}
	}
	return oldest
}

func (r *SessionRegistry) changed(active int) {
	if r.cfg.OnChange != nil {
		r.cfg.OnChange(active)
	}
}
