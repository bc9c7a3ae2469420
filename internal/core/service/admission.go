package service

import (
	"sync"

	"golang.org/x/time/rate"
)

// pruneThreshold is the limiter count above which idle limiters are dropped.
const pruneThreshold = 1024

// AdmissionLimiter throttles initialize attempts per peer.
type AdmissionLimiter struct {
	perSecond float64
	burst     int

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewAdmissionLimiter allows perSecond attempts per peer with the given
// burst. A non-positive rate disables limiting.
func NewAdmissionLimiter(perSecond float64, burst int) *AdmissionLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &AdmissionLimiter{
		perSecond: perSecond,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether peer may attempt another session now.
func (a *AdmissionLimiter) Allow(peer string) bool {
	if a == nil || a.perSecond <= 0 {
		return true
	}
	return a.getOrCreate(peer).Allow()
}

func (a *AdmissionLimiter) getOrCreate(peer string) *rate.Limiter {
	a.mu.RLock()
	limiter, exists := a.limiters[peer]
	a.mu.RUnlock()
	if exists {
		return limiter
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := a.limiters[peer]; exists {
		return limiter
	}
	if len(a.limiters) >= pruneThreshold {
		a.pruneLocked()
	}
	limiter = rate.NewLimiter(rate.Limit(a.perSecond), a.burst)
	a.limiters[peer] = limiter
	return limiter
}

// pruneLocked drops limiters whose bucket has refilled. A new limiter for
// the same peer starts full, so nothing is lost.
func (a *AdmissionLimiter) pruneLocked() int {
	n := 0
	for peer, l := range a.limiters {
		if l.Tokens() >= float64(a.burst) {
			delete(a.limiters, peer)
			n++
		}
	}
	return n
}

// Len returns the number of tracked peers.
func (a *AdmissionLimiter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.limiters)
}

// Forget drops the limiter for peer.
func (a *AdmissionLimiter) Forget(peer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.limiters, peer)
}
