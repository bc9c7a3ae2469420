package httpserver

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/telemetry/logger"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RequestID assigns a request id, echoes it in the response and stores it
// in the request context for logging.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" || len(id) > 64 {
				id = "req-" + strings.ToLower(ulid.Make().String())
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(l *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					l.Error("panic recovered",
						"request_id", logger.RequestIDFromContext(r.Context()),
						"error", err,
						"path", r.URL.Path,
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit rejects requests from a client address that exceeds its rate.
// A nil limiter disables the check.
func RateLimit(limiter *service.AdmissionLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestObserver records completed requests.
type RequestObserver interface {
	ObserveRequest(route string, code int, elapsed time.Duration)
}

// Observe reports every request under route and logs it at debug level.
func Observe(route string, obs RequestObserver, l *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			if obs != nil {
				obs.ObserveRequest(route, rw.statusCode, elapsed)
			}
			l.Debug("http request",
				"request_id", logger.RequestIDFromContext(r.Context()),
				"route", route,
				"method", r.Method,
				"status", rw.statusCode,
				"client_ip", clientIP(r),
				"duration_ms", elapsed.Milliseconds(),
			)
		})
	}
}

// NetworkACL admits only clients inside the allowed networks. Entries are
// CIDRs or single addresses; an empty list admits loopback clients only.
func NetworkACL(allow []string, l *slog.Logger) Middleware {
	var networks []netip.Prefix
	for _, entry := range allow {
		p, err := service.ParseNetwork(entry)
		if err != nil {
			l.Warn("invalid entry in admin allowlist", "entry", entry, "error", err)
			continue
		}
		networks = append(networks, p)
	}

	allowed := func(ip netip.Addr) bool {
		if len(allow) == 0 {
			return ip.IsLoopback()
		}
		for _, n := range networks {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, err := netip.ParseAddr(clientIP(r))
			if err != nil || !allowed(ip.Unmap()) {
				l.Warn("request denied by network ACL",
					"client_ip", clientIP(r),
					"path", r.URL.Path,
				)
				writeError(w, http.StatusForbidden, "client address not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps long polls streaming through the wrapper.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// clientIP is the transport peer address. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
