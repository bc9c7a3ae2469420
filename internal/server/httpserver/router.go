package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/transport/httpx"
)

// Route labels used for request metrics.
const (
	RouteExchange = "exchange"
	RouteMetrics  = "metrics"
	RouteHealth   = "health"
	RouteAdmin    = "admin"
)

// RouterConfig holds the handlers and limits of the HTTP listener.
type RouterConfig struct {
	// Exchange serves the record exchange transport. Nil disables it.
	Exchange http.Handler
	// Metrics serves the Prometheus scrape endpoint. Nil disables it.
	Metrics http.Handler

	// AdminPath and Admin serve the admin RPC. Nil disables it.
	AdminPath     string
	Admin         http.Handler
	AdminNetworks []string

	Health   HealthFunc
	Observer RequestObserver
	// Limiter throttles exchange requests per client address.
	Limiter *service.AdmissionLimiter

	Logger *slog.Logger
}

// NewRouter builds the HTTP mux with its middleware chains.
func NewRouter(cfg *RouterConfig) http.Handler {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	base := func(route string) []Middleware {
		return []Middleware{Recover(l), RequestID(), Observe(route, cfg.Observer, l)}
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", Chain(healthHandler(cfg.Health, time.Now()), base(RouteHealth)...))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics, base(RouteMetrics)...))
	}
	if cfg.Exchange != nil {
		mux.Handle(httpx.ExchangePath, Chain(cfg.Exchange, append(base(RouteExchange), RateLimit(cfg.Limiter))...))
	}
	if cfg.Admin != nil && cfg.AdminPath != "" {
		mux.Handle("POST "+cfg.AdminPath, Chain(cfg.Admin, append(base(RouteAdmin), NetworkACL(cfg.AdminNetworks, l))...))
	}
	return mux
}
