package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/jalsync-go/internal/core/service"
	"github.com/yndnr/jalsync-go/internal/transport/httpx"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	codes []int
}

func (o *recordingObserver) ObserveRequest(route string, code int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, route)
	o.codes = append(o.codes, code)
}

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler("x"), mark("a"), mark("b"), mark("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRequestID(t *testing.T) {
	h := RequestID()(okHandler("x"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Regexp(t, `^req-[0-9a-z]{26}$`, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "upstream-7")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-7", rec.Header().Get(HeaderRequestID))
}

func TestRecover(t *testing.T) {
	h := Recover(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(service.NewAdmissionLimiter(0.001, 2))(okHandler("x"))

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "198.51.100.9:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "other clients keep their own budget")
}

func TestNetworkACL(t *testing.T) {
	tests := []struct {
		name   string
		allow  []string
		remote string
		want   int
	}{
		{"empty list admits loopback", nil, "127.0.0.1:4000", 200},
		{"empty list admits ipv6 loopback", nil, "[::1]:4000", 200},
		{"empty list denies remote", nil, "192.0.2.10:4000", 403},
		{"cidr match", []string{"10.0.0.0/8"}, "10.1.2.3:4000", 200},
		{"cidr miss", []string{"10.0.0.0/8"}, "11.1.2.3:4000", 403},
		{"single address", []string{"192.0.2.10"}, "192.0.2.10:4000", 200},
		{"forwarded header ignored", []string{"10.0.0.0/8"}, "192.0.2.10:4000", 403},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NetworkACL(tt.allow, testLogger())(okHandler("x"))
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", "10.9.9.9")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouter(t *testing.T) {
	obs := &recordingObserver{}
	router := NewRouter(&RouterConfig{
		Exchange:  okHandler("exchange"),
		Metrics:   okHandler("metrics"),
		AdminPath: "/jalsync.admin.v1.AdminService/",
		Admin:     okHandler("admin"),
		Health:    func() int { return 3 },
		Observer:  obs,
		Logger:    testLogger(),
	})

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, 3, body.Sessions)
	})

	t.Run("exchange", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, httpx.ExchangePath, nil))
		assert.Equal(t, "exchange", rec.Body.String())
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, "metrics", rec.Body.String())
	})

	t.Run("admin denied from remote", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jalsync.admin.v1.AdminService/ListSessions", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin from loopback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/jalsync.admin.v1.AdminService/ListSessions", nil)
		req.RemoteAddr = "127.0.0.1:9999"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "admin", rec.Body.String())
	})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{RouteHealth, RouteExchange, RouteMetrics, RouteAdmin, RouteAdmin}, obs.calls)
	assert.Equal(t, []int{200, 200, 200, 403, 200}, obs.codes)
}

func TestServerStartShutdown(t *testing.T) {
	srv := New("127.0.0.1:0", NewRouter(&RouterConfig{Logger: testLogger()}), nil, testLogger())
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}
