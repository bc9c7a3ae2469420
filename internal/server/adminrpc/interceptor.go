package adminrpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/jalsync-go/internal/telemetry/logger"
)

const authHeader = "Authorization"

// LoggingInterceptor logs every admin call with its request id.
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a logging interceptor.
func NewLoggingInterceptor(l *slog.Logger) *LoggingInterceptor {
	if l == nil {
		l = slog.Default()
	}
	return &LoggingInterceptor{logger: l}
}

// WrapUnary implements connect.Interceptor.
func (i *LoggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)

		attrs := []any{
			"method", req.Spec().Procedure,
			"peer", req.Peer().Addr,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id := logger.RequestIDFromContext(ctx); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		if err != nil {
			i.logger.Warn("admin rpc failed", append(attrs, "code", connect.CodeOf(err).String(), "error", err)...)
		} else {
			i.logger.Info("admin rpc", attrs...)
		}
		return resp, err
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// RecoveryInterceptor turns handler panics into internal errors.
type RecoveryInterceptor struct {
	logger *slog.Logger
}

// NewRecoveryInterceptor creates a recovery interceptor.
func NewRecoveryInterceptor(l *slog.Logger) *RecoveryInterceptor {
	if l == nil {
		l = slog.Default()
	}
	return &RecoveryInterceptor{logger: l}
}

// WrapUnary implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("admin rpc panic recovered",
					"method", req.Spec().Procedure,
					"panic", r)
				err = connect.NewError(connect.CodeInternal, errors.New("internal server error"))
			}
		}()
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *RecoveryInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// TokenInterceptor carries a bearer token. On the client it sets the
// Authorization header; on the handler it rejects calls whose token does
// not match. An empty token disables the check.
type TokenInterceptor struct {
	token string
}

// NewTokenInterceptor creates a token interceptor.
func NewTokenInterceptor(token string) *TokenInterceptor {
	return &TokenInterceptor{token: token}
}

// WrapUnary implements connect.Interceptor.
func (i *TokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if i.token == "" {
			return next(ctx, req)
		}
		if req.Spec().IsClient {
			req.Header().Set(authHeader, "Bearer "+i.token)
			return next(ctx, req)
		}
		if err := i.check(req.Header().Get(authHeader)); err != nil {
			return nil, connect.NewError(connect.CodeUnauthenticated, err)
		}
		return next(ctx, req)
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *TokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *TokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if i.token == "" {
			return next(ctx, conn)
		}
		if err := i.check(conn.RequestHeader().Get(authHeader)); err != nil {
			return connect.NewError(connect.CodeUnauthenticated, err)
		}
		return next(ctx, conn)
	}
}

func (i *TokenInterceptor) check(header string) error {
	got, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || got == "" {
		return errors.New("missing bearer token")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(i.token)) != 1 {
		return fmt.Errorf("invalid bearer token")
	}
	return nil
}

// DefaultInterceptors returns the handler-side chain: recovery outermost,
// then logging, then token auth.
func DefaultInterceptors(l *slog.Logger, token string) []connect.Interceptor {
	return []connect.Interceptor{
		NewRecoveryInterceptor(l),
		NewLoggingInterceptor(l),
		NewTokenInterceptor(token),
	}
}
