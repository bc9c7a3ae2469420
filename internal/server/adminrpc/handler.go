package adminrpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yndnr/jalsync-go/internal/core/domain"
)

// ServiceName is the fully-qualified admin service name.
const ServiceName = "jalsync.admin.v1.AdminService"

// Procedures.
const (
	ListSessionsProcedure = "/" + ServiceName + "/ListSessions"
	EvictSessionProcedure = "/" + ServiceName + "/EvictSession"
	LedgerStatsProcedure  = "/" + ServiceName + "/LedgerStats"
)

// Backend is what the admin service reads and controls.
type Backend interface {
	Sessions() []SessionInfo
	// Evict stops the session and reports whether it existed.
	Evict(ctx context.Context, id string) bool
	Ledger(ctx context.Context) (LedgerReport, error)
}

type adminService struct {
	backend Backend
	logger  *slog.Logger
}

// NewHandler returns the path prefix and handler that serve the admin
// service.
func NewHandler(b Backend, l *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	if l == nil {
		l = slog.Default()
	}
	svc := &adminService{backend: b, logger: l.With("component", "adminrpc")}

	mux := http.NewServeMux()
	mux.Handle(ListSessionsProcedure, connect.NewUnaryHandler(ListSessionsProcedure, svc.listSessions, opts...))
	mux.Handle(EvictSessionProcedure, connect.NewUnaryHandler(EvictSessionProcedure, svc.evictSession, opts...))
	mux.Handle(LedgerStatsProcedure, connect.NewUnaryHandler(LedgerStatsProcedure, svc.ledgerStats, opts...))
	return "/" + ServiceName + "/", mux
}

func (s *adminService) listSessions(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	st, err := encodeSessions(s.backend.Sessions())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}

func (s *adminService) evictSession(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[emptypb.Empty], error) {
	id := req.Msg.GetValue()
	if !domain.IsValidSessionID(id) {
		return nil, toConnectError(domain.ErrInvalidArgument.WithDetailsf("invalid session id %q", id))
	}
	if !s.backend.Evict(ctx, id) {
		return nil, connect.NewError(connect.CodeNotFound, errors.New("session not found"))
	}
	s.logger.Info("session evicted by operator", "session_id", id)
	return connect.NewResponse(&emptypb.Empty{}), nil
}

func (s *adminService) ledgerStats(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	report, err := s.backend.Ledger(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	st, err := encodeLedger(report)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}

// toConnectError maps domain errors to connect codes.
func toConnectError(err error) error {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return connect.NewError(connect.CodeInternal, err)
	}
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, domain.ErrStorageError):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
