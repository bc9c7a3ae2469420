package adminrpc

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the admin service.
type Client struct {
	list   *connect.Client[emptypb.Empty, structpb.Struct]
	evict  *connect.Client[wrapperspb.StringValue, emptypb.Empty]
	ledger *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewClient creates a client for the server at baseURL. A non-empty token
// is sent as a bearer token.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithInterceptors(NewTokenInterceptor(token))}, opts...)
	return &Client{
		list:   connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ListSessionsProcedure, opts...),
		evict:  connect.NewClient[wrapperspb.StringValue, emptypb.Empty](httpClient, baseURL+EvictSessionProcedure, opts...),
		ledger: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+LedgerStatsProcedure, opts...),
	}
}

// ListSessions returns the registered sessions, oldest first.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}
	return decodeSessions(resp.Msg)
}

// EvictSession stops a session.
func (c *Client) EvictSession(ctx context.Context, id string) error {
	_, err := c.evict.CallUnary(ctx, connect.NewRequest(wrapperspb.String(id)))
	return err
}

// LedgerStats returns the digest ledger totals.
func (c *Client) LedgerStats(ctx context.Context) (LedgerReport, error) {
	resp, err := c.ledger.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return LedgerReport{}, err
	}
	return decodeLedger(resp.Msg), nil
}
