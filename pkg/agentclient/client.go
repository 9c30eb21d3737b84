// Package agentclient is the driver-side stub for the Agent RPC
// contract (spec.md §4.1 C3, §4.2). One Client wraps one dialed
// connection to a single host's agent.
package agentclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/haste-cluster/haste/api/rpc"
	"github.com/haste-cluster/haste/pkg/herrors"
	"github.com/haste-cluster/haste/pkg/htypes"
)

// Client wraps one grpc.ClientConn to an agent.
type Client struct {
	conn *grpc.ClientConn
	rpc  rpc.AgentClient
}

// New dials addr and wraps it.
func New(ctx context.Context, addr string) (*Client, error) {
	conn, err := rpc.Dial(ctx, addr)
	if err != nil {
		return nil, herrors.Transport(fmt.Sprintf("dial agent at %s", addr), err)
	}
	return &Client{conn: conn, rpc: rpc.NewAgentClient(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Deploy invokes the agent's Deploy RPC with info.
func (c *Client) Deploy(ctx context.Context, info htypes.CacheInfo) (*rpc.CacheState, error) {
	state, err := c.rpc.Deploy(ctx, rpc.CacheInfoFromHTypes(info))
	if err != nil {
		return nil, herrors.Transport("Deploy RPC", err)
	}
	return state, nil
}

// Clean best-effort tears down every port via DoAction{kind: Remove}.
// Failures are returned per-port so the caller can log-and-continue,
// matching spec.md §4.2's "best-effort clean fan-out" semantics.
func (c *Client) Clean(ctx context.Context, ports []int) []error {
	errs := make([]error, 0, len(ports))
	for _, port := range ports {
		if _, err := c.rpc.DoAction(ctx, &rpc.Action{Kind: rpc.ActionRemove, Port: port}); err != nil {
			errs = append(errs, herrors.Transport(fmt.Sprintf("clean port %d", port), err))
		}
	}
	return errs
}

// DoAction invokes a single agent-side lifecycle action.
func (c *Client) DoAction(ctx context.Context, kind rpc.ActionKind, port int) (*rpc.CacheState, error) {
	state, err := c.rpc.DoAction(ctx, &rpc.Action{Kind: kind, Port: port})
	if err != nil {
		return nil, herrors.Transport(fmt.Sprintf("%s port %d", kind, port), err)
	}
	return state, nil
}

// GetPorts asks the agent to report count free ports, used by
// pkg/offer's default offer source to build plan() inputs.
func (c *Client) GetPorts(ctx context.Context, count int) ([]int, error) {
	resp, err := c.rpc.GetPorts(ctx, &rpc.PortAcquire{Count: count})
	if err != nil {
		return nil, herrors.Transport("GetPorts RPC", err)
	}
	return resp.Ports, nil
}

// DefaultTimeout bounds a single RPC call when the caller hasn't
// already set a context deadline.
const DefaultTimeout = 10 * time.Second

// WithTimeout returns a context bounded by DefaultTimeout if ctx has no
// deadline of its own.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
