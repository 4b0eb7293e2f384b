package transport

import "context"

// StatusFunc returns a JSON-encoded node status payload for management
// GetStatus. Using []byte avoids import cycles on consensus types.
type StatusFunc func(ctx context.Context) ([]byte, error)

// LeaderStateRequest asks for the node's readiness verdict.
type LeaderStateRequest struct {
	// AllowStale permits a cached computation, for callers that tolerate a
	// slightly out-of-date answer.
	AllowStale bool `json:"allowStale"`
}

// LeaderStateResponse carries the readiness verdict.
type LeaderStateResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	Term   int64  `json:"term"`
	// RemainingOldLeaderLeaseMs is non-zero only while the previous
	// leader's lease may still be running; callers use it for backoff.
	RemainingOldLeaderLeaseMs int64  `json:"remainingOldLeaderLeaseMs,omitempty"`
	Error                     string `json:"error,omitempty"`
}

// LeaderStateFunc answers readiness queries (local node).
type LeaderStateFunc func(ctx context.Context, req LeaderStateRequest) (LeaderStateResponse, error)

// OpIdRequest selects which log position to report: "received" or
// "committed".
type OpIdRequest struct {
	Kind string `json:"kind"`
}

// OpIdResponse carries one log position.
type OpIdResponse struct {
	Term  int64  `json:"term"`
	Index int64  `json:"index"`
	Error string `json:"error,omitempty"`
}

// OpIdFunc answers last-OpId queries (local node).
type OpIdFunc func(ctx context.Context, req OpIdRequest) (OpIdResponse, error)

// RPCServer exposes the management endpoints used by tooling and tests.
type RPCServer interface {
	Start(ctx context.Context, status StatusFunc, leaderState LeaderStateFunc, lastOpId OpIdFunc) error
	Addr() string
	Stop(ctx context.Context) error
}

// RPCClient performs management calls against other nodes.
type RPCClient interface {
	GetStatus(ctx context.Context, addr string) ([]byte, error)
	GetLeaderState(ctx context.Context, addr string, req LeaderStateRequest) (LeaderStateResponse, error)
	GetLastOpId(ctx context.Context, addr string, req OpIdRequest) (OpIdResponse, error)
}
