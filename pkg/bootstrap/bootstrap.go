package bootstrap

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amirimatin/go-consensus/pkg/consensus"
	raftcons "github.com/amirimatin/go-consensus/pkg/consensus/raft"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/lease"
	"github.com/amirimatin/go-consensus/pkg/membership"
	ml "github.com/amirimatin/go-consensus/pkg/membership/memberlist"
	"github.com/amirimatin/go-consensus/pkg/opid"
	"github.com/amirimatin/go-consensus/pkg/transport"
	mgmtgrpc "github.com/amirimatin/go-consensus/pkg/transport/grpc"
)

// Config defines high-level inputs to assemble a consensus node with
// sensible defaults.
type Config struct {
	// Identity and addresses
	NodeID   string // empty → random UUID
	RaftAddr string // e.g., ":9521" or "host:9521"; empty → in-memory transport
	MemBind  string // membership bind host:port
	MemAdv   string // optional advertise host:port

	// MgmtAddr is the management gRPC bind address (status/readiness/opid).
	// Empty disables the management endpoint.
	MgmtAddr string

	// SeedsCSV lists membership seed nodes (host:port, comma-separated).
	SeedsCSV string

	// Persistence and bootstrap
	DataDir   string // empty → in-memory stores
	Bootstrap bool   // single-node bootstrap

	// LeaseDuration overrides the leader lease length. Zero means the
	// engine default.
	LeaseDuration time.Duration

	// Timeouts (optional). Zero means engine defaults.
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	ApplyTimeout     time.Duration

	// Logger (optional). If nil, log.Default() is used.
	Logger *log.Logger
}

// NodeStatus is a JSON-serializable snapshot of the node for the management
// endpoint and tooling.
type NodeStatus struct {
	NodeID        string                  `json:"nodeId"`
	Status        string                  `json:"status"`
	Ready         bool                    `json:"ready"`
	Term          int64                   `json:"term"`
	LeaderID      string                  `json:"leaderId,omitempty"`
	LeaderAddr    string                  `json:"leaderAddr,omitempty"`
	LastReceived  opid.OpId               `json:"lastReceived"`
	LastCommitted opid.OpId               `json:"lastCommitted"`
	Members       []membership.MemberInfo `json:"members,omitempty"`
	HealthScore   int                     `json:"healthScore"`
}

// Node wires membership, the Raft-backed driver, the consensus control core
// and the management endpoint into one runnable unit.
type Node struct {
	cfg  Config
	log  *log.Logger
	cons *consensus.Consensus
	raft *raftcons.Node
	mem  membership.Membership
	rpc  transport.RPCServer

	run struct {
		mu      sync.Mutex
		started bool
		stopped bool
	}
}

// memberPeers adapts the gossip view to the lease tracker's majority math.
type memberPeers struct {
	mem membership.Membership
}

func (p memberPeers) Count() int {
	if p.mem == nil {
		return 1
	}
	n := len(p.mem.Members())
	if n < 1 {
		return 1
	}
	return n
}

// Build assembles a Node from Config without starting it.
func Build(cfg Config) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	n := &Node{cfg: cfg, log: cfg.Logger}

	// Membership (memberlist), optional: a single-node or test setup may
	// run without gossip, in which case majority math sees one voter.
	if cfg.MemBind != "" {
		meta := map[string]string{}
		if cfg.MgmtAddr != "" {
			meta["mgmt"] = cfg.MgmtAddr
		}
		mem, err := ml.New(ml.Options{NodeID: cfg.NodeID, Bind: cfg.MemBind, Advertise: cfg.MemAdv, Logger: cfg.Logger, Meta: meta})
		if err != nil {
			return nil, err
		}
		n.mem = mem
	}

	tracker := lease.NewTracker(cfg.NodeID, memberPeers{mem: n.mem})

	rn, err := raftcons.New(raftcons.Options{
		NodeID:           cfg.NodeID,
		Logger:           cfg.Logger,
		Bootstrap:        cfg.Bootstrap,
		Lease:            tracker,
		LeaseDuration:    cfg.LeaseDuration,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		ElectionTimeout:  cfg.ElectionTimeout,
		ApplyTimeout:     cfg.ApplyTimeout,
		BindAddr:         cfg.RaftAddr,
		DataDir:          cfg.DataDir,
	})
	if err != nil {
		return nil, err
	}
	n.raft = rn

	cons, err := consensus.New(consensus.Options{
		Name:   cfg.NodeID,
		State:  rn,
		Driver: rn,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	n.cons = cons

	if cfg.MgmtAddr != "" {
		n.rpc = mgmtgrpc.NewServer(cfg.MgmtAddr)
	}
	return n, nil
}

// Run builds and starts a node.
func Run(ctx context.Context, cfg Config) (*Node, error) {
	n, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// Start launches membership, the consensus core and the management endpoint.
func (n *Node) Start(ctx context.Context) error {
	n.run.mu.Lock()
	defer n.run.mu.Unlock()
	if n.run.started {
		return nil
	}
	n.run.started = true

	if n.mem != nil {
		if err := n.mem.Start(ctx); err != nil {
			return err
		}
		if seeds := splitSeeds(n.cfg.SeedsCSV); len(seeds) > 0 {
			logutil.Infof(n.log, "joining membership seeds: %v", seeds)
			_ = n.mem.Join(seeds)
		}
	}

	if err := n.cons.Start(ctx); err != nil {
		return err
	}

	// Log leadership hand-offs as they are observed.
	go func() {
		for li := range n.raft.LeaderCh() {
			logutil.Infof(n.log, "leader changed: %s at %s (term %d)", li.ID, li.Addr, li.Term)
		}
	}()

	if n.rpc != nil {
		if err := n.rpc.Start(ctx, n.statusJSON, n.leaderState, n.lastOpId); err != nil {
			return err
		}
		logutil.Infof(n.log, "management endpoint on %s", n.rpc.Addr())
	}
	return nil
}

// Consensus exposes the control core for embedding applications.
func (n *Node) Consensus() *consensus.Consensus { return n.cons }

// BootstrapInfo returns the log positions captured at engine start.
func (n *Node) BootstrapInfo() *consensus.BootstrapInfo { return n.raft.BootstrapInfo() }

// Status assembles the management status snapshot.
func (n *Node) Status(ctx context.Context) (*NodeStatus, error) {
	ls := n.cons.GetLeaderState(false)
	st := &NodeStatus{
		NodeID:      n.cfg.NodeID,
		Status:      ls.Status.String(),
		Ready:       ls.Status.Ready(),
		Term:        ls.Term,
		HealthScore: -1,
	}
	if id, addr, ok := n.raft.Leader(); ok {
		st.LeaderID = id
		st.LeaderAddr = addr
	}
	if id, err := n.cons.GetLastOpId(consensus.ReceivedOpId); err == nil {
		st.LastReceived = id
	}
	if id, err := n.cons.GetLastOpId(consensus.CommittedOpId); err == nil {
		st.LastCommitted = id
	}
	if n.mem != nil {
		st.Members = n.mem.Members()
		if hr, ok := n.mem.(membership.HealthReporter); ok {
			st.HealthScore = hr.HealthScore()
		}
	}
	return st, nil
}

// Stop shuts everything down in reverse start order.
func (n *Node) Stop(ctx context.Context) error {
	n.run.mu.Lock()
	defer n.run.mu.Unlock()
	if !n.run.started || n.run.stopped {
		return nil
	}
	n.run.stopped = true
	if n.rpc != nil {
		_ = n.rpc.Stop(ctx)
	}
	if err := n.cons.Stop(); err != nil {
		return err
	}
	if n.mem != nil {
		_ = n.mem.Leave()
		_ = n.mem.Stop()
	}
	return nil
}

// Close is a convenience alias for Stop with a background context.
func (n *Node) Close() error { return n.Stop(context.Background()) }

func (n *Node) statusJSON(ctx context.Context) ([]byte, error) {
	st, err := n.Status(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(st)
}

func (n *Node) leaderState(ctx context.Context, req transport.LeaderStateRequest) (transport.LeaderStateResponse, error) {
	ls := n.cons.GetLeaderState(req.AllowStale)
	resp := transport.LeaderStateResponse{
		Status: ls.Status.String(),
		Ready:  ls.Status.Ready(),
		Term:   ls.Term,
		RemainingOldLeaderLeaseMs: ls.RemainingOldLeaderLease.Milliseconds(),
	}
	if err := ls.CreateStatus(); err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

func (n *Node) lastOpId(ctx context.Context, req transport.OpIdRequest) (transport.OpIdResponse, error) {
	kind := consensus.UnknownOpIdType
	switch strings.ToLower(req.Kind) {
	case "received":
		kind = consensus.ReceivedOpId
	case "committed":
		kind = consensus.CommittedOpId
	}
	id, err := n.cons.GetLastOpId(kind)
	if err != nil {
		return transport.OpIdResponse{Error: err.Error()}, nil
	}
	return transport.OpIdResponse{Term: id.Term, Index: id.Index}, nil
}

func splitSeeds(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
