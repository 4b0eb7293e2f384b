package raftcons

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/opid"
)

// LeaderInfo describes the current known leader.
type LeaderInfo struct {
	ID   string
	Addr string
	Term int64
}

// Node backs the control core with HashiCorp Raft: it is both the
// replication driver rounds are submitted to and the collaborator state the
// readiness ladder is computed from.
type Node struct {
	opts  Options
	log   *log.Logger
	r     *raft.Raft
	fsm   *logFSM
	lch   chan LeaderInfo
	addr  raft.ServerAddress
	trans raft.Transport
	boot  *c.BootstrapInfo

	lease time.Duration // effective lease duration

	mu sync.Mutex
	// noOpBarrier is the commit index this leader must reach to prove it
	// knows the true commit index. Valid only while barrierSet.
	noOpBarrier uint64
	barrierSet  bool
	wasLeader   bool
}

func New(opts Options) (*Node, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("raftcons: empty NodeID")
	}
	if opts.Lease == nil {
		return nil, fmt.Errorf("raftcons: nil lease tracker")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Node{opts: opts, log: opts.Logger, lch: make(chan LeaderInfo, 16)}, nil
}

func (n *Node) Start(ctx context.Context) error {
	if n.r != nil {
		return nil
	}

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(n.opts.NodeID)
	if n.opts.HeartbeatTimeout > 0 {
		cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
		// Keep lease <= heartbeat to satisfy engine invariants
		if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout {
			cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout / 2
			if cfg.LeaderLeaseTimeout == 0 {
				cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout
			}
		}
	}
	if n.opts.ElectionTimeout > 0 {
		cfg.ElectionTimeout = n.opts.ElectionTimeout
	}
	if n.opts.CommitTimeout > 0 {
		cfg.CommitTimeout = n.opts.CommitTimeout
	}
	n.lease = n.opts.LeaseDuration
	if n.lease <= 0 {
		n.lease = cfg.LeaderLeaseTimeout
	}

	var (
		logs   raft.LogStore
		stable raft.StableStore
		snaps  raft.SnapshotStore
		addr   raft.ServerAddress
		trans  raft.Transport
	)

	// Storage selection: on-disk when DataDir provided, else in-memory.
	if n.opts.DataDir != "" {
		if n.opts.SnapshotsRetained == 0 {
			n.opts.SnapshotsRetained = 2
		}
		if err := os.MkdirAll(n.opts.DataDir, 0o755); err != nil {
			return err
		}
		bpath := filepath.Join(n.opts.DataDir, "raft.db")
		bstore, err := raftboltdb.NewBoltStore(bpath)
		if err != nil {
			return err
		}
		logs = bstore
		stable = bstore
		snaps, err = raft.NewFileSnapshotStore(n.opts.DataDir, n.opts.SnapshotsRetained, os.Stderr)
		if err != nil {
			return err
		}
	} else {
		logs = raft.NewInmemStore()
		stable = raft.NewInmemStore()
		snaps = raft.NewInmemSnapshotStore()
	}

	// Transport selection
	if n.opts.BindAddr != "" {
		nt, err := raft.NewTCPTransport(n.opts.BindAddr, nil, 3, 1*time.Second, os.Stderr)
		if err != nil {
			return err
		}
		trans = nt
		addr = nt.LocalAddr()
	} else {
		addr, trans = raft.NewInmemTransport(raft.ServerAddress(n.opts.NodeID))
	}

	n.fsm = newLogFSM()
	r, err := raft.NewRaft(cfg, n.fsm, logs, stable, snaps, trans)
	if err != nil {
		return err
	}
	n.r = r
	n.addr = addr
	n.trans = trans

	// Bootstrap info for the log-replay collaborator, captured before any
	// round is accepted.
	n.boot = &c.BootstrapInfo{
		LastReceived:  n.lastReceived(),
		LastCommitted: n.fsm.LastCommitted(),
	}

	// Observe leadership changes: feed the lease tracker and the no-op
	// commit barrier, and forward to LeaderCh.
	obsCh := make(chan raft.Observation, 32)
	observer := raft.NewObserver(obsCh, false, func(o *raft.Observation) bool {
		_, ok := o.Data.(raft.LeaderObservation)
		return ok
	})
	n.r.RegisterObserver(observer)
	go func() {
		for range obsCh {
			n.onLeadershipChange()
		}
	}()

	if n.opts.Bootstrap {
		cfgs := raft.Configuration{Servers: []raft.Server{{
			ID:      cfg.LocalID,
			Address: addr,
		}}}
		if err := n.r.BootstrapCluster(cfgs).Error(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		_ = n.Stop()
	}()
	return nil
}

// onLeadershipChange updates the readiness bookkeeping on every leadership
// observation.
func (n *Node) onLeadershipChange() {
	isLeader := n.r != nil && n.r.State() == raft.Leader

	n.mu.Lock()
	became := isLeader && !n.wasLeader
	lost := !isLeader && n.wasLeader
	n.wasLeader = isLeader
	if became {
		// The engine appends a no-op at election; everything through the
		// current tail must commit before this leader may serve.
		n.noOpBarrier = n.r.LastIndex()
		n.barrierSet = true
	}
	if lost {
		n.barrierSet = false
	}
	n.mu.Unlock()

	if became {
		// Assume the previous leader held a full lease at hand-off.
		n.opts.Lease.SetOldLeaderDeadline(time.Now().Add(n.lease))
		logutil.Infof(n.log, "raftcons: acquired leadership, term %d", n.currentTerm())
	}
	if lost {
		n.opts.Lease.Reset()
		logutil.Infof(n.log, "raftcons: lost leadership")
	}

	if id, addr, ok := n.Leader(); ok {
		n.emitLeader(LeaderInfo{ID: id, Addr: addr, Term: n.currentTerm()})
	}
}

// Submit appends the round's payload through the engine and reports the
// round's fate from the apply-tracking goroutine.
func (n *Node) Submit(ctx context.Context, round *c.Round) error {
	if n.r == nil {
		return fmt.Errorf("raftcons: not started")
	}
	if n.r.State() != raft.Leader {
		return c.ErrNotLeader
	}
	data, err := json.Marshal(round.ReplicateMsg())
	if err != nil {
		return err
	}
	t := n.opts.ApplyTimeout
	if t <= 0 {
		t = 5 * time.Second
	}
	af := n.r.Apply(data, t)
	go func() {
		err := af.Error()
		term := n.currentTerm()
		if err == nil {
			if v := af.Response(); v != nil {
				if e, ok := v.(error); ok && e != nil {
					err = e
				}
			}
		}
		if err != nil {
			round.NotifyReplicationFinished(fmt.Errorf("%w: %v", c.ErrAborted, err), term, nil)
			return
		}
		n.recordLeaseAcks()
		round.NotifyReplicationFinished(nil, term, []opid.OpId{{Term: term, Index: int64(af.Index())}})
	}()
	return nil
}

// recordLeaseAcks treats a committed entry as evidence that the voter set
// replicated this leader's lease within the lease window. The engine does
// not expose per-peer acks, so all configured voters are credited.
func (n *Node) recordLeaseAcks() {
	cfg := n.r.GetConfiguration()
	if err := cfg.Error(); err != nil {
		return
	}
	expiry := time.Now().Add(n.lease)
	for _, srv := range cfg.Configuration().Servers {
		if string(srv.ID) == n.opts.NodeID {
			continue
		}
		n.opts.Lease.RecordAck(string(srv.ID), expiry)
	}
}

// ChangeConfig applies a membership configuration change.
func (n *Node) ChangeConfig(ctx context.Context, change c.ConfigChange) error {
	if n.r == nil {
		return fmt.Errorf("raftcons: not started")
	}
	timeout := n.opts.ApplyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch change.Type {
	case "add_voter":
		return n.addVoter(change.ServerID, change.Addr, timeout)
	case "remove_server":
		return n.r.RemoveServer(raft.ServerID(change.ServerID), 0, timeout).Error()
	}
	return fmt.Errorf("%w: unsupported config change %q", c.ErrInvalidArgument, change.Type)
}

func (n *Node) addVoter(id, addr string, timeout time.Duration) error {
	// Fast-path: if exists with same address, accept.
	cfg := n.r.GetConfiguration()
	if err := cfg.Error(); err == nil {
		for _, srv := range cfg.Configuration().Servers {
			if string(srv.ID) == id {
				if string(srv.Address) == addr {
					return nil
				}
				// Remove stale entry with a different address before adding
				if err := n.r.RemoveServer(srv.ID, 0, timeout).Error(); err != nil {
					return err
				}
				break
			}
		}
	}
	return n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// Snapshot returns one consistent view of the collaborator inputs.
// Implements consensus.StateReader.
func (n *Node) Snapshot() c.StateSnapshot {
	if n.r == nil {
		return c.StateSnapshot{Role: c.RoleShutdown}
	}
	stats := n.r.Stats()

	n.mu.Lock()
	barrier := n.noOpBarrier
	barrierSet := n.barrierSet
	n.mu.Unlock()

	role := mapRole(n.r.State())
	commitIdx := parseU64(stats["commit_index"])
	return c.StateSnapshot{
		Role:                    role,
		Term:                    parseI64(stats["term"]),
		NoOpCommitted:           role == c.RoleLeader && barrierSet && commitIdx >= barrier,
		OldLeaderLeaseRemaining: n.opts.Lease.OldLeaderLeaseRemaining(),
		MajorityReplicatedLease: n.opts.Lease.MajorityReplicated(),
		LastReceived: opid.OpId{
			Term:  parseI64(stats["last_log_term"]),
			Index: parseI64(stats["last_log_index"]),
		},
		LastCommitted: n.fsm.LastCommitted(),
	}
}

// BootstrapInfo returns the log positions captured at Start.
func (n *Node) BootstrapInfo() *c.BootstrapInfo { return n.boot }

func (n *Node) IsLeader() bool {
	return n.r != nil && n.r.State() == raft.Leader
}

func (n *Node) Leader() (id string, addr string, ok bool) {
	if n.r == nil {
		return "", "", false
	}
	a, sid := n.r.LeaderWithID()
	if sid == "" {
		return "", "", false
	}
	return string(sid), string(a), true
}

func (n *Node) Stop() error {
	if n.r == nil {
		return nil
	}
	f := n.r.Shutdown()
	if err := f.Error(); err != nil {
		return err
	}
	n.r = nil
	return nil
}

// LeaderCh delivers leadership updates; slow consumers may miss events.
func (n *Node) LeaderCh() <-chan LeaderInfo { return n.lch }

func (n *Node) emitLeader(li LeaderInfo) {
	select {
	case n.lch <- li:
	default:
		// drop to avoid blocking; last-writer-wins is fine for leadership
	}
}

func (n *Node) currentTerm() int64 {
	if n.r == nil {
		return 0
	}
	return parseI64(n.r.Stats()["term"])
}

func (n *Node) lastReceived() opid.OpId {
	stats := n.r.Stats()
	return opid.OpId{Term: parseI64(stats["last_log_term"]), Index: parseI64(stats["last_log_index"])}
}

func mapRole(s raft.RaftState) c.Role {
	switch s {
	case raft.Leader:
		return c.RoleLeader
	case raft.Candidate:
		return c.RoleCandidate
	case raft.Follower:
		return c.RoleFollower
	}
	return c.RoleShutdown
}

func parseI64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseU64(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Ensure interface compliance.
var (
	_ c.Driver      = (*Node)(nil)
	_ c.StateReader = (*Node)(nil)
)
