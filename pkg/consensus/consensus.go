package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
	"github.com/amirimatin/go-consensus/pkg/observability/tracing"
	"github.com/amirimatin/go-consensus/pkg/opid"
)

// Driver is the replication machinery behind the control core: it appends
// round payloads to the local log, ships them to peers and reports their
// fate back through Round.NotifyReplicationFinished.
type Driver interface {
	Start(ctx context.Context) error
	// Submit hands a term-checked round to the replication pipeline.
	Submit(ctx context.Context, r *Round) error
	ChangeConfig(ctx context.Context, change ConfigChange) error
	Stop() error
}

// Updater is an optional interface a Driver may provide to accept
// leader-to-follower update batches through the facade's hooked path.
type Updater interface {
	Update(ctx context.Context, req UpdateRequest) error
}

// ConfigChange describes a membership configuration change request.
type ConfigChange struct {
	Type     string `json:"type"` // "add_voter" or "remove_server"
	ServerID string `json:"serverId"`
	Addr     string `json:"addr,omitempty"`
}

// UpdateRequest is a follower-side batch of entries from the leader.
type UpdateRequest struct {
	Term          int64           `json:"term"`
	Entries       []*ReplicateMsg `json:"entries,omitempty"`
	CommittedOpId opid.OpId       `json:"committedOpId"`
}

// OpIdType selects which log position GetLastOpId reports.
type OpIdType int

const (
	UnknownOpIdType OpIdType = iota
	// ReceivedOpId is the last entry appended to the local log (durable
	// locally, not necessarily on a majority).
	ReceivedOpId
	// CommittedOpId is the last entry known committed (durable on a
	// majority).
	CommittedOpId
)

func (t OpIdType) String() string {
	switch t {
	case UnknownOpIdType:
		return "unknown"
	case ReceivedOpId:
		return "received"
	case CommittedOpId:
		return "committed"
	}
	return fmt.Sprintf("op_id_type(%d)", int(t))
}

// Options carries the collaborators the control core composes. One Consensus
// instance serves one replicated log.
type Options struct {
	// Name identifies the replicated log this core serves, for logging.
	Name string
	// State is the collaborator surface readiness is computed from.
	State StateReader
	// Driver is the replication pipeline rounds are submitted to.
	Driver Driver
	// Logger is optional; log.Default() is used when nil.
	Logger *log.Logger
}

// Validate checks required collaborators without side effects.
func (o Options) Validate() error {
	if o.State == nil {
		return errors.New("consensus: nil State")
	}
	if o.Driver == nil {
		return errors.New("consensus: nil Driver")
	}
	return nil
}

// Consensus is the control core of the replicated log: it creates
// term-bound rounds, answers leader-readiness queries, dispatches OpId
// lookups and routes lifecycle transitions through the fault-hook surface.
type Consensus struct {
	opts   Options
	log    *log.Logger
	state  StateReader
	driver Driver

	// hooks is replaced atomically; last writer wins. Invocation takes no
	// lock, hooks are test-only and non-reentrant by convention.
	hooks atomic.Pointer[FaultHooks]

	// staleState caches the last computed LeaderState for allow-stale
	// queries. No cross-field consistency with live collaborator state is
	// guaranteed, only that the cached value was consistent when computed.
	staleState atomic.Pointer[LeaderState]

	run struct {
		mu      sync.Mutex
		started bool
		stopped bool
	}
}

// New constructs the control core. It performs no I/O; call Start.
func New(opts Options) (*Consensus, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	obsmetrics.Register()
	return &Consensus{opts: opts, log: opts.Logger, state: opts.State, driver: opts.Driver}, nil
}

// Start launches the replication driver, bracketed by the start hooks.
func (c *Consensus) Start(ctx context.Context) error {
	c.run.mu.Lock()
	defer c.run.mu.Unlock()
	if c.run.started {
		return nil
	}
	if err := c.ExecuteHook(PreStart); err != nil {
		return err
	}
	if err := c.driver.Start(ctx); err != nil {
		return err
	}
	c.run.started = true
	logutil.Infof(c.log, "consensus %s started", c.opts.Name)
	return c.ExecuteHook(PostStart)
}

// Stop shuts the driver down, bracketed by the shutdown hooks.
func (c *Consensus) Stop() error {
	c.run.mu.Lock()
	defer c.run.mu.Unlock()
	if !c.run.started || c.run.stopped {
		return nil
	}
	if err := c.ExecuteHook(PreShutdown); err != nil {
		return err
	}
	if err := c.driver.Stop(); err != nil {
		return err
	}
	c.run.stopped = true
	logutil.Infof(c.log, "consensus %s stopped", c.opts.Name)
	return c.ExecuteHook(PostShutdown)
}

// NewRound allocates a round bound to the current term. msg must be non-nil
// (programming error otherwise); cb may be nil, in which case nobody is
// notified of the round's fate.
func (c *Consensus) NewRound(msg *ReplicateMsg, cb ReplicatedCallback) *Round {
	obsmetrics.RoundsCreated.Inc()
	return newRound(c, msg, cb, c.state.Snapshot().Term)
}

// NewUnboundRound allocates a round usable in any term, for administrative
// and no-op entries issued before a term is finalized.
func (c *Consensus) NewUnboundRound(msg *ReplicateMsg, cb ReplicatedCallback) *Round {
	obsmetrics.RoundsCreated.Inc()
	return newRound(c, msg, cb, UnboundTerm)
}

// ReplicateRound runs the replicate transition: pre-hook, bound-term check
// against the current term, submission to the driver, post-hook. A failing
// pre-hook aborts before the driver ever sees the round.
func (c *Consensus) ReplicateRound(ctx context.Context, r *Round) error {
	ctx, end := tracing.StartSpan(ctx, "consensus.replicate")
	defer end()
	if err := c.ExecuteHook(PreReplicate); err != nil {
		return err
	}
	if err := r.CheckBoundTerm(c.state.Snapshot().Term); err != nil {
		return err
	}
	if err := c.driver.Submit(ctx, r); err != nil {
		return err
	}
	return c.ExecuteHook(PostReplicate)
}

// ChangeConfig forwards a configuration change through the config-change
// hooks to the driver.
func (c *Consensus) ChangeConfig(ctx context.Context, change ConfigChange) error {
	ctx, end := tracing.StartSpan(ctx, "consensus.change_config")
	defer end()
	if err := c.ExecuteHook(PreConfigChange); err != nil {
		return err
	}
	if err := c.driver.ChangeConfig(ctx, change); err != nil {
		return err
	}
	return c.ExecuteHook(PostConfigChange)
}

// Update forwards a leader update batch through the update hooks. Drivers
// that replicate internally need not implement Updater.
func (c *Consensus) Update(ctx context.Context, req UpdateRequest) error {
	if err := c.ExecuteHook(PreUpdate); err != nil {
		return err
	}
	u, ok := c.driver.(Updater)
	if !ok {
		return fmt.Errorf("%w: driver does not accept updates", ErrInvalidArgument)
	}
	if err := u.Update(ctx, req); err != nil {
		return err
	}
	return c.ExecuteHook(PostUpdate)
}

// GetLeaderState computes the readiness verdict. allowStale=true returns the
// cached last computation when one exists, for hot paths that tolerate a
// slightly stale answer; allowStale=false recomputes from one consistent
// collaborator snapshot.
func (c *Consensus) GetLeaderState(allowStale bool) LeaderState {
	if allowStale {
		if ls := c.staleState.Load(); ls != nil {
			return *ls
		}
	}
	ls := leaderStateFromSnapshot(c.state.Snapshot())
	c.staleState.Store(&ls)
	obsmetrics.LeaderReady.Set(boolGauge(ls.Status.Ready()))
	return ls
}

// GetLeaderStatus returns only the ladder position.
func (c *Consensus) GetLeaderStatus(allowStale bool) LeaderStatus {
	return c.GetLeaderState(allowStale).Status
}

// LeaderTerm returns the current leader term, or opid.UnknownTerm when the
// node is not a ready leader. The sentinel means "not applicable", not
// "wrong term".
func (c *Consensus) LeaderTerm() int64 {
	return c.GetLeaderState(false).Term
}

// CheckIsReady maps the current readiness verdict to an outcome, the entry
// point serving paths use before accepting a read or write.
func (c *Consensus) CheckIsReady() error {
	return c.GetLeaderState(false).CreateStatus()
}

// GetLastOpId dispatches on kind to the log's last received or last
// committed position. Any other kind is a caller bug and fails with
// ErrInvalidArgument naming the kind.
func (c *Consensus) GetLastOpId(kind OpIdType) (opid.OpId, error) {
	snap := c.state.Snapshot()
	switch kind {
	case ReceivedOpId:
		return snap.LastReceived, nil
	case CommittedOpId:
		return snap.LastCommitted, nil
	}
	return opid.OpId{}, fmt.Errorf("%w: unsupported OpId type %q", ErrInvalidArgument, kind)
}

// SetFaultHooks installs hooks for this core instance, replacing any
// previously installed set.
func (c *Consensus) SetFaultHooks(hooks FaultHooks) {
	if hooks == nil {
		c.hooks.Store(nil)
		return
	}
	c.hooks.Store(&hooks)
}

// GetFaultHooks returns the currently installed hooks, or nil.
func (c *Consensus) GetFaultHooks() FaultHooks {
	h := c.hooks.Load()
	if h == nil {
		return nil
	}
	return *h
}

// ExecuteHook invokes the callback matching point if hooks are installed; a
// hook failure propagates to the caller and aborts the transition in
// progress. With no hooks installed it is a no-op success. An unknown point
// is a programming error and panics.
func (c *Consensus) ExecuteHook(point HookPoint) error {
	hp := c.hooks.Load()
	if hp == nil {
		return nil
	}
	h := *hp
	var err error
	switch point {
	case PreStart:
		err = h.PreStart()
	case PostStart:
		err = h.PostStart()
	case PreConfigChange:
		err = h.PreConfigChange()
	case PostConfigChange:
		err = h.PostConfigChange()
	case PreReplicate:
		err = h.PreReplicate()
	case PostReplicate:
		err = h.PostReplicate()
	case PreUpdate:
		err = h.PreUpdate()
	case PostUpdate:
		err = h.PostUpdate()
	case PreShutdown:
		err = h.PreShutdown()
	case PostShutdown:
		err = h.PostShutdown()
	default:
		panic(fmt.Sprintf("consensus: unknown hook point %d", int(point)))
	}
	if err != nil {
		obsmetrics.HookFailures.WithLabelValues(point.String()).Inc()
		logutil.Warnf(c.log, "fault hook %s failed: %v", point, err)
	}
	return err
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
