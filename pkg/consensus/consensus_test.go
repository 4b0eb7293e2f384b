package consensus

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-consensus/pkg/opid"
)

// fakeState is a mutable StateReader for unit tests.
type fakeState struct {
	mu   sync.Mutex
	snap StateSnapshot
}

func (f *fakeState) Snapshot() StateSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeState) set(fn func(*StateSnapshot)) {
	f.mu.Lock()
	fn(&f.snap)
	f.mu.Unlock()
}

// fakeDriver records submissions and can be told to fail.
type fakeDriver struct {
	mu        sync.Mutex
	started   bool
	stopped   bool
	submitted []*Round
	changes   []ConfigChange
	submitErr error
}

func (d *fakeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *fakeDriver) Submit(ctx context.Context, r *Round) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return d.submitErr
	}
	d.submitted = append(d.submitted, r)
	return nil
}

func (d *fakeDriver) ChangeConfig(ctx context.Context, change ConfigChange) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
	return nil
}

func (d *fakeDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *fakeDriver) submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.submitted)
}

func newTestConsensus(t *testing.T, st *fakeState, d Driver) *Consensus {
	t.Helper()
	c, err := New(Options{Name: "test-log", State: st, Driver: d, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	return c
}

func leaderSnapshot(term int64) StateSnapshot {
	return StateSnapshot{
		Role:                    RoleLeader,
		Term:                    term,
		NoOpCommitted:           true,
		MajorityReplicatedLease: true,
		LastReceived:            opid.OpId{Term: term, Index: 10},
		LastCommitted:           opid.OpId{Term: term, Index: 8},
	}
}

func TestNew_ValidatesCollaborators(t *testing.T) {
	_, err := New(Options{Driver: &fakeDriver{}})
	require.Error(t, err)
	_, err = New(Options{State: &fakeState{}})
	require.Error(t, err)
}

func TestGetLastOpId_Dispatch(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(3)}
	c := newTestConsensus(t, st, &fakeDriver{})

	received, err := c.GetLastOpId(ReceivedOpId)
	require.NoError(t, err)
	require.Equal(t, opid.OpId{Term: 3, Index: 10}, received)

	committed, err := c.GetLastOpId(CommittedOpId)
	require.NoError(t, err)
	require.Equal(t, opid.OpId{Term: 3, Index: 8}, committed)

	require.NotEqual(t, received, committed)
}

func TestGetLastOpId_UnknownKind(t *testing.T) {
	c := newTestConsensus(t, &fakeState{}, &fakeDriver{})

	_, err := c.GetLastOpId(UnknownOpIdType)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Contains(t, err.Error(), "unknown")

	_, err = c.GetLastOpId(OpIdType(42))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetLeaderState_StaleUsesCache(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(2)}
	c := newTestConsensus(t, st, &fakeDriver{})

	require.Equal(t, LeaderAndReady, c.GetLeaderStatus(false))

	// Collaborator state changes; the stale path keeps serving the cached
	// verdict until someone recomputes.
	st.set(func(s *StateSnapshot) { s.Role = RoleFollower })
	require.Equal(t, LeaderAndReady, c.GetLeaderStatus(true))
	require.Equal(t, NotLeader, c.GetLeaderStatus(false))
	require.Equal(t, NotLeader, c.GetLeaderStatus(true))
}

func TestGetLeaderState_StaleFallsThroughWhenCold(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(2)}
	c := newTestConsensus(t, st, &fakeDriver{})
	// No cached verdict yet: allowStale must still answer.
	require.Equal(t, LeaderAndReady, c.GetLeaderStatus(true))
}

func TestLeaderTerm_SentinelWhenNotReady(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(4)}
	c := newTestConsensus(t, st, &fakeDriver{})
	require.EqualValues(t, 4, c.LeaderTerm())

	st.set(func(s *StateSnapshot) { s.NoOpCommitted = false })
	require.Equal(t, opid.UnknownTerm, c.LeaderTerm())
}

func TestNewRound_BindsCurrentTerm(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(5)}
	c := newTestConsensus(t, st, &fakeDriver{})

	r := c.NewRound(&ReplicateMsg{Op: "put"}, nil)
	require.EqualValues(t, 5, r.BoundTerm())

	u := c.NewUnboundRound(&ReplicateMsg{Op: "no_op"}, nil)
	require.EqualValues(t, UnboundTerm, u.BoundTerm())
}

func TestNewRound_NilPayloadPanics(t *testing.T) {
	c := newTestConsensus(t, &fakeState{}, &fakeDriver{})
	require.Panics(t, func() { c.NewRound(nil, nil) })
}

func TestReplicateRound_TermAdvanceAborts(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(5)}
	d := &fakeDriver{}
	c := newTestConsensus(t, st, d)

	r := c.NewRound(&ReplicateMsg{Op: "put"}, nil)

	// Term advances between proposal submission and the append attempt.
	st.set(func(s *StateSnapshot) { s.Term = 6 })
	err := c.ReplicateRound(context.Background(), r)
	require.ErrorIs(t, err, ErrAborted)
	require.Contains(t, err.Error(), "term 5")
	require.Contains(t, err.Error(), "term 6")
	require.Zero(t, d.submissions())
}

func TestReplicateRound_SubmitsWhenTermMatches(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(5)}
	d := &fakeDriver{}
	c := newTestConsensus(t, st, d)

	r := c.NewRound(&ReplicateMsg{Op: "put"}, nil)
	require.NoError(t, c.ReplicateRound(context.Background(), r))
	require.Equal(t, 1, d.submissions())
}

func TestStartStop_DriverLifecycle(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConsensus(t, &fakeState{}, d)

	require.NoError(t, c.Start(context.Background()))
	require.True(t, d.started)
	// Idempotent.
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Stop())
	require.True(t, d.stopped)
	require.NoError(t, c.Stop())
}

func TestUpdate_UnsupportedDriver(t *testing.T) {
	c := newTestConsensus(t, &fakeState{}, &fakeDriver{})
	err := c.Update(context.Background(), UpdateRequest{Term: 1})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

// updateDriver is a fakeDriver that also accepts update batches.
type updateDriver struct {
	fakeDriver
	updates []UpdateRequest
}

func (d *updateDriver) Update(ctx context.Context, req UpdateRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, req)
	return nil
}

func TestUpdate_ForwardsToUpdater(t *testing.T) {
	d := &updateDriver{}
	c := newTestConsensus(t, &fakeState{}, d)
	require.NoError(t, c.Update(context.Background(), UpdateRequest{Term: 2}))
	require.Len(t, d.updates, 1)
}

func TestChangeConfig_Forwards(t *testing.T) {
	d := &fakeDriver{}
	c := newTestConsensus(t, &fakeState{}, d)
	require.NoError(t, c.ChangeConfig(context.Background(), ConfigChange{Type: "add_voter", ServerID: "n2", Addr: "127.0.0.1:9522"}))
	require.Len(t, d.changes, 1)
}

func TestBootstrapInfo_StartsAtMinimum(t *testing.T) {
	bi := NewBootstrapInfo()
	require.Equal(t, opid.Minimum, bi.LastReceived)
	require.Equal(t, opid.Minimum, bi.LastCommitted)
}

func TestReplicateRound_DriverFailurePropagates(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(5)}
	d := &fakeDriver{submitErr: errors.New("pipe broken")}
	c := newTestConsensus(t, st, d)

	r := c.NewRound(&ReplicateMsg{Op: "put"}, nil)
	err := c.ReplicateRound(context.Background(), r)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pipe broken")
}
