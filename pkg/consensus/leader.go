package consensus

import (
	"fmt"
	"time"

	"github.com/amirimatin/go-consensus/pkg/opid"
)

// LeaderStatus is the ordered readiness ladder a newly elected leader climbs
// before it may serve consistent reads and writes.
type LeaderStatus int

const (
	NotLeader LeaderStatus = iota
	LeaderButNoOpNotCommitted
	LeaderButOldLeaderMayHaveLease
	LeaderButNoMajorityReplicatedLease
	LeaderAndReady
)

func (s LeaderStatus) String() string {
	switch s {
	case NotLeader:
		return "not_leader"
	case LeaderButNoOpNotCommitted:
		return "leader_no_op_not_committed"
	case LeaderButOldLeaderMayHaveLease:
		return "leader_old_leader_may_have_lease"
	case LeaderButNoMajorityReplicatedLease:
		return "leader_no_majority_replicated_lease"
	case LeaderAndReady:
		return "leader_and_ready"
	}
	return fmt.Sprintf("leader_status(%d)", int(s))
}

// Ready reports whether the node may serve as leader.
func (s LeaderStatus) Ready() bool { return s == LeaderAndReady }

// LeaderState is a transient point-in-time readiness verdict. Term carries
// opid.UnknownTerm for every non-ready status; callers must read that as
// "not applicable", never as a real term.
type LeaderState struct {
	Status                  LeaderStatus
	Term                    int64
	RemainingOldLeaderLease time.Duration
}

func notReadyLeader(status LeaderStatus, remaining time.Duration) LeaderState {
	return LeaderState{Status: status, Term: opid.UnknownTerm, RemainingOldLeaderLease: remaining}
}

// leaderStateFromSnapshot walks the readiness gates in order. Each gate that
// fails short-circuits with the matching not-ready status.
func leaderStateFromSnapshot(s StateSnapshot) LeaderState {
	if s.Role != RoleLeader {
		return notReadyLeader(NotLeader, 0)
	}
	if !s.NoOpCommitted {
		return notReadyLeader(LeaderButNoOpNotCommitted, 0)
	}
	if s.OldLeaderLeaseRemaining > 0 {
		return notReadyLeader(LeaderButOldLeaderMayHaveLease, s.OldLeaderLeaseRemaining)
	}
	if !s.MajorityReplicatedLease {
		return notReadyLeader(LeaderButNoMajorityReplicatedLease, 0)
	}
	return LeaderState{Status: LeaderAndReady, Term: s.Term}
}

// CreateStatus maps the readiness verdict to an outcome for the serving path.
// The mapping is exhaustive over the five statuses; anything else is a
// programming error and panics.
func (s LeaderState) CreateStatus() error {
	switch s.Status {
	case NotLeader:
		return ErrNotLeader
	case LeaderButNoOpNotCommitted:
		return fmt.Errorf("%w: leader has not yet replicated a no-op entry", ErrLeaderNotReadyToServe)
	case LeaderButOldLeaderMayHaveLease:
		return fmt.Errorf("%w: previous leader's lease might still be active (%s remaining)",
			ErrLeaderNotReadyToServe, s.RemainingOldLeaderLease)
	case LeaderButNoMajorityReplicatedLease:
		return fmt.Errorf("%w: this leader has not yet acquired a lease", ErrLeaderHasNoLease)
	case LeaderAndReady:
		return nil
	}
	panic(fmt.Sprintf("consensus: invalid LeaderStatus %d", int(s.Status)))
}
