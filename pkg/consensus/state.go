package consensus

import (
	"time"

	"github.com/amirimatin/go-consensus/pkg/opid"
)

// Role is the node's position in the current term as reported by the
// election machinery.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
	RoleShutdown
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	case RoleShutdown:
		return "shutdown"
	}
	return "unknown"
}

// StateSnapshot is one consistent view of the collaborator inputs the
// readiness ladder is computed from: role and term from the election
// machinery, the no-op commit flag from the commit tracker, lease fields
// from the lease clock, and the log's last received/committed OpIds.
type StateSnapshot struct {
	Role                    Role
	Term                    int64
	NoOpCommitted           bool
	OldLeaderLeaseRemaining time.Duration
	MajorityReplicatedLease bool
	LastReceived            opid.OpId
	LastCommitted           opid.OpId
}

// StateReader is the collaborator surface the control core queries.
// Snapshot must return one internally consistent view; it may take a lock.
// The core never caches snapshots across calls except for explicitly
// stale-tolerant leader-state queries.
type StateReader interface {
	Snapshot() StateSnapshot
}
