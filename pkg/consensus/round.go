package consensus

import (
	"fmt"
	"sync/atomic"

	"github.com/amirimatin/go-consensus/pkg/opid"

	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
)

// UnboundTerm marks a round with no term binding. Such rounds are usable in
// any term; they carry administrative or no-op entries issued before a term
// is finalized.
const UnboundTerm int64 = -1

// ReplicateMsg is the proposal record a round carries through replication.
// The Op/Payload semantics belong to the state machine integration; the
// control core treats them as opaque.
type ReplicateMsg struct {
	Id      opid.OpId `json:"id"`
	Op      string    `json:"op"`
	Payload []byte    `json:"payload,omitempty"`
}

// ReplicatedCallback is notified exactly once when the round's fate is
// known. status is nil on commit; leaderTerm is the leader term active at
// the moment the result became known, which may differ from the bound term
// for unbound rounds.
type ReplicatedCallback func(status error, leaderTerm int64, appliedOpIds []opid.OpId)

// Round is one proposal's journey from submission to a known replication
// outcome. It is created on the leader's proposal-dispatch path and
// completed from the replication-tracking path; the two synchronize only
// through the round's atomic completion flag.
type Round struct {
	// back-reference to the owning facade, lookup only. The round never
	// extends the facade's lifetime.
	consensus *Consensus

	msg       *ReplicateMsg
	cb        ReplicatedCallback
	boundTerm int64
	completed atomic.Bool
}

func newRound(c *Consensus, msg *ReplicateMsg, cb ReplicatedCallback, boundTerm int64) *Round {
	if msg == nil {
		panic("consensus: nil ReplicateMsg")
	}
	return &Round{consensus: c, msg: msg, cb: cb, boundTerm: boundTerm}
}

// ReplicateMsg returns the shared proposal payload. After the completion
// callback returns no further access occurs, so callback completion is the
// synchronization point for payload teardown.
func (r *Round) ReplicateMsg() *ReplicateMsg { return r.msg }

// BoundTerm returns the term the round was bound to, or UnboundTerm.
func (r *Round) BoundTerm() int64 { return r.boundTerm }

// CheckBoundTerm succeeds when the round is unbound or bound to currentTerm.
// The replication driver must call this immediately before appending the
// entry, not only at creation: the term may advance in between. A stale
// success is an acceptable race; the append point re-checks.
func (r *Round) CheckBoundTerm(currentTerm int64) error {
	if r.boundTerm != UnboundTerm && r.boundTerm != currentTerm {
		obsmetrics.RoundTermRejections.Inc()
		return fmt.Errorf("%w: operation submitted in term %d cannot be replicated in term %d",
			ErrAborted, r.boundTerm, currentTerm)
	}
	return nil
}

// NotifyReplicationFinished reports the round's fate. The registered
// callback fires at most once no matter how many completion paths race; the
// guard is a compare-and-swap, not a lock, so the callback may itself call
// back into the consensus core without deadlocking. Without a registered
// callback this is a silent no-op.
func (r *Round) NotifyReplicationFinished(status error, leaderTerm int64, appliedOpIds []opid.OpId) {
	if !r.completed.CompareAndSwap(false, true) {
		return
	}
	obsmetrics.RoundsCompleted.WithLabelValues(completionResult(status)).Inc()
	if r.cb == nil {
		return
	}
	r.cb(status, leaderTerm, appliedOpIds)
}

// Completed reports whether a completion notification has been delivered.
func (r *Round) Completed() bool { return r.completed.Load() }

func completionResult(status error) string {
	if status == nil {
		return "committed"
	}
	return "aborted"
}
