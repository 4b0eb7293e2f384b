package consensus

import "errors"

var (
	// ErrAborted indicates a round whose bound term no longer matches the
	// current term; the caller may re-propose under the new term.
	ErrAborted = errors.New("consensus: aborted")

	// ErrNotLeader indicates the node does not currently hold leadership.
	ErrNotLeader = errors.New("consensus: not the leader")

	// ErrLeaderNotReadyToServe indicates nominal leadership with one of the
	// readiness gates still open (no-op not committed, or the previous
	// leader's lease still running).
	ErrLeaderNotReadyToServe = errors.New("consensus: leader not ready to serve")

	// ErrLeaderHasNoLease indicates the leader has not yet replicated its
	// own lease to a majority.
	ErrLeaderHasNoLease = errors.New("consensus: leader has no lease")

	// ErrInvalidArgument indicates a caller bug such as an unknown OpId kind.
	ErrInvalidArgument = errors.New("consensus: invalid argument")
)
