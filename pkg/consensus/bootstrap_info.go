package consensus

import "github.com/amirimatin/go-consensus/pkg/opid"

// BootstrapInfo captures the last received and last committed OpIds known at
// node startup, before the core accepts any round. The log-replay
// collaborator reads it during recovery; it is never mutated afterwards.
type BootstrapInfo struct {
	LastReceived  opid.OpId
	LastCommitted opid.OpId
}

// NewBootstrapInfo returns bootstrap info with both positions at
// opid.Minimum.
func NewBootstrapInfo() *BootstrapInfo {
	return &BootstrapInfo{LastReceived: opid.Minimum, LastCommitted: opid.Minimum}
}
