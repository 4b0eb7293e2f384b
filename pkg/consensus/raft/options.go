package raftcons

import (
	"log"
	"time"

	"github.com/amirimatin/go-consensus/pkg/lease"
)

// Options configure the Raft-backed replication driver.
type Options struct {
	NodeID string
	Logger *log.Logger

	// Bootstrap forms a single-node cluster on Start when true.
	Bootstrap bool

	// Lease feeds the readiness ladder's lease gates. Required.
	Lease *lease.Tracker

	// LeaseDuration is the length of the leader lease granted to peers and
	// assumed held by the previous leader at leadership acquisition.
	// Zero means the engine's leader-lease timeout.
	LeaseDuration time.Duration

	// Timeouts (optional). Zero means defaults.
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	CommitTimeout    time.Duration
	ApplyTimeout     time.Duration // client-side apply wait

	// Networking & Storage
	// If BindAddr is non-empty, a TCP transport is used bound to this
	// address (e.g., "127.0.0.1:0"). Otherwise, an in-memory transport is
	// used.
	BindAddr string

	// DataDir selects on-disk stores when non-empty (bolt store for
	// log/stable, file snapshot store). When empty, in-memory stores are
	// used.
	DataDir string

	// SnapshotsRetained controls how many snapshots to retain on disk.
	SnapshotsRetained int
}
