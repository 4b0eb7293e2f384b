package lease

import (
	"sync"
	"time"

	obsmetrics "github.com/amirimatin/go-consensus/pkg/observability/metrics"
)

// Peers reports the size of the current voter set, used for majority math.
// The memberlist-backed membership implements this through a thin adapter.
type Peers interface {
	Count() int
}

// Tracker follows the two lease questions the readiness ladder asks: how
// long the previous leader's lease may still run, and whether this leader's
// own lease has been acknowledged by a majority of voters.
//
// The replication driver records a peer ack every time a peer confirms an
// entry carrying a lease grant; acks expire on their own after the granted
// duration.
type Tracker struct {
	mu    sync.Mutex
	local string
	peers Peers
	clock func() time.Time

	acks              map[string]time.Time // peer id -> ack expiry
	oldLeaderDeadline time.Time
}

// NewTracker creates a tracker for the named local node. peers must not be
// nil.
func NewTracker(local string, peers Peers) *Tracker {
	return &Tracker{
		local: local,
		peers: peers,
		clock: time.Now,
		acks:  make(map[string]time.Time),
	}
}

// WithClock overrides the time source, for tests.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.mu.Lock()
	t.clock = clock
	t.mu.Unlock()
	return t
}

// RecordAck notes that peer holds this leader's lease until expiry. Later
// acks for the same peer supersede earlier ones.
func (t *Tracker) RecordAck(peer string, expiry time.Time) {
	t.mu.Lock()
	t.acks[peer] = expiry
	t.mu.Unlock()
	obsmetrics.LeaseAcks.Inc()
}

// SetOldLeaderDeadline records the instant until which the previous leader's
// lease must be assumed live. Called once per leadership acquisition.
func (t *Tracker) SetOldLeaderDeadline(d time.Time) {
	t.mu.Lock()
	t.oldLeaderDeadline = d
	t.mu.Unlock()
}

// Reset drops all peer acks and the old-leader deadline, on leadership loss.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.acks = make(map[string]time.Time)
	t.oldLeaderDeadline = time.Time{}
	t.mu.Unlock()
}

// OldLeaderLeaseRemaining returns how long the previous leader's lease may
// still run, zero once expired.
func (t *Tracker) OldLeaderLeaseRemaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	rem := t.oldLeaderDeadline.Sub(t.clock())
	if rem < 0 {
		return 0
	}
	return rem
}

// MajorityReplicated reports whether this leader's lease is currently held
// by a majority of the voter set. The local node always counts itself.
func (t *Tracker) MajorityReplicated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	live := 1 // self
	for peer, expiry := range t.acks {
		if peer == t.local {
			continue
		}
		if expiry.After(now) {
			live++
		} else {
			delete(t.acks, peer)
		}
	}
	obsmetrics.LeasePeersLive.Set(float64(live - 1))
	n := t.peers.Count()
	if n < 1 {
		n = 1
	}
	return live >= n/2+1
}
