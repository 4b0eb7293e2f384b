package raftcons

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	c "github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/opid"
)

// logFSM bridges Raft Apply/Snapshot to the control core's notion of the
// last committed OpId. Entry payloads are opaque to it.
type logFSM struct {
	mu   sync.Mutex
	last opid.OpId
}

func newLogFSM() *logFSM { return &logFSM{last: opid.Minimum} }

func (f *logFSM) Apply(l *raft.Log) interface{} {
	var msg c.ReplicateMsg
	if err := json.Unmarshal(l.Data, &msg); err != nil {
		return err
	}
	// The engine's log position is authoritative, not the proposer's guess.
	f.mu.Lock()
	f.last = opid.OpId{Term: int64(l.Term), Index: int64(l.Index)}
	f.mu.Unlock()
	return nil
}

// LastCommitted returns the OpId of the last applied entry.
func (f *logFSM) LastCommitted() opid.OpId {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *logFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	blob, err := json.Marshal(f.last)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &snapshot{blob: blob, at: time.Now()}, nil
}

func (f *logFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	var last opid.OpId
	if err := json.Unmarshal(data, &last); err != nil {
		return err
	}
	f.mu.Lock()
	f.last = last
	f.mu.Unlock()
	return nil
}

type snapshot struct {
	blob []byte
	at   time.Time
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.blob); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *snapshot) Release() {}

// Ensure compile-time interface compliance.
var _ raft.FSM = (*logFSM)(nil)
