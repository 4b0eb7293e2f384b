//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amirimatin/go-consensus/pkg/bootstrap"
	"github.com/amirimatin/go-consensus/pkg/consensus"
	"github.com/amirimatin/go-consensus/pkg/opid"
	"github.com/amirimatin/go-consensus/pkg/transport"
	mgmtgrpc "github.com/amirimatin/go-consensus/pkg/transport/grpc"
)

var errNotYet = errors.New("not yet")

func waitUntil(t *testing.T, d time.Duration, cond func() error) {
	t.Helper()
	deadline := time.Now().Add(d)
	var last error
	for time.Now().Before(deadline) {
		if last = cond(); last == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %v", d, last)
}

func startSingleNode(t *testing.T, ctx context.Context, mgmtAddr string) *bootstrap.Node {
	t.Helper()
	n, err := bootstrap.Run(ctx, bootstrap.Config{
		NodeID:    "n1",
		MgmtAddr:  mgmtAddr,
		Bootstrap: true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestSingleNode_ReachesReadyAndServesStatus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const addr = "127.0.0.1:27946"
	n := startSingleNode(t, ctx, addr)

	waitUntil(t, 10*time.Second, func() error {
		if !n.Consensus().GetLeaderStatus(false).Ready() {
			return errNotYet
		}
		return nil
	})

	cli := mgmtgrpc.NewClient(3 * time.Second)

	blob, err := cli.GetStatus(ctx, addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st bootstrap.NodeStatus
	if err := json.Unmarshal(blob, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Ready || st.NodeID != "n1" {
		t.Fatalf("unexpected status: %+v", st)
	}

	ls, err := cli.GetLeaderState(ctx, addr, transport.LeaderStateRequest{})
	if err != nil {
		t.Fatalf("leader state: %v", err)
	}
	if !ls.Ready || ls.Term <= 0 {
		t.Fatalf("unexpected leader state: %+v", ls)
	}

	for _, kind := range []string{"received", "committed"} {
		if _, err := cli.GetLastOpId(ctx, addr, transport.OpIdRequest{Kind: kind}); err != nil {
			t.Fatalf("last op id (%s): %v", kind, err)
		}
	}
	if _, err := cli.GetLastOpId(ctx, addr, transport.OpIdRequest{Kind: "bogus"}); err == nil {
		t.Fatalf("expected error for bogus op id kind")
	}
}

func TestSingleNode_RoundCommitsThroughFacade(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n := startSingleNode(t, ctx, "127.0.0.1:27947")
	cons := n.Consensus()

	waitUntil(t, 10*time.Second, func() error {
		if !cons.GetLeaderStatus(false).Ready() {
			return errNotYet
		}
		return nil
	})

	var fired int32
	round := cons.NewRound(&consensus.ReplicateMsg{Op: "put", Payload: []byte("a=1")}, func(status error, leaderTerm int64, appliedOpIds []opid.OpId) {
		if status == nil {
			atomic.AddInt32(&fired, 1)
		}
	})
	if err := cons.ReplicateRound(ctx, round); err != nil {
		t.Fatalf("replicate: %v", err)
	}
	waitUntil(t, 10*time.Second, func() error {
		if atomic.LoadInt32(&fired) != 1 {
			return errNotYet
		}
		return nil
	})

	waitUntil(t, 10*time.Second, func() error {
		id, err := cons.GetLastOpId(consensus.CommittedOpId)
		if err != nil {
			return err
		}
		if id.Empty() {
			return errNotYet
		}
		return nil
	})
}

// failReplicate aborts every replicate transition at the pre hook.
type failReplicate struct {
	consensus.NopFaultHooks
	hit int32
}

func (h *failReplicate) PreReplicate() error {
	atomic.AddInt32(&h.hit, 1)
	return errors.New("injected crash before replicate")
}

func TestSingleNode_FaultHookAbortsReplicate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n := startSingleNode(t, ctx, "127.0.0.1:27948")
	cons := n.Consensus()

	waitUntil(t, 10*time.Second, func() error {
		if !cons.GetLeaderStatus(false).Ready() {
			return errNotYet
		}
		return nil
	})

	hooks := &failReplicate{}
	cons.SetFaultHooks(hooks)
	defer cons.SetFaultHooks(nil)

	round := cons.NewRound(&consensus.ReplicateMsg{Op: "put"}, nil)
	if err := cons.ReplicateRound(ctx, round); err == nil {
		t.Fatalf("expected replicate to abort via fault hook")
	}
	if atomic.LoadInt32(&hooks.hit) != 1 {
		t.Fatalf("pre-replicate hook hit %d times, want 1", hooks.hit)
	}
	if round.Completed() {
		t.Fatalf("aborted round must not have completed")
	}
}
