package consensus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-consensus/pkg/opid"
)

func TestCheckBoundTerm_Matrix(t *testing.T) {
	st := &fakeState{snap: leaderSnapshot(5)}
	c := newTestConsensus(t, st, &fakeDriver{})

	bound := c.NewRound(&ReplicateMsg{Op: "put"}, nil)
	require.NoError(t, bound.CheckBoundTerm(5))
	for _, term := range []int64{4, 6, 100} {
		err := bound.CheckBoundTerm(term)
		require.ErrorIs(t, err, ErrAborted, "term %d", term)
	}

	unbound := c.NewUnboundRound(&ReplicateMsg{Op: "no_op"}, nil)
	for _, term := range []int64{0, 1, 5, 6, 100} {
		require.NoError(t, unbound.CheckBoundTerm(term), "term %d", term)
	}
}

func TestNotifyReplicationFinished_FiresOnce(t *testing.T) {
	c := newTestConsensus(t, &fakeState{snap: leaderSnapshot(5)}, &fakeDriver{})

	var fired int32
	r := c.NewRound(&ReplicateMsg{Op: "put"}, func(status error, leaderTerm int64, appliedOpIds []opid.OpId) {
		atomic.AddInt32(&fired, 1)
	})

	r.NotifyReplicationFinished(nil, 5, []opid.OpId{{Term: 5, Index: 11}})
	r.NotifyReplicationFinished(nil, 5, nil)
	r.NotifyReplicationFinished(errors.New("late abort"), 6, nil)

	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
	require.True(t, r.Completed())
}

func TestNotifyReplicationFinished_ConcurrentRace(t *testing.T) {
	c := newTestConsensus(t, &fakeState{snap: leaderSnapshot(5)}, &fakeDriver{})

	var fired int32
	r := c.NewRound(&ReplicateMsg{Op: "put"}, func(status error, leaderTerm int64, appliedOpIds []opid.OpId) {
		atomic.AddInt32(&fired, 1)
	})

	// A commit notification racing a term-change abort from many contexts.
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				r.NotifyReplicationFinished(nil, 5, nil)
			} else {
				r.NotifyReplicationFinished(errors.New("aborted by term change"), 6, nil)
			}
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestNotifyReplicationFinished_NoCallbackIsNoOp(t *testing.T) {
	c := newTestConsensus(t, &fakeState{snap: leaderSnapshot(5)}, &fakeDriver{})
	r := c.NewRound(&ReplicateMsg{Op: "put"}, nil)
	require.NotPanics(t, func() { r.NotifyReplicationFinished(nil, 5, nil) })
	require.True(t, r.Completed())
}

func TestNotifyReplicationFinished_PassesCompletionTerm(t *testing.T) {
	c := newTestConsensus(t, &fakeState{snap: leaderSnapshot(5)}, &fakeDriver{})

	var gotTerm int64
	var gotIds []opid.OpId
	// Unbound rounds observe the term active when the result became known.
	r := c.NewUnboundRound(&ReplicateMsg{Op: "no_op"}, func(status error, leaderTerm int64, appliedOpIds []opid.OpId) {
		gotTerm = leaderTerm
		gotIds = appliedOpIds
	})
	r.NotifyReplicationFinished(nil, 7, []opid.OpId{{Term: 7, Index: 3}})
	require.EqualValues(t, 7, gotTerm)
	require.Equal(t, []opid.OpId{{Term: 7, Index: 3}}, gotIds)
}
