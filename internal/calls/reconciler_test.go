package calls

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"telecom-keeper/internal/telephony"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type script struct {
	engine *telephony.LoopbackEngine
	r      *Reconciler
	at     time.Time
}

func newScript(t *testing.T, opts Options) *script {
	t.Helper()
	engine := telephony.NewLoopbackEngine()
	r := NewReconciler(engine, opts)
	r.Attach()
	t.Cleanup(r.Close)
	return &script{engine: engine, r: r, at: t0}
}

func (s *script) emit(id string, tr telephony.CallTransition, end telephony.EndStatus) {
	s.at = s.at.Add(time.Second)
	n := note(id, tr, end)
	n.Timestamp = s.at
	s.engine.EmitCall(n)
}

func pairs(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.CallID+":"+string(e.Kind))
	}
	return out
}

func receive(t *testing.T, ch <-chan []Event) []Event {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "history stream closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for history")
		return nil
	}
}

func TestReconciler_AnsweredOutgoingCall(t *testing.T) {
	s := newScript(t, Options{})
	s.engine.SetEndedLocally("c1", true)

	s.emit("c1", telephony.CallOutgoingInitiated, "")
	s.emit("c1", telephony.CallConnected, "")
	require.Len(t, s.r.LiveCalls(), 1)
	assert.Equal(t, StatusAccepted, s.r.LiveCalls()[0].Status)

	s.emit("c1", telephony.CallReleased, telephony.EndSuccess)

	assert.Eventually(t, func() bool { return len(s.r.Snapshot(time.Time{})) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t,
		[]string{"c1:ringing", "c1:accepted", "c1:finished_by_local_party"},
		pairs(s.r.Snapshot(time.Time{})))
	assert.Empty(t, s.r.LiveCalls())
}

func TestReconciler_ConditionalKeepsPositionAndTimestamp(t *testing.T) {
	s := newScript(t, Options{ResolutionRetry: time.Millisecond})

	s.emit("c1", telephony.CallIncomingReceived, "")
	s.emit("c1", telephony.CallReleased, telephony.EndAborted)
	endedAt := s.at
	s.emit("c2", telephony.CallIncomingReceived, "")
	s.emit("c2", telephony.CallReleased, telephony.EndMissed)

	assert.Equal(t, []string{"c1:ringing", "c2:ringing", "c2:missed"}, pairs(s.r.Snapshot(time.Time{})))

	// The engine learns who hung up only after the ending was reported.
	s.engine.SetEndedLocally("c1", false)
	assert.Eventually(t, func() bool { return len(s.r.Snapshot(time.Time{})) == 4 }, time.Second, time.Millisecond)

	snap := s.r.Snapshot(time.Time{})
	assert.Equal(t, []string{"c1:ringing", "c1:canceled", "c2:ringing", "c2:missed"}, pairs(snap))
	assert.Equal(t, endedAt, snap[1].Timestamp)
}

func TestReconciler_ConditionalHiddenUntilResolved(t *testing.T) {
	s := newScript(t, Options{ResolutionRetry: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	history := s.r.ObserveCallHistory(ctx, time.Time{})
	assert.Empty(t, receive(t, history))

	s.emit("c1", telephony.CallOutgoingInitiated, "")
	s.emit("c1", telephony.CallConnected, "")
	s.emit("c1", telephony.CallReleased, telephony.EndSuccess)

	assert.Equal(t, []string{"c1:ringing"}, pairs(receive(t, history)))
	assert.Equal(t, []string{"c1:ringing", "c1:accepted"}, pairs(receive(t, history)))

	// Unresolved: the placeholder must not surface in any form.
	select {
	case snap := <-history:
		t.Fatalf("placeholder leaked: %v", pairs(snap))
	case <-time.After(30 * time.Millisecond):
	}
	assert.Len(t, s.r.Snapshot(time.Time{}), 2)
	assert.Empty(t, s.r.LiveCalls())

	s.engine.SetEndedLocally("c1", true)
	assert.Equal(t,
		[]string{"c1:ringing", "c1:accepted", "c1:finished_by_local_party"},
		pairs(receive(t, history)))
}

func TestReconciler_ResolutionTimesOutToRemoteParty(t *testing.T) {
	s := newScript(t, Options{ResolutionTimeout: 20 * time.Millisecond, ResolutionRetry: time.Millisecond})

	s.emit("c1", telephony.CallOutgoingInitiated, "")
	s.emit("c1", telephony.CallReleased, telephony.EndAborted)

	assert.Eventually(t, func() bool { return len(s.r.Snapshot(time.Time{})) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"c1:ringing", "c1:declined"}, pairs(s.r.Snapshot(time.Time{})))
}

func TestReconciler_NothingAfterTerminal(t *testing.T) {
	transitions := []telephony.CallTransition{
		telephony.CallIncomingReceived,
		telephony.CallOutgoingInitiated,
		telephony.CallStreamsUpdated,
		telephony.CallConnected,
		telephony.CallReleased,
	}
	ends := []telephony.EndStatus{
		telephony.EndSuccess,
		telephony.EndAborted,
		telephony.EndMissed,
		telephony.EndDeclined,
		telephony.EndDeclinedElsewhere,
		telephony.EndAcceptedElsewhere,
		telephony.EndError,
	}
	ids := []string{"a", "b", "c"}

	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 50; round++ {
		s := newScript(t, Options{ResolutionTimeout: 5 * time.Millisecond, ResolutionRetry: time.Millisecond})
		for _, id := range ids {
			s.engine.SetEndedLocally(id, rng.IntN(2) == 0)
		}
		for i := 0; i < 40; i++ {
			s.emit(ids[rng.IntN(len(ids))], transitions[rng.IntN(len(transitions))], ends[rng.IntN(len(ends))])
		}

		assert.Eventually(t, func() bool {
			s.r.mu.Lock()
			defer s.r.mu.Unlock()
			for _, lc := range s.r.live {
				if lc.pending >= 0 {
					return false
				}
			}
			return true
		}, time.Second, time.Millisecond)

		snap := s.r.Snapshot(time.Time{})
		_, err := Fold(snap)
		require.NoError(t, err, "round %d: %v", round, pairs(snap))

		ended := map[string]bool{}
		for _, e := range snap {
			require.False(t, ended[e.CallID], "round %d: event after terminal: %v", round, pairs(snap))
			if e.Kind.Terminal() {
				ended[e.CallID] = true
			}
		}
		s.r.Close()
	}
}

func TestReconciler_DropsUnknownAndDuplicateNotifications(t *testing.T) {
	s := newScript(t, Options{})

	s.emit("c1", telephony.CallConnected, "")
	s.emit("c1", telephony.CallIncomingReceived, "")
	s.emit("c1", telephony.CallIncomingReceived, "")
	s.emit("c2", telephony.CallIncomingReceived, "")
	s.emit("c1", telephony.CallReleased, telephony.EndSuccess)
	s.emit("c1", telephony.CallReleased, telephony.EndMissed)

	assert.Equal(t, []string{"c1:ringing", "c2:ringing", "c1:missed"}, pairs(s.r.Snapshot(time.Time{})))
	require.Len(t, s.r.LiveCalls(), 1)
	assert.Equal(t, "c2", s.r.LiveCalls()[0].CallID)
}

func TestReconciler_StreamsUpdateDoesNotEmit(t *testing.T) {
	s := newScript(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.emit("c1", telephony.CallIncomingReceived, "")
	s.emit("c1", telephony.CallConnected, "")
	history := s.r.ObserveCallHistory(ctx, time.Time{})
	assert.Len(t, receive(t, history), 2)

	s.at = s.at.Add(time.Second)
	n := note("c1", telephony.CallStreamsUpdated, "")
	n.Timestamp = s.at
	n.Streams = &telephony.Streams{Audio: true, Video: true}
	s.engine.EmitCall(n)

	live := s.r.LiveCalls()
	require.Len(t, live, 1)
	assert.Equal(t, &telephony.Streams{Audio: true, Video: true}, live[0].Streams)

	select {
	case snap := <-history:
		t.Fatalf("unexpected snapshot %v", pairs(snap))
	case <-time.After(30 * time.Millisecond):
	}
}

func TestReconciler_ObserveFiltersByOffset(t *testing.T) {
	s := newScript(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.emit("c1", telephony.CallIncomingReceived, "")
	s.emit("c1", telephony.CallReleased, telephony.EndMissed)
	offset := s.at

	history := s.r.ObserveCallHistory(ctx, offset)
	assert.Empty(t, receive(t, history))

	s.emit("c2", telephony.CallOutgoingInitiated, "")
	assert.Equal(t, []string{"c2:ringing"}, pairs(receive(t, history)))
}

func TestReconciler_ConcurrentObservers(t *testing.T) {
	s := newScript(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := s.r.ObserveCallHistory(ctx, time.Time{})
	b := s.r.ObserveCallHistory(ctx, time.Time{})

	s.emit("c1", telephony.CallIncomingReceived, "")
	s.emit("c1", telephony.CallReleased, telephony.EndMissed)

	for _, ch := range []<-chan []Event{a, b} {
		assert.Empty(t, receive(t, ch))
		assert.Equal(t, []string{"c1:ringing"}, pairs(receive(t, ch)))
		assert.Equal(t, []string{"c1:ringing", "c1:missed"}, pairs(receive(t, ch)))
	}
}

func TestReconciler_CloseDiscardsLateResolution(t *testing.T) {
	s := newScript(t, Options{ResolutionRetry: time.Millisecond})
	history := s.r.ObserveCallHistory(context.Background(), time.Time{})

	s.emit("c1", telephony.CallIncomingReceived, "")
	s.emit("c1", telephony.CallReleased, telephony.EndAborted)
	s.r.Close()

	for range history {
	}
	s.engine.SetEndedLocally("c1", true)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"c1:ringing"}, pairs(s.r.Snapshot(time.Time{})))
	assert.Zero(t, s.engine.CallListeners())

	// Notifications after Close are ignored.
	s.emit("c2", telephony.CallIncomingReceived, "")
	assert.Len(t, s.r.Snapshot(time.Time{}), 1)
}

func TestReconciler_ForgetsOldestEndedCalls(t *testing.T) {
	s := newScript(t, Options{EndedMemory: 2})
	for _, id := range []string{"c1", "c2", "c3"} {
		s.emit(id, telephony.CallIncomingReceived, "")
		s.emit(id, telephony.CallReleased, telephony.EndMissed)
	}

	s.r.mu.Lock()
	_, c1 := s.r.ended["c1"]
	_, c2 := s.r.ended["c2"]
	_, c3 := s.r.ended["c3"]
	size := len(s.r.ended)
	s.r.mu.Unlock()
	assert.False(t, c1, "oldest id should be forgotten")
	assert.True(t, c2)
	assert.True(t, c3)
	assert.Equal(t, 2, size)

	// A remembered call still drops late notifications.
	s.emit("c3", telephony.CallConnected, "")
	assert.Equal(t, []string{
		"c1:" + string(StatusRinging), "c1:" + string(StatusMissed),
		"c2:" + string(StatusRinging), "c2:" + string(StatusMissed),
		"c3:" + string(StatusRinging), "c3:" + string(StatusMissed),
	}, pairs(s.r.Snapshot(time.Time{})))
}
