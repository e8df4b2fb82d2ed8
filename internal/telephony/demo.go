package telephony

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// DemoRunner drives synthetic call lifecycles through a LoopbackEngine so
// the daemon's history and streams can be exercised without a SIP stack.
type DemoRunner struct {
	Engine   *LoopbackEngine
	Interval time.Duration
	Local    string

	remotes []string
	next    int
}

func NewDemoRunner(e *LoopbackEngine) *DemoRunner {
	return &DemoRunner{
		Engine:   e,
		Interval: 30 * time.Second,
		Local:    "sip:demo@localhost",
		remotes:  []string{"sip:alice@example.com", "sip:bob@example.com", "sip:carol@example.net"},
	}
}

// Run plays one call per interval until ctx is cancelled.
func (r *DemoRunner) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.playCall(ctx)
		}
	}
}

func (r *DemoRunner) playCall(ctx context.Context) {
	remote := r.remotes[r.next%len(r.remotes)]
	r.next++

	dir := DirectionIncoming
	first := CallIncomingReceived
	if rand.IntN(2) == 0 {
		dir = DirectionOutgoing
		first = CallOutgoingInitiated
	}

	base := CallNotification{
		CallID:      uuid.NewString(),
		Direction:   dir,
		LocalParty:  r.Local,
		RemoteParty: remote,
	}
	emit := func(tr CallTransition, end EndStatus) {
		n := base
		n.Transition = tr
		n.EndStatus = end
		n.Timestamp = time.Now().UTC()
		if tr != CallReleased {
			n.Streams = &Streams{Audio: true}
		}
		r.Engine.EmitCall(n)
	}

	emit(first, "")
	if !sleepOrCancel(ctx, 2*time.Second) {
		return
	}

	switch rand.IntN(4) {
	case 0:
		r.Engine.SetEndedLocally(base.CallID, rand.IntN(2) == 0)
		emit(CallReleased, EndAborted)
	case 1:
		emit(CallReleased, EndMissed)
	default:
		emit(CallConnected, "")
		if !sleepOrCancel(ctx, time.Duration(3+rand.IntN(5))*time.Second) {
			return
		}
		r.Engine.SetEndedLocally(base.CallID, rand.IntN(2) == 0)
		emit(CallReleased, EndSuccess)
	}
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
