// Package calls turns the engine's raw per-call notifications into an
// ordered, deduplicated call history.
//
// The Reconciler is the single writer of that history. Raw notifications and
// late conditional resolutions both go through its mutex; readers get
// snapshots from a replay-latest broadcast.
package calls

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"telecom-keeper/internal/broadcast"
	"telecom-keeper/internal/telephony"
)

type Options struct {
	// ResolutionTimeout bounds how long a conditional ending waits for the
	// engine to say who ended the call. It then resolves as ended by the
	// remote party.
	ResolutionTimeout time.Duration
	// ResolutionRetry is the pause between failed engine queries.
	ResolutionRetry time.Duration
	// EndedMemory is how many ended call ids are remembered to drop late
	// notifications. The oldest are forgotten first.
	EndedMemory int

	Logger *slog.Logger
	Now    func() time.Time
}

type Reconciler struct {
	src     telephony.CallSource
	timeout time.Duration
	retry   time.Duration
	log     *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	listener *telephony.Listener
	live     map[string]*liveCall
	ended    map[string]struct{}
	endedIDs []string // ring of ended ids, oldest at endedAt
	endedAt  int
	slots    []slot

	history *broadcast.Value[[]Event]
}

type liveCall struct {
	record Record
	// pending is the history slot of an unresolved conditional ending, or -1.
	pending int
}

// slot is one position in history. A conditional slot stays hidden from
// snapshots until resolved.
type slot struct {
	event       Event
	conditional bool
}

func NewReconciler(src telephony.CallSource, opts Options) *Reconciler {
	if opts.ResolutionTimeout <= 0 {
		opts.ResolutionTimeout = 10 * time.Second
	}
	if opts.ResolutionRetry <= 0 {
		opts.ResolutionRetry = 500 * time.Millisecond
	}
	if opts.EndedMemory <= 0 {
		opts.EndedMemory = 4096
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		src:      src,
		timeout:  opts.ResolutionTimeout,
		retry:    opts.ResolutionRetry,
		log:      opts.Logger.With("component", "calls"),
		now:      opts.Now,
		ctx:      ctx,
		cancel:   cancel,
		live:     map[string]*liveCall{},
		ended:    map[string]struct{}{},
		endedIDs: make([]string, 0, opts.EndedMemory),
		history:  broadcast.New[[]Event](nil, sameEvents),
	}
}

// Attach subscribes to the source's call notifications. Close disables the
// subscription.
func (r *Reconciler) Attach() {
	l := r.src.SubscribeCalls(r.Handle)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		l.Disable()
		return
	}
	if r.listener != nil {
		r.listener.Disable()
	}
	r.listener = l
}

// Handle applies one raw notification. Notifications for the same call are
// applied in the order Handle is called.
func (r *Reconciler) Handle(n telephony.CallNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = r.now()
	}
	log := r.log.With("call_id", n.CallID, "transition", string(n.Transition))

	if _, done := r.ended[n.CallID]; done {
		log.Warn("notification after call ended dropped")
		return
	}

	var prev *Record
	if lc := r.live[n.CallID]; lc != nil {
		prev = &lc.record
	}
	out := Classify(prev, n)

	switch out.Action {
	case Ignore:
		if out.Err != nil {
			log.Warn("call notification dropped", "err", out.Err)
		} else {
			log.Debug("duplicate call notification ignored")
		}
	case Update:
		r.live[n.CallID].record = out.Record
	case Emit:
		r.appendLocked(out.Record)
		r.publishLocked()
	case EmitConditional:
		idx := len(r.slots)
		r.slots = append(r.slots, slot{event: out.Conditional.IfRemote.Event(), conditional: true})
		r.markEndedLocked(n.CallID)
		r.live[n.CallID] = &liveCall{record: out.Conditional.IfRemote, pending: idx}
		go r.resolve(n.CallID, idx, out.Conditional)
	}
}

func (r *Reconciler) appendLocked(rec Record) {
	r.slots = append(r.slots, slot{event: rec.Event()})
	if rec.Status.Terminal() {
		delete(r.live, rec.CallID)
		r.markEndedLocked(rec.CallID)
		return
	}
	r.live[rec.CallID] = &liveCall{record: rec, pending: -1}
}

// markEndedLocked remembers id as ended, forgetting the oldest ended id once
// the ring is full.
func (r *Reconciler) markEndedLocked(id string) {
	if _, ok := r.ended[id]; ok {
		return
	}
	r.ended[id] = struct{}{}
	if len(r.endedIDs) < cap(r.endedIDs) {
		r.endedIDs = append(r.endedIDs, id)
		return
	}
	delete(r.ended, r.endedIDs[r.endedAt])
	r.endedIDs[r.endedAt] = id
	r.endedAt = (r.endedAt + 1) % len(r.endedIDs)
}

// resolve asks the engine who ended the call and replaces the placeholder
// at slot idx. Results arriving after Close are discarded.
func (r *Reconciler) resolve(callID string, idx int, c Conditional) {
	local, ok := r.endedLocally(callID)
	if !ok && r.ctx.Err() == nil {
		r.log.Warn("call ending unresolved, assuming remote party", "call_id", callID, "timeout", r.timeout.String())
	}
	rec := c.Resolve(local)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.slots[idx] = slot{event: rec.Event()}
	delete(r.live, callID)
	r.publishLocked()
}

func (r *Reconciler) endedLocally(callID string) (local, ok bool) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	for {
		local, err := r.src.WasEndedByLocalParty(ctx, callID)
		if err == nil {
			return local, true
		}
		r.log.Debug("ended-by query failed, retrying", "call_id", callID, "err", err)
		if !sleepOrCancel(ctx, r.retry) {
			return false, false
		}
	}
}

func (r *Reconciler) publishLocked() {
	r.history.Publish(r.snapshotLocked())
}

func (r *Reconciler) snapshotLocked() []Event {
	out := make([]Event, 0, len(r.slots))
	for _, s := range r.slots {
		if !s.conditional {
			out = append(out, s.event)
		}
	}
	return out
}

// Snapshot returns the resolved history after the given time.
func (r *Reconciler) Snapshot(after time.Time) []Event {
	return eventsAfter(r.history.Load(), after)
}

// ObserveCallHistory streams the resolved history of events timestamped
// strictly after the given time: the current snapshot first, then one
// snapshot per change. The channel closes when ctx is done or the
// reconciler is closed.
func (r *Reconciler) ObserveCallHistory(ctx context.Context, after time.Time) <-chan []Event {
	in := r.history.Subscribe(ctx)
	out := make(chan []Event)
	go func() {
		defer close(out)
		var last []Event
		first := true
		for all := range in {
			snap := eventsAfter(all, after)
			if !first && sameEvents(last, snap) {
				continue
			}
			first = false
			last = snap
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// LiveCalls returns the current record of every call still in progress,
// oldest first. Calls waiting on a conditional resolution are excluded.
func (r *Reconciler) LiveCalls() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.live))
	for _, lc := range r.live {
		if lc.pending >= 0 {
			continue
		}
		out = append(out, lc.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Close detaches from the engine and disposes all history subscriptions.
// In-flight resolutions finish but their results are dropped.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	l := r.listener
	r.mu.Unlock()

	if l != nil {
		l.Disable()
	}
	r.cancel()
	r.history.Close()
}

func eventsAfter(all []Event, after time.Time) []Event {
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Timestamp.After(after) {
			out = append(out, e)
		}
	}
	return out
}

// sameEvents compares snapshots by (call id, kind) pairs.
func sameEvents(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].CallID != b[i].CallID || a[i].Kind != b[i].Kind {
			return false
		}
	}
	return true
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
