package processing

import (
	"context"
	"sync"
	"testing"
	"time"

	"telecom-keeper/internal/jobs"

	"github.com/stretchr/testify/require"
)

// fakeScheduler records commands and reports whatever progress the test
// scripts. Enqueued jobs are never run.
type fakeScheduler struct {
	mu        sync.Mutex
	progress  map[string]jobs.Progress
	onEnqueue map[string]jobs.Progress
	enqueued  []string
	cancelled []string

	enqueueErr error
	cancelErr  error

	listeners map[string]map[int]func(jobs.Progress)
	nextID    int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		progress:  map[string]jobs.Progress{},
		onEnqueue: map[string]jobs.Progress{},
		listeners: map[string]map[int]func(jobs.Progress){},
	}
}

func (f *fakeScheduler) EnqueueUnique(ctx context.Context, job jobs.Job, policy jobs.ExistingPolicy) error {
	f.mu.Lock()
	if f.enqueueErr != nil {
		err := f.enqueueErr
		f.mu.Unlock()
		return err
	}
	f.enqueued = append(f.enqueued, job.Name)
	p, ok := f.onEnqueue[job.Name]
	if !ok {
		p = jobs.Ongoing()
	}
	f.mu.Unlock()
	f.set(job.Name, p)
	return nil
}

func (f *fakeScheduler) CancelUnique(ctx context.Context, name string) error {
	f.mu.Lock()
	if f.cancelErr != nil {
		err := f.cancelErr
		f.mu.Unlock()
		return err
	}
	f.cancelled = append(f.cancelled, name)
	f.mu.Unlock()
	f.set(name, jobs.Missing())
	return nil
}

func (f *fakeScheduler) Progress(ctx context.Context, name string) jobs.Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.progress[name]; ok {
		return p
	}
	return jobs.Missing()
}

func (f *fakeScheduler) OnProgress(name string, fn func(jobs.Progress)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if f.listeners[name] == nil {
		f.listeners[name] = map[int]func(jobs.Progress){}
	}
	f.listeners[name][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners[name], id)
	}
}

// set changes a job's progress and notifies listeners synchronously, the way
// a real scheduler may.
func (f *fakeScheduler) set(name string, p jobs.Progress) {
	f.mu.Lock()
	if p.Kind == jobs.ProgressMissing {
		delete(f.progress, name)
	} else {
		f.progress[name] = p
	}
	fns := make([]func(jobs.Progress), 0, len(f.listeners[name]))
	for _, fn := range f.listeners[name] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

// setQuiet changes progress without notifying, like a job dying while no
// one is watching.
func (f *fakeScheduler) setQuiet(name string, p jobs.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Kind == jobs.ProgressMissing {
		delete(f.progress, name)
		return
	}
	f.progress[name] = p
}

func (f *fakeScheduler) setOnEnqueue(name string, p jobs.Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnqueue[name] = p
}

func (f *fakeScheduler) count(list *[]string, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range *list {
		if v == name {
			n++
		}
	}
	return n
}

func newTestSupervisor(t *testing.T, sched jobs.Scheduler) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(Options{
		Scheduler:      sched,
		Main:           func(ctx context.Context) error { <-ctx.Done(); return nil },
		HealthInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// next reads one state or fails the test.
func next(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case st, ok := <-ch:
		require.True(t, ok, "state stream closed")
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
		return State{}
	}
}

func kinds(t *testing.T, ch <-chan State, n int) []Kind {
	t.Helper()
	out := make([]Kind, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, next(t, ch).Kind)
	}
	return out
}

// quiet asserts nothing else is published for a short while.
func quiet(t *testing.T, ch <-chan State) {
	t.Helper()
	select {
	case st := <-ch:
		t.Fatalf("unexpected state %s", st)
	case <-time.After(30 * time.Millisecond):
	}
}
