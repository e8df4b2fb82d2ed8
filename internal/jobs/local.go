package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LocalScheduler runs jobs on goroutines inside the current process.
//
// Each enqueued job gets a runner goroutine that waits for its constraints,
// invokes Run, and records the outcome:
//   - waiting for network, or cut off by a connectivity loss: Suspended
//   - running, or waiting for its next period: Ongoing
//   - a one-shot Run returned an error (or panicked): Failed, until replaced
//     or cancelled; a recurring job is retried on its next period instead
//   - one-shot job finished, or never enqueued: Missing
type LocalScheduler struct {
	conn     Connectivity
	lease    Lease
	leaseTTL time.Duration
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	entries   map[string]*entry
	listeners map[string]map[int]func(Progress)
	nextID    int
}

type entry struct {
	job    Job
	token  string
	cancel context.CancelFunc
	done   chan struct{}

	progress Progress
}

// LocalOptions configures a LocalScheduler. Zero values are valid: no lease,
// always online, default logger.
type LocalOptions struct {
	Connectivity Connectivity
	Lease        Lease
	LeaseTTL     time.Duration
	Logger       *slog.Logger
}

func NewLocalScheduler(opts LocalOptions) *LocalScheduler {
	if opts.Connectivity == nil {
		opts.Connectivity = NewManualConnectivity(true)
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalScheduler{
		conn:      opts.Connectivity,
		lease:     opts.Lease,
		leaseTTL:  opts.LeaseTTL,
		log:       opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		entries:   map[string]*entry{},
		listeners: map[string]map[int]func(Progress){},
	}
}

func (s *LocalScheduler) EnqueueUnique(ctx context.Context, job Job, policy ExistingPolicy) error {
	if err := job.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	old := s.entries[job.Name]
	if old != nil && policy == KeepExisting {
		switch old.progress.Kind {
		case ProgressOngoing, ProgressSuspended:
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	token := newLeaseToken()
	if old != nil {
		// A replacement keeps the lease its predecessor holds.
		token = old.token
		if err := s.stop(ctx, job.Name, old, false); err != nil {
			return err
		}
	}
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, job.Name, token, s.leaseTTL)
		if err != nil {
			return fmt.Errorf("jobs: acquire lease for %s: %w", job.Name, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrLeaseHeld, job.Name)
		}
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		job:    job,
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if job.RequiresNetwork && !s.conn.Online() {
		e.progress = Suspended()
	} else {
		e.progress = Ongoing()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSchedulerClosed
	}
	if cur := s.entries[job.Name]; cur != nil {
		// Lost a race with a concurrent enqueue of the same name.
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("jobs: concurrent enqueue of %s", job.Name)
	}
	s.entries[job.Name] = e
	fns := s.listenersLocked(job.Name)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(e.progress)
	}
	go s.runEntry(runCtx, e)
	return nil
}

func (s *LocalScheduler) CancelUnique(ctx context.Context, name string) error {
	s.mu.Lock()
	e := s.entries[name]
	s.mu.Unlock()
	if e == nil {
		return nil
	}
	return s.stop(ctx, name, e, true)
}

func (s *LocalScheduler) Progress(ctx context.Context, name string) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[name]; e != nil {
		return e.progress
	}
	return Missing()
}

func (s *LocalScheduler) OnProgress(name string, fn func(Progress)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	if s.listeners[name] == nil {
		s.listeners[name] = map[int]func(Progress){}
	}
	s.listeners[name][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners[name], id)
	}
}

// Close stops every job and rejects further enqueues.
func (s *LocalScheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	entries := make(map[string]*entry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	s.mu.Unlock()

	var errs []error
	for name, e := range entries {
		if err := s.stop(ctx, name, e, true); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	return errors.Join(errs...)
}

// stop cancels e, waits for its runner to exit, and removes it. The lease is
// released only when release is set; a replacement inherits it instead.
func (s *LocalScheduler) stop(ctx context.Context, name string, e *entry, release bool) error {
	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return fmt.Errorf("jobs: waiting for %s to stop: %w", name, ctx.Err())
	}

	s.mu.Lock()
	if s.entries[name] == e {
		delete(s.entries, name)
	}
	fns := s.listenersLocked(name)
	s.mu.Unlock()

	if release && s.lease != nil {
		if err := s.lease.Release(ctx, name, e.token); err != nil {
			return fmt.Errorf("jobs: release lease for %s: %w", name, err)
		}
	}
	if release {
		for _, fn := range fns {
			fn(Missing())
		}
	}
	return nil
}

func (s *LocalScheduler) runEntry(ctx context.Context, e *entry) {
	defer close(e.done)
	log := s.log.With("job", e.job.Name)

	if s.lease != nil {
		go s.renewLease(ctx, e)
	}
	if e.job.InitialDelay > 0 && !sleepOrCancel(ctx, e.job.InitialDelay) {
		return
	}

	for {
		if e.job.RequiresNetwork && !s.waitOnline(ctx, e) {
			return
		}
		s.setProgress(e, Ongoing())

		runCtx, cancel := context.WithCancelCause(ctx)
		stopWatch := func() {}
		if e.job.RequiresNetwork {
			stopWatch = s.watchOffline(runCtx, cancel)
		}
		err := safeRun(runCtx, e.job.Run)
		stopWatch()
		cause := context.Cause(runCtx)
		cancel(nil)

		if ctx.Err() != nil {
			return
		}
		if errors.Is(cause, errSuspendedOffline) {
			log.Info("job suspended, host offline")
			continue
		}
		switch {
		case err != nil && e.job.Period > 0:
			// A recurring job stays scheduled; the next period retries it.
			log.Warn("recurring job run failed", "err", err)
		case err != nil:
			log.Warn("job failed", "err", err)
			s.setProgress(e, Failed(err))
			return
		}
		if e.job.Period == 0 {
			s.finish(e)
			return
		}
		if !sleepOrCancel(ctx, e.job.Period) {
			return
		}
	}
}

// waitOnline blocks until the host is online. It reports false if ctx ends first.
func (s *LocalScheduler) waitOnline(ctx context.Context, e *entry) bool {
	if s.conn.Online() {
		return true
	}
	s.setProgress(e, Suspended())
	for online := range s.conn.Watch(ctx) {
		if online {
			return true
		}
	}
	return false
}

// watchOffline cancels the running job with errSuspendedOffline when
// connectivity drops.
func (s *LocalScheduler) watchOffline(ctx context.Context, cancel context.CancelCauseFunc) func() {
	wctx, stop := context.WithCancel(ctx)
	go func() {
		for online := range s.conn.Watch(wctx) {
			if !online {
				cancel(errSuspendedOffline)
				return
			}
		}
	}()
	return stop
}

func (s *LocalScheduler) renewLease(ctx context.Context, e *entry) {
	t := time.NewTicker(s.leaseTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ok, err := s.lease.Renew(ctx, e.job.Name, e.token, s.leaseTTL)
			if err != nil {
				s.log.Warn("job lease renew failed", "job", e.job.Name, "err", err)
				continue
			}
			if !ok {
				s.log.Error("job lease lost", "job", e.job.Name)
				s.setProgress(e, Failed(ErrLeaseLost))
				e.cancel()
				return
			}
		}
	}
}

func (s *LocalScheduler) setProgress(e *entry, p Progress) {
	s.mu.Lock()
	if s.entries[e.job.Name] != e {
		s.mu.Unlock()
		return
	}
	if e.progress.Kind == ProgressFailed {
		// Failed sticks until the job is replaced or cancelled.
		s.mu.Unlock()
		return
	}
	changed := e.progress.Kind != p.Kind
	e.progress = p
	fns := s.listenersLocked(e.job.Name)
	s.mu.Unlock()

	if changed {
		for _, fn := range fns {
			fn(p)
		}
	}
}

func (s *LocalScheduler) finish(e *entry) {
	s.mu.Lock()
	if s.entries[e.job.Name] != e {
		s.mu.Unlock()
		return
	}
	delete(s.entries, e.job.Name)
	fns := s.listenersLocked(e.job.Name)
	s.mu.Unlock()

	if s.lease != nil {
		_ = s.lease.Release(context.Background(), e.job.Name, e.token)
	}
	for _, fn := range fns {
		fn(Missing())
	}
}

func (s *LocalScheduler) listenersLocked(name string) []func(Progress) {
	fns := make([]func(Progress), 0, len(s.listeners[name]))
	for _, fn := range s.listeners[name] {
		fns = append(fns, fn)
	}
	return fns
}

func safeRun(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("jobs: job panicked: %v", p)
		}
	}()
	return run(ctx)
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
