package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"telecom-keeper/internal/broadcast"
	"telecom-keeper/internal/jobs"
)

// Unique scheduler names of the two supervised jobs.
const (
	MainJobName   = "keeper-main"
	HealthJobName = "keeper-health"
)

const defaultHealthInterval = 15 * time.Minute

type Options struct {
	Scheduler jobs.Scheduler

	// Main is the body of the main job. It should block for as long as the
	// engine is healthy and return nil when its context is cancelled.
	Main func(ctx context.Context) error

	// MainRequiresNetwork lets the scheduler suspend the main job while the
	// host is offline.
	MainRequiresNetwork bool

	// HealthInterval is the period of the health-check job. The first check
	// runs one interval after start.
	HealthInterval time.Duration

	Logger *slog.Logger
}

// Supervisor owns the processing State machine.
//
// Commands (start, stop, health restarts) are serialized by the ops
// semaphore, which waiters give up on when their context ends. State
// changes are published through a replay-latest broadcast, so observers never
// block the supervisor and never see the same state twice in a row.
type Supervisor struct {
	sched  jobs.Scheduler
	main   jobs.Job
	health jobs.Job
	log    *slog.Logger

	ops chan struct{}

	mu     sync.Mutex
	closed bool
	state  *broadcast.Value[State]

	// Scheduler progress callbacks can fire synchronously inside Enqueue or
	// Cancel while ops is held. They only publish here; watchProgress
	// applies them on its own goroutine.
	progress *broadcast.Value[jobs.Progress]
	unwatch  func()
	cancel   context.CancelFunc
	done     chan struct{}
}

var ErrInvalidOptions = errors.New("processing: invalid supervisor options")

func NewSupervisor(opts Options) (*Supervisor, error) {
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler required", ErrInvalidOptions)
	}
	if opts.Main == nil {
		return nil, fmt.Errorf("%w: main job required", ErrInvalidOptions)
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Supervisor{
		sched: opts.Scheduler,
		main: jobs.Job{
			Name:            MainJobName,
			Run:             opts.Main,
			RequiresNetwork: opts.MainRequiresNetwork,
		},
		log:      opts.Logger.With("component", "processing"),
		state:    broadcast.New(Stopped(), State.Equal),
		progress: broadcast.New[jobs.Progress](jobs.Missing(), nil),
		ops:      make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.health = jobs.Job{
		Name:         HealthJobName,
		Run:          s.HealthMonitor().Check,
		Period:       opts.HealthInterval,
		InitialDelay: opts.HealthInterval,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.unwatch = s.sched.OnProgress(MainJobName, func(p jobs.Progress) { s.progress.Publish(p) })
	go s.watchProgress(ctx)
	return s, nil
}

// Current returns the current processing state.
func (s *Supervisor) Current() State { return s.state.Load() }

// ObserveProcessing streams the current state, then every distinct
// transition, until ctx is done or the supervisor is closed.
func (s *Supervisor) ObserveProcessing(ctx context.Context) <-chan State {
	return s.state.Subscribe(ctx)
}

// StartProcessing enqueues the main and health-check jobs and classifies the
// main job's progress once. It is a no-op while Started or Suspended.
func (s *Supervisor) StartProcessing(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.isClosed() {
		return ErrClosed
	}
	switch s.state.Load().Kind {
	case KindStarted, KindSuspended:
		return nil
	}

	if err := s.sched.EnqueueUnique(ctx, s.main, jobs.ReplaceExisting); err != nil {
		err = fmt.Errorf("processing: enqueue main job: %w", err)
		s.transition(Failed(err))
		return err
	}
	if err := s.sched.EnqueueUnique(ctx, s.health, jobs.ReplaceExisting); err != nil {
		err = fmt.Errorf("processing: enqueue health job: %w", err)
		s.transition(Failed(err))
		return err
	}

	next := Classify(s.sched.Progress(ctx, MainJobName))
	s.transition(next)
	if next.Kind == KindFailed {
		return next.Cause
	}
	return nil
}

// StopProcessing cancels both jobs. It is a no-op while Stopped.
func (s *Supervisor) StopProcessing(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.isClosed() {
		return ErrClosed
	}
	if s.state.Load().Kind == KindStopped {
		return nil
	}

	var errs []error
	if err := s.sched.CancelUnique(ctx, HealthJobName); err != nil {
		errs = append(errs, fmt.Errorf("processing: cancel health job: %w", err))
	}
	if err := s.sched.CancelUnique(ctx, MainJobName); err != nil {
		errs = append(errs, fmt.Errorf("processing: cancel main job: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		s.transition(Failed(err))
		return err
	}
	s.transition(Stopped())
	return nil
}

// Close disposes every subscription and stops following scheduler progress.
// Jobs are left to the scheduler; call StopProcessing first to cancel them.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unwatch()
	s.cancel()
	<-s.done
	s.progress.Close()
	s.state.Close()
}

// acquire takes the command slot. A health check blocked here while a
// command cancels or replaces it must see its context end, or the command
// would wait forever for the check to exit.
func (s *Supervisor) acquire(ctx context.Context) error {
	select {
	case s.ops <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("processing: waiting for pending command: %w", ctx.Err())
	}
}

func (s *Supervisor) release() { <-s.ops }

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// transition publishes next unless the supervisor is closed or next equals
// the current state.
func (s *Supervisor) transition(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(next)
}

func (s *Supervisor) transitionLocked(next State) {
	if s.closed {
		return
	}
	prev := s.state.Load()
	if !s.state.Publish(next) {
		return
	}
	if next.Kind == KindFailed {
		s.log.Warn("processing state changed", "from", prev.String(), "to", next.String())
		return
	}
	s.log.Info("processing state changed", "from", prev.String(), "to", next.String())
}

// watchProgress follows the main job between health checks: the host
// suspending a started job, or resuming a suspended one.
func (s *Supervisor) watchProgress(ctx context.Context) {
	defer close(s.done)
	for p := range s.progress.Subscribe(ctx) {
		s.mu.Lock()
		cur := s.state.Load()
		switch {
		case p.Kind == jobs.ProgressOngoing && cur.Kind == KindSuspended:
			s.transitionLocked(Started())
		case p.Kind == jobs.ProgressSuspended && cur.Kind == KindStarted:
			s.transitionLocked(Suspended())
		}
		s.mu.Unlock()
	}
}
