// Package jobs defines the background job scheduling contract used by the
// processing supervisor, and an in-process implementation of it.
//
// Jobs are unique by name. The scheduler may suspend a job when its
// constraints are not met (no network), and reports each job's progress as
// one of Missing, Suspended, Ongoing or Failed.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ProgressKind string

const (
	ProgressMissing   ProgressKind = "missing"
	ProgressSuspended ProgressKind = "suspended"
	ProgressOngoing   ProgressKind = "ongoing"
	ProgressFailed    ProgressKind = "failed"
)

// Progress is the scheduler's view of a named job at query time.
// Reason is set only for ProgressFailed.
type Progress struct {
	Kind   ProgressKind
	Reason error
}

func Missing() Progress   { return Progress{Kind: ProgressMissing} }
func Suspended() Progress { return Progress{Kind: ProgressSuspended} }
func Ongoing() Progress   { return Progress{Kind: ProgressOngoing} }

func Failed(reason error) Progress {
	if reason == nil {
		reason = ErrJobFailed
	}
	return Progress{Kind: ProgressFailed, Reason: reason}
}

func (p Progress) String() string {
	if p.Kind == ProgressFailed && p.Reason != nil {
		return fmt.Sprintf("%s(%v)", p.Kind, p.Reason)
	}
	return string(p.Kind)
}

// ExistingPolicy decides what EnqueueUnique does when a job with the same
// name is already scheduled.
type ExistingPolicy int

const (
	// ReplaceExisting cancels any existing instance and schedules the new one.
	ReplaceExisting ExistingPolicy = iota
	// KeepExisting leaves a live (Suspended or Ongoing) instance untouched.
	KeepExisting
)

// Job is a named unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error

	// Period > 0 makes the job recurring: Run is invoked again Period after
	// each successful completion.
	Period time.Duration

	// InitialDelay postpones the first run after enqueue.
	InitialDelay time.Duration

	// RequiresNetwork suspends the job while the host is offline. A running
	// instance has its context cancelled when connectivity is lost.
	RequiresNetwork bool
}

func (j Job) validate() error {
	if j.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidJob)
	}
	if j.Run == nil {
		return fmt.Errorf("%w: run func required", ErrInvalidJob)
	}
	if j.Period < 0 || j.InitialDelay < 0 {
		return fmt.Errorf("%w: negative period or delay", ErrInvalidJob)
	}
	return nil
}

// Scheduler runs unique named jobs at the host's discretion.
type Scheduler interface {
	EnqueueUnique(ctx context.Context, job Job, policy ExistingPolicy) error
	// CancelUnique stops and removes the named job. Cancelling a job that
	// does not exist succeeds.
	CancelUnique(ctx context.Context, name string) error
	Progress(ctx context.Context, name string) Progress
	// OnProgress registers fn for progress changes of the named job and
	// returns a func that unregisters it.
	OnProgress(name string, fn func(Progress)) (cancel func())
}

var (
	ErrInvalidJob       = errors.New("jobs: invalid job")
	ErrJobFailed        = errors.New("jobs: job failed")
	ErrSchedulerClosed  = errors.New("jobs: scheduler closed")
	ErrLeaseHeld        = errors.New("jobs: job lease held by another owner")
	ErrLeaseLost        = errors.New("jobs: job lease lost")
	errSuspendedOffline = errors.New("jobs: suspended, host offline")
)
