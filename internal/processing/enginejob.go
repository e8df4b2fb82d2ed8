package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telecom-keeper/internal/telephony"
)

var ErrEngineStalled = errors.New("processing: engine stalled")

// EngineError reports why the main job gave up on the engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("processing: engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// EngineJob is the main job body: start the engine and iterate it on a fixed
// cadence until cancelled.
type EngineJob struct {
	Engine telephony.Core

	StepInterval time.Duration
	// ToleratedDeltaMultiplier bounds the gap between two successful steps
	// to StepInterval times this value.
	ToleratedDeltaMultiplier int
	MaxConsecutiveFailures   int
	StopTimeout              time.Duration

	Log *slog.Logger
	Now func() time.Time
}

func (j *EngineJob) defaults() {
	if j.StepInterval <= 0 {
		j.StepInterval = 20 * time.Millisecond
	}
	if j.ToleratedDeltaMultiplier <= 0 {
		j.ToleratedDeltaMultiplier = 10
	}
	if j.MaxConsecutiveFailures <= 0 {
		j.MaxConsecutiveFailures = 5
	}
	if j.StopTimeout <= 0 {
		j.StopTimeout = 5 * time.Second
	}
	if j.Log == nil {
		j.Log = slog.Default()
	}
	if j.Now == nil {
		j.Now = time.Now
	}
}

// Run blocks until ctx is cancelled (returning nil) or the engine fails.
func (j *EngineJob) Run(ctx context.Context) error {
	j.defaults()
	if err := j.Engine.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &EngineError{Op: "start", Err: err}
	}
	defer j.stop()

	tolerated := j.StepInterval * time.Duration(j.ToleratedDeltaMultiplier)
	lastOK := j.Now()
	failures := 0

	t := time.NewTicker(j.StepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		hung, err := j.step(ctx, tolerated)
		if ctx.Err() != nil {
			return nil
		}
		now := j.Now()
		gap := now.Sub(lastOK)
		if hung || gap > tolerated {
			j.Log.Error("engine stalled", "since_last_step", gap.String(), "tolerated", tolerated.String(), "err", err)
			cause := fmt.Errorf("%w: no successful step for %s", ErrEngineStalled, gap)
			if err != nil {
				cause = fmt.Errorf("%w: %w", cause, err)
			}
			return &EngineError{Op: "process steps", Err: cause}
		}
		if err == nil {
			failures = 0
			lastOK = now
			continue
		}

		failures++
		j.Log.Warn("engine step failed", "err", err, "consecutive_failures", failures)
		if failures >= j.MaxConsecutiveFailures {
			j.Log.Error("engine step failures exceeded tolerance", "err", err, "max", j.MaxConsecutiveFailures)
			return &EngineError{Op: "process steps", Err: err}
		}
	}
}

// step runs one ProcessSteps bounded by limit. hung reports that the call
// had not returned when limit elapsed; it is then left running.
func (j *EngineJob) step(ctx context.Context, limit time.Duration) (hung bool, err error) {
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	res := make(chan error, 1)
	go func() { res <- j.Engine.ProcessSteps(stepCtx) }()

	select {
	case err := <-res:
		return false, err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, stepCtx.Err()
	}
}

func (j *EngineJob) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), j.StopTimeout)
	defer cancel()
	if err := j.Engine.Stop(ctx); err != nil {
		j.Log.Warn("engine stop failed", "err", err)
	}
}
