package processing

import (
	"context"
	"fmt"

	"telecom-keeper/internal/jobs"
)

// HealthMonitor is the body of the recurring health-check job. It detects a
// missing or failed main job and re-enqueues it.
type HealthMonitor struct {
	s *Supervisor
}

func (s *Supervisor) HealthMonitor() *HealthMonitor { return &HealthMonitor{s: s} }

// Check runs one health check. It returns an error only when a restart was
// attempted and the main job is still missing or failed afterwards; a
// restart that lands in Suspended is pending connectivity, not broken.
func (h *HealthMonitor) Check(ctx context.Context) error {
	s := h.s
	if err := s.acquire(ctx); err != nil {
		// Cancelled by the command that now holds the slot.
		return nil
	}
	defer s.release()

	// A check cancelled while waiting must not act on state the command
	// has since changed.
	if ctx.Err() != nil || s.isClosed() || s.state.Load().Kind == KindStopped {
		return nil
	}

	p := s.sched.Progress(ctx, MainJobName)
	switch p.Kind {
	case jobs.ProgressOngoing:
		if s.state.Load().Kind != KindStarted {
			s.transition(Started())
		}
		return nil
	case jobs.ProgressSuspended:
		if s.state.Load().Kind == KindStarted {
			s.transition(Suspended())
		}
		return nil
	case jobs.ProgressFailed:
		s.log.Warn("main job failed, restarting", "err", p.Reason)
		s.transition(Failed(p.Reason))
	default:
		s.log.Warn("main job missing, restarting")
	}

	if err := s.sched.EnqueueUnique(ctx, s.main, jobs.ReplaceExisting); err != nil {
		err = fmt.Errorf("processing: re-enqueue main job: %w", err)
		s.transition(Failed(err))
		return err
	}
	next := Classify(s.sched.Progress(ctx, MainJobName))
	s.transition(next)
	if next.Kind == KindFailed {
		return fmt.Errorf("processing: restart main job: %w", next.Cause)
	}
	s.log.Info("main job restarted", "state", next.String())
	return nil
}
