package processing

import "telecom-keeper/internal/jobs"

// Classify maps scheduler progress of the main job onto a processing State.
// A missing job is a failure: it was expected to be running.
func Classify(p jobs.Progress) State {
	switch p.Kind {
	case jobs.ProgressOngoing:
		return Started()
	case jobs.ProgressSuspended:
		return Suspended()
	case jobs.ProgressFailed:
		return Failed(p.Reason)
	default:
		return Failed(ErrJobMissing)
	}
}
