// Package processing supervises the long-running engine job.
//
// A Supervisor owns the processing State machine. It starts and stops the
// main job and a recurring health-check job through a jobs.Scheduler, maps
// scheduler progress onto State, and publishes every distinct transition to
// observers.
package processing

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindStopped   Kind = "stopped"
	KindSuspended Kind = "suspended"
	KindStarted   Kind = "started"
	KindFailed    Kind = "failed"
)

// State is the supervisor's current processing state. Cause is set only for
// KindFailed.
type State struct {
	Kind  Kind
	Cause error
}

func Stopped() State   { return State{Kind: KindStopped} }
func Suspended() State { return State{Kind: KindSuspended} }
func Started() State   { return State{Kind: KindStarted} }

func Failed(cause error) State {
	if cause == nil {
		cause = ErrUnknownFailure
	}
	return State{Kind: KindFailed, Cause: cause}
}

// Equal compares kinds, and for Failed states the cause messages. Causes are
// often freshly wrapped errors, so identity would never match.
func (s State) Equal(o State) bool {
	if s.Kind != o.Kind {
		return false
	}
	if s.Kind != KindFailed {
		return true
	}
	return causeText(s.Cause) == causeText(o.Cause)
}

func (s State) String() string {
	if s.Kind == KindFailed {
		return fmt.Sprintf("%s(%s)", s.Kind, causeText(s.Cause))
	}
	return string(s.Kind)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		State string `json:"state"`
		Cause string `json:"cause,omitempty"`
	}{State: string(s.Kind), Cause: causeText(s.Cause)})
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	ErrUnknownFailure = errors.New("processing: unknown failure")
	ErrJobMissing     = errors.New("processing: main job missing")
	ErrClosed         = errors.New("processing: supervisor closed")
)
