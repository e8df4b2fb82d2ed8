package calls

import (
	"time"

	"telecom-keeper/internal/telephony"
)

// Stage only ever moves from Invitation to Session.
type Stage string

const (
	StageInvitation Stage = "invitation"
	StageSession    Stage = "session"
)

type Status string

const (
	StatusRinging           Status = "ringing"
	StatusCanceled          Status = "canceled"
	StatusMissed            Status = "missed"
	StatusAcceptedElsewhere Status = "accepted_elsewhere"
	StatusDeclined          Status = "declined"
	StatusAbortedDueToError Status = "aborted_due_to_error"

	StatusAccepted              Status = "accepted"
	StatusFinishedByLocalParty  Status = "finished_by_local_party"
	StatusFinishedByRemoteParty Status = "finished_by_remote_party"
	StatusFinishedDueToError    Status = "finished_due_to_error"
)

// Terminal reports whether no further events can follow s for the same call.
func (s Status) Terminal() bool {
	switch s {
	case StatusRinging, StatusAccepted:
		return false
	default:
		return true
	}
}

// Stage returns the stage a call is in when it has status s.
func (s Status) Stage() Stage {
	switch s {
	case StatusAccepted, StatusFinishedByLocalParty, StatusFinishedByRemoteParty, StatusFinishedDueToError:
		return StageSession
	default:
		return StageInvitation
	}
}

// Record is one call as of its latest notification.
//
// Invariant: CallID is unique for the lifetime of one invitation and the
// session it may turn into.
type Record struct {
	CallID    string              `json:"call_id"`
	Direction telephony.Direction `json:"direction"`
	Stage     Stage               `json:"stage"`
	Status    Status              `json:"status"`

	Timestamp   time.Time `json:"timestamp"`
	LocalParty  string    `json:"local_party"`
	RemoteParty string    `json:"remote_party"`

	// Reason is the engine's free text for error endings.
	Reason string `json:"reason,omitempty"`

	// Streams is only meaningful while the call is in progress.
	Streams *telephony.Streams `json:"streams,omitempty"`
}

// Event is an immutable history entry: a call entering Kind at Timestamp.
type Event struct {
	CallID    string              `json:"call_id"`
	Kind      Status              `json:"kind"`
	Stage     Stage               `json:"stage"`
	Direction telephony.Direction `json:"direction"`

	Timestamp   time.Time `json:"timestamp"`
	LocalParty  string    `json:"local_party"`
	RemoteParty string    `json:"remote_party"`
	Reason      string    `json:"reason,omitempty"`
}

func (r Record) Event() Event {
	return Event{
		CallID:      r.CallID,
		Kind:        r.Status,
		Stage:       r.Stage,
		Direction:   r.Direction,
		Timestamp:   r.Timestamp,
		LocalParty:  r.LocalParty,
		RemoteParty: r.RemoteParty,
		Reason:      r.Reason,
	}
}

// Conditional is a call ending whose concrete status depends on which party
// ended the call. It is resolved exactly once into one of its alternatives.
type Conditional struct {
	IfLocal  Record
	IfRemote Record
}

// Resolve picks the alternative for endedLocally.
func (c Conditional) Resolve(endedLocally bool) Record {
	if endedLocally {
		return c.IfLocal
	}
	return c.IfRemote
}
