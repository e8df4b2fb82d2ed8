package calls

import (
	"errors"
	"fmt"

	"telecom-keeper/internal/telephony"
)

var ErrProtocolViolation = errors.New("calls: protocol violation")

type Action int

const (
	// Ignore drops the notification. Outcome.Err says why when it was not a
	// plain duplicate.
	Ignore Action = iota
	// Update refreshes the live record without a history entry.
	Update
	// Emit appends Outcome.Record to history.
	Emit
	// EmitConditional appends a placeholder resolved later into one of
	// Outcome.Conditional's alternatives.
	EmitConditional
)

type Outcome struct {
	Action      Action
	Record      Record
	Conditional Conditional
	Err         error
}

// Classify interprets raw notification n against the call's previous live
// record, nil when the call is unknown. It has no side effects.
func Classify(prev *Record, n telephony.CallNotification) Outcome {
	if prev == nil {
		switch n.Transition {
		case telephony.CallIncomingReceived, telephony.CallOutgoingInitiated:
			return Outcome{Action: Emit, Record: ringing(n)}
		default:
			return violation(n, "no invitation")
		}
	}

	switch prev.Status {
	case StatusRinging:
		return classifyRinging(*prev, n)
	case StatusAccepted:
		return classifyAccepted(*prev, n)
	default:
		return violation(n, fmt.Sprintf("call already %s", prev.Status))
	}
}

func classifyRinging(prev Record, n telephony.CallNotification) Outcome {
	switch n.Transition {
	case telephony.CallIncomingReceived, telephony.CallOutgoingInitiated:
		return Outcome{Action: Ignore}
	case telephony.CallStreamsUpdated:
		return Outcome{Action: Update, Record: withStreams(prev, n)}
	case telephony.CallConnected:
		return Outcome{Action: Emit, Record: next(prev, n, StatusAccepted)}
	case telephony.CallReleased:
	default:
		return violation(n, "unknown transition")
	}

	switch n.EndStatus {
	case telephony.EndAborted:
		// Outgoing: we hung up first (canceled) or they refused (declined).
		// Incoming: the mirror image.
		local, remote := StatusCanceled, StatusDeclined
		if prev.Direction == telephony.DirectionIncoming {
			local, remote = StatusDeclined, StatusCanceled
		}
		return Outcome{Action: EmitConditional, Conditional: Conditional{
			IfLocal:  next(prev, n, local),
			IfRemote: next(prev, n, remote),
		}}
	case telephony.EndMissed:
		return Outcome{Action: Emit, Record: next(prev, n, StatusMissed)}
	case telephony.EndDeclined, telephony.EndDeclinedElsewhere:
		return Outcome{Action: Emit, Record: next(prev, n, StatusDeclined)}
	case telephony.EndAcceptedElsewhere:
		return Outcome{Action: Emit, Record: next(prev, n, StatusAcceptedElsewhere)}
	case telephony.EndError:
		return Outcome{Action: Emit, Record: next(prev, n, StatusAbortedDueToError)}
	default:
		return violation(n, "unanswered call ended with "+string(n.EndStatus))
	}
}

func classifyAccepted(prev Record, n telephony.CallNotification) Outcome {
	switch n.Transition {
	case telephony.CallConnected:
		return Outcome{Action: Ignore}
	case telephony.CallStreamsUpdated:
		return Outcome{Action: Update, Record: withStreams(prev, n)}
	case telephony.CallReleased:
	default:
		return violation(n, "session cannot return to "+string(n.Transition))
	}

	switch n.EndStatus {
	case telephony.EndSuccess, telephony.EndAborted:
		return Outcome{Action: EmitConditional, Conditional: Conditional{
			IfLocal:  next(prev, n, StatusFinishedByLocalParty),
			IfRemote: next(prev, n, StatusFinishedByRemoteParty),
		}}
	case telephony.EndError:
		return Outcome{Action: Emit, Record: next(prev, n, StatusFinishedDueToError)}
	default:
		return violation(n, "session ended with "+string(n.EndStatus))
	}
}

func ringing(n telephony.CallNotification) Record {
	dir := telephony.DirectionOutgoing
	if n.Transition == telephony.CallIncomingReceived {
		dir = telephony.DirectionIncoming
	}
	return Record{
		CallID:      n.CallID,
		Direction:   dir,
		Stage:       StageInvitation,
		Status:      StatusRinging,
		Timestamp:   n.Timestamp,
		LocalParty:  n.LocalParty,
		RemoteParty: n.RemoteParty,
		Streams:     copyStreams(n.Streams),
	}
}

// next derives the record for status from prev, keeping parties the engine
// did not repeat.
func next(prev Record, n telephony.CallNotification, status Status) Record {
	r := prev
	r.Status = status
	r.Stage = status.Stage()
	r.Timestamp = n.Timestamp
	if n.LocalParty != "" {
		r.LocalParty = n.LocalParty
	}
	if n.RemoteParty != "" {
		r.RemoteParty = n.RemoteParty
	}
	if status == StatusAbortedDueToError || status == StatusFinishedDueToError {
		r.Reason = n.Reason
	}
	if status.Terminal() {
		r.Streams = nil
	} else if n.Streams != nil {
		r.Streams = copyStreams(n.Streams)
	}
	return r
}

func withStreams(prev Record, n telephony.CallNotification) Record {
	if n.Streams != nil {
		prev.Streams = copyStreams(n.Streams)
	}
	return prev
}

func copyStreams(s *telephony.Streams) *telephony.Streams {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func violation(n telephony.CallNotification, msg string) Outcome {
	return Outcome{
		Action: Ignore,
		Err:    fmt.Errorf("%w: %s on call %s: %s", ErrProtocolViolation, n.Transition, n.CallID, msg),
	}
}
