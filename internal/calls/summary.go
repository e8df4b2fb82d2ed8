package calls

import "telecom-keeper/internal/telephony"

// Summary aggregates a history snapshot by each call's latest status.
type Summary struct {
	TotalCalls    int `json:"total_calls"`
	IncomingCalls int `json:"incoming_calls"`
	OutgoingCalls int `json:"outgoing_calls"`

	InProgressCalls int `json:"in_progress_calls"`
	AnsweredCalls   int `json:"answered_calls"`
	MissedCalls     int `json:"missed_calls"`
	DeclinedCalls   int `json:"declined_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	FailedCalls     int `json:"failed_calls"`

	ByStatus map[Status]int `json:"by_status"`
}

// Summarize counts calls in events. Events of one call are folded first, so
// a call counts once under its latest status.
func Summarize(events []Event) (Summary, error) {
	latest, err := Fold(events)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{ByStatus: map[Status]int{}}
	for _, ev := range latest {
		s.TotalCalls++
		s.ByStatus[ev.Kind]++
		if ev.Direction == telephony.DirectionIncoming {
			s.IncomingCalls++
		} else {
			s.OutgoingCalls++
		}

		switch ev.Kind {
		case StatusRinging, StatusAccepted:
			s.InProgressCalls++
		case StatusFinishedByLocalParty, StatusFinishedByRemoteParty, StatusAcceptedElsewhere:
			s.AnsweredCalls++
		case StatusMissed:
			s.MissedCalls++
		case StatusDeclined:
			s.DeclinedCalls++
		case StatusCanceled:
			s.CanceledCalls++
		case StatusAbortedDueToError, StatusFinishedDueToError:
			s.FailedCalls++
		}
	}
	return s, nil
}
