package calls

import "fmt"

// Fold reduces a history to the most recent event of each call. A call that
// has an event after a terminal one, or that goes back from Session to
// Invitation, violates the protocol and fails the fold.
func Fold(events []Event) (map[string]Event, error) {
	latest := make(map[string]Event)
	for _, ev := range events {
		prev, seen := latest[ev.CallID]
		if seen {
			if prev.Kind.Terminal() {
				return nil, fmt.Errorf("%w: call %s: %s after terminal %s", ErrProtocolViolation, ev.CallID, ev.Kind, prev.Kind)
			}
			if prev.Stage == StageSession && ev.Stage == StageInvitation {
				return nil, fmt.Errorf("%w: call %s: %s went back to invitation", ErrProtocolViolation, ev.CallID, ev.Kind)
			}
		}
		latest[ev.CallID] = ev
	}
	return latest, nil
}

// CurrentCall returns the most recently started call that has not ended.
func CurrentCall(events []Event) (Event, bool, error) {
	latest, err := Fold(events)
	if err != nil {
		return Event{}, false, err
	}
	var cur Event
	found := false
	for _, ev := range latest {
		if ev.Kind.Terminal() {
			continue
		}
		if !found || ev.Timestamp.After(cur.Timestamp) {
			cur, found = ev, true
		}
	}
	return cur, found, nil
}
