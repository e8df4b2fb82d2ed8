package calls

import (
	"testing"
	"time"

	"telecom-keeper/internal/telephony"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(id string, kind Status, dir telephony.Direction, sec int) Event {
	return Event{
		CallID:    id,
		Kind:      kind,
		Stage:     kind.Stage(),
		Direction: dir,
		Timestamp: t0.Add(time.Duration(sec) * time.Second),
	}
}

func TestFold_KeepsLatestPerCall(t *testing.T) {
	latest, err := Fold([]Event{
		ev("a", StatusRinging, telephony.DirectionIncoming, 1),
		ev("b", StatusRinging, telephony.DirectionOutgoing, 2),
		ev("a", StatusAccepted, telephony.DirectionIncoming, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, latest["a"].Kind)
	assert.Equal(t, StatusRinging, latest["b"].Kind)
}

func TestFold_RejectsEventAfterTerminal(t *testing.T) {
	_, err := Fold([]Event{
		ev("a", StatusRinging, telephony.DirectionIncoming, 1),
		ev("a", StatusMissed, telephony.DirectionIncoming, 2),
		ev("a", StatusRinging, telephony.DirectionIncoming, 3),
	})
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestCurrentCall(t *testing.T) {
	cur, ok, err := CurrentCall([]Event{
		ev("a", StatusRinging, telephony.DirectionIncoming, 1),
		ev("b", StatusRinging, telephony.DirectionOutgoing, 2),
		ev("b", StatusAccepted, telephony.DirectionOutgoing, 3),
		ev("a", StatusMissed, telephony.DirectionIncoming, 4),
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", cur.CallID)

	_, ok, err = CurrentCall([]Event{
		ev("a", StatusRinging, telephony.DirectionIncoming, 1),
		ev("a", StatusDeclined, telephony.DirectionIncoming, 2),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]Event{
		ev("a", StatusRinging, telephony.DirectionIncoming, 1),
		ev("a", StatusMissed, telephony.DirectionIncoming, 2),
		ev("b", StatusRinging, telephony.DirectionOutgoing, 3),
		ev("b", StatusAccepted, telephony.DirectionOutgoing, 4),
		ev("b", StatusFinishedByRemoteParty, telephony.DirectionOutgoing, 5),
		ev("c", StatusRinging, telephony.DirectionOutgoing, 6),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalCalls)
	assert.Equal(t, 1, s.IncomingCalls)
	assert.Equal(t, 2, s.OutgoingCalls)
	assert.Equal(t, 1, s.MissedCalls)
	assert.Equal(t, 1, s.AnsweredCalls)
	assert.Equal(t, 1, s.InProgressCalls)
	assert.Equal(t, 1, s.ByStatus[StatusFinishedByRemoteParty])
}
