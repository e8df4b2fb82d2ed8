package telephony

import (
	"context"
	"errors"
	"time"
)

// Core is the minimal control surface of the telephony engine.
//
// ProcessSteps must be called on a steady, short period while the engine is
// running; an engine that is not iterated is considered stalled.
type Core interface {
	Start(ctx context.Context) error
	ProcessSteps(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CallSource delivers per-call state changes and answers the deferred
// "who ended this call" question.
type CallSource interface {
	// SubscribeCalls registers fn for call notifications. Notifications may
	// arrive on any goroutine. Disable the returned handle at teardown.
	SubscribeCalls(fn func(CallNotification)) *Listener

	// WasEndedByLocalParty reports whether the local party ended callID.
	// It may block; callers run it off their write path.
	WasEndedByLocalParty(ctx context.Context, callID string) (bool, error)
}

// AccountEngine manages SIP account registrations.
type AccountEngine interface {
	SubscribeRegistrations(fn func(RegistrationNotification)) *Listener

	CreateAccount(ctx context.Context, acct Account) (registerID string, err error)
	ActivateAccount(ctx context.Context, registerID string) error
	DeactivateAccount(ctx context.Context, registerID string) error
	DestroyAccount(ctx context.Context, registerID string) error
}

// Engine is the full engine contract consumed by the daemon.
type Engine interface {
	Core
	CallSource
	AccountEngine
}

var (
	ErrNotStarted  = errors.New("telephony: engine not started")
	ErrUnknownCall = errors.New("telephony: unknown call")
	ErrUnknownAcct = errors.New("telephony: unknown account")
)

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// CallTransition is the raw engine-level change reported for a call.
// Its meaning depends on the call's previous state.
type CallTransition string

const (
	CallIncomingReceived  CallTransition = "incoming_received"
	CallOutgoingInitiated CallTransition = "outgoing_initiated"
	CallStreamsUpdated    CallTransition = "streams_updated"
	CallConnected         CallTransition = "connected"
	CallReleased          CallTransition = "released"
)

// EndStatus qualifies a CallReleased transition.
type EndStatus string

const (
	EndSuccess           EndStatus = "success"
	EndAborted           EndStatus = "aborted"
	EndMissed            EndStatus = "missed"
	EndDeclined          EndStatus = "declined"
	EndDeclinedElsewhere EndStatus = "declined_elsewhere"
	EndAcceptedElsewhere EndStatus = "accepted_elsewhere"
	EndError             EndStatus = "error"
)

// Streams describes the negotiated media of an in-progress call.
type Streams struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// CallNotification is one raw callback from the engine.
type CallNotification struct {
	CallID     string
	Transition CallTransition
	Direction  Direction

	// EndStatus is set only for CallReleased.
	EndStatus EndStatus
	// Reason is free text from the engine (SIP reason phrase, error text).
	Reason string

	Timestamp   time.Time
	LocalParty  string
	RemoteParty string
	Streams     *Streams
}

// RegistrationState is the raw registration state reported by the engine.
type RegistrationState string

const (
	RegistrationProgress RegistrationState = "progress"
	RegistrationOK       RegistrationState = "ok"
	RegistrationFailed   RegistrationState = "failed"
	RegistrationCleared  RegistrationState = "cleared"
)

type RegistrationNotification struct {
	RegisterID string
	State      RegistrationState
	Reason     string
	Timestamp  time.Time
}

// Account identifies a SIP account to register.
type Account struct {
	// AOR is the address of record, e.g. sip:alice@example.com.
	AOR       string `json:"aor"`
	Registrar string `json:"registrar"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"-"`
}

// SameTarget reports whether a and b register the same identity at the same
// registrar. Credentials are not compared.
func (a Account) SameTarget(b Account) bool {
	return a.AOR == b.AOR && a.Registrar == b.Registrar
}
