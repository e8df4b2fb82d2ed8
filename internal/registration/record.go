// Package registration keeps at most one SIP account registration alive and
// reports its lifecycle as a stream of records.
package registration

import (
	"errors"
	"time"

	"telecom-keeper/internal/telephony"
)

type Status string

const (
	StatusOffline          Status = "offline"
	StatusNotRegistered    Status = "not_registered"
	StatusRegistering      Status = "registering"
	StatusRegistered       Status = "registered"
	StatusRegisterFailed   Status = "register_failed"
	StatusUnregistering    Status = "unregistering"
	StatusUnregistered     Status = "unregistered"
	StatusUnregisterFailed Status = "unregister_failed"
)

// Record is the state of the single active registration.
type Record struct {
	RegisterID string            `json:"register_id,omitempty"`
	Account    telephony.Account `json:"account"`
	Status     Status            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// sameRecord ignores timestamps and credentials.
func sameRecord(a, b Record) bool {
	return a.RegisterID == b.RegisterID &&
		a.Status == b.Status &&
		a.Reason == b.Reason &&
		a.Account.SameTarget(b.Account)
}

var (
	ErrEngineUnavailable = errors.New("registration: engine unavailable")
	ErrInvalidAccount    = errors.New("registration: invalid account")
	ErrClosed            = errors.New("registration: reconciler closed")
)
