package telephony

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoopbackEngine is an in-memory Engine. It has no SIP stack: calls and
// registrations are driven by the Emit* methods, and account operations
// answer with scripted registration callbacks.
//
// The daemon uses it when no native engine is linked in; tests use it to
// script callback sequences.
type LoopbackEngine struct {
	calls listeners[CallNotification]
	regs  listeners[RegistrationNotification]

	mu       sync.Mutex
	started  bool
	steps    int64
	startErr error
	stepErr  error
	failNext map[string]error
	endedBy  map[string]bool
	accounts map[string]Account

	// AutoRegister makes ActivateAccount report progress then ok, and
	// DeactivateAccount report cleared, as a well-behaved registrar would.
	AutoRegister bool

	Now func() time.Time
}

func NewLoopbackEngine() *LoopbackEngine {
	return &LoopbackEngine{
		failNext:     map[string]error{},
		endedBy:      map[string]bool{},
		accounts:     map[string]Account{},
		AutoRegister: true,
		Now:          time.Now,
	}
}

// Account operation names accepted by FailNext.
const (
	OpCreate     = "create"
	OpActivate   = "activate"
	OpDeactivate = "deactivate"
	OpDestroy    = "destroy"
)

func (e *LoopbackEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.started = true
	return nil
}

func (e *LoopbackEngine) ProcessSteps(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return ErrNotStarted
	}
	if e.stepErr != nil {
		return e.stepErr
	}
	e.steps++
	return nil
}

func (e *LoopbackEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	return nil
}

// Started reports whether Start succeeded and Stop has not been called since.
func (e *LoopbackEngine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Steps returns the number of successful ProcessSteps calls.
func (e *LoopbackEngine) Steps() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps
}

// SetStartError makes Start fail with err until cleared with nil.
func (e *LoopbackEngine) SetStartError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startErr = err
}

// SetStepError makes ProcessSteps fail with err until cleared with nil.
func (e *LoopbackEngine) SetStepError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stepErr = err
}

// FailNext makes the next account operation op fail with err.
func (e *LoopbackEngine) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext[op] = err
}

func (e *LoopbackEngine) SubscribeCalls(fn func(CallNotification)) *Listener {
	return e.calls.add(fn)
}

func (e *LoopbackEngine) SubscribeRegistrations(fn func(RegistrationNotification)) *Listener {
	return e.regs.add(fn)
}

// CallListeners returns the number of enabled call listeners.
func (e *LoopbackEngine) CallListeners() int { return e.calls.len() }

// EmitCall delivers n to every call listener on the caller's goroutine.
func (e *LoopbackEngine) EmitCall(n CallNotification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = e.Now().UTC()
	}
	e.calls.emit(n)
}

// EmitRegistration delivers n to every registration listener.
func (e *LoopbackEngine) EmitRegistration(n RegistrationNotification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = e.Now().UTC()
	}
	e.regs.emit(n)
}

// SetEndedLocally records the answer WasEndedByLocalParty gives for callID.
func (e *LoopbackEngine) SetEndedLocally(callID string, local bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endedBy[callID] = local
}

func (e *LoopbackEngine) WasEndedByLocalParty(ctx context.Context, callID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	local, ok := e.endedBy[callID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}
	return local, nil
}

func (e *LoopbackEngine) CreateAccount(ctx context.Context, acct Account) (string, error) {
	if err := e.takeFailure(OpCreate); err != nil {
		return "", err
	}
	id := uuid.NewString()
	e.mu.Lock()
	e.accounts[id] = acct
	e.mu.Unlock()
	return id, nil
}

func (e *LoopbackEngine) ActivateAccount(ctx context.Context, registerID string) error {
	if err := e.takeFailure(OpActivate); err != nil {
		return err
	}
	if !e.hasAccount(registerID) {
		return fmt.Errorf("%w: %s", ErrUnknownAcct, registerID)
	}
	if e.AutoRegister {
		e.EmitRegistration(RegistrationNotification{RegisterID: registerID, State: RegistrationProgress})
		e.EmitRegistration(RegistrationNotification{RegisterID: registerID, State: RegistrationOK})
	}
	return nil
}

func (e *LoopbackEngine) DeactivateAccount(ctx context.Context, registerID string) error {
	if err := e.takeFailure(OpDeactivate); err != nil {
		return err
	}
	if !e.hasAccount(registerID) {
		return fmt.Errorf("%w: %s", ErrUnknownAcct, registerID)
	}
	if e.AutoRegister {
		e.EmitRegistration(RegistrationNotification{RegisterID: registerID, State: RegistrationCleared})
	}
	return nil
}

func (e *LoopbackEngine) DestroyAccount(ctx context.Context, registerID string) error {
	if err := e.takeFailure(OpDestroy); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.accounts[registerID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAcct, registerID)
	}
	delete(e.accounts, registerID)
	return nil
}

// Accounts returns the number of created, not yet destroyed accounts.
func (e *LoopbackEngine) Accounts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.accounts)
}

func (e *LoopbackEngine) hasAccount(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.accounts[id]
	return ok
}

func (e *LoopbackEngine) takeFailure(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.failNext[op]
	delete(e.failNext, op)
	return err
}
