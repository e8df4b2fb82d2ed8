package registration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"telecom-keeper/internal/broadcast"
	"telecom-keeper/internal/telephony"

	"github.com/looplab/fsm"
)

type Options struct {
	// UnregisterTimeout bounds the wait for the registrar to confirm an
	// unregister before the account is destroyed anyway.
	UnregisterTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Reconciler drives the engine's account operations for one registration at
// a time and folds the engine's registration callbacks into Records.
//
// Commands hold opMu for their whole duration. Engine callbacks, which may
// arrive synchronously inside an engine call, only take mu.
type Reconciler struct {
	engine            telephony.AccountEngine
	unregisterTimeout time.Duration
	log               *slog.Logger
	now               func() time.Time

	opMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	listener *telephony.Listener
	machine  *fsm.FSM
	regID    string
	account  telephony.Account
	reason   string
	cleared  chan struct{}

	records *broadcast.Value[Record]
}

func NewReconciler(engine telephony.AccountEngine, opts Options) *Reconciler {
	if opts.UnregisterTimeout <= 0 {
		opts.UnregisterTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Reconciler{
		engine:            engine,
		unregisterTimeout: opts.UnregisterTimeout,
		log:               opts.Logger.With("component", "registration"),
		now:               opts.Now,
		machine:           newMachine(),
	}
	r.records = broadcast.New(r.recordLocked(), sameRecord)
	return r
}

// Attach subscribes to the engine's registration callbacks and leaves the
// Offline state.
func (r *Reconciler) Attach() {
	l := r.engine.SubscribeRegistrations(r.handle)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		l.Disable()
		return
	}
	if r.listener != nil {
		r.listener.Disable()
	}
	r.listener = l
	if r.status() == StatusOffline {
		r.fireLocked(evAttach)
	}
}

func (r *Reconciler) Current() Record { return r.records.Load() }

// ObserveRegistrations streams the current record, then every distinct change.
func (r *Reconciler) ObserveRegistrations(ctx context.Context) <-chan Record {
	return r.records.Subscribe(ctx)
}

// CreateRegistration registers acct, replacing any registration for a
// different target. It returns once the engine accepted the activation;
// the outcome arrives as Registered or RegisterFailed records.
func (r *Reconciler) CreateRegistration(ctx context.Context, acct telephony.Account) error {
	if err := validateAccount(acct); err != nil {
		return err
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	st := r.status()
	if st == StatusOffline {
		r.mu.Unlock()
		return ErrEngineUnavailable
	}
	active := r.regID != ""
	same := active && r.account.SameTarget(acct) && (st == StatusRegistering || st == StatusRegistered)
	r.mu.Unlock()

	if same {
		return nil
	}
	if active {
		if err := r.destroy(ctx); err != nil {
			return err
		}
	}

	id, err := r.engine.CreateAccount(ctx, acct)
	if err != nil {
		return r.fail(evRegisterFailed, fmt.Errorf("registration: create account: %w", err))
	}

	r.mu.Lock()
	r.regID = id
	r.account = acct
	r.reason = ""
	r.fireLocked(evRegister)
	r.mu.Unlock()

	if err := r.engine.ActivateAccount(ctx, id); err != nil {
		r.destroyQuietly(id)
		return r.fail(evRegisterFailed, fmt.Errorf("registration: activate account: %w", err))
	}
	return nil
}

// DestroyRegistration unregisters and destroys the active registration. It
// is a no-op when nothing is registered or pending.
func (r *Reconciler) DestroyRegistration(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if r.isClosed() {
		return ErrClosed
	}
	return r.destroy(ctx)
}

// destroy runs with opMu held.
func (r *Reconciler) destroy(ctx context.Context) error {
	r.mu.Lock()
	id := r.regID
	if id == "" {
		r.mu.Unlock()
		return nil
	}
	cleared := make(chan struct{})
	r.cleared = cleared
	r.fireLocked(evUnregister)
	r.mu.Unlock()

	if err := r.engine.DeactivateAccount(ctx, id); err != nil {
		r.destroyQuietly(id)
		return r.fail(evUnregisterFailed, fmt.Errorf("registration: deactivate account: %w", err))
	}

	t := time.NewTimer(r.unregisterTimeout)
	select {
	case <-cleared:
	case <-t.C:
		r.log.Warn("registrar did not confirm unregister, destroying account", "register_id", id)
	case <-ctx.Done():
		t.Stop()
		r.destroyQuietly(id)
		return r.fail(evUnregisterFailed, fmt.Errorf("registration: waiting for unregister: %w", ctx.Err()))
	}
	t.Stop()

	if err := r.engine.DestroyAccount(ctx, id); err != nil {
		return r.fail(evUnregisterFailed, fmt.Errorf("registration: destroy account: %w", err))
	}

	r.mu.Lock()
	r.regID = ""
	r.cleared = nil
	r.fireLocked(evUnregistered)
	r.mu.Unlock()
	return nil
}

// fail publishes the failure status carrying err, then resets to
// NotRegistered. It returns err.
func (r *Reconciler) fail(event string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLocked(event, err)
	return err
}

func (r *Reconciler) failLocked(event string, err error) {
	r.log.Warn("registration failed", "register_id", r.regID, "err", err)
	r.reason = err.Error()
	r.fireLocked(event)
	r.regID = ""
	r.reason = ""
	r.cleared = nil
	r.fireLocked(evReset)
}

// destroyQuietly releases an engine account after a failure. Errors are only
// logged: the registration is already reported failed.
func (r *Reconciler) destroyQuietly(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.unregisterTimeout)
	defer cancel()
	if err := r.engine.DestroyAccount(ctx, id); err != nil {
		r.log.Debug("destroy after failure", "register_id", id, "err", err)
	}
}

// handle applies an engine registration callback.
func (r *Reconciler) handle(n telephony.RegistrationNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if n.RegisterID == "" || n.RegisterID != r.regID {
		r.log.Debug("registration callback for inactive account ignored", "register_id", n.RegisterID, "state", string(n.State))
		return
	}

	st := r.status()
	switch n.State {
	case telephony.RegistrationOK:
		if st == StatusRegistering {
			r.fireLocked(evRegistered)
		}
	case telephony.RegistrationFailed:
		if st == StatusRegistering || st == StatusRegistered {
			reason := n.Reason
			if reason == "" {
				reason = "registrar rejected registration"
			}
			id := r.regID
			r.failLocked(evRegisterFailed, fmt.Errorf("registration: %s", reason))
			go r.destroyQuietly(id)
		}
	case telephony.RegistrationCleared:
		if st == StatusUnregistering && r.cleared != nil {
			close(r.cleared)
			r.cleared = nil
		}
	case telephony.RegistrationProgress:
		// Registering, or a refresh of an existing registration.
	}
}

// Close detaches from the engine and disposes all subscriptions. The engine
// account, if any, is left as is.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	l := r.listener
	r.mu.Unlock()

	l.Disable()
	r.records.Close()
}

func (r *Reconciler) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Reconciler) status() Status { return Status(r.machine.Current()) }

// fireLocked moves the machine and publishes the new record.
func (r *Reconciler) fireLocked(event string) {
	if err := r.machine.Event(context.Background(), event); err != nil {
		r.log.Error("registration transition rejected", "event", event, "state", r.machine.Current(), "err", err)
		return
	}
	r.publishLocked()
}

func (r *Reconciler) publishLocked() {
	if r.records != nil {
		r.records.Publish(r.recordLocked())
	}
}

func (r *Reconciler) recordLocked() Record {
	return Record{
		RegisterID: r.regID,
		Account:    r.account,
		Status:     r.status(),
		Reason:     r.reason,
		Timestamp:  r.now().UTC(),
	}
}

func validateAccount(a telephony.Account) error {
	if !strings.HasPrefix(a.AOR, "sip:") && !strings.HasPrefix(a.AOR, "sips:") {
		return fmt.Errorf("%w: aor must be a sip or sips uri", ErrInvalidAccount)
	}
	if strings.TrimSpace(a.Registrar) == "" {
		return fmt.Errorf("%w: registrar required", ErrInvalidAccount)
	}
	return nil
}
