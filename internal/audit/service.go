package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"telecom-keeper/internal/processing"
	"telecom-keeper/internal/registration"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It is append-only: there are no Update or Delete methods.

type Repository interface {
	Append(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Service logs internal audit information for one station.
//
// Callers treat audit logging as best-effort: the Record* loops log append
// failures and keep consuming.

type Service struct {
	repo      Repository
	stationID string
	log       *slog.Logger
	clock     func() time.Time
}

func NewService(repo Repository, stationID string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, stationID: stationID, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.StationID == "" {
		e.StationID = s.stationID
	}
	if e.StationID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	return s.repo.Recent(ctx, limit)
}

// LogOperatorAction records a control API call (start, stop, register...).
func (s *Service) LogOperatorAction(ctx context.Context, actorUserID, actorRole, ip, message string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeOperatorAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
	})
}

func (s *Service) LogProcessingState(ctx context.Context, st processing.State) error {
	e := Event{
		Type:    EventTypeProcessingState,
		State:   string(st.Kind),
		Message: st.String(),
	}
	if st.Cause != nil {
		e.Metadata = fmt.Sprintf(`{"cause":%q}`, st.Cause.Error())
	}
	return s.Append(ctx, e)
}

func (s *Service) LogRegistrationFailure(ctx context.Context, rec registration.Record) error {
	return s.Append(ctx, Event{
		Type:       EventTypeRegistrationFailure,
		State:      string(rec.Status),
		RegisterID: rec.RegisterID,
		AOR:        rec.Account.AOR,
		Message:    rec.Reason,
	})
}

// RecordProcessing appends every observed processing state until states closes.
func (s *Service) RecordProcessing(ctx context.Context, states <-chan processing.State) {
	for st := range states {
		if err := s.LogProcessingState(ctx, st); err != nil {
			s.log.Warn("audit append failed", "type", EventTypeProcessingState, "err", err)
		}
	}
}

// RecordRegistrationFailures appends the failed records of a registration
// stream until it closes.
func (s *Service) RecordRegistrationFailures(ctx context.Context, records <-chan registration.Record) {
	for rec := range records {
		switch rec.Status {
		case registration.StatusRegisterFailed, registration.StatusUnregisterFailed:
		default:
			continue
		}
		if err := s.LogRegistrationFailure(ctx, rec); err != nil {
			s.log.Warn("audit append failed", "type", EventTypeRegistrationFailure, "err", err)
		}
	}
}
