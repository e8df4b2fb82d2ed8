package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - station_id is required; it names the keeperd instance that produced the record.
// - actor and ip capture are best-effort; do not block processing on audit failures.
//
// Storage (Postgres): table audit_events, INSERT-only, see Schema.

type Event struct {
	ID        string `json:"id" db:"id"`
	StationID string `json:"station_id" db:"station_id"`

	// Type indicates the category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated operator causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	// ActorRole may include hidden roles.
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// State is the processing state or registration status the event reports.
	State      string `json:"state,omitempty" db:"state"`
	RegisterID string `json:"register_id,omitempty" db:"register_id"`
	AOR        string `json:"aor,omitempty" db:"aor"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeProcessingState     EventType = "processing_state"
	EventTypeRegistrationFailure EventType = "registration_failure"
	EventTypeOperatorAction      EventType = "operator_action"
)
