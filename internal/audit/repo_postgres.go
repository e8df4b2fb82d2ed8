package audit

import (
	"context"
	"database/sql"
	"fmt"

	"telecom-keeper/pkg/utils"
)

// Schema creates the audit table and its read index. UPDATE/DELETE are
// not issued by this package; revoke them from the application role in
// production.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS audit_events (
	id            UUID PRIMARY KEY,
	station_id    TEXT NOT NULL,
	type          TEXT NOT NULL,
	actor_user_id TEXT NOT NULL DEFAULT '',
	actor_role    TEXT NOT NULL DEFAULT '',
	ip_address    TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	register_id   TEXT NOT NULL DEFAULT '',
	aor           TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS audit_events_station_created_idx
	ON audit_events (station_id, created_at DESC)`,
}

// PostgresRepo stores events in audit_events through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// EnsureSchema applies Schema in a single transaction.
func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	if err := utils.ApplySchema(ctx, r.db, Schema...); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events
	(id, station_id, type, actor_user_id, actor_role, ip_address, state, register_id, aor, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.StationID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.State,
		e.RegisterID,
		e.AOR,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, station_id, type, actor_user_id, actor_role, ip_address, state, register_id, aor, message, metadata, created_at
FROM audit_events
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(
			&e.ID,
			&e.StationID,
			&typ,
			&e.ActorUserID,
			&e.ActorRole,
			&e.IPAddress,
			&e.State,
			&e.RegisterID,
			&e.AOR,
			&e.Message,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
