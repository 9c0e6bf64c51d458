package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo writes to call_audit_events. INSERT only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_audit_events (
  id, session_id, type, actor_user_id, from_status, to_status,
  provider_event, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.SessionID,
		string(e.Type),
		e.ActorUserID,
		e.FromStatus,
		e.ToStatus,
		e.ProviderEvent,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

var _ Repository = (*PostgresRepo)(nil)
