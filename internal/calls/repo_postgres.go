package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"call-signaling/pkg/utils"
)

// NOTE: This repository assumes the call_sessions table from
// migrations/001_call_sessions.sql, in particular UNIQUE (room_id).

const sessionColumns = `id, kind, initiator_id, receiver_id, room_id, status, last_event,
       started_at, ended_at, recording_url, recording_duration, summary, created_at, updated_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (CallSession, error) {
	var s CallSession
	err := row.Scan(
		&s.ID,
		&s.Kind,
		&s.InitiatorID,
		&s.ReceiverID,
		&s.RoomID,
		&s.Status,
		&s.LastEvent,
		&s.StartedAt,
		&s.EndedAt,
		&s.RecordingURL,
		&s.RecordingDuration,
		&s.Summary,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

func (r *PostgresRepo) Insert(ctx context.Context, s CallSession) error {
	if err := validateNew(s); err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (
  id, kind, initiator_id, receiver_id, room_id, status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.Kind,
		s.InitiatorID,
		s.ReceiverID,
		s.RoomID,
		s.Status,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := utils.UniqueViolation(err); ok {
			return fmt.Errorf("%w: %s", ErrConflict, constraint)
		}
		return err
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return s, err
}

func (r *PostgresRepo) GetByRoomID(ctx context.Context, roomID string) (CallSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE room_id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	return s, err
}

func (r *PostgresRepo) ListByParticipant(ctx context.Context, userID string, limit int) ([]CallSession, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + sessionColumns + `
FROM call_sessions
WHERE initiator_id = $1 OR receiver_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Transition runs the guarded update and, when the guard rejects it, the
// last_event bookkeeping in one transaction so callers always get the row
// as it stands after their call.
func (r *PostgresRepo) Transition(ctx context.Context, req TransitionRequest) (CallSession, bool, error) {
	if err := req.validate(); err != nil {
		return CallSession{}, false, err
	}

	keyCol, key := "id", req.SessionID
	if key == "" {
		keyCol, key = "room_id", req.RoomID
	}
	from := make([]string, 0, len(req.From))
	for _, f := range req.From {
		from = append(from, string(f))
	}

	guarded := `
UPDATE call_sessions
SET status        = $3,
    started_at    = CASE WHEN $3 = 'active' THEN COALESCE(started_at, $4) ELSE started_at END,
    ended_at      = CASE WHEN $3 = 'ended' THEN COALESCE(ended_at, $4) ELSE ended_at END,
    last_event    = CASE WHEN $5 <> '' THEN $5 ELSE last_event END,
    recording_url = CASE WHEN $6 <> '' THEN $6 ELSE recording_url END,
    summary       = CASE WHEN $7 <> '' THEN $7 ELSE summary END,
    updated_at    = $4
WHERE ` + keyCol + ` = $1 AND status = ANY($2)
RETURNING ` + sessionColumns

	var out CallSession
	var applied bool
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		s, err := scanSession(tx.QueryRowContext(ctx, guarded,
			key, from, string(req.To), req.Now, req.Event, req.RecordingURL, req.Summary))
		if err == nil {
			out, applied = s, true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		// Either the row does not exist or its status is outside req.From.
		var q string
		var args []any
		if req.Event != "" {
			q = `UPDATE call_sessions SET last_event = $2, updated_at = $3 WHERE ` + keyCol + ` = $1 RETURNING ` + sessionColumns
			args = []any{key, req.Event, req.Now}
		} else {
			q = `SELECT ` + sessionColumns + ` FROM call_sessions WHERE ` + keyCol + ` = $1`
			args = []any{key}
		}
		s, err = scanSession(tx.QueryRowContext(ctx, q, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s %s", ErrNotFound, keyCol, key)
		}
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return CallSession{}, false, err
	}
	return out, applied, nil
}

func (r *PostgresRepo) RecordEvent(ctx context.Context, req EventUpdate) (CallSession, error) {
	if err := req.validate(); err != nil {
		return CallSession{}, err
	}
	q := `
UPDATE call_sessions
SET last_event         = $2,
    recording_url      = CASE WHEN $3 <> '' THEN $3 ELSE recording_url END,
    recording_duration = CASE WHEN $4 > 0 THEN $4 ELSE recording_duration END,
    updated_at         = $5
WHERE room_id = $1
RETURNING ` + sessionColumns
	s, err := scanSession(r.db.QueryRowContext(ctx, q,
		req.RoomID, req.Event, req.RecordingURL, req.RecordingDuration, req.Now))
	if errors.Is(err, sql.ErrNoRows) {
		return CallSession{}, fmt.Errorf("%w: room %s", ErrNotFound, req.RoomID)
	}
	return s, err
}

var _ Repository = (*PostgresRepo)(nil)
