package profiles

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresDirectory reads the profiles and push_tokens tables.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	const q = `SELECT id, display_name, avatar_url FROM profiles WHERE id = $1`
	var p Profile
	err := d.db.QueryRowContext(ctx, q, userID).Scan(&p.ID, &p.DisplayName, &p.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

func (d *PostgresDirectory) Contacts(ctx context.Context, userID string) ([]Contact, error) {
	const q = `
SELECT platform, token
FROM push_tokens
WHERE user_id = $1
ORDER BY created_at DESC
`
	rows, err := d.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Platform, &c.Token); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ Directory = (*PostgresDirectory)(nil)
