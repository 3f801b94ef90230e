package store

import "context"

// EnsureSchema creates the tables this service needs when they do not exist
// yet. The email unique index is partial: rows without an email never
// conflict, so nameless-email registrations always insert.
func (d *DB) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT,
			phone TEXT,
			email TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users (email) WHERE email IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS checkins (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users (id),
			photo_path TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ix_checkins_user_created ON checkins (user_id, created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
