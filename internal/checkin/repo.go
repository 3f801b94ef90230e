package checkin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned for lookups of an unknown user id.
var ErrUserNotFound = errors.New("user not found")

// User is a registered employee. Users are never deleted by this system.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      *string   `json:"role,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one stored check-in: a photo object key plus a server-assigned
// UTC timestamp.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PhotoPath string    `json:"photo_path"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists users and check-ins in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser registers a user. When an email is supplied it is case-folded
// and used as the conflict key, so re-registering the same email updates the
// existing row instead of inserting a second one. Without an email the row
// is always new.
func (r *Repository) CreateUser(ctx context.Context, name string, role, phone, email *string) (User, error) {
	u := User{ID: uuid.NewString(), Name: strings.TrimSpace(name), Role: trimmed(role), Phone: trimmed(phone)}
	if e := trimmed(email); e != nil {
		folded := strings.ToLower(*e)
		u.Email = &folded
	}

	var row *sql.Row
	if u.Email != nil {
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO users (id, name, role, phone, email)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (email) WHERE email IS NOT NULL DO UPDATE SET
				name = EXCLUDED.name,
				role = EXCLUDED.role,
				phone = EXCLUDED.phone
			RETURNING id, created_at
		`, u.ID, u.Name, u.Role, u.Phone, u.Email)
	} else {
		row = r.db.QueryRowContext(ctx, `
			INSERT INTO users (id, name, role, phone)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, u.ID, u.Name, u.Role, u.Phone)
	}
	if err := row.Scan(&u.ID, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

// ListUsers returns all users ordered by name, for the check-in picker.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, role, phone, email, created_at
		FROM users
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.Phone, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser returns a single user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, role, phone, email, created_at
		FROM users WHERE id = $1
	`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Role, &u.Phone, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// InsertCheckin writes a new check-in row. created_at is assigned by the
// database at insert time, in UTC.
func (r *Repository) InsertCheckin(ctx context.Context, userID, photoPath string) (Record, error) {
	rec := Record{ID: uuid.NewString(), UserID: userID, PhotoPath: photoPath}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO checkins (id, user_id, photo_path)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.PhotoPath)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// CheckinsSince returns the check-in times for one user at or after since,
// for the duplicate guard.
func (r *Repository) CheckinsSince(ctx context.Context, userID string, since time.Time) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT created_at FROM checkins
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// ListJoined returns check-ins joined with their owner, most recent first,
// optionally filtered by a case-insensitive name fragment.
func (r *Repository) ListJoined(ctx context.Context, nameFilter string, limit int) ([]JoinedRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT c.id, c.user_id, COALESCE(u.name, ''), COALESCE(u.role, ''), c.photo_path, c.created_at
		FROM checkins c
		LEFT JOIN users u ON u.id = c.user_id`
	args := []any{}
	if nameFilter != "" {
		query += ` WHERE u.name ILIKE $1`
		args = append(args, "%"+nameFilter+"%")
	}
	query += fmt.Sprintf(` ORDER BY c.created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []JoinedRecord
	for rows.Next() {
		var jr JoinedRecord
		if err := rows.Scan(&jr.CheckinID, &jr.UserID, &jr.UserName, &jr.UserRole, &jr.PhotoPath, &jr.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, jr)
	}
	return res, rows.Err()
}

// DeleteCheckins removes check-in rows by id and reports how many went.
func (r *Repository) DeleteCheckins(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM checkins WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AllCheckins returns every check-in row, for maintenance passes.
func (r *Repository) AllCheckins(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, photo_path, created_at
		FROM checkins
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.PhotoPath, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// PhotoPaths returns every stored photo_path, for the orphan sweep.
func (r *Repository) PhotoPaths(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT photo_path FROM checkins`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

// UpdatePhotoPath repoints one check-in at a migrated object key.
func (r *Repository) UpdatePhotoPath(ctx context.Context, id, newPath string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE checkins SET photo_path = $2 WHERE id = $1`, id, newPath)
	return err
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
