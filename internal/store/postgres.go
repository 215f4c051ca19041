package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adlib/coffee-chat/internal/matching"
)

// PostgresMatchStore stores matches in the matches table.
type PostgresMatchStore struct {
	db *sql.DB
}

// NewPostgresMatchStore creates a match store backed by the given database handle.
func NewPostgresMatchStore(db *sql.DB) *PostgresMatchStore {
	return &PostgresMatchStore{db: db}
}

// Create inserts m. The duration is stored in whole minutes.
func (s *PostgresMatchStore) Create(ctx context.Context, m *matching.Match) error {
	const query = `
		INSERT INTO matches (id, first_username, second_username, duration_min, preference, same_fields, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.FirstUsername,
		m.SecondUsername,
		int64(m.Duration/time.Minute),
		string(m.Preference),
		m.SameFields,
		m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: insert match: %w", err)
	}
	return nil
}

// Get loads a match by ID.
func (s *PostgresMatchStore) Get(ctx context.Context, id string) (*matching.Match, error) {
	const query = `
		SELECT id, first_username, second_username, duration_min, preference, same_fields, created_at
		FROM matches
		WHERE id = $1`

	var (
		m      matching.Match
		mins   int64
		pref   string
		create time.Time
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.FirstUsername, &m.SecondUsername, &mins, &pref, &m.SameFields, &create,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get match: %w", err)
	}
	m.Duration = time.Duration(mins) * time.Minute
	m.Preference = matching.Preference(pref)
	m.CreatedAt = create
	return &m, nil
}

// PostgresUserStore stores saved profiles in the users table.
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a user store backed by the given database handle.
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// Save upserts the profile. UpdatedAt is taken from u when set.
func (s *PostgresUserStore) Save(ctx context.Context, u *User) error {
	const query = `
		INSERT INTO users (username, role, product_area, interests, preference, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO UPDATE SET
			role = EXCLUDED.role,
			product_area = EXCLUDED.product_area,
			interests = EXCLUDED.interests,
			preference = EXCLUDED.preference,
			updated_at = EXCLUDED.updated_at`

	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	interests := u.Interests
	if interests == nil {
		interests = []string{}
	}

	_, err := s.db.ExecContext(ctx, query,
		u.Username,
		u.Role,
		u.ProductArea,
		pq.Array(interests),
		string(u.Preference),
		updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: save user: %w", err)
	}
	return nil
}

// Get loads the profile for username.
func (s *PostgresUserStore) Get(ctx context.Context, username string) (*User, error) {
	const query = `
		SELECT username, role, product_area, interests, preference, updated_at
		FROM users
		WHERE username = $1`

	var (
		u    User
		pref string
	)
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&u.Username, &u.Role, &u.ProductArea, pq.Array(&u.Interests), &pref, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	u.Preference = matching.Preference(pref)
	return &u, nil
}
