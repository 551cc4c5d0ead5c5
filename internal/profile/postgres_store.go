package profile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on the profiles table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed profile store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, p Profile) error {
	_, err := s.db.Exec(ctx, `INSERT INTO profiles
        (identity_id, full_name, date_of_birth, gender, emergency_contact)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		p.IdentityID, p.FullName, p.DateOfBirth, p.Gender, p.EmergencyContact)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, identityID string) (Profile, error) {
	var (
		p      Profile
		gender *string
	)
	err := s.db.QueryRow(ctx, `SELECT identity_id::text, full_name, date_of_birth, gender, emergency_contact, created_at
        FROM profiles WHERE identity_id = $1`, identityID).
		Scan(&p.IdentityID, &p.FullName, &p.DateOfBirth, &gender, &p.EmergencyContact, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if gender != nil {
		p.Gender = *gender
	}
	return p, nil
}
