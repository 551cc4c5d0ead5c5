package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visioncare/telehealth/internal/lockout"
)

const uniqueViolation = "23505"

const selectColumns = `SELECT id, email, phone, password_hash, role, failed_login_count, lock_until,
        biometric_template, biometric_digest, biometric_enabled, device_fingerprint,
        is_active, created_at, updated_at FROM identities`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new identity. The partial unique indexes on email and
// phone make the duplicate check and the insert a single atomic step.
func (r *PostgresRepository) Create(ctx context.Context, ident Identity) error {
	id, err := uuid.Parse(ident.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO identities
        (id, email, phone, password_hash, role, is_active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)`,
		id, ident.Email, ident.Phone, ident.PasswordHash, string(ident.Role), ident.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return ErrDuplicateIdentity
	}
	return err
}

// FindByID fetches an active identity by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, ErrNotFound
	}
	return r.findOne(ctx, selectColumns+` WHERE id = $1 AND is_active`, uid)
}

// FindByEmail fetches an active identity by case-insensitive email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Identity, error) {
	return r.findOne(ctx, selectColumns+` WHERE lower(email) = lower($1) AND is_active`, email)
}

// FindByPhone fetches an active identity by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Identity, error) {
	return r.findOne(ctx, selectColumns+` WHERE phone = $1 AND is_active`, phone)
}

// FindByBiometricDigest fetches the active, enrolled identity for a template digest.
func (r *PostgresRepository) FindByBiometricDigest(ctx context.Context, digest string) (Identity, error) {
	return r.findOne(ctx, selectColumns+` WHERE biometric_digest = $1 AND biometric_enabled AND is_active`, digest)
}

// ListByRole returns active identities holding role, oldest first.
func (r *PostgresRepository) ListByRole(ctx context.Context, role Role) ([]Identity, error) {
	rows, err := r.db.Query(ctx, selectColumns+` WHERE role = $1 AND is_active ORDER BY created_at`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// UpdateRole changes the role of an active identity.
func (r *PostgresRepository) UpdateRole(ctx context.Context, id string, role Role) error {
	return r.exec(ctx, `UPDATE identities SET role = $2, updated_at = now() WHERE id = $1 AND is_active`, id, string(role))
}

// UpdateBiometric enrolls a template and optional device fingerprint.
func (r *PostgresRepository) UpdateBiometric(ctx context.Context, id string, bio Biometric) error {
	var device *string
	if bio.DeviceFingerprint != "" {
		device = &bio.DeviceFingerprint
	}
	return r.exec(ctx, `UPDATE identities
        SET biometric_template = $2, biometric_digest = $3, biometric_enabled = TRUE,
            device_fingerprint = $4, updated_at = now()
        WHERE id = $1 AND is_active`, id, bio.Template, bio.Digest, device)
}

// Deactivate soft-deletes an identity, releasing its email and phone.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE identities SET is_active = FALSE, updated_at = now() WHERE id = $1 AND is_active`, id)
}

// LoginState reads the lockout fields of an active identity.
func (r *PostgresRepository) LoginState(ctx context.Context, id string) (lockout.State, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return lockout.State{}, ErrNotFound
	}
	var st lockout.State
	err = r.db.QueryRow(ctx, `SELECT failed_login_count, lock_until FROM identities WHERE id = $1 AND is_active`, uid).
		Scan(&st.FailedCount, &st.LockUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return lockout.State{}, ErrNotFound
	}
	if err != nil {
		return lockout.State{}, err
	}
	if st.LockUntil != nil {
		t := st.LockUntil.UTC()
		st.LockUntil = &t
	}
	return st, nil
}

// SwapLoginState is a compare-and-set on (failed_login_count, lock_until).
func (r *PostgresRepository) SwapLoginState(ctx context.Context, id string, old, next lockout.State) (bool, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return false, ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE identities
        SET failed_login_count = $4, lock_until = $5, updated_at = now()
        WHERE id = $1 AND is_active
          AND failed_login_count = $2
          AND lock_until IS NOT DISTINCT FROM $3`,
		uid, old.FailedCount, utcPtr(old.LockUntil), next.FailedCount, utcPtr(next.LockUntil))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PostgresRepository) exec(ctx context.Context, sql string, id string, args ...any) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, sql, append([]any{uid}, args...)...)
	if isUniqueViolation(err) {
		return ErrDuplicateIdentity
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) findOne(ctx context.Context, sql string, arg any) (Identity, error) {
	ident, err := scanIdentity(r.db.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	return ident, err
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		id        uuid.UUID
		role      string
		digest    *string
		device    *string
		createdAt time.Time
		updatedAt time.Time
		ident     Identity
	)
	if err := row.Scan(&id, &ident.Email, &ident.Phone, &ident.PasswordHash, &role,
		&ident.FailedLoginCount, &ident.LockUntil, &ident.BiometricTemplate, &digest,
		&ident.BiometricEnabled, &device, &ident.IsActive, &createdAt, &updatedAt); err != nil {
		return Identity{}, err
	}
	ident.ID = id.String()
	ident.Role = Role(role)
	if digest != nil {
		ident.BiometricDigest = *digest
	}
	if device != nil {
		ident.DeviceFingerprint = *device
	}
	if ident.LockUntil != nil {
		t := ident.LockUntil.UTC()
		ident.LockUntil = &t
	}
	ident.CreatedAt = createdAt.UTC()
	ident.UpdatedAt = updatedAt.UTC()
	return ident, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
