package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// userColumns is the column order scanned by scanOne.
const userColumns = `id, username, email, password_hash, has_local_password, name, role,
	is_verified, verification_code, verification_code_expires,
	reset_password_token, reset_password_expires,
	profile_image, phone, address, google_id, profile_completed,
	created_at, updated_at`

// PostgresStore implements Store against PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) Create(ctx context.Context, u *User) error {
	q := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err := r.db.Exec(ctx, q,
		u.ID, u.Username, u.Email, u.PasswordHash, u.HasLocalPassword, u.Name, string(u.Role),
		u.IsVerified, u.VerificationCode, u.VerificationCodeExpires,
		u.ResetPasswordToken, u.ResetPasswordExpires,
		u.ProfileImage, u.Phone, u.Address, u.GoogleID, u.ProfileCompleted,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, NormalizeEmail(email))
}

func (r *PostgresStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PostgresStore) GetByLogin(ctx context.Context, identifier string) (*User, error) {
	if IsEmailIdentifier(identifier) {
		return r.GetByEmail(ctx, identifier)
	}
	return r.GetByUsername(ctx, identifier)
}

func (r *PostgresStore) FindConflicts(ctx context.Context, email, username string) ([]*User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email = $1 OR username = $2`
	rows, err := r.db.Query(ctx, q, NormalizeEmail(email), username)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *PostgresStore) GetByResetToken(ctx context.Context, token string, now time.Time) (*User, error) {
	q := `SELECT ` + userColumns + ` FROM users
		WHERE reset_password_token = $1 AND reset_password_token <> '' AND reset_password_expires > $2`
	return r.scanOne(ctx, q, token, now)
}

func (r *PostgresStore) Update(ctx context.Context, u *User) error {
	q := `
		UPDATE users SET
			username = $2, email = $3, password_hash = $4, has_local_password = $5,
			name = $6, role = $7, is_verified = $8,
			verification_code = $9, verification_code_expires = $10,
			reset_password_token = $11, reset_password_expires = $12,
			profile_image = $13, phone = $14, address = $15, google_id = $16,
			profile_completed = $17, updated_at = $18
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q,
		u.ID, u.Username, u.Email, u.PasswordHash, u.HasLocalPassword,
		u.Name, string(u.Role), u.IsVerified,
		u.VerificationCode, u.VerificationCodeExpires,
		u.ResetPasswordToken, u.ResetPasswordExpires,
		u.ProfileImage, u.Phone, u.Address, u.GoogleID,
		u.ProfileCompleted, u.UpdatedAt,
	)
	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity for readiness probes.
func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresStore) scanOne(ctx context.Context, q string, args ...any) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.HasLocalPassword, &u.Name, &role,
		&u.IsVerified, &u.VerificationCode, &u.VerificationCodeExpires,
		&u.ResetPasswordToken, &u.ResetPasswordExpires,
		&u.ProfileImage, &u.Phone, &u.Address, &u.GoogleID, &u.ProfileCompleted,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	if !u.Role.Valid() {
		return nil, fmt.Errorf("user %s: unknown role %q", u.ID, role)
	}
	return &u, nil
}

// duplicateError maps a unique_violation onto the matching sentinel.
func duplicateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return ErrDuplicateEmail
	case "users_username_key":
		return ErrDuplicateUsername
	}
	return nil
}
