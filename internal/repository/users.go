package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/CargoDesk/internal/models"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const userColumns = `id, email, username, password_hash, first_name, last_name, phone, user_type,
       company_name, organization_type, activity_type, language, is_email_verified,
       is_active, loyalty_discount, failed_logins, locked_until, created_at`

// PostgresUserRepository stores accounts in the users table.
type PostgresUserRepository struct {
	DB *sql.DB
}

// NewPostgresUserRepository returns a repository over db.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

// Create inserts u. A taken email or username is reported as
// ErrDuplicateEmail or ErrDuplicateUsername.
func (r *PostgresUserRepository) Create(ctx context.Context, u *models.User) error {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO users (id, email, username, password_hash, first_name, last_name, phone,
                           user_type, company_name, organization_type, activity_type, language,
                           is_email_verified, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName, u.Phone,
		string(u.UserType), u.CompanyName, u.OrganizationType, u.ActivityType, u.Language,
		u.IsEmailVerified, u.IsActive, u.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case "users_email_key":
			return ErrDuplicateEmail
		case "users_username_key":
			return ErrDuplicateUsername
		}
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByEmail returns the user with the given (normalized) email.
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByID returns the user with the given id.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresUserRepository) get(ctx context.Context, query string, arg string) (*models.User, error) {
	var (
		u           models.User
		userType    string
		lockedUntil sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone,
		&userType, &u.CompanyName, &u.OrganizationType, &u.ActivityType, &u.Language,
		&u.IsEmailVerified, &u.IsActive, &u.LoyaltyDiscount, &u.FailedLogins, &lockedUntil,
		&u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	u.UserType = models.UserType(userType)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.LockedUntil = &t
	}
	return &u, nil
}

// UpdatePassword replaces the password hash and clears any lockout.
func (r *PostgresUserRepository) UpdatePassword(ctx context.Context, id string, hash []byte) error {
	return r.execOne(ctx, `
        UPDATE users
           SET password_hash = $2, failed_logins = 0, locked_until = NULL
         WHERE id = $1`, id, hash)
}

// MarkEmailVerified flags the user's email as confirmed.
func (r *PostgresUserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return r.execOne(ctx, `UPDATE users SET is_email_verified = TRUE WHERE id = $1`, id)
}

// RecordLoginFailure counts a failed password check. When the count reaches
// maxFailures the account is locked until lockUntil and the counter starts
// over. It returns the lock expiry, or nil when the account is not locked.
func (r *PostgresUserRepository) RecordLoginFailure(ctx context.Context, id string, maxFailures int, lockUntil time.Time) (*time.Time, error) {
	var locked sql.NullTime
	err := r.DB.QueryRowContext(ctx, `
        UPDATE users
           SET locked_until  = CASE WHEN failed_logins + 1 >= $2 THEN $3 ELSE locked_until END,
               failed_logins = CASE WHEN failed_logins + 1 >= $2 THEN 0 ELSE failed_logins + 1 END
         WHERE id = $1
     RETURNING locked_until`, id, maxFailures, lockUntil).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record login failure: %w", err)
	}
	if !locked.Valid {
		return nil, nil
	}
	t := locked.Time
	return &t, nil
}

// ResetLoginFailures clears the failure counter and any expired lock.
func (r *PostgresUserRepository) ResetLoginFailures(ctx context.Context, id string) error {
	return r.execOne(ctx, `UPDATE users SET failed_logins = 0, locked_until = NULL WHERE id = $1`, id)
}

func (r *PostgresUserRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
