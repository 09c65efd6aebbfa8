package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, email, name, image, password_hash, COALESCE(reset_token_hash, ''), reset_token_expiry, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var expiry sql.NullTime
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Image, &user.PasswordHash, &user.ResetTokenHash, &expiry, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	if expiry.Valid {
		t := expiry.Time
		user.ResetTokenExpiry = &t
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, image, password_hash)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, strings.ToLower(user.Email), user.Name, user.Image, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *PostgresStore) GetUserByResetToken(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token_hash=$1`, tokenHash))
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, name, image string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET name=$2, image=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+userColumns, userID, name, image))
}

// UpdateUserPassword also clears any outstanding reset token.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash=$2, reset_token_hash=NULL, reset_token_expiry=NULL, updated_at=NOW()
		WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return affectedOne(result)
}

func (s *PostgresStore) SetPasswordResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET reset_token_hash=$2, reset_token_expiry=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return affectedOne(result)
}
