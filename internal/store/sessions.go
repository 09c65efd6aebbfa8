package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RevokeSession blacklists a token id until it would have expired anyway.
func (s *PostgresStore) RevokeSession(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_sessions (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsSessionRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_sessions WHERE jti=$1 AND expires_at > NOW())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) RevokeUserSessions(ctx context.Context, userID string, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_cutoffs (user_id, revoked_before)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET revoked_before = EXCLUDED.revoked_before
	`, userID, before)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// SessionCutoff returns the zero time when no cutoff exists.
func (s *PostgresStore) SessionCutoff(ctx context.Context, userID string) (time.Time, error) {
	var cutoff time.Time
	err := s.db.QueryRowContext(ctx, `SELECT revoked_before FROM session_cutoffs WHERE user_id=$1`, userID).Scan(&cutoff)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get session cutoff: %w", err)
	}
	return cutoff, nil
}

// PurgeRevokedSessions drops blacklist rows whose tokens have expired.
func (s *PostgresStore) PurgeRevokedSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge revoked sessions: %w", err)
	}
	return result.RowsAffected()
}
