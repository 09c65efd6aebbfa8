package session

import (
	"context"
	"time"
)

// SessionRows is the subset of the PostgreSQL store holding blacklist rows.
type SessionRows interface {
	RevokeSession(ctx context.Context, jti string, expiresAt time.Time) error
	IsSessionRevoked(ctx context.Context, jti string) (bool, error)
	RevokeUserSessions(ctx context.Context, userID string, before time.Time) error
	SessionCutoff(ctx context.Context, userID string) (time.Time, error)
}

// PostgresStore is the blacklist used when Redis is not configured.
type PostgresStore struct {
	rows SessionRows
}

func NewPostgresStore(rows SessionRows) *PostgresStore {
	return &PostgresStore{rows: rows}
}

func (s *PostgresStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return nil
	}
	return s.rows.RevokeSession(ctx, jti, expiresAt)
}

func (s *PostgresStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.rows.IsSessionRevoked(ctx, jti)
}

func (s *PostgresStore) RevokeUser(ctx context.Context, userID string, before time.Time) error {
	return s.rows.RevokeUserSessions(ctx, userID, before)
}

func (s *PostgresStore) UserCutoff(ctx context.Context, userID string) (time.Time, error) {
	return s.rows.SessionCutoff(ctx, userID)
}
