// Package session provides the revoked-session blacklist backends.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist records revoked session tokens and per-user revocation
// cutoffs. It is consulted on every session validation.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	RevokeUser(ctx context.Context, userID string, before time.Time) error
	UserCutoff(ctx context.Context, userID string) (time.Time, error)
}

// RedisStore keeps blacklist entries as keys that expire with the token.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	cutoffTTL time.Duration
}

// NewRedisStore creates a new Redis-backed blacklist
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    "menualic:session:",
		cutoffTTL: 30 * 24 * time.Hour,
	}
}

// WithCutoffTTL sets how long a user cutoff is kept. It should be at least
// the session lifetime, after which every older token has expired anyway.
func (s *RedisStore) WithCutoffTTL(ttl time.Duration) *RedisStore {
	if ttl > 0 {
		s.cutoffTTL = ttl
	}
	return s
}

func (s *RedisStore) revokedKey(jti string) string {
	return s.prefix + "revoked:" + jti
}

func (s *RedisStore) cutoffKey(userID string) string {
	return s.prefix + "cutoff:" + userID
}

// Revoke blacklists jti until expiresAt. Already expired tokens are ignored.
func (s *RedisStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return n > 0, nil
}

// RevokeUser invalidates every token of userID issued before the given time.
func (s *RedisStore) RevokeUser(ctx context.Context, userID string, before time.Time) error {
	value := strconv.FormatInt(before.Unix(), 10)
	if err := s.client.Set(ctx, s.cutoffKey(userID), value, s.cutoffTTL).Err(); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// UserCutoff returns the zero time when no cutoff is recorded.
func (s *RedisStore) UserCutoff(ctx context.Context, userID string) (time.Time, error) {
	value, err := s.client.Get(ctx, s.cutoffKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get session cutoff: %w", err)
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse session cutoff: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
