// Package auth manages application sessions and enforces the auto-logout
// boundary. Sessions are signed JWT cookies backed by a Redis registry, so
// termination is immediate: deleting the registry entry invalidates the
// cookie no matter how much lifetime the JWT has left.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"oauth-bridge/internal/common/errors"
)

const sessionKeyPrefix = "session:"

// SessionConfig holds session manager configuration
type SessionConfig struct {
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	Secret        string
	TTL           time.Duration
}

// SessionManager issues, validates and terminates application sessions
type SessionManager struct {
	rdb    *redis.Client
	secret []byte
	ttl    time.Duration
}

// NewSessionManager connects to Redis and returns a session manager
func NewSessionManager(config SessionConfig) (*SessionManager, error) {
	if config.Secret == "" {
		return nil, errors.ValidationError("session secret is required")
	}
	if config.RedisAddress == "" {
		config.RedisAddress = "localhost:6379"
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddress,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &SessionManager{
		rdb:    rdb,
		secret: []byte(config.Secret),
		ttl:    config.TTL,
	}, nil
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// CreateSession issues a new session for the user and returns the signed
// cookie value and its expiry
func (s *SessionManager) CreateSession(ctx context.Context, userID string) (string, time.Time, error) {
	sessionID := uuid.NewString()
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	if err := s.rdb.Set(ctx, sessionKeyPrefix+sessionID, userID, s.ttl).Err(); err != nil {
		return "", time.Time{}, errors.InternalError("failed to store session", err)
	}

	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.InternalError("failed to sign session token", err)
	}

	return signed, expiresAt, nil
}

// ValidateSession verifies a session cookie value and returns the user id it
// belongs to. A session that was terminated server-side fails validation
// even if the JWT itself is still valid.
func (s *SessionManager) ValidateSession(ctx context.Context, cookieValue string) (string, error) {
	claims, err := s.parseClaims(cookieValue, false)
	if err != nil {
		return "", err
	}

	storedUserID, err := s.rdb.Get(ctx, sessionKeyPrefix+claims.SessionID).Result()
	if err == redis.Nil {
		return "", errors.AuthRequiredError("session terminated")
	}
	if err != nil {
		return "", errors.InternalError("failed to load session", err)
	}

	if storedUserID != claims.Subject {
		return "", errors.AuthRequiredError("session user mismatch")
	}

	return claims.Subject, nil
}

// EndSession terminates the session identified by the cookie value. The
// signature is still verified, but an expired JWT is accepted: logging out
// of an expired session must succeed.
func (s *SessionManager) EndSession(ctx context.Context, cookieValue string) error {
	claims, err := s.parseClaims(cookieValue, true)
	if err != nil {
		return err
	}

	if err := s.rdb.Del(ctx, sessionKeyPrefix+claims.SessionID).Err(); err != nil {
		return errors.InternalError("failed to delete session", err)
	}

	return nil
}

func (s *SessionManager) parseClaims(cookieValue string, allowExpired bool) (*sessionClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if allowExpired {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(cookieValue, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.AuthRequiredError("invalid session token")
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || claims.SessionID == "" {
		return nil, errors.AuthRequiredError("invalid session claims")
	}

	return claims, nil
}

// Health checks the Redis connection
func (s *SessionManager) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection
func (s *SessionManager) Close() error {
	return s.rdb.Close()
}
