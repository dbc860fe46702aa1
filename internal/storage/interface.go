// Package storage defines the token store contract and the registry used to
// create concrete database adapters. The store is the source of truth for
// provider tokens; the in-memory refresh coordination in internal/tokens is
// only an aid and never authoritative.
package storage

import (
	"context"
	"time"
)

// TokenType classifies a stored token record
type TokenType string

const (
	// TokenTypeAccess is a short-lived credential for provider resource calls
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is a longer-lived (or non-expiring) credential used
	// solely to mint a new access token
	TokenTypeRefresh TokenType = "refresh"
	// TokenTypeActivity marks ephemeral activity records some providers
	// require. The external login flow writes them; the lifecycle operations
	// here never read them, but DeleteAllTokens must cover them on revocation,
	// so the store schema keeps the type.
	TokenTypeActivity TokenType = "activity"
)

// Provider-scoped identifiers. A token record is always resolved through the
// identifier pair for its logical role.
const (
	// IdentifierProvider keys the access token record
	IdentifierProvider = "provider"
	// IdentifierProviderRefresh keys the refresh token record
	IdentifierProviderRefresh = "provider:refresh"
)

// TokenRecord is one stored token. At most one active record exists per
// (UserID, Type, Identifier). Token holds the encrypted payload, never
// plaintext. ExpiresAt is nil for non-expiring refresh tokens.
type TokenRecord struct {
	UserID     string     `json:"user_id"`
	Type       TokenType  `json:"type"`
	Identifier string     `json:"identifier"`
	Token      string     `json:"token"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// User is an application account. LastActivity is updated on any
// authenticated request that passes through the auto-logout check and is nil
// until the first such request; callers fall back to CreatedAt.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// Storage is the persistence contract for tokens and users.
// Find methods return (nil, nil) when no record exists.
type Storage interface {
	// Connection management
	Close() error
	Health() error

	// Token records
	FindToken(ctx context.Context, userID string, tokenType TokenType, identifier string) (*TokenRecord, error)
	CreateToken(ctx context.Context, record *TokenRecord) error
	UpdateToken(ctx context.Context, userID string, tokenType TokenType, identifier string, token string, expiresAt *time.Time) error
	// UpsertToken replaces the record for (UserID, Type, Identifier),
	// creating it if absent
	UpsertToken(ctx context.Context, record *TokenRecord) error
	DeleteToken(ctx context.Context, userID, identifier string) error
	DeleteAllTokens(ctx context.Context, userID string) error

	// ListAccessTokenUserIDs returns the distinct user ids holding a
	// provider access token record (the sweeper's work list)
	ListAccessTokenUserIDs(ctx context.Context) ([]string, error)

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	TouchUserActivity(ctx context.Context, userID string, at time.Time) error
}

// StorageConfig is implemented by backend-specific configuration types
type StorageConfig interface {
	GetType() string
}

// GenericConfig carries backend configuration as key-value pairs so the
// factory can stay decoupled from concrete adapter packages
type GenericConfig map[string]interface{}

// GetType returns the configured backend type
func (c GenericConfig) GetType() string {
	if t, ok := c["type"].(string); ok {
		return t
	}
	return ""
}

// GetString returns a string value from the config, or empty string
func (c GenericConfig) GetString(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// StorageFactory creates a storage adapter from its configuration
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}
