package tokens

import (
	"context"
	"time"

	"oauth-bridge/internal/common/logging"
	"oauth-bridge/internal/storage"
)

// ShouldAutoLogout decides whether the user's provider authentication has
// irrecoverably lapsed and the application session must be terminated.
//
// The check itself is an activity signal: lastActivity is touched before
// evaluation. Returns true when the user holds no provider token records at
// all (breaking an otherwise infinite re-auth redirect loop), or when the
// access token is expired with no refresh token, or when both access and
// refresh tokens are expired. On internal errors the decision fails open
// (false) so transient faults never log users out.
func (m *Manager) ShouldAutoLogout(ctx context.Context, userID string) bool {
	now := time.Now().UTC()

	if err := m.store.TouchUserActivity(ctx, userID, now); err != nil {
		m.logger.Warn("Failed to touch user activity",
			logging.Field{Key: "user_id", Value: userID},
			logging.Err(err),
		)
	}

	access, err := m.store.FindToken(ctx, userID, storage.TokenTypeAccess, storage.IdentifierProvider)
	if err != nil {
		m.logger.Warn("Auto-logout check failed to load access token",
			logging.Field{Key: "user_id", Value: userID},
			logging.Err(err),
		)
		return false
	}

	refresh, err := m.store.FindToken(ctx, userID, storage.TokenTypeRefresh, storage.IdentifierProviderRefresh)
	if err != nil {
		m.logger.Warn("Auto-logout check failed to load refresh token",
			logging.Field{Key: "user_id", Value: userID},
			logging.Err(err),
		)
		return false
	}

	if access == nil && refresh == nil {
		return true
	}

	accessExpired := access != nil && access.ExpiresAt != nil && !now.Before(*access.ExpiresAt)
	if accessExpired {
		if refresh == nil {
			return true
		}
		if refresh.ExpiresAt != nil && !now.Before(*refresh.ExpiresAt) {
			return true
		}
	}

	return false
}
