package tokens

import (
	"context"

	"oauth-bridge/internal/common/errors"
	"oauth-bridge/internal/common/logging"
	"oauth-bridge/internal/storage"
)

// ResolveAccessToken returns a plaintext access token for the user, valid at
// the time of return. A token expiring within the configured refresh window
// (or already expired, or with force set) is refreshed through the
// coordinator before being returned; otherwise the stored token is decrypted
// as-is with no mutation.
//
// Fails with an auth_required error when no usable token exists or the
// refresh is unrecoverable.
func (m *Manager) ResolveAccessToken(ctx context.Context, userID string, force bool) (string, error) {
	record, err := m.store.FindToken(ctx, userID, storage.TokenTypeAccess, storage.IdentifierProvider)
	if err != nil {
		return "", errors.InternalError("failed to load access token", err).WithContext("user_id", userID)
	}
	if record == nil {
		return "", errors.AuthRequiredError("no token")
	}

	// An access token always carries an expiry; a record without one is
	// malformed and treated as expired
	needsRefresh := force || record.ExpiresAt == nil || expiresWithin(record, m.config.AccessRefreshWindow)
	if needsRefresh {
		m.logger.Debug("Access token needs refresh",
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "forced", Value: force},
		)
		return m.Refresh(ctx, userID)
	}

	plaintext, err := m.encryptor.Decrypt(record.Token)
	if err != nil {
		return "", errors.InternalError("failed to decrypt access token", err).WithContext("user_id", userID)
	}

	return plaintext, nil
}
