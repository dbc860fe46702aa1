package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"oauth-bridge/internal/common/errors"
	"oauth-bridge/internal/common/logging"
	"oauth-bridge/internal/storage"
)

// tokenResponse maps the provider's token endpoint response per RFC 6749
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
}

// Refresh exchanges the user's refresh token for a new access token and
// returns the new plaintext access token.
//
// Concurrent calls for the same user share a single provider call: the first
// caller becomes the leader and executes the refresh, every other caller
// joins the in-flight execution and observes the leader's outcome. The
// registry entry is removed before Refresh returns, success or failure, so
// no caller can ever join an already-resolved refresh.
//
// A failed refresh is terminal by policy: the user's stored tokens are
// revoked and an auth_required error is returned, forcing full
// re-authentication rather than leaving half-valid state.
func (m *Manager) Refresh(ctx context.Context, userID string) (string, error) {
	// The refresh must run to completion even if the triggering request is
	// cancelled: other callers may be waiting on this execution.
	refreshCtx := context.WithoutCancel(ctx)

	token, err, shared := m.group.Do(userID, func() (interface{}, error) {
		return m.executeRefresh(refreshCtx, userID)
	})
	if err != nil {
		return "", err
	}

	if shared {
		m.logger.Debug("Joined in-flight refresh",
			logging.Field{Key: "user_id", Value: userID},
		)
	}

	return token.(string), nil
}

// executeRefresh is the leader path: it holds no locks and performs the
// actual store reads, the provider call, and persistence.
func (m *Manager) executeRefresh(ctx context.Context, userID string) (string, error) {
	record, err := m.store.FindToken(ctx, userID, storage.TokenTypeRefresh, storage.IdentifierProviderRefresh)
	if err != nil {
		return "", errors.InternalError("failed to load refresh token", err).WithContext("user_id", userID)
	}
	if record == nil {
		m.RevokeTokens(ctx, userID)
		return "", errors.AuthRequiredError("no refresh token")
	}

	if record.ExpiresAt != nil && !time.Now().Before(*record.ExpiresAt) {
		m.RevokeTokens(ctx, userID)
		return "", errors.AuthRequiredError("refresh token expired")
	}

	refreshToken, err := m.encryptor.Decrypt(record.Token)
	if err != nil {
		return "", errors.InternalError("failed to decrypt refresh token", err).WithContext("user_id", userID)
	}

	resp, err := m.requestToken(ctx, refreshToken)
	if err != nil {
		m.logger.Warn("Provider refresh failed, revoking tokens",
			logging.Field{Key: "user_id", Value: userID},
			logging.Err(err),
		)
		m.RevokeTokens(ctx, userID)
		authErr := errors.AuthRequiredError("refresh failed")
		authErr.Cause = err
		return "", authErr
	}

	accessToken, err := m.persistTokens(ctx, userID, resp)
	if err != nil {
		return "", err
	}

	m.logger.Info("Refreshed provider tokens",
		logging.Field{Key: "user_id", Value: userID},
		logging.Field{Key: "rotated_refresh", Value: resp.RefreshToken != ""},
	)

	return accessToken, nil
}

// requestToken POSTs the refresh grant to the provider's token endpoint.
// Non-2xx and malformed responses are refresh failures.
func (m *Manager) requestToken(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", m.config.ClientID)
	data.Set("client_secret", m.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.InternalError("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp *http.Response
	err = m.tokenBreaker.Execute(ctx, func() error {
		var httpErr error
		resp, httpErr = m.httpClient.Do(req)
		if httpErr != nil {
			return errors.TransportError("token request failed", httpErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error != "" {
			return nil, errors.ProviderError(
				fmt.Sprintf("token endpoint rejected refresh: %s - %s", errResp.Error, errResp.Description),
				resp.StatusCode, "")
		}
		return nil, errors.ProviderError("token endpoint rejected refresh", resp.StatusCode, "")
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, errors.ProviderError("malformed token response", resp.StatusCode, "")
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.ProviderError("token response missing access_token", resp.StatusCode, "")
	}

	return &tokenResp, nil
}

// persistTokens stores the new access token and, when the provider rotates
// it, the new refresh token. Rotation replaces the previous refresh token
// unconditionally.
func (m *Manager) persistTokens(ctx context.Context, userID string, resp *tokenResponse) (string, error) {
	now := time.Now().UTC()

	expiresAt := now.Add(1 * time.Hour) // provider default when expires_in is absent
	if resp.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	encryptedAccess, err := m.encryptor.Encrypt(resp.AccessToken)
	if err != nil {
		return "", errors.InternalError("failed to encrypt access token", err)
	}

	if err := m.store.UpsertToken(ctx, &storage.TokenRecord{
		UserID:     userID,
		Type:       storage.TokenTypeAccess,
		Identifier: storage.IdentifierProvider,
		Token:      encryptedAccess,
		ExpiresAt:  &expiresAt,
		CreatedAt:  now,
	}); err != nil {
		return "", errors.InternalError("failed to persist access token", err).WithContext("user_id", userID)
	}

	if resp.RefreshToken != "" {
		encryptedRefresh, err := m.encryptor.Encrypt(resp.RefreshToken)
		if err != nil {
			return "", errors.InternalError("failed to encrypt refresh token", err)
		}

		var refreshExpiresAt *time.Time
		if resp.RefreshExpiresIn > 0 {
			t := now.Add(time.Duration(resp.RefreshExpiresIn) * time.Second)
			refreshExpiresAt = &t
		}

		if err := m.store.UpsertToken(ctx, &storage.TokenRecord{
			UserID:     userID,
			Type:       storage.TokenTypeRefresh,
			Identifier: storage.IdentifierProviderRefresh,
			Token:      encryptedRefresh,
			ExpiresAt:  refreshExpiresAt,
			CreatedAt:  now,
		}); err != nil {
			return "", errors.InternalError("failed to persist refresh token", err).WithContext("user_id", userID)
		}
	}

	return resp.AccessToken, nil
}

// RevokeTokens removes all of the user's stored provider tokens. Cleanup is
// best-effort: failures are logged and never block the caller from receiving
// its original error.
//
// Note: the provider is not notified; only local records are removed.
func (m *Manager) RevokeTokens(ctx context.Context, userID string) {
	if err := m.store.DeleteAllTokens(ctx, userID); err != nil {
		m.logger.Warn("Failed to revoke stored tokens",
			logging.Field{Key: "user_id", Value: userID},
			logging.Err(err),
		)
	}
}
