package tokens

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"oauth-bridge/internal/crypto"
	"oauth-bridge/internal/storage"
)

const testUserID = "user-1"

func newTestManager(t *testing.T, store storage.Storage, tokenURL, apiBaseURL string) (*Manager, *crypto.TokenEncryptor) {
	t.Helper()

	encryptor, err := crypto.NewTokenEncryptor("test-encryption-key")
	require.NoError(t, err)

	manager, err := NewManager(store, encryptor, ProviderConfig{
		ClientID:            "client-id",
		ClientSecret:        "client-secret",
		TokenURL:            tokenURL,
		APIBaseURL:          apiBaseURL,
		AccessRefreshWindow: 5 * time.Minute,
	}, nil)
	require.NoError(t, err)

	return manager, encryptor
}

// seedAccess stores an encrypted access token expiring at the given offset
// from now
func seedAccess(t *testing.T, store *mockStorage, encryptor *crypto.TokenEncryptor, userID, token string, expiresIn time.Duration) {
	t.Helper()

	encrypted, err := encryptor.Encrypt(token)
	require.NoError(t, err)

	expiresAt := time.Now().Add(expiresIn)
	store.putToken(&storage.TokenRecord{
		UserID:     userID,
		Type:       storage.TokenTypeAccess,
		Identifier: storage.IdentifierProvider,
		Token:      encrypted,
		ExpiresAt:  &expiresAt,
		CreatedAt:  time.Now(),
	})
}

// seedRefresh stores an encrypted refresh token. A zero expiresIn means the
// token never expires.
func seedRefresh(t *testing.T, store *mockStorage, encryptor *crypto.TokenEncryptor, userID, token string, expiresIn time.Duration) {
	t.Helper()

	encrypted, err := encryptor.Encrypt(token)
	require.NoError(t, err)

	var expiresAt *time.Time
	if expiresIn != 0 {
		at := time.Now().Add(expiresIn)
		expiresAt = &at
	}
	store.putToken(&storage.TokenRecord{
		UserID:     userID,
		Type:       storage.TokenTypeRefresh,
		Identifier: storage.IdentifierProviderRefresh,
		Token:      encrypted,
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now(),
	})
}

// newTokenEndpoint serves the refresh grant, counting calls. Each response
// mints access tokens from the given template.
func newTokenEndpoint(t *testing.T, accessToken string, calls *int64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)

		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))
		require.NotEmpty(t, r.FormValue("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
}
