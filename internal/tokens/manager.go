// Package tokens implements the provider OAuth token lifecycle: on-demand
// resolution of a valid access token, deduplicated refresh, the
// authenticated call wrapper with its bounded retry, the maintenance
// sweeper, and the auto-logout decision.
//
// The persistent token store is the source of truth. The only shared mutable
// state here is the in-flight refresh registry, which is process-local: this
// design assumes a single authoritative process for token refresh.
// Horizontal scaling would require promoting the registry to a distributed
// lease, which is out of scope.
package tokens

import (
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"oauth-bridge/internal/circuitbreaker"
	"oauth-bridge/internal/common/errors"
	"oauth-bridge/internal/common/logging"
	"oauth-bridge/internal/crypto"
	"oauth-bridge/internal/storage"
)

// ProviderConfig holds the provider endpoints and client credentials the
// manager uses for refresh and resource calls.
type ProviderConfig struct {
	// ClientID is the OAuth client identifier registered with the provider
	ClientID string
	// ClientSecret is the OAuth client secret
	ClientSecret string
	// TokenURL is the provider's token endpoint
	TokenURL string
	// APIBaseURL is the base URL for the provider's resource endpoints
	APIBaseURL string
	// AccessRefreshWindow is how far before expiry an on-demand resolution
	// already triggers a refresh
	AccessRefreshWindow time.Duration
}

// Validate checks that the provider configuration is complete
func (c *ProviderConfig) Validate() error {
	if c.ClientID == "" {
		return errors.ValidationError("provider client id is required")
	}
	if c.ClientSecret == "" {
		return errors.ValidationError("provider client secret is required")
	}
	if c.TokenURL == "" {
		return errors.ValidationError("provider token url is required")
	}
	if c.APIBaseURL == "" {
		return errors.ValidationError("provider api base url is required")
	}
	if c.AccessRefreshWindow <= 0 {
		c.AccessRefreshWindow = 5 * time.Minute
	}
	return nil
}

// Manager coordinates the token lifecycle for all users of this process
type Manager struct {
	store     storage.Storage
	encryptor *crypto.TokenEncryptor
	config    ProviderConfig

	// group deduplicates concurrent refreshes per user id. Entries are
	// created when a refresh starts and removed before Do returns, success
	// or failure, so a completed call can never be joined late.
	group singleflight.Group

	httpClient      *http.Client
	tokenBreaker    *circuitbreaker.GoBreakerAdapter
	resourceBreaker *circuitbreaker.GoBreakerAdapter
	logger          logging.Logger
}

// NewManager creates a token lifecycle manager. The encryptor is mandatory:
// tokens are never persisted in plaintext.
func NewManager(store storage.Storage, encryptor *crypto.TokenEncryptor, config ProviderConfig, logger logging.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.ValidationError("token store is required")
	}
	if encryptor == nil {
		return nil, errors.ValidationError("token encryptor is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Manager{
		store:           store,
		encryptor:       encryptor,
		config:          config,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		tokenBreaker:    circuitbreaker.NewGoBreaker("provider-token", circuitbreaker.TokenEndpointConfig, logger),
		resourceBreaker: circuitbreaker.NewGoBreaker("provider-resource", circuitbreaker.ResourceEndpointConfig, logger),
		logger:          logger,
	}, nil
}

// SetHTTPClient replaces the HTTP client used for provider calls
func (m *Manager) SetHTTPClient(client *http.Client) {
	if client != nil {
		m.httpClient = client
	}
}

// expiresWithin reports whether the record expires inside the given window
// from now. Records without an expiry never expire.
func expiresWithin(record *storage.TokenRecord, window time.Duration) bool {
	if record.ExpiresAt == nil {
		return false
	}
	return !time.Now().Add(window).Before(*record.ExpiresAt)
}
