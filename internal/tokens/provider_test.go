package tokens

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oauth-bridge/internal/common/errors"
)

// testProvider bundles a token endpoint and a resource endpoint behind one
// server, with scripted resource responses.
type testProvider struct {
	server        *httptest.Server
	tokenCalls    int64
	resourceCalls int64

	// resourceStatuses is consumed one per call; after exhaustion the
	// resource endpoint returns 200
	resourceStatuses []int
}

func newTestProvider(t *testing.T, resourceStatuses ...int) *testProvider {
	t.Helper()

	p := &testProvider{resourceStatuses: resourceStatuses}
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"refreshed-access","token_type":"Bearer","expires_in":3600}`))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt64(&p.resourceCalls, 1)
		if int(call) <= len(p.resourceStatuses) {
			status := p.resourceStatuses[call-1]
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"scripted"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	})

	p.server = httptest.NewServer(mux)
	return p
}

func (p *testProvider) close() { p.server.Close() }

func newProviderTestManager(t *testing.T, p *testProvider, store *mockStorage) *Manager {
	t.Helper()
	manager, encryptor := newTestManager(t, store, p.server.URL+"/token", p.server.URL)
	seedAccess(t, store, encryptor, testUserID, "valid-access", time.Hour)
	seedRefresh(t, store, encryptor, testUserID, "refresh-token", 0)
	return manager
}

func TestCallProvider_Success(t *testing.T) {
	p := newTestProvider(t)
	defer p.close()

	store := newMockStorage()
	manager := newProviderTestManager(t, p, store)

	body, err := manager.CallProvider(context.Background(), testUserID, "/messages", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"ok"}`, string(body))
	assert.Equal(t, int64(1), atomic.LoadInt64(&p.resourceCalls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&p.tokenCalls))
}

func TestCallProvider_401ForcesRefreshAndRetriesOnce(t *testing.T) {
	p := newTestProvider(t, http.StatusUnauthorized)
	defer p.close()

	store := newMockStorage()
	manager := newProviderTestManager(t, p, store)

	body, err := manager.CallProvider(context.Background(), testUserID, "/messages", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"ok"}`, string(body))

	assert.Equal(t, int64(2), atomic.LoadInt64(&p.resourceCalls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&p.tokenCalls))
}

func TestCallProvider_SecondConsecutive401IsTerminal(t *testing.T) {
	p := newTestProvider(t, http.StatusUnauthorized, http.StatusUnauthorized)
	defer p.close()

	store := newMockStorage()
	manager := newProviderTestManager(t, p, store)

	_, err := manager.CallProvider(context.Background(), testUserID, "/messages", nil)
	require.Error(t, err)
	assert.True(t, errors.IsAuthRequired(err))

	// Exactly two resource attempts and one forced refresh, never more
	assert.Equal(t, int64(2), atomic.LoadInt64(&p.resourceCalls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&p.tokenCalls))
}

func TestCallProvider_Non401ErrorIsNotRetried(t *testing.T) {
	p := newTestProvider(t, http.StatusInternalServerError)
	defer p.close()

	store := newMockStorage()
	manager := newProviderTestManager(t, p, store)

	_, err := manager.CallProvider(context.Background(), testUserID, "/messages", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeProvider))

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusInternalServerError, appErr.StatusCode)

	assert.Equal(t, int64(1), atomic.LoadInt64(&p.resourceCalls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&p.tokenCalls))
}

func TestCallProvider_AuthRequiredFromForcedRefreshPropagates(t *testing.T) {
	mux := http.NewServeMux()
	var resourceCalls, tokenCalls int64
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&tokenCalls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&resourceCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newMockStorage()
	manager, encryptor := newTestManager(t, store, server.URL+"/token", server.URL)
	seedAccess(t, store, encryptor, testUserID, "valid-access", time.Hour)
	seedRefresh(t, store, encryptor, testUserID, "refresh-token", 0)

	_, err := manager.CallProvider(context.Background(), testUserID, "/messages", nil)
	require.Error(t, err)
	assert.True(t, errors.IsAuthRequired(err))

	// The failed forced refresh ends the cycle: no second resource attempt
	assert.Equal(t, int64(1), atomic.LoadInt64(&resourceCalls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&tokenCalls))
	assert.Equal(t, 0, store.tokenCount(testUserID))
}

// flakyTransport fails the first N round trips at the network level, then
// delegates to the default transport
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.attempts++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("connection reset by peer")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestCallProvider_TransportErrorRetriedOnceThenSucceeds(t *testing.T) {
	p := newTestProvider(t)
	defer p.close()

	store := newMockStorage()
	manager := newProviderTestManager(t, p, store)

	transport := &flakyTransport{failures: 1}
	manager.SetHTTPClient(&http.Client{Transport: transport, Timeout: 5 * time.Second})

	body, err := manager.CallProvider(context.Background(), testUserID, "/messages", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"ok"}`, string(body))

	// One failed attempt plus the retry; no forced refresh
	assert.Equal(t, 2, transport.attempts)
	assert.Equal(t, int64(1), atomic.LoadInt64(&p.resourceCalls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&p.tokenCalls))
}

func TestCallProvider_TransportErrorBudgetExhausted(t *testing.T) {
	p := newTestProvider(t)
	defer p.close()

	store := newMockStorage()
	manager := newProviderTestManager(t, p, store)

	transport := &flakyTransport{failures: 2}
	manager.SetHTTPClient(&http.Client{Transport: transport, Timeout: 5 * time.Second})

	_, err := manager.CallProvider(context.Background(), testUserID, "/messages", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeProvider))

	// Transport failures consume the same single-retry budget as a 401
	assert.Equal(t, 2, transport.attempts)
	assert.Equal(t, int64(0), atomic.LoadInt64(&p.resourceCalls))
}

func TestCallProvider_BearerHeaderCannotBeOverridden(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := newMockStorage()
	manager, encryptor := newTestManager(t, store, server.URL+"/token", server.URL)
	seedAccess(t, store, encryptor, testUserID, "valid-access", time.Hour)

	_, err := manager.CallProvider(context.Background(), testUserID, "/messages", &CallOptions{
		Headers: map[string]string{"Authorization": "Bearer forged"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer valid-access", gotAuth)
}
