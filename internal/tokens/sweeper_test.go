package tokens

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oauth-bridge/internal/storage"
)

func newTestSweeper(manager *Manager, store *mockStorage) *Sweeper {
	return NewSweeper(manager, store, SweeperConfig{
		BatchSize:     10,
		BatchPause:    time.Millisecond,
		RefreshWindow: 15 * time.Minute,
	}, nil)
}

func seedActiveUser(t *testing.T, store *mockStorage, userID string) {
	t.Helper()
	now := time.Now()
	store.putUser(&storage.User{ID: userID, Username: userID, CreatedAt: now.Add(-time.Hour), LastActivity: &now})
}

func TestSweep_RefreshesExpiringTokensInBatches(t *testing.T) {
	var calls int64
	provider := newTokenEndpoint(t, "new-access", &calls)
	defer provider.Close()

	store := newMockStorage()
	manager, encryptor := newTestManager(t, store, provider.URL, provider.URL)
	sweeper := newTestSweeper(manager, store)

	// 23 users: 3 batches at batch size 10
	const users = 23
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%d", i)
		seedActiveUser(t, store, userID)
		seedAccess(t, store, encryptor, userID, "stale-access", 4*time.Minute)
		seedRefresh(t, store, encryptor, userID, "refresh-token", 0)
	}

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, users, summary.Processed)
	assert.Equal(t, users, summary.Refreshed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(users), atomic.LoadInt64(&calls))
}

func TestSweep_SkipsTokensOutsideWindow(t *testing.T) {
	var calls int64
	provider := newTokenEndpoint(t, "new-access", &calls)
	defer provider.Close()

	store := newMockStorage()
	manager, encryptor := newTestManager(t, store, provider.URL, provider.URL)
	sweeper := newTestSweeper(manager, store)

	seedActiveUser(t, store, testUserID)
	// 20 minutes out: beyond the 15 minute lookahead
	seedAccess(t, store, encryptor, testUserID, "fresh-access", 20*time.Minute)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Refreshed)
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestSweep_OneUserFailureDoesNotAbortOthers(t *testing.T) {
	var calls int64
	provider := newTokenEndpoint(t, "new-access", &calls)
	defer provider.Close()

	store := newMockStorage()
	manager, encryptor := newTestManager(t, store, provider.URL, provider.URL)
	sweeper := newTestSweeper(manager, store)

	// user-ok refreshes; user-broken has no refresh token and fails terminally
	seedActiveUser(t, store, "user-ok")
	seedAccess(t, store, encryptor, "user-ok", "stale", 4*time.Minute)
	seedRefresh(t, store, encryptor, "user-ok", "refresh-token", 0)

	seedActiveUser(t, store, "user-broken")
	seedAccess(t, store, encryptor, "user-broken", "stale", 4*time.Minute)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Refreshed)
	assert.Equal(t, 1, summary.AuthRequired)
}

func TestSweep_CleansUpInactiveUsers(t *testing.T) {
	var calls int64
	provider := newTokenEndpoint(t, "new-access", &calls)
	defer provider.Close()

	store := newMockStorage()
	manager, encryptor := newTestManager(t, store, provider.URL, provider.URL)
	sweeper := newTestSweeper(manager, store)

	lastActivity := time.Now().Add(-31 * 24 * time.Hour)
	store.putUser(&storage.User{ID: "dormant", Username: "dormant", CreatedAt: lastActivity, LastActivity: &lastActivity})
	seedAccess(t, store, encryptor, "dormant", "stale", 4*time.Minute)
	seedRefresh(t, store, encryptor, "dormant", "refresh-token", 0)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.InactiveCleanup)
	assert.Equal(t, 0, summary.Refreshed)
	// Tokens are revoked, not refreshed
	assert.Equal(t, 0, store.tokenCount("dormant"))
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestSweep_OrphanedTokensAreCleanedUp(t *testing.T) {
	store := newMockStorage()
	manager, encryptor := newTestManager(t, store, "http://unused", "http://unused")
	sweeper := newTestSweeper(manager, store)

	// Token records without a user row
	seedAccess(t, store, encryptor, "ghost", "stale", 4*time.Minute)

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.InactiveCleanup)
	assert.Equal(t, 0, store.tokenCount("ghost"))
}

func TestSweep_StorageFailureIsCountedNotFatal(t *testing.T) {
	store := newMockStorage()
	manager, encryptor := newTestManager(t, store, "http://unused", "http://unused")
	sweeper := newTestSweeper(manager, store)

	seedActiveUser(t, store, testUserID)
	seedAccess(t, store, encryptor, testUserID, "stale", 4*time.Minute)

	store.getUserFn = func(ctx context.Context, userID string) (*storage.User, error) {
		return nil, fmt.Errorf("database down")
	}

	summary, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
}

func TestSweeper_StartStop(t *testing.T) {
	store := newMockStorage()
	manager, _ := newTestManager(t, store, "http://unused", "http://unused")
	sweeper := NewSweeper(manager, store, SweeperConfig{Interval: time.Hour}, nil)

	require.NoError(t, sweeper.Start())
	// Idempotent
	require.NoError(t, sweeper.Start())
	sweeper.Stop()
	sweeper.Stop()
}
