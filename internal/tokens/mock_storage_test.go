package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oauth-bridge/internal/storage"
)

// mockStorage is an in-memory Storage with injectable overrides per method.
// The default behavior is a plain map store; tests set the Fn fields to
// inject failures or observe calls.
type mockStorage struct {
	mu     sync.Mutex
	tokens map[string]*storage.TokenRecord
	users  map[string]*storage.User

	findTokenFn       func(ctx context.Context, userID string, tokenType storage.TokenType, identifier string) (*storage.TokenRecord, error)
	deleteAllTokensFn func(ctx context.Context, userID string) error
	getUserFn         func(ctx context.Context, userID string) (*storage.User, error)
	listUserIDsFn     func(ctx context.Context) ([]string, error)
	touchActivityFn   func(ctx context.Context, userID string, at time.Time) error

	deleteAllCalls int
	touchCalls     int
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		tokens: make(map[string]*storage.TokenRecord),
		users:  make(map[string]*storage.User),
	}
}

func tokenKey(userID string, tokenType storage.TokenType, identifier string) string {
	return fmt.Sprintf("%s|%s|%s", userID, tokenType, identifier)
}

func (m *mockStorage) putToken(record *storage.TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.tokens[tokenKey(record.UserID, record.Type, record.Identifier)] = &copied
}

func (m *mockStorage) putUser(user *storage.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.users[user.ID] = &copied
}

func (m *mockStorage) tokenCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, record := range m.tokens {
		if record.UserID == userID {
			count++
		}
	}
	return count
}

func (m *mockStorage) Close() error  { return nil }
func (m *mockStorage) Health() error { return nil }

func (m *mockStorage) FindToken(ctx context.Context, userID string, tokenType storage.TokenType, identifier string) (*storage.TokenRecord, error) {
	if m.findTokenFn != nil {
		return m.findTokenFn(ctx, userID, tokenType, identifier)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.tokens[tokenKey(userID, tokenType, identifier)]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *mockStorage) CreateToken(ctx context.Context, record *storage.TokenRecord) error {
	m.putToken(record)
	return nil
}

func (m *mockStorage) UpdateToken(ctx context.Context, userID string, tokenType storage.TokenType, identifier string, token string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.tokens[tokenKey(userID, tokenType, identifier)]
	if !ok {
		return fmt.Errorf("token not found")
	}
	record.Token = token
	record.ExpiresAt = expiresAt
	return nil
}

func (m *mockStorage) UpsertToken(ctx context.Context, record *storage.TokenRecord) error {
	m.putToken(record)
	return nil
}

func (m *mockStorage) DeleteToken(ctx context.Context, userID, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, record := range m.tokens {
		if record.UserID == userID && record.Identifier == identifier {
			delete(m.tokens, key)
		}
	}
	return nil
}

func (m *mockStorage) DeleteAllTokens(ctx context.Context, userID string) error {
	m.mu.Lock()
	m.deleteAllCalls++
	m.mu.Unlock()

	if m.deleteAllTokensFn != nil {
		return m.deleteAllTokensFn(ctx, userID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, record := range m.tokens {
		if record.UserID == userID {
			delete(m.tokens, key)
		}
	}
	return nil
}

func (m *mockStorage) ListAccessTokenUserIDs(ctx context.Context) ([]string, error) {
	if m.listUserIDsFn != nil {
		return m.listUserIDsFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, record := range m.tokens {
		if record.Type == storage.TokenTypeAccess && !seen[record.UserID] {
			seen[record.UserID] = true
			ids = append(ids, record.UserID)
		}
	}
	return ids, nil
}

func (m *mockStorage) CreateUser(ctx context.Context, user *storage.User) error {
	m.putUser(user)
	return nil
}

func (m *mockStorage) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (m *mockStorage) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockStorage) TouchUserActivity(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	m.touchCalls++
	m.mu.Unlock()

	if m.touchActivityFn != nil {
		return m.touchActivityFn(ctx, userID, at)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		t := at
		user.LastActivity = &t
	}
	return nil
}
