// Package postgres implements the storage contract on PostgreSQL using the
// pgx driver through database/sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"oauth-bridge/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_activity TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			user_id VARCHAR(64) NOT NULL,
			type VARCHAR(16) NOT NULL,
			identifier VARCHAR(255) NOT NULL,
			token TEXT NOT NULL,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, type, identifier)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_type_identifier ON tokens (type, identifier)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func (a *Adapter) FindToken(ctx context.Context, userID string, tokenType storage.TokenType, identifier string) (*storage.TokenRecord, error) {
	record := &storage.TokenRecord{}
	var expiresAt sql.NullTime

	err := a.db.QueryRowContext(ctx,
		`SELECT user_id, type, identifier, token, expires_at, created_at
		 FROM tokens WHERE user_id = $1 AND type = $2 AND identifier = $3`,
		userID, string(tokenType), identifier,
	).Scan(&record.UserID, &record.Type, &record.Identifier, &record.Token, &expiresAt, &record.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}

	if expiresAt.Valid {
		record.ExpiresAt = &expiresAt.Time
	}

	return record, nil
}

func (a *Adapter) CreateToken(ctx context.Context, record *storage.TokenRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO tokens (user_id, type, identifier, token, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.UserID, string(record.Type), record.Identifier, record.Token, nullTime(record.ExpiresAt), record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	return nil
}

func (a *Adapter) UpdateToken(ctx context.Context, userID string, tokenType storage.TokenType, identifier string, token string, expiresAt *time.Time) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE tokens SET token = $1, expires_at = $2
		 WHERE user_id = $3 AND type = $4 AND identifier = $5`,
		token, nullTime(expiresAt), userID, string(tokenType), identifier,
	)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("token not found for user %s", userID)
	}

	return nil
}

func (a *Adapter) UpsertToken(ctx context.Context, record *storage.TokenRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO tokens (user_id, type, identifier, token, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, type, identifier)
		 DO UPDATE SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		record.UserID, string(record.Type), record.Identifier, record.Token, nullTime(record.ExpiresAt), record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}

	return nil
}

func (a *Adapter) DeleteToken(ctx context.Context, userID, identifier string) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = $1 AND identifier = $2`,
		userID, identifier,
	)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	return nil
}

func (a *Adapter) DeleteAllTokens(ctx context.Context, userID string) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}

	return nil
}

func (a *Adapter) ListAccessTokenUserIDs(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM tokens WHERE type = $1 AND identifier = $2`,
		string(storage.TokenTypeAccess), storage.IdentifierProvider,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list token holders: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, rows.Err()
}

func (a *Adapter) CreateUser(ctx context.Context, user *storage.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO users (id, username, created_at, last_activity)
		 VALUES ($1, $2, $3, $4)`,
		user.ID, user.Username, user.CreatedAt, nullTime(user.LastActivity),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (a *Adapter) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	return a.scanUser(a.db.QueryRowContext(ctx,
		`SELECT id, username, created_at, last_activity FROM users WHERE id = $1`,
		userID,
	))
}

func (a *Adapter) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return a.scanUser(a.db.QueryRowContext(ctx,
		`SELECT id, username, created_at, last_activity FROM users WHERE username = $1`,
		username,
	))
}

func (a *Adapter) TouchUserActivity(ctx context.Context, userID string, at time.Time) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE users SET last_activity = $1 WHERE id = $2`,
		at, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch user activity: %w", err)
	}

	return nil
}

func (a *Adapter) scanUser(row *sql.Row) (*storage.User, error) {
	user := &storage.User{}
	var lastActivity sql.NullTime

	err := row.Scan(&user.ID, &user.Username, &user.CreatedAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if lastActivity.Valid {
		user.LastActivity = &lastActivity.Time
	}

	return user, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
