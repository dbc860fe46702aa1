package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"oauth-bridge/internal/common/errors"
	"oauth-bridge/internal/common/logging"
	"oauth-bridge/internal/storage"
)

// SweeperConfig holds the maintenance sweep policy
type SweeperConfig struct {
	// Interval is the sweep cadence
	Interval time.Duration
	// BatchSize is how many users are processed concurrently per batch
	BatchSize int
	// BatchPause bounds load on the provider and the database between batches
	BatchPause time.Duration
	// RefreshWindow is the proactive-refresh lookahead. It is intentionally
	// wider than the on-demand window: background hygiene refreshes earlier
	// than just-in-time resolution.
	RefreshWindow time.Duration
	// InactivityThreshold is how long a user may be inactive before their
	// provider tokens are cleaned up instead of refreshed
	InactivityThreshold time.Duration
}

// defaults applied when fields are unset
func (c *SweeperConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	} else if c.BatchPause == 0 {
		c.BatchPause = 100 * time.Millisecond
	}
	if c.RefreshWindow <= 0 {
		c.RefreshWindow = 15 * time.Minute
	}
	if c.InactivityThreshold <= 0 {
		c.InactivityThreshold = 30 * 24 * time.Hour
	}
}

// SweepSummary reports the outcome of one maintenance pass
type SweepSummary struct {
	Processed       int `json:"processed"`
	Refreshed       int `json:"refreshed"`
	Failed          int `json:"failed"`
	AuthRequired    int `json:"auth_required"`
	InactiveCleanup int `json:"inactive_cleanup"`
}

// Sweeper runs the scheduled batch pass over all provider token holders,
// proactively refreshing tokens nearing expiry and cleaning up inactive
// accounts.
//
// The sweeper holds no refresh state of its own: it is a client of the same
// Manager used by request-time callers, so a sweep racing an on-demand
// caller on the same user joins the same in-flight refresh.
type Sweeper struct {
	manager *Manager
	store   storage.Storage
	config  SweeperConfig
	logger  logging.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a maintenance sweeper backed by the given manager
func NewSweeper(manager *Manager, store storage.Storage, config SweeperConfig, logger logging.Logger) *Sweeper {
	config.applyDefaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Sweeper{
		manager: manager,
		store:   store,
		config:  config,
		logger:  logger,
	}
}

// Start schedules the sweep on its fixed cadence
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron = cron.New()
	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.config.Interval), s.run)
	if err != nil {
		return errors.InternalError("failed to schedule sweeper", err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.running = true

	s.logger.Info("Maintenance sweeper started",
		logging.Field{Key: "interval", Value: s.config.Interval.String()},
		logging.Field{Key: "batch_size", Value: s.config.BatchSize},
	)

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false

	s.logger.Info("Maintenance sweeper stopped")
}

func (s *Sweeper) run() {
	summary, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.Error("Maintenance sweep failed", err)
		return
	}

	s.logger.Info("Maintenance sweep completed",
		logging.Field{Key: "processed", Value: summary.Processed},
		logging.Field{Key: "refreshed", Value: summary.Refreshed},
		logging.Field{Key: "failed", Value: summary.Failed},
		logging.Field{Key: "auth_required", Value: summary.AuthRequired},
		logging.Field{Key: "inactive_cleanup", Value: summary.InactiveCleanup},
	)
}

// Sweep performs one maintenance pass over every user holding a provider
// access token. Users are processed in fixed-size batches, concurrently
// within a batch, with a short pause between batches. Individual failures
// are isolated: one user's error never aborts the batch.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepSummary, error) {
	userIDs, err := s.store.ListAccessTokenUserIDs(ctx)
	if err != nil {
		return nil, errors.InternalError("failed to list token holders", err)
	}

	summary := &SweepSummary{Processed: len(userIDs)}
	var mu sync.Mutex

	for start := 0; start < len(userIDs); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}

		var wg sync.WaitGroup
		for _, userID := range userIDs[start:end] {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()

				switch s.sweepUser(ctx, userID) {
				case sweepRefreshed:
					mu.Lock()
					summary.Refreshed++
					mu.Unlock()
				case sweepAuthRequired:
					mu.Lock()
					summary.AuthRequired++
					mu.Unlock()
				case sweepFailed:
					mu.Lock()
					summary.Failed++
					mu.Unlock()
				case sweepInactive:
					mu.Lock()
					summary.InactiveCleanup++
					mu.Unlock()
				}
			}(userID)
		}
		wg.Wait()

		if end < len(userIDs) {
			time.Sleep(s.config.BatchPause)
		}
	}

	return summary, nil
}

type sweepOutcome int

const (
	sweepSkipped sweepOutcome = iota
	sweepRefreshed
	sweepAuthRequired
	sweepFailed
	sweepInactive
)

// sweepUser evaluates one user: inactive accounts have their provider tokens
// revoked; active accounts with an access token nearing expiry are refreshed
// through the shared coordinator path.
func (s *Sweeper) sweepUser(ctx context.Context, userID string) sweepOutcome {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("Sweep failed to load user",
			logging.Field{Key: "user_id", Value: userID},
			logging.Err(err),
		)
		return sweepFailed
	}

	// A token holder with no user row is an orphan; clean it up
	if user == nil {
		s.manager.RevokeTokens(ctx, userID)
		return sweepInactive
	}

	lastActivity := user.CreatedAt
	if user.LastActivity != nil {
		lastActivity = *user.LastActivity
	}

	if time.Since(lastActivity) > s.config.InactivityThreshold {
		s.logger.Info("Cleaning up inactive user's provider tokens",
			logging.Field{Key: "user_id", Value: userID},
			logging.Field{Key: "last_activity", Value: lastActivity},
		)
		s.manager.RevokeTokens(ctx, userID)
		return sweepInactive
	}

	access, err := s.store.FindToken(ctx, userID, storage.TokenTypeAccess, storage.IdentifierProvider)
	if err != nil {
		s.logger.Warn("Sweep failed to load access token",
			logging.Field{Key: "user_id", Value: userID},
			logging.Err(err),
		)
		return sweepFailed
	}
	if access == nil {
		// Revoked between the listing and now
		return sweepSkipped
	}

	if !expiresWithin(access, s.config.RefreshWindow) {
		return sweepSkipped
	}

	if _, err := s.manager.Refresh(ctx, userID); err != nil {
		if errors.IsAuthRequired(err) {
			return sweepAuthRequired
		}
		s.logger.Warn("Sweep refresh failed",
			logging.Field{Key: "user_id", Value: userID},
			logging.Err(err),
		)
		return sweepFailed
	}

	return sweepRefreshed
}
