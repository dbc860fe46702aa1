// oauth-bridge keeps provider OAuth tokens fresh for a chat application:
// it resolves valid access tokens on demand, deduplicates concurrent
// refreshes, retries provider calls once after a forced refresh, sweeps
// expiring tokens in the background and auto-logs-out users whose provider
// authentication has irrecoverably lapsed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"oauth-bridge/internal/auth"
	"oauth-bridge/internal/common/logging"
	"oauth-bridge/internal/config"
	"oauth-bridge/internal/crypto"
	"oauth-bridge/internal/handlers"
	"oauth-bridge/internal/middleware"
	"oauth-bridge/internal/server"
	"oauth-bridge/internal/storage"
	_ "oauth-bridge/internal/storage/postgres"
	_ "oauth-bridge/internal/storage/sqlite"
	"oauth-bridge/internal/tokens"
)

func main() {
	// Optional; real deployments use environment variables directly
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(cfg.LogLevel)
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	store, err := storage.NewStorage(cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", err)
		os.Exit(1)
	}
	defer store.Close()

	encryptor, err := crypto.NewTokenEncryptor(cfg.TokenEncryptionKey)
	if err != nil {
		logger.Error("Failed to initialize token encryptor", err)
		os.Exit(1)
	}

	manager, err := tokens.NewManager(store, encryptor, tokens.ProviderConfig{
		ClientID:            cfg.ProviderClientID,
		ClientSecret:        cfg.ProviderClientSecret,
		TokenURL:            cfg.ProviderTokenURL,
		APIBaseURL:          cfg.ProviderAPIBaseURL,
		AccessRefreshWindow: cfg.AccessRefreshWindow,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize token manager", err)
		os.Exit(1)
	}

	sweeper := tokens.NewSweeper(manager, store, tokens.SweeperConfig{
		Interval:            cfg.SweepInterval,
		RefreshWindow:       cfg.SweepRefreshWindow,
		InactivityThreshold: cfg.InactivityThreshold,
	}, logger)

	if cfg.SweeperEnabled {
		if err := sweeper.Start(); err != nil {
			logger.Error("Failed to start sweeper", err)
			os.Exit(1)
		}
	}

	redisDB, _ := strconv.Atoi(cfg.RedisDB)
	sessions, err := auth.NewSessionManager(auth.SessionConfig{
		RedisAddress:  cfg.RedisAddress,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       redisDB,
		Secret:        cfg.SessionSecret,
		TTL:           cfg.SessionTTL,
	})
	if err != nil {
		logger.Error("Failed to initialize session manager", err)
		os.Exit(1)
	}
	defer sessions.Close()

	authLayer := auth.New(sessions, manager, cfg.ProviderConnectURL, logger)

	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	handlers.New(store, manager, sweeper, authLayer, logger).RegisterRoutes(router)

	srv := server.New(cfg.Port, router, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", logging.Field{Key: "signal", Value: sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", err)
		}
	}

	if cfg.SweeperEnabled {
		sweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", err)
	}
}
