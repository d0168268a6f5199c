package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dsproxy/dsproxy/internal/activity"
	"github.com/dsproxy/dsproxy/internal/auth"
	"github.com/dsproxy/dsproxy/internal/bruteforce"
	"github.com/dsproxy/dsproxy/internal/config"
	"github.com/dsproxy/dsproxy/internal/httpapi"
	"github.com/dsproxy/dsproxy/internal/metrics"
	"github.com/dsproxy/dsproxy/internal/quota"
	"github.com/dsproxy/dsproxy/internal/ratelimit"
	"github.com/dsproxy/dsproxy/internal/token"
	"github.com/dsproxy/dsproxy/internal/upstream"
	"github.com/dsproxy/dsproxy/internal/userstore"
	"github.com/dsproxy/dsproxy/internal/webhook"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "dsproxy").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	cfg, err := config.Load(env("CONFIG_PATH", "config.toml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration is invalid")
	}

	dataDir := env("DATA_DIR", "data")
	logsDir := env("LOGS_DIR", "logs")

	bootstrap := make([]userstore.Bootstrap, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		active := true
		if u.IsActive != nil {
			active = *u.IsActive
		}
		bootstrap = append(bootstrap, userstore.Bootstrap{
			Username:  u.Username,
			Password:  u.Password,
			QuotaTier: u.QuotaTier,
			IsActive:  active,
		})
	}

	users, err := userstore.Open(filepath.Join(dataDir, "users"), bootstrap)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open user store")
	}

	quotaEngine, err := quota.NewEngine(filepath.Join(dataDir, "quotas"), cfg.Quota, users)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize quota engine")
	}

	mets := metrics.New()
	metricsDir := filepath.Join(dataDir, "metrics")
	if err := mets.RestoreDaily(metricsDir); err != nil {
		log.Warn().Err(err).Msg("could not restore daily metrics snapshot")
	}

	ttl := cfg.EffectiveTokenTTL()
	global := ratelimit.NewBucket(cfg.RateLimit.RequestsPerSecond)
	upstreamClient := upstream.New(cfg.DeepSeek)

	srv := httpapi.NewServer(httpapi.Deps{
		Users:    users,
		Guard:    bruteforce.New(time.Duration(cfg.Security.LoginFailWindowSeconds)*time.Second, cfg.Security.LoginFailThreshold),
		Tokens:   auth.NewService(cfg.Auth.JWTSecret, ttl),
		Permits:  token.NewManager(ttl),
		Quota:    quotaEngine,
		Global:   global,
		Upstream: upstreamClient,
		Metrics:  mets,
		Notifier: webhook.New(cfg.Security.WebhookURL),
		Activity: activity.New(logsDir),
	})

	addr := cfg.Server.Addr()
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero: SSE streams outlive any sane value.
		IdleTimeout: 120 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("upstream", upstreamClient.BaseURL()).
		Int("rps", cfg.RateLimit.RequestsPerSecond).
		Int("burst", global.Capacity()).
		Dur("tokenTTL", ttl).
		Msg("starting dsproxy")

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Periodic snapshot so a crash loses at most a few minutes of counters.
	snapshotDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := mets.SaveDaily(metricsDir); err != nil {
					log.Warn().Err(err).Msg("periodic metrics snapshot failed")
				}
			case <-snapshotDone:
				return
			}
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	close(snapshotDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Flush coalesced quota deltas and the daily metrics snapshot before exit.
	if err := quotaEngine.SaveAll(); err != nil {
		log.Error().Err(err).Msg("quota flush failed during shutdown")
	}
	if err := mets.SaveDaily(metricsDir); err != nil {
		log.Error().Err(err).Msg("metrics snapshot failed during shutdown")
	}

	log.Info().Msg("server stopped")
}
