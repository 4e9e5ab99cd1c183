package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quorum/api/internal/app"
	"quorum/api/internal/config"
	"quorum/api/internal/logging"
	"quorum/api/internal/revision"
	"quorum/api/internal/session"
	"quorum/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	ctx := context.Background()

	var dataStore app.DataStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		dataStore = store.NewPostgresStore(db)
		log.Info().Msg("using PostgreSQL store")
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("using in-memory store")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create repos dir")
	}
	gitService := revision.New(cfg.ReposDir)

	var seenSet session.SeenSet
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisSeen, err := session.NewRedisSeenSet(cfg.RedisURL, cfg.SyncSeenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisSeen.Close()
		seenSet = redisSeen
		log.Info().Msg("using Redis sync session dedupe")
	} else {
		seenSet = session.NewMemorySeenSet(cfg.SyncSeenTTL)
		log.Info().Msg("using in-memory sync session dedupe")
	}

	service := app.New(cfg, log, dataStore, gitService, seenSet)
	if err := service.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("bootstrap error (will retry on next restart)")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.SyncToken, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Quorum API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
