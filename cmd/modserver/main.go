package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/analysis"
	"github.com/whisper/moderation/internal/api"
	"github.com/whisper/moderation/internal/cache"
	"github.com/whisper/moderation/internal/config"
	"github.com/whisper/moderation/internal/logging"
	"github.com/whisper/moderation/internal/ratelimit"
	"github.com/whisper/moderation/internal/report"
	"github.com/whisper/moderation/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "modserver")

	engine, err := analysis.NewEngine(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to load ruleset")
	}

	var svcOpts []analysis.Option
	var limiter api.RateLimiter
	var sessions api.SessionTracker

	// --- Redis (cache, rate limiting, session registry) ---
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		cancel()
		svcOpts = append(svcOpts, analysis.WithCache(cache.NewStore(rdb, engine.Scope(), cfg.CacheTTL)))
		limiter = ratelimit.NewLimiter(rdb, logger)
		sessions = session.NewStore(rdb, cfg.ServerName)
	}

	// --- PostgreSQL (reports) ---
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = report.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("failed to connect to PostgreSQL")
		}
		if err := report.Migrate(db); err != nil {
			log.WithError(err).Fatal("failed to migrate report schema")
		}
		svcOpts = append(svcOpts, analysis.WithReports(report.NewStore(db)))
	}

	svc := analysis.NewService(engine, logger, svcOpts...)

	opts := api.DefaultOptions()
	opts.AnalyzeRule = ratelimit.RuleAnalyze.WithLimit(cfg.RateLimit, cfg.RateWindow)
	opts.WS.MaxConnections = cfg.MaxConnections
	opts.WS.ReadTimeout = cfg.ReadTimeout
	opts.WS.WriteTimeout = cfg.WriteTimeout
	opts.Sessions = sessions

	server := api.NewServer(svc, limiter, opts, logger)
	server.Start()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"listen_addr":     cfg.ListenAddr,
		"server_name":     cfg.ServerName,
		"ruleset_version": engine.Ruleset().Version,
		"max_length":      engine.MaxLength(),
		"max_connections": cfg.MaxConnections,
		"redis":           cfg.RedisAddr != "",
		"persistence":     db != nil,
	}).Info("moderation server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		log.WithError(err).Error("http server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	server.Shutdown()

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}
