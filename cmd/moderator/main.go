package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/whisper/moderation/internal/analysis"
	"github.com/whisper/moderation/internal/cache"
	"github.com/whisper/moderation/internal/config"
	"github.com/whisper/moderation/internal/logging"
	"github.com/whisper/moderation/internal/messaging"
	"github.com/whisper/moderation/internal/moderation"
	"github.com/whisper/moderation/internal/report"
)

// requestTimeout bounds cache and database work for one queued request.
const requestTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "moderator")

	if cfg.NATSURL == "" {
		log.Fatal("NATS_URL is required")
	}

	engine, err := analysis.NewEngine(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to load ruleset")
	}

	var svcOpts []analysis.Option

	// Redis setup.
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
	}

	// PostgreSQL setup.
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

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "moderation-worker"

	natsClient, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to NATS")
	}

	err = natsClient.SubscribeAnalyze(func(msg *nats.Msg) {
		var req moderation.AnalyzeRequest
		var resp moderation.AnalyzeResponse
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.WithError(err).Warn("failed to unmarshal request")
			resp = moderation.AnalyzeResponse{Error: "invalid request", ErrorCode: moderation.CodeBadRequest}
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			resp = svc.HandleRequest(ctx, req)
			cancel()
		}

		entry := log.WithField("request_id", resp.RequestID)
		if resp.Result != nil {
			entry.WithFields(logrus.Fields{
				"flags":    len(resp.Result.Flags),
				"toxicity": resp.Result.OverallToxicity,
				"risk":     resp.Result.Risk(),
			}).Debug("analyzed")
		} else {
			entry.WithField("code", resp.ErrorCode).Info("request rejected")
		}

		data, err := json.Marshal(resp)
		if err != nil {
			entry.WithError(err).Error("failed to marshal response")
			return
		}

		// Request/reply callers get a direct answer; fire-and-forget
		// publishers listen on the per-request result subject.
		switch {
		case msg.Reply != "":
			err = msg.Respond(data)
		case resp.RequestID != "":
			err = natsClient.PublishResult(resp.RequestID, data)
		default:
			return
		}
		if err != nil {
			entry.WithError(err).Warn("failed to publish response")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("failed to subscribe to analyze requests")
	}

	log.WithFields(logrus.Fields{
		"nats_url":        natsConfig.URL,
		"subject":         messaging.SubjectAnalyze,
		"queue":           messaging.QueueModerators,
		"ruleset_version": engine.Ruleset().Version,
		"redis":           rdb != nil,
		"persistence":     db != nil,
	}).Info("moderation worker running")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	natsClient.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
