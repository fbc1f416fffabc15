// Package main is the entry point for the UEBA detection server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/config"
	"sentinel-ueba/internal/ingest"
	"sentinel-ueba/internal/logging"
	"sentinel-ueba/internal/pattern"
	"sentinel-ueba/internal/sink"
	"sentinel-ueba/internal/storage"
	s3store "sentinel-ueba/internal/storage/s3"
	"sentinel-ueba/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging)

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"kafka_enabled", cfg.Kafka.Enabled,
		"redis_enabled", cfg.Redis.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"archive_enabled", cfg.Archive.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detection engines.
	behaviorEngine := behavior.NewEngine(behavior.Config{
		WindowSize:     cfg.Behavior.WindowSize,
		Threshold:      cfg.Behavior.Threshold,
		UpdateInterval: cfg.Behavior.UpdateInterval,
		MinDataPoints:  cfg.Behavior.MinDataPoints,
		MaxAnomalies:   cfg.Behavior.MaxAnomalies,
	})
	patternEngine := pattern.NewEngine(pattern.Config{
		BufferSize:          cfg.Pattern.BufferSize,
		ConfidenceThreshold: cfg.Pattern.ConfidenceThreshold,
		MaxMatches:          cfg.Pattern.MaxMatches,
		MatchRetention:      cfg.Pattern.MatchRetention,
		SweepInterval:       cfg.Pattern.SweepInterval,
	}, logger)

	if cfg.Pattern.CustomDir != "" {
		if _, err := pattern.LoadDir(patternEngine, cfg.Pattern.CustomDir, logger); err != nil {
			slog.Error("failed to load custom patterns", "error", err)
			os.Exit(1)
		}
	}

	// Finding sinks.
	sinks := []sink.Sink{sink.NewLogSink(logger)}

	if cfg.Kafka.Enabled {
		kafkaSink, err := sink.NewKafkaSink(cfg.Kafka.Findings,
			cfg.Kafka.AnomalyTopic, cfg.Kafka.MatchTopic, logger)
		if err != nil {
			slog.Error("failed to create kafka sink", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, kafkaSink)
	}

	fanout := sink.NewFanout(sinks...)
	behaviorEngine.AddHandler(fanout.PublishAnomaly)
	patternEngine.AddHandler(fanout.PublishMatch)

	// ClickHouse persistence.
	var chClient *storage.ClickHouseClient
	var findingWriter *storage.FindingWriter
	if cfg.Storage.Enabled {
		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		if err := storage.NewMigrator(chClient, logger).Migrate(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		findingWriter = storage.NewFindingWriter(chClient, cfg.Storage.Writer, logger)
		behaviorEngine.AddHandler(findingWriter.WriteAnomaly)
		patternEngine.AddHandler(findingWriter.WriteMatch)
	}

	// S3 archival of swept matches.
	if cfg.Archive.Enabled {
		s3Client, err := s3store.NewClient(ctx, &cfg.Archive.S3, logger)
		if err != nil {
			slog.Error("failed to create S3 client", "error", err)
			os.Exit(1)
		}
		patternEngine.SetArchiver(s3store.NewMatchArchiver(s3Client, logger))
	}

	// Redis profile persistence: restore on boot, checkpoint while running.
	var profileStore *store.ProfileStore
	var redisKV *store.RedisKV
	if cfg.Redis.Enabled {
		redisKV, err = store.NewRedisKV(cfg.Redis.Connection)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		profileStore = store.NewProfileStore(redisKV, cfg.Redis.SnapshotTTL, logger)
		if _, err := profileStore.Load(ctx, behaviorEngine); err != nil {
			slog.Error("failed to restore profiles", "error", err)
		}
		profileStore.StartCheckpointing(ctx, behaviorEngine, cfg.Redis.CheckpointInterval)
	}

	behaviorEngine.Start(ctx)
	patternEngine.Start(ctx)

	// Ingestion.
	pipeline := ingest.NewPipeline(behaviorEngine, patternEngine)
	handler := ingest.NewHandler(pipeline).
		WithMaxPayload(cfg.Ingest.MaxPayloadSize).
		WithMaxBatch(cfg.Ingest.MaxBatchSize)

	var eventConsumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		eventConsumer, err = ingest.NewConsumer(cfg.Kafka.Ingest, pipeline, logger)
		if err != nil {
			slog.Error("failed to create event consumer", "error", err)
			os.Exit(1)
		}
		if err := eventConsumer.Start(); err != nil {
			slog.Error("failed to start event consumer", "error", err)
			os.Exit(1)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting UEBA server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if eventConsumer != nil {
		if err := eventConsumer.Stop(); err != nil {
			slog.Error("event consumer stop error", "error", err)
		}
	}

	behaviorEngine.Close()
	patternEngine.Close()

	if profileStore != nil {
		profileStore.Close()
		// Final checkpoint so learned baselines survive the restart.
		if err := profileStore.Save(shutdownCtx, behaviorEngine); err != nil {
			slog.Error("final profile checkpoint failed", "error", err)
		}
		if err := redisKV.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}

	if findingWriter != nil {
		if err := findingWriter.Close(); err != nil {
			slog.Error("finding writer close error", "error", err)
		}
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	if err := fanout.Close(); err != nil {
		slog.Error("sink close error", "error", err)
	}

	cancel()

	stats := behaviorEngine.Stats()
	slog.Info("shutdown complete",
		"profiles", stats["profiles"],
		"anomalies", stats["anomalies"])
}
