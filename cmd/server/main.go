// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// JobTrail ingestion service
//
// Entry point for the job-application tracking ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Wires the Gmail fetcher, classification pipeline, and two-tier cache
//  4. Serves the sync, progress, and OAuth endpoints
//  5. Handles graceful shutdown on SIGTERM/SIGINT
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jobtrail/ingestion/internal/cache"
	"github.com/jobtrail/ingestion/internal/classify"
	"github.com/jobtrail/ingestion/internal/config"
	"github.com/jobtrail/ingestion/internal/coordinator"
	"github.com/jobtrail/ingestion/internal/ingest"
	"github.com/jobtrail/ingestion/internal/mailbox"
	"github.com/jobtrail/ingestion/internal/oauthflow"
	"github.com/jobtrail/ingestion/internal/store"
	"github.com/jobtrail/ingestion/internal/tokenvault"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting jobtrail ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"model", cfg.LLMModel,
		"ingestion_workers", cfg.IngestionWorkers,
		"use_batch", cfg.UseBatchClassification,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	// Redis only backs the L1 classification cache; the service degrades
	// to Postgres-only caching when it is unreachable.
	var rdb *redis.Client
	if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
		slog.Warn("invalid REDIS_URL, running without L1 cache", "error", err)
	} else {
		rdb = redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, running without L1 cache", "error", err)
			rdb.Close()
			rdb = nil
		} else {
			slog.Info("connected to Redis")
		}
	}

	// --- Storage ---
	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	// --- Google OAuth + token vault ---
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       oauthflow.Scopes(),
		Endpoint:     google.Endpoint,
	}
	vault := tokenvault.New(cfg.TokenDir, cfg.TokenPath, oauthCfg)
	flow := oauthflow.New(oauthCfg, st, st, vault)

	// --- Mailbox fetcher ---
	factory := mailbox.NewGmailFactory(vault, oauthCfg, mailbox.Options{
		ListPageSize:    int64(cfg.ListPageSize),
		HistoryPageSize: int64(cfg.HistoryPageSize),
	})
	fetcher := mailbox.NewFetcher(factory, cfg.FullSyncMaxPerQuery, cfg.FetchWorkers)

	// --- Classification pipeline + two-tier cache ---
	llm := classify.NewOpenAIClient(cfg.LLMAPIKey, "", cfg.LLMModel, cfg.LLMTemperature)
	pipeline := classify.New(classify.Config{
		LLM:                      llm,
		Model:                    cfg.LLMModel,
		BatchSize:                cfg.BatchSize,
		BatchConfidenceThreshold: cfg.BatchConfidenceThreshold,
		UseBatch:                 cfg.UseBatchClassification,
	})
	classCache := cache.New(rdb, st.Cache())

	// --- Ingestion loop + coordinator ---
	loop := ingest.New(pipeline, classCache, ingest.Config{
		Workers:    cfg.IngestionWorkers,
		BatchSize:  cfg.IngestionBatchSize,
		CommitSize: cfg.BatchCommitSize,
	})
	newWriter := func(ctx context.Context, userID int64) (ingest.Writer, error) {
		session, err := st.BeginIngest(ctx)
		if err != nil {
			return nil, err
		}
		return ingest.NewSessionWriter(session, userID), nil
	}
	coord := coordinator.New(st, fetcher, vault, loop, pipeline, newWriter, cfg)

	// --- HTTP surface ---
	srv := &server{
		coord:  coord,
		flow:   flow,
		cfg:    cfg,
		pgPool: pgPool,
		rdb:    rdb,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     srv.routes(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the sync-stream endpoint holds its response
		// open for the lifetime of a sync.
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		if rdb != nil {
			rdb.Close()
		}
		pgPool.Close()
	}()

	slog.Info("ingestion service listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion service stopped")
}
