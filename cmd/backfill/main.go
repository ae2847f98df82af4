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

// backfill runs one full sync for a single user and exits. Useful for
// seeding a fresh account or re-pulling a wider date window than the
// server's configured default.
//
// Usage:
//
//	backfill -user 42 [-days 180] [-after 2026-01-01] [-before 2026-06-01] [-mode full]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

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
	userID := flag.Int64("user", 0, "user id to sync (required)")
	days := flag.Int("days", 0, "override full-sync window in days back from now")
	after := flag.String("after", "", "override full-sync start date (YYYY-MM-DD)")
	before := flag.String("before", "", "bound the full-sync window at this date (YYYY-MM-DD)")
	mode := flag.String("mode", string(coordinator.ModeFull), "sync mode: full, incremental, or auto")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "backfill: -user is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*userID, *days, *after, *before, coordinator.Mode(*mode)); err != nil {
		slog.Error("backfill failed", "user_id", *userID, "error", err)
		os.Exit(1)
	}
}

func run(userID int64, days int, after, before string, mode coordinator.Mode) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if days > 0 {
		cfg.FullSyncDaysBack = days
	}
	if after != "" {
		cfg.FullSyncAfterDate = after
	}
	if before != "" {
		cfg.FullSyncBeforeDate = before
	}

	ctx := context.Background()

	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create Postgres pool: %w", err)
	}
	defer pgPool.Close()
	if err := pgPool.Ping(ctx); err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	var rdb *redis.Client
	if opt, err := redis.ParseURL(cfg.RedisURL); err == nil {
		rdb = redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, running without L1 cache", "error", err)
			rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	st, err := store.New(ctx, pgPool)
	if err != nil {
		return fmt.Errorf("initialise store: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       oauthflow.Scopes(),
		Endpoint:     google.Endpoint,
	}
	vault := tokenvault.New(cfg.TokenDir, cfg.TokenPath, oauthCfg)

	factory := mailbox.NewGmailFactory(vault, oauthCfg, mailbox.Options{
		ListPageSize:    int64(cfg.ListPageSize),
		HistoryPageSize: int64(cfg.HistoryPageSize),
	})
	fetcher := mailbox.NewFetcher(factory, cfg.FullSyncMaxPerQuery, cfg.FetchWorkers)

	llm := classify.NewOpenAIClient(cfg.LLMAPIKey, "", cfg.LLMModel, cfg.LLMTemperature)
	pipeline := classify.New(classify.Config{
		LLM:                      llm,
		Model:                    cfg.LLMModel,
		BatchSize:                cfg.BatchSize,
		BatchConfidenceThreshold: cfg.BatchConfidenceThreshold,
		UseBatch:                 cfg.UseBatchClassification,
	})

	loop := ingest.New(pipeline, cache.New(rdb, st.Cache()), ingest.Config{
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
	return coord.RunOnce(ctx, userID, mode, coordinator.Window{})
}
