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

// Package store provides the Postgres persistence layer: applications,
// email logs, the durable classification cache, per-user sync state, and
// single-use OAuth state tokens. All writes from the ingestion loop go
// through an IngestSession so one transaction owns the batch.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicate maps unique-constraint violations (same provider message
	// id for a user, or a concurrent cache upsert) to a skippable condition.
	ErrDuplicate = errors.New("store: duplicate row")

	// ErrContention marks serialization/lock failures; the caller re-enqueues
	// the work item instead of failing it.
	ErrContention = errors.New("store: transient contention")
)

// Store provides CRUD operations for the ingestion schema in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool and ensures the
// schema exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("store initialised")
	return s, nil
}

// Pool exposes the underlying pool for callers that manage their own
// transactions (the ingestion session).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

const schemaSQL = `
		CREATE TABLE IF NOT EXISTS users (
			id            BIGSERIAL PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT DEFAULT '',
			google_id     TEXT DEFAULT '',
			name          TEXT DEFAULT '',
			created_at    TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS applications (
			id                BIGSERIAL PRIMARY KEY,
			user_id           BIGINT NOT NULL REFERENCES users(id),
			source_message_id TEXT NOT NULL,
			content_hash      TEXT NOT NULL,
			company_name      TEXT DEFAULT '',
			job_title         TEXT DEFAULT '',
			position_level    TEXT DEFAULT '',
			category          TEXT NOT NULL,
			confidence        DOUBLE PRECISION DEFAULT 0,
			status            TEXT NOT NULL,
			stage             TEXT NOT NULL,
			requires_action   BOOLEAN DEFAULT FALSE,
			action_items      TEXT[] DEFAULT '{}',
			reasoning         TEXT DEFAULT '',
			needs_review      BOOLEAN DEFAULT FALSE,
			processed_by      TEXT DEFAULT '',
			email_subject     TEXT DEFAULT '',
			email_from        TEXT DEFAULT '',
			email_body        TEXT DEFAULT '',
			received_date     TIMESTAMPTZ,
			applied_at        TIMESTAMPTZ,
			interview_at      TIMESTAMPTZ,
			offer_at          TIMESTAMPTZ,
			rejected_at       TIMESTAMPTZ,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(user_id, source_message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_apps_user ON applications(user_id);
		CREATE INDEX IF NOT EXISTS idx_apps_user_received ON applications(user_id, received_date DESC);
		CREATE INDEX IF NOT EXISTS idx_apps_category_received ON applications(category, received_date);
		CREATE INDEX IF NOT EXISTS idx_apps_status_received ON applications(status, received_date);

		CREATE TABLE IF NOT EXISTS email_logs (
			id                BIGSERIAL PRIMARY KEY,
			user_id           BIGINT NOT NULL REFERENCES users(id),
			source_message_id TEXT NOT NULL,
			classification    TEXT DEFAULT '',
			error             TEXT DEFAULT '',
			processed_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_logs_user_msg ON email_logs(user_id, source_message_id);

		CREATE TABLE IF NOT EXISTS classification_cache (
			id           BIGSERIAL PRIMARY KEY,
			user_id      BIGINT NOT NULL,
			content_hash TEXT NOT NULL,
			result       JSONB NOT NULL,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(user_id, content_hash)
		);

		CREATE TABLE IF NOT EXISTS sync_state (
			user_id           BIGINT PRIMARY KEY,
			last_history_id   TEXT DEFAULT '',
			last_synced_at    TIMESTAMPTZ,
			last_full_sync_at TIMESTAMPTZ,
			status            TEXT DEFAULT 'idle',
			message           TEXT DEFAULT '',
			processed         INT DEFAULT 0,
			total             INT DEFAULT 0,
			created           INT DEFAULT 0,
			skipped           INT DEFAULT 0,
			errors            INT DEFAULT 0,
			error             TEXT DEFAULT '',
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS reprocess_state (
			user_id    BIGINT PRIMARY KEY,
			status     TEXT DEFAULT 'idle',
			message    TEXT DEFAULT '',
			processed  INT DEFAULT 0,
			total      INT DEFAULT 0,
			updated    INT DEFAULT 0,
			errors     INT DEFAULT 0,
			error      TEXT DEFAULT '',
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS oauth_states (
			token        TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			user_id      BIGINT,
			redirect_url TEXT DEFAULT '',
			expires_at   TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_oauth_expires ON oauth_states(expires_at);
	`
