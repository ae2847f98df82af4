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

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jobtrail/ingestion/internal/models"
)

// GetSyncState returns the sync record for a user, or nil when the user
// has never synced.
func (s *Store) GetSyncState(ctx context.Context, userID int64) (*models.SyncState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, last_history_id, last_synced_at, last_full_sync_at,
		       status, message, processed, total, created, skipped, errors,
		       error, updated_at
		FROM sync_state
		WHERE user_id = $1
	`, userID)

	var st models.SyncState
	err := row.Scan(
		&st.UserID, &st.LastHistoryID, &st.LastSyncedAt, &st.LastFullSyncAt,
		&st.Status, &st.Message, &st.Processed, &st.Total, &st.Created,
		&st.Skipped, &st.Errors, &st.Error, &st.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// TryStartSync flips the user's sync status from idle/error to syncing.
// Returns false without touching the row when a sync is already running:
// the atomic upsert is the concurrency gate for duplicate sync requests.
func (s *Store) TryStartSync(ctx context.Context, userID int64, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (user_id, status, message, processed, total,
		                        created, skipped, errors, error, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, 0, 0, '', NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			status     = EXCLUDED.status,
			message    = EXCLUDED.message,
			processed  = 0,
			total      = 0,
			created    = 0,
			skipped    = 0,
			errors     = 0,
			error      = '',
			updated_at = NOW()
		WHERE sync_state.status <> $2
	`, userID, models.SyncRunning, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSyncProgress publishes counters mid-run.
func (s *Store) UpdateSyncProgress(ctx context.Context, userID int64, message string, processed, total, created, skipped, errCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET
			message    = $2,
			processed  = $3,
			total      = $4,
			created    = $5,
			skipped    = $6,
			errors     = $7,
			updated_at = NOW()
		WHERE user_id = $1
	`, userID, message, processed, total, created, skipped, errCount)
	return err
}

// FinishSync marks the run idle with a terminal message and persists the
// new history cursor and sync timestamps. historyID and fullSyncAt are
// optional: empty/nil leaves the stored value alone.
func (s *Store) FinishSync(ctx context.Context, userID int64, message, historyID string, syncedAt time.Time, fullSyncAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET
			status            = $2,
			message           = $3,
			last_history_id   = CASE WHEN $4 <> '' THEN $4 ELSE last_history_id END,
			last_synced_at    = $5,
			last_full_sync_at = COALESCE($6, last_full_sync_at),
			error             = '',
			updated_at        = NOW()
		WHERE user_id = $1
	`, userID, models.SyncIdle, message, historyID, syncedAt, fullSyncAt)
	return err
}

// FailSync marks the run failed. The history cursor is left untouched so
// the next attempt resumes from the last good position.
func (s *Store) FailSync(ctx context.Context, userID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET
			status     = $2,
			message    = $3,
			error      = $3,
			updated_at = NOW()
		WHERE user_id = $1
	`, userID, models.SyncError, errMsg)
	return err
}

// ClearHistoryCursor drops the stored cursor, forcing the next incremental
// sync to fall back to full. Used when the mailbox reports the cursor too
// old to replay.
func (s *Store) ClearHistoryCursor(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET last_history_id = '', updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	return err
}
