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

	"github.com/jackc/pgx/v5"

	"github.com/jobtrail/ingestion/internal/models"
)

// GetReprocessState returns the reclassification job record for a user,
// or nil when none exists.
func (s *Store) GetReprocessState(ctx context.Context, userID int64) (*models.ReprocessState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, status, message, processed, total, updated, errors,
		       error, updated_at
		FROM reprocess_state
		WHERE user_id = $1
	`, userID)

	var st models.ReprocessState
	err := row.Scan(
		&st.UserID, &st.Status, &st.Message, &st.Processed, &st.Total,
		&st.Updated, &st.Errors, &st.Error, &st.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// TryStartReprocess flips the user's reprocess status to running unless a
// job is already in flight. Same gate as TryStartSync.
func (s *Store) TryStartReprocess(ctx context.Context, userID int64, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO reprocess_state (user_id, status, message, processed,
		                             total, updated, errors, error, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, 0, '', NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			status     = EXCLUDED.status,
			message    = EXCLUDED.message,
			processed  = 0,
			total      = 0,
			updated    = 0,
			errors     = 0,
			error      = '',
			updated_at = NOW()
		WHERE reprocess_state.status <> $2
	`, userID, models.SyncRunning, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateReprocessProgress publishes counters mid-run.
func (s *Store) UpdateReprocessProgress(ctx context.Context, userID int64, message string, processed, total, updated, errCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reprocess_state SET
			message    = $2,
			processed  = $3,
			total      = $4,
			updated    = $5,
			errors     = $6,
			updated_at = NOW()
		WHERE user_id = $1
	`, userID, message, processed, total, updated, errCount)
	return err
}

// FinishReprocess marks the job terminal: idle on success, error when
// errMsg is non-empty.
func (s *Store) FinishReprocess(ctx context.Context, userID int64, message, errMsg string) error {
	status := models.SyncIdle
	if errMsg != "" {
		status = models.SyncError
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE reprocess_state SET
			status     = $2,
			message    = $3,
			error      = $4,
			updated_at = NOW()
		WHERE user_id = $1
	`, userID, status, message, errMsg)
	return err
}
