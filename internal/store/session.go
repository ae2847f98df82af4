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
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jobtrail/ingestion/internal/models"
)

// IngestSession owns the single writer transaction of an ingestion run.
// Each message is written inside a savepoint (pgx nested Begin), so one
// failing message rolls back alone while the surrounding batch survives.
type IngestSession struct {
	pool txBeginner
	tx   pgx.Tx
}

// txBeginner is the subset of *pgxpool.Pool the session needs; kept as an
// interface so session tests can fake transaction handling.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BeginIngest opens the writer transaction for an ingestion run.
func (s *Store) BeginIngest(ctx context.Context) (*IngestSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ingest: %w", err)
	}
	return &IngestSession{pool: s.pool, tx: tx}, nil
}

// WithSavepoint runs fn inside a savepoint on the session transaction.
// fn's error (or a constraint/lock failure during commit of the savepoint)
// rolls back only the savepoint; ErrDuplicate and ErrContention are
// returned for unique violations and transient lock failures.
func (is *IngestSession) WithSavepoint(ctx context.Context, fn func(pgx.Tx) error) error {
	sp, err := is.tx.Begin(ctx)
	if err != nil {
		return translatePGErr(err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return translatePGErr(err)
	}
	if err := sp.Commit(ctx); err != nil {
		return translatePGErr(err)
	}
	return nil
}

const (
	commitAttempts  = 6
	commitBaseDelay = 50 * time.Millisecond
)

// Commit commits the current batch and opens a fresh transaction for the
// next one. Reopening retries with jittered backoff so a brief database
// hiccup between batches does not kill the run.
func (is *IngestSession) Commit(ctx context.Context) error {
	if err := is.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", translatePGErr(err))
	}

	var err error
	for attempt := 0; attempt < commitAttempts; attempt++ {
		is.tx, err = is.pool.Begin(ctx)
		if err == nil {
			return nil
		}
		delay := commitBaseDelay<<attempt + time.Duration(rand.Int63n(int64(commitBaseDelay)))
		slog.Warn("reopening ingest transaction failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("reopen ingest transaction: %w", err)
}

// Close commits whatever remains in the open transaction. Safe to call
// after a failed Commit.
func (is *IngestSession) Close(ctx context.Context) error {
	if is.tx == nil {
		return nil
	}
	err := is.tx.Commit(ctx)
	is.tx = nil
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("close ingest session: %w", err)
	}
	return nil
}

// Rollback abandons the open transaction.
func (is *IngestSession) Rollback(ctx context.Context) {
	if is.tx == nil {
		return
	}
	_ = is.tx.Rollback(ctx)
	is.tx = nil
}

// translatePGErr maps Postgres error codes to the store sentinels:
// 23505 (unique_violation) to ErrDuplicate; 40001 (serialization_failure),
// 40P01 (deadlock_detected), and 55P03 (lock_not_available) to
// ErrContention. Everything else passes through.
func translatePGErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", ErrContention, pgErr.Code)
	}
	return err
}

// InsertApplicationTx inserts an application inside the given transaction
// (normally a savepoint). Truncation limits are applied here, last thing
// before the row is written. The stage timestamp matching the current
// stage is set from the message's received date.
func InsertApplicationTx(ctx context.Context, tx pgx.Tx, app models.Application) error {
	appliedAt, interviewAt, offerAt, rejectedAt := stageTimestamps(app.Stage, app.ReceivedDate)

	_, err := tx.Exec(ctx, `
		INSERT INTO applications
			(user_id, source_message_id, content_hash, company_name, job_title,
			 position_level, category, confidence, status, stage, requires_action,
			 action_items, reasoning, needs_review, processed_by, email_subject,
			 email_from, email_body, received_date, applied_at, interview_at,
			 offer_at, rejected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`, app.UserID, app.SourceMessageID, app.ContentHash,
		models.Truncate(app.CompanyName, models.MaxCompanyLen),
		app.JobTitle, app.PositionLevel, app.Category, app.Confidence,
		app.Status, app.Stage, app.RequiresAction, app.ActionItems,
		app.Reasoning, app.NeedsReview, app.ProcessedBy,
		models.Truncate(app.EmailSubject, models.MaxSubjectLen),
		models.Truncate(app.EmailFrom, models.MaxSenderLen),
		models.Truncate(app.EmailBody, models.MaxBodyStored),
		app.ReceivedDate, appliedAt, interviewAt, offerAt, rejectedAt)
	return err
}

func stageTimestamps(stage string, at time.Time) (applied, interview, offer, rejected *time.Time) {
	t := at
	switch stage {
	case models.StageApplied:
		applied = &t
	case models.StageInterview, models.StageScreening:
		interview = &t
	case models.StageOffer:
		offer = &t
	case models.StageRejected:
		rejected = &t
	}
	return
}

// InsertEmailLogTx records the processing outcome for one message.
func InsertEmailLogTx(ctx context.Context, tx pgx.Tx, log models.EmailLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO email_logs (user_id, source_message_id, classification, error)
		VALUES ($1, $2, $3, $4)
	`, log.UserID, log.SourceMessageID, log.Classification, log.Error)
	return err
}
