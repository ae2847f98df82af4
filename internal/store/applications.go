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

const applicationColumns = `
	id, user_id, source_message_id, content_hash, company_name, job_title,
	position_level, category, confidence, status, stage, requires_action,
	action_items, reasoning, needs_review, processed_by, email_subject,
	email_from, email_body, received_date, applied_at, interview_at,
	offer_at, rejected_at, created_at, updated_at`

// ExistingMessageIDs returns which of the given source message IDs already
// have an application or an email log for this user. Used by the ingestion
// loop to skip already-processed messages before classification.
func (s *Store) ExistingMessageIDs(ctx context.Context, userID int64, ids []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return seen, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source_message_id FROM applications
		WHERE user_id = $1 AND source_message_id = ANY($2)
		UNION
		SELECT source_message_id FROM email_logs
		WHERE user_id = $1 AND source_message_id = ANY($2)
	`, userID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

// CountApplications returns the number of applications for a user. A zero
// count forces a full sync even when a history cursor exists.
func (s *Store) CountApplications(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM applications WHERE user_id = $1
	`, userID).Scan(&n)
	return n, err
}

// RecentCompanyTitles returns (company_name, job_title) pairs for
// application-category rows received within the window. Seeds the in-memory
// duplicate detector at the start of a sync.
func (s *Store) RecentCompanyTitles(ctx context.Context, userID int64, window time.Duration) ([][2]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT company_name, job_title FROM applications
		WHERE user_id = $1
		  AND category = ANY($2)
		  AND received_date > NOW() - $3::interval
	`, userID, []string{
		models.CategoryApplicationConfirmation,
		models.CategoryRejection,
		models.CategoryInterviewAssessment,
		models.CategoryApplicationFollowup,
	}, window.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var company, title string
		if err := rows.Scan(&company, &title); err != nil {
			return nil, err
		}
		out = append(out, [2]string{company, title})
	}
	return out, rows.Err()
}

// ListApplications returns every application for a user, newest first.
// Used by the reprocess runner.
func (s *Store) ListApplications(ctx context.Context, userID int64) ([]models.Application, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE user_id = $1
		ORDER BY received_date DESC NULLS LAST
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApplications(rows)
}

// GetApplication returns one application by user and source message ID,
// or nil when absent.
func (s *Store) GetApplication(ctx context.Context, userID int64, sourceMessageID string) (*models.Application, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE user_id = $1 AND source_message_id = $2
	`, userID, sourceMessageID)
	return scanApplication(row)
}

// UpdateClassification overwrites the classification-derived fields of an
// existing application. Used by the reprocess runner; stage timestamps are
// re-derived the same way insert does.
func (s *Store) UpdateClassification(ctx context.Context, app models.Application) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE applications SET
			company_name    = $3,
			job_title       = $4,
			position_level  = $5,
			category        = $6,
			confidence      = $7,
			status          = $8,
			stage           = $9,
			requires_action = $10,
			action_items    = $11,
			reasoning       = $12,
			needs_review    = $13,
			processed_by    = $14,
			applied_at      = COALESCE(applied_at, $15),
			interview_at    = COALESCE(interview_at, $16),
			offer_at        = COALESCE(offer_at, $17),
			rejected_at     = COALESCE(rejected_at, $18),
			updated_at      = NOW()
		WHERE user_id = $1 AND source_message_id = $2
	`, app.UserID, app.SourceMessageID, app.CompanyName, app.JobTitle,
		app.PositionLevel, app.Category, app.Confidence, app.Status, app.Stage,
		app.RequiresAction, app.ActionItems, app.Reasoning, app.NeedsReview,
		app.ProcessedBy, app.AppliedAt, app.InterviewAt, app.OfferAt, app.RejectedAt)
	return err
}

func scanApplication(row pgx.Row) (*models.Application, error) {
	var a models.Application
	err := row.Scan(
		&a.ID, &a.UserID, &a.SourceMessageID, &a.ContentHash, &a.CompanyName,
		&a.JobTitle, &a.PositionLevel, &a.Category, &a.Confidence, &a.Status,
		&a.Stage, &a.RequiresAction, &a.ActionItems, &a.Reasoning,
		&a.NeedsReview, &a.ProcessedBy, &a.EmailSubject, &a.EmailFrom,
		&a.EmailBody, &a.ReceivedDate, &a.AppliedAt, &a.InterviewAt,
		&a.OfferAt, &a.RejectedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectApplications(rows pgx.Rows) ([]models.Application, error) {
	var apps []models.Application
	for rows.Next() {
		var a models.Application
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.SourceMessageID, &a.ContentHash, &a.CompanyName,
			&a.JobTitle, &a.PositionLevel, &a.Category, &a.Confidence, &a.Status,
			&a.Stage, &a.RequiresAction, &a.ActionItems, &a.Reasoning,
			&a.NeedsReview, &a.ProcessedBy, &a.EmailSubject, &a.EmailFrom,
			&a.EmailBody, &a.ReceivedDate, &a.AppliedAt, &a.InterviewAt,
			&a.OfferAt, &a.RejectedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}
