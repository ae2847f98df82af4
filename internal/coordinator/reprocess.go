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

package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobtrail/ingestion/internal/models"
)

// reprocessBatch is how many stored applications go through the classifier
// per call during a reprocess run.
const reprocessBatch = 10

// StartReprocess claims the per-user reprocess gate and launches a
// reclassification of every stored application in the background. Returns
// ErrAlreadyRunning when one is in flight.
func (c *Coordinator) StartReprocess(ctx context.Context, userID int64) error {
	ok, err := c.store.TryStartReprocess(ctx, userID, "Starting reprocess...")
	if err != nil {
		return fmt.Errorf("claim reprocess gate: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	go c.runReprocess(context.WithoutCancel(ctx), userID)
	return nil
}

// runReprocess re-runs the classification pipeline over stored applications
// and rewrites the ones whose classification changed. Original email text
// is replayed from the application row, so no mailbox access is needed.
func (c *Coordinator) runReprocess(ctx context.Context, userID int64) {
	apps, err := c.store.ListApplications(ctx, userID)
	if err != nil {
		c.finishReprocess(ctx, userID, "", fmt.Sprintf("list applications: %v", err))
		return
	}

	var processed, updated, errCount int
	total := len(apps)

	for start := 0; start < total; start += reprocessBatch {
		end := start + reprocessBatch
		if end > total {
			end = total
		}
		batch := apps[start:end]

		msgs := make([]models.EmailMessage, len(batch))
		for i, app := range batch {
			msgs[i] = models.EmailMessage{
				MessageID:  app.SourceMessageID,
				Subject:    app.EmailSubject,
				Sender:     app.EmailFrom,
				Body:       app.EmailBody,
				ReceivedAt: app.ReceivedDate,
			}
		}

		states := c.classifier.ProcessBatch(ctx, msgs)
		for i, state := range states {
			processed++
			if len(state.Errors) > 0 {
				errCount++
				continue
			}

			app := batch[i]
			if !classificationChanged(app, state) {
				continue
			}
			app.Category = state.Category
			app.Confidence = state.Confidence
			app.Status = models.StatusForStage(state.Stage)
			app.Stage = state.Stage
			app.RequiresAction = state.RequiresAction
			app.ActionItems = state.ActionItems
			app.Reasoning = state.Reasoning
			app.NeedsReview = state.NeedsReview
			app.ProcessedBy = state.ProcessedBy
			if state.CompanyName != "" {
				app.CompanyName = state.CompanyName
			}
			if state.JobTitle != "" {
				app.JobTitle = state.JobTitle
			}
			app.PositionLevel = state.PositionLevel

			if err := c.store.UpdateClassification(ctx, app); err != nil {
				slog.Warn("reprocess: update failed",
					"user_id", userID, "message_id", app.SourceMessageID, "error", err)
				errCount++
				continue
			}
			updated++
		}

		err := c.store.UpdateReprocessProgress(ctx, userID,
			fmt.Sprintf("Reprocessing %d/%d...", processed, total), processed, total, updated, errCount)
		if err != nil {
			slog.Warn("failed to record reprocess progress", "user_id", userID, "error", err)
		}
	}

	msg := fmt.Sprintf("Done: %d updated, %d errors", updated, errCount)
	c.finishReprocess(ctx, userID, msg, "")
	slog.Info("reprocess complete",
		"user_id", userID, "total", total, "updated", updated, "errors", errCount)
}

func (c *Coordinator) finishReprocess(ctx context.Context, userID int64, msg, errMsg string) {
	if err := c.store.FinishReprocess(ctx, userID, msg, errMsg); err != nil {
		slog.Error("failed to record reprocess completion", "user_id", userID, "error", err)
	}
}

// classificationChanged reports whether the fresh state disagrees with the
// stored row on any user-visible classification field.
func classificationChanged(app models.Application, s models.EmailState) bool {
	return app.Category != s.Category ||
		app.Stage != s.Stage ||
		app.NeedsReview != s.NeedsReview ||
		app.RequiresAction != s.RequiresAction ||
		(s.CompanyName != "" && app.CompanyName != s.CompanyName) ||
		(s.JobTitle != "" && app.JobTitle != s.JobTitle)
}

// ReprocessStatus reads the persisted reprocess state for one user.
func (c *Coordinator) ReprocessStatus(ctx context.Context, userID int64) (*models.ReprocessState, error) {
	return c.store.GetReprocessState(ctx, userID)
}
