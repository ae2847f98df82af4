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

// Package coordinator orchestrates sync and reprocess runs per user: it
// arbitrates the single-flight gate, resolves full versus incremental
// mode, drives fetch and ingestion, and publishes progress.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/jobtrail/ingestion/internal/config"
	"github.com/jobtrail/ingestion/internal/ingest"
	"github.com/jobtrail/ingestion/internal/mailbox"
	"github.com/jobtrail/ingestion/internal/models"
	"github.com/jobtrail/ingestion/internal/tokenvault"
)

// ErrAlreadyRunning means a sync (or reprocess) is in flight for the user;
// the trigger is rejected rather than queued.
var ErrAlreadyRunning = errors.New("sync already running for user")

// Mode selects how a sync run fetches messages.
type Mode string

const (
	// ModeAuto picks incremental when a usable cursor exists, else full.
	ModeAuto Mode = "auto"
	// ModeFull forces the windowed multi-query fetch.
	ModeFull Mode = "full"
	// ModeIncremental forces a history fetch from the stored cursor.
	ModeIncremental Mode = "incremental"
)

// progressEvery is how many processed messages pass between progress rows.
// In-memory subscribers get every update regardless.
const progressEvery = 10

// Store is the persistence surface the coordinator drives.
type Store interface {
	GetSyncState(ctx context.Context, userID int64) (*models.SyncState, error)
	TryStartSync(ctx context.Context, userID int64, message string) (bool, error)
	UpdateSyncProgress(ctx context.Context, userID int64, message string, processed, total, created, skipped, errCount int) error
	FinishSync(ctx context.Context, userID int64, message, historyID string, syncedAt time.Time, fullSyncAt *time.Time) error
	FailSync(ctx context.Context, userID int64, errMsg string) error
	ClearHistoryCursor(ctx context.Context, userID int64) error

	CountApplications(ctx context.Context, userID int64) (int, error)
	ExistingMessageIDs(ctx context.Context, userID int64, ids []string) (map[string]bool, error)
	RecentCompanyTitles(ctx context.Context, userID int64, window time.Duration) ([][2]string, error)
	ListApplications(ctx context.Context, userID int64) ([]models.Application, error)
	UpdateClassification(ctx context.Context, app models.Application) error

	GetReprocessState(ctx context.Context, userID int64) (*models.ReprocessState, error)
	TryStartReprocess(ctx context.Context, userID int64, message string) (bool, error)
	UpdateReprocessProgress(ctx context.Context, userID int64, message string, processed, total, updated, errCount int) error
	FinishReprocess(ctx context.Context, userID int64, message, errMsg string) error
}

// Window optionally narrows a full sync's date range. Zero fields fall
// back to the configured window.
type Window struct {
	After  time.Time
	Before time.Time
}

// Fetcher pulls messages from the mailbox provider. Implemented by
// mailbox.Fetcher.
type Fetcher interface {
	FetchFull(ctx context.Context, userID int64, after, before time.Time) ([]models.EmailMessage, error)
	FetchDelta(ctx context.Context, userID int64, cursor string) ([]models.EmailMessage, string, error)
	CurrentCursor(ctx context.Context, userID int64) (string, error)
}

// TokenChecker verifies a user holds a usable mailbox credential.
// Implemented by tokenvault.Vault.
type TokenChecker interface {
	Get(ctx context.Context, userID int64) (*oauth2.Token, error)
}

// WriterFactory opens one ingestion write session per run.
type WriterFactory func(ctx context.Context, userID int64) (ingest.Writer, error)

// Coordinator runs syncs. Safe for concurrent use; per-user exclusion is
// enforced by the store's atomic gate, not in memory, so it holds across
// replicas.
type Coordinator struct {
	store      Store
	fetcher    Fetcher
	tokens     TokenChecker
	loop       *ingest.Loop
	classifier ingest.Classifier
	newWriter  WriterFactory
	cfg        *config.Config
	hub        *hub
}

// New assembles a coordinator. classifier is the same pipeline the loop
// wraps; reprocessing calls it directly on stored applications.
func New(st Store, fetcher Fetcher, tokens TokenChecker, loop *ingest.Loop, classifier ingest.Classifier, newWriter WriterFactory, cfg *config.Config) *Coordinator {
	return &Coordinator{
		store:      st,
		fetcher:    fetcher,
		tokens:     tokens,
		loop:       loop,
		classifier: classifier,
		newWriter:  newWriter,
		cfg:        cfg,
		hub:        newHub(),
	}
}

// StartSync validates authorization, claims the per-user gate, and launches
// the run in the background. Returns tokenvault.ErrAuthRequired when the
// user has no usable credential and ErrAlreadyRunning when a sync is in
// flight.
func (c *Coordinator) StartSync(ctx context.Context, userID int64, mode Mode, win Window) error {
	if _, err := c.tokens.Get(ctx, userID); err != nil {
		if errors.Is(err, tokenvault.ErrAuthRequired) {
			return tokenvault.ErrAuthRequired
		}
		return fmt.Errorf("check mailbox credential: %w", err)
	}

	ok, err := c.store.TryStartSync(ctx, userID, "Starting sync...")
	if err != nil {
		return fmt.Errorf("claim sync gate: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	go c.runSync(context.WithoutCancel(ctx), userID, mode, win)
	return nil
}

// RunOnce claims the gate and executes a sync synchronously. Used by the
// backfill command, where the caller wants the outcome as an exit code.
func (c *Coordinator) RunOnce(ctx context.Context, userID int64, mode Mode, win Window) error {
	if _, err := c.tokens.Get(ctx, userID); err != nil {
		if errors.Is(err, tokenvault.ErrAuthRequired) {
			return tokenvault.ErrAuthRequired
		}
		return fmt.Errorf("check mailbox credential: %w", err)
	}
	ok, err := c.store.TryStartSync(ctx, userID, "Starting sync...")
	if err != nil {
		return fmt.Errorf("claim sync gate: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	return c.runSync(ctx, userID, mode, win)
}

// runSync executes one sync end to end. The gate is already held; every
// exit path releases it through FinishSync or FailSync.
func (c *Coordinator) runSync(ctx context.Context, userID int64, mode Mode, win Window) error {
	start := time.Now()

	counts, historyID, fullSyncAt, err := c.fetchAndIngest(ctx, userID, mode, win)
	if err != nil {
		slog.Error("sync failed", "user_id", userID, "error", err)
		if ferr := c.store.FailSync(ctx, userID, err.Error()); ferr != nil {
			slog.Error("failed to record sync failure", "user_id", userID, "error", ferr)
		}
		c.hub.publish(userID, models.Progress{
			Status:    models.SyncError,
			Message:   "Sync failed",
			Processed: counts.Processed,
			Total:     counts.Total,
			Created:   counts.Created,
			Skipped:   counts.Skipped(),
			Errors:    counts.Errors,
			Error:     err.Error(),
		})
		return err
	}

	msg := fmt.Sprintf("Done: %d created, %d skipped, %d errors", counts.Created, counts.Skipped(), counts.Errors)
	if err := c.store.FinishSync(ctx, userID, msg, historyID, time.Now().UTC(), fullSyncAt); err != nil {
		slog.Error("failed to record sync completion", "user_id", userID, "error", err)
	}
	c.hub.publish(userID, models.Progress{
		Status:    models.SyncIdle,
		Message:   msg,
		Processed: counts.Processed,
		Total:     counts.Total,
		Created:   counts.Created,
		Skipped:   counts.Skipped(),
		Errors:    counts.Errors,
	})
	slog.Info("sync complete",
		"user_id", userID, "created", counts.Created, "skipped", counts.Skipped(),
		"errors", counts.Errors, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// fetchAndIngest is the body of a sync run: resolve mode, fetch, seed the
// duplicate detector, run the ingestion loop. Returns the new history
// cursor ("" keeps the old one) and the full-sync timestamp when one ran.
func (c *Coordinator) fetchAndIngest(ctx context.Context, userID int64, mode Mode, win Window) (ingest.Counts, string, *time.Time, error) {
	var counts ingest.Counts

	st, err := c.store.GetSyncState(ctx, userID)
	if err != nil {
		return counts, "", nil, fmt.Errorf("load sync state: %w", err)
	}

	mode, err = c.resolveMode(ctx, userID, st, mode)
	if err != nil {
		return counts, "", nil, err
	}

	c.progress(ctx, userID, counts, "Fetching emails...")

	var (
		msgs       []models.EmailMessage
		historyID  string
		fullSyncAt *time.Time
	)
	switch mode {
	case ModeIncremental:
		cursor := ""
		if st != nil {
			cursor = st.LastHistoryID
		}
		msgs, historyID, err = c.fetcher.FetchDelta(ctx, userID, cursor)
		if errors.Is(err, mailbox.ErrCursorTooOld) {
			// Cursor aged out of the provider's retention; start over.
			slog.Warn("history cursor expired, falling back to full sync", "user_id", userID)
			if cerr := c.store.ClearHistoryCursor(ctx, userID); cerr != nil {
				return counts, "", nil, fmt.Errorf("clear stale cursor: %w", cerr)
			}
			mode = ModeFull
			err = nil
		} else if err != nil {
			return counts, "", nil, fmt.Errorf("incremental fetch: %w", err)
		}
	}
	if mode == ModeFull {
		after := win.After
		if after.IsZero() {
			var lastFull, lastSynced *time.Time
			if st != nil {
				lastFull, lastSynced = st.LastFullSyncAt, st.LastSyncedAt
			}
			after = c.cfg.FullSyncWindowStart(lastFull, lastSynced, time.Now().UTC())
		}
		before := win.Before
		if before.IsZero() {
			before = c.cfg.FullSyncWindowEnd()
		}
		msgs, err = c.fetcher.FetchFull(ctx, userID, after, before)
		if err != nil {
			return counts, "", nil, fmt.Errorf("full fetch: %w", err)
		}
		now := time.Now().UTC()
		fullSyncAt = &now
		if cursor, cerr := c.fetcher.CurrentCursor(ctx, userID); cerr == nil {
			historyID = cursor
		} else {
			// Not fatal: the next auto sync just goes full again.
			slog.Warn("could not read current history cursor", "user_id", userID, "error", cerr)
		}
	}

	counts.Total = len(msgs)
	if len(msgs) == 0 {
		return counts, historyID, fullSyncAt, nil
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
	}
	existing, err := c.store.ExistingMessageIDs(ctx, userID, ids)
	if err != nil {
		return counts, "", nil, fmt.Errorf("load existing message ids: %w", err)
	}

	det := ingest.NewDetector()
	pairs, err := c.store.RecentCompanyTitles(ctx, userID, ingest.DedupWindow)
	if err != nil {
		return counts, "", nil, fmt.Errorf("seed duplicate detector: %w", err)
	}
	det.Load(pairs)

	writer, err := c.newWriter(ctx, userID)
	if err != nil {
		return counts, "", nil, fmt.Errorf("open ingest session: %w", err)
	}

	counts, err = c.loop.Run(ctx, userID, msgs, existing, det, writer, func(cts ingest.Counts, message string) {
		c.hub.publish(userID, models.Progress{
			Status:    models.SyncRunning,
			Message:   message,
			Processed: cts.Processed,
			Total:     cts.Total,
			Created:   cts.Created,
			Skipped:   cts.Skipped(),
			Errors:    cts.Errors,
		})
		if cts.Processed%progressEvery == 0 {
			c.progress(ctx, userID, cts, message)
		}
	})
	if err != nil {
		return counts, "", nil, fmt.Errorf("ingestion loop: %w", err)
	}

	return counts, historyID, fullSyncAt, nil
}

// resolveMode turns ModeAuto into a concrete mode: incremental only when a
// cursor exists and the user already has applications, so a brand-new
// mailbox always gets the windowed backfill first.
func (c *Coordinator) resolveMode(ctx context.Context, userID int64, st *models.SyncState, mode Mode) (Mode, error) {
	switch mode {
	case ModeFull, ModeIncremental:
		return mode, nil
	}

	if st == nil || st.LastHistoryID == "" {
		return ModeFull, nil
	}
	n, err := c.store.CountApplications(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("count applications: %w", err)
	}
	if n == 0 {
		return ModeFull, nil
	}
	return ModeIncremental, nil
}

func (c *Coordinator) progress(ctx context.Context, userID int64, cts ingest.Counts, message string) {
	err := c.store.UpdateSyncProgress(ctx, userID, message,
		cts.Processed, cts.Total, cts.Created, cts.Skipped(), cts.Errors)
	if err != nil {
		slog.Warn("failed to record sync progress", "user_id", userID, "error", err)
	}
}
