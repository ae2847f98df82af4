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

// Package ingest implements the single-writer ingestion loop: N workers
// classify batches in parallel, one writer persists results inside
// savepoints, with in-memory duplicate detection and re-enqueue on
// transient storage contention.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jobtrail/ingestion/internal/cache"
	"github.com/jobtrail/ingestion/internal/models"
	"github.com/jobtrail/ingestion/internal/store"
)

// Counts accumulates the outcome of one ingestion run.
type Counts struct {
	Processed        int
	Total            int
	Created          int
	SkippedExisting  int
	SkippedDuplicate int
	Errors           int
}

// Skipped is the combined skip counter published in progress updates.
func (c Counts) Skipped() int { return c.SkippedExisting + c.SkippedDuplicate }

// Classifier runs the classification graph over a batch of messages.
// Implemented by classify.Pipeline.
type Classifier interface {
	ProcessBatch(ctx context.Context, msgs []models.EmailMessage) []models.EmailState
}

// CacheStore is the loop's view of the classification cache: reads drive
// Phase-1 decisions, and fresh results are pushed to the fast tier once
// their durable write succeeds.
type CacheStore interface {
	Get(ctx context.Context, userID int64, hash string) (*cache.Entry, error)
	PutL1(ctx context.Context, userID int64, e cache.Entry)
}

// Writer persists classified results. Implementations wrap one ingestion
// transaction; each Create/Record call runs in its own savepoint and
// returns store.ErrDuplicate or store.ErrContention for the writer loop
// to handle.
type Writer interface {
	// CreateApplication writes cache entry, application, and email log.
	CreateApplication(ctx context.Context, e cache.Entry, app models.Application, lg models.EmailLog) error
	// RecordResult writes cache entry (when hash set) and email log only.
	RecordResult(ctx context.Context, e cache.Entry, lg models.EmailLog) error
	// Flush commits the current batch and opens the next one.
	Flush(ctx context.Context) error
	// Finish commits whatever remains.
	Finish(ctx context.Context) error
	// Abort rolls back the open batch.
	Abort(ctx context.Context)
}

// ProgressFunc receives live counters as the loop advances.
type ProgressFunc func(c Counts, message string)

// Config tunes the loop.
type Config struct {
	Workers    int // classification workers (default 6)
	BatchSize  int // messages per worker batch (default 25)
	CommitSize int // savepoints per outer commit (default 50)
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 6
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.CommitSize <= 0 {
		c.CommitSize = 50
	}
}

// Loop is the ingestion engine for one user's fetched messages.
type Loop struct {
	classifier Classifier
	cache      CacheStore
	cfg        Config
}

// New creates an ingestion loop.
func New(classifier Classifier, cacheStore CacheStore, cfg Config) *Loop {
	cfg.defaults()
	return &Loop{classifier: classifier, cache: cacheStore, cfg: cfg}
}

// result is what workers hand the writer: plain data, no storage handles.
type result struct {
	msg   models.EmailMessage
	hash  string
	state models.EmailState
}

const (
	contentionSleep   = 50 * time.Millisecond
	contentionRetries = 5
)

// Run executes the full loop over msgs: Phase 1 decisions on cached and
// already-seen messages, Phase 2 fan-out classification with single-writer
// persistence. existing holds message ids already in storage; det is the
// pre-seeded duplicate detector, mutated only here.
func (l *Loop) Run(ctx context.Context, userID int64, msgs []models.EmailMessage, existing map[string]bool, det *Detector, w Writer, progress ProgressFunc) (Counts, error) {
	counts := Counts{Total: len(msgs)}
	report := func(message string) {
		if progress != nil {
			progress(counts, message)
		}
	}
	savepoints := 0

	flushMaybe := func() error {
		if savepoints > 0 && savepoints%l.cfg.CommitSize == 0 {
			return w.Flush(ctx)
		}
		return nil
	}

	// Phase 1: skip known messages, serve cache hits, queue the rest.
	// seen catches the same provider id showing up twice in one fetch, so
	// it is classified and logged exactly once.
	seen := make(map[string]bool, len(msgs))
	var pending []models.EmailMessage
	for _, msg := range msgs {
		if msg.MessageID == "" {
			counts.Processed++
			counts.Errors++
			continue
		}
		if existing[msg.MessageID] || seen[msg.MessageID] {
			counts.Processed++
			counts.SkippedExisting++
			continue
		}
		seen[msg.MessageID] = true

		hash := cache.ContentHash(msg.Subject, msg.Sender, msg.Body)
		entry, err := l.cache.Get(ctx, userID, hash)
		if err != nil {
			// A broken cache read only costs an LLM call.
			slog.Warn("cache read failed, classifying", "user_id", userID, "message_id", msg.MessageID, "error", err)
			entry = nil
		}
		if entry == nil {
			pending = append(pending, msg)
			continue
		}

		state := stateFromCache(msg, *entry)
		if err := l.persist(ctx, userID, result{msg: msg, hash: hash, state: state}, false, det, w, &counts); err != nil {
			w.Abort(ctx)
			return counts, err
		}
		counts.Processed++
		savepoints++
		if err := flushMaybe(); err != nil {
			return counts, err
		}
		report("Processing…")
	}

	if len(pending) == 0 {
		report("Finalizing…")
		return counts, w.Finish(ctx)
	}

	// Phase 2: fan out classification, persist from this goroutine only.
	// wctx lets a fatal write error stop workers that would otherwise sit
	// blocked sending results nobody reads.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan []models.EmailMessage, l.cfg.Workers)
	results := make(chan result, l.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < l.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range jobs {
				states := l.classifier.ProcessBatch(wctx, batch)
				for i, st := range states {
					select {
					case results <- result{
						msg:   batch[i],
						hash:  cache.ContentHash(batch[i].Subject, batch[i].Sender, batch[i].Body),
						state: st,
					}:
					case <-wctx.Done():
						return
					}
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for start := 0; start < len(pending); start += l.cfg.BatchSize {
			end := start + l.cfg.BatchSize
			if end > len(pending) {
				end = len(pending)
			}
			select {
			case jobs <- pending[start:end]:
			case <-wctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// fail unwinds the fan-out: cancelled workers stop sending, and the
	// drain lets them all reach wg.Done before we return.
	fail := func(err error) (Counts, error) {
		cancel()
		for range results {
		}
		return counts, err
	}

	for r := range results {
		if err := l.persist(ctx, userID, r, true, det, w, &counts); err != nil {
			w.Abort(ctx)
			return fail(err)
		}
		counts.Processed++
		savepoints++
		if err := flushMaybe(); err != nil {
			return fail(err)
		}
		report("Classifying…")
	}

	report("Finalizing…")
	return counts, w.Finish(ctx)
}

// persist writes one classified result: duplicate checks, application +
// log insert, contention retries. Only ever called from the writer
// goroutine. writeCache controls whether a fresh cache entry accompanies
// the write (false for Phase-1 hits, which already have one).
func (l *Loop) persist(ctx context.Context, userID int64, r result, writeCache bool, det *Detector, w Writer, counts *Counts) error {
	entry := cache.Entry{}
	if writeCache {
		entry = cache.EntryFromState(r.hash, r.state)
	}

	lg := models.EmailLog{
		UserID:          userID,
		SourceMessageID: r.msg.MessageID,
		Classification:  r.state.Category,
	}

	// A state carrying errors is an LLM failure: log it, count it, no
	// application row.
	if len(r.state.Errors) > 0 {
		lg.Error = r.state.Errors[0]
		counts.Errors++
		return l.withContentionRetry(ctx, func() error {
			return w.RecordResult(ctx, cache.Entry{}, lg)
		})
	}

	isApp := isApplicationCategory(r.state.Category)
	if isApp && det.IsDuplicate(r.state.CompanyName, r.state.JobTitle) {
		counts.SkippedDuplicate++
		err := l.withContentionRetry(ctx, func() error {
			return w.RecordResult(ctx, entry, lg)
		})
		if err == nil && writeCache {
			l.cache.PutL1(ctx, userID, entry)
		}
		return err
	}

	app := applicationFromState(userID, r.hash, r.state)
	err := l.withContentionRetry(ctx, func() error {
		return w.CreateApplication(ctx, entry, app, lg)
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Concurrent insert of the same message.
		counts.SkippedExisting++
		return nil
	}
	if err != nil {
		return err
	}
	if writeCache {
		l.cache.PutL1(ctx, userID, entry)
	}

	if isApp {
		det.Add(r.state.CompanyName, r.state.JobTitle)
	}
	counts.Created++
	return nil
}

// withContentionRetry re-runs fn after a short sleep when storage reports
// transient contention. Exhausted retries propagate the error.
func (l *Loop) withContentionRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= contentionRetries; attempt++ {
		if err = fn(); !errors.Is(err, store.ErrContention) {
			return err
		}
		slog.Debug("storage contention, re-enqueueing", "attempt", attempt+1)
		select {
		case <-time.After(contentionSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

var applicationCats = map[string]bool{
	models.CategoryApplicationConfirmation: true,
	models.CategoryRejection:               true,
	models.CategoryInterviewAssessment:     true,
	models.CategoryApplicationFollowup:     true,
}

func isApplicationCategory(c string) bool { return applicationCats[c] }

func stateFromCache(msg models.EmailMessage, e cache.Entry) models.EmailState {
	state := models.EmailState{
		MessageID:    msg.MessageID,
		Subject:      msg.Subject,
		Body:         msg.Body,
		Sender:       msg.Sender,
		ReceivedDate: msg.ReceivedAt,
	}
	e.ApplyTo(&state)
	return state
}

func applicationFromState(userID int64, hash string, s models.EmailState) models.Application {
	company := s.CompanyName
	if company == "" {
		company = "Unknown"
	}
	return models.Application{
		UserID:          userID,
		SourceMessageID: s.MessageID,
		ContentHash:     hash,
		CompanyName:     company,
		JobTitle:        s.JobTitle,
		PositionLevel:   s.PositionLevel,
		Category:        s.Category,
		Confidence:      s.Confidence,
		Status:          models.StatusForStage(s.Stage),
		Stage:           s.Stage,
		RequiresAction:  s.RequiresAction,
		ActionItems:     s.ActionItems,
		Reasoning:       s.Reasoning,
		NeedsReview:     s.NeedsReview,
		ProcessedBy:     s.ProcessedBy,
		EmailSubject:    s.Subject,
		EmailFrom:       s.Sender,
		EmailBody:       s.Body,
		ReceivedDate:    s.ReceivedDate,
	}
}
