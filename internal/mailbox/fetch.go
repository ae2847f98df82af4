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

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobtrail/ingestion/internal/models"
)

// FullSyncQueries partitions the likely job-related space: subject
// keywords, sender patterns, known ATS domains, and common phrases. The
// fetch runs one worker per query and fuses results by message id. A
// zero before leaves the window open-ended.
func FullSyncQueries(after, before time.Time) []string {
	window := "after:" + after.Format("2006/01/02")
	if !before.IsZero() {
		window += " before:" + before.Format("2006/01/02")
	}
	queries := []string{
		`subject:(application OR applied OR "application received")`,
		`subject:(interview OR assessment OR "phone screen" OR "next steps")`,
		`subject:(offer OR "offer letter" OR congratulations)`,
		`subject:(position OR role OR opportunity OR opening)`,
		`from:(noreply OR no-reply OR careers OR recruiting OR talent OR jobs)`,
		`from:(greenhouse.io OR lever.co OR myworkdayjobs.com OR ashbyhq.com OR bamboohr.com OR smartrecruiters.com OR icims.com)`,
		`("thank you for applying" OR "we received your application" OR "your application to" OR "talent community")`,
	}
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = window + " " + q
	}
	return out
}

// Fetcher runs delta and full fetches for one user.
type Fetcher struct {
	factory     Factory
	maxPerQuery int
	workers     int
}

// NewFetcher creates a fetcher. workers bounds the parallel query pool for
// full syncs; maxPerQuery caps ids accumulated per query.
func NewFetcher(factory Factory, maxPerQuery, workers int) *Fetcher {
	if maxPerQuery <= 0 {
		maxPerQuery = 2000
	}
	if workers <= 0 {
		workers = 7
	}
	return &Fetcher{factory: factory, maxPerQuery: maxPerQuery, workers: workers}
}

// CurrentCursor reports the mailbox's present history cursor. Recorded at
// the end of a full sync so the next run can go incremental.
func (f *Fetcher) CurrentCursor(ctx context.Context, userID int64) (string, error) {
	client, err := f.factory(ctx, userID)
	if err != nil {
		return "", err
	}
	return client.CurrentCursor(ctx)
}

// FetchDelta pulls messages added since the cursor. Returns the decoded
// messages and the new cursor; ErrCursorTooOld propagates so the
// coordinator can fall back to a full sync.
func (f *Fetcher) FetchDelta(ctx context.Context, userID int64, cursor string) ([]models.EmailMessage, string, error) {
	client, err := f.factory(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	added, newCursor, err := client.ListHistory(ctx, cursor)
	if err != nil {
		return nil, "", err
	}

	msgs := make([]models.EmailMessage, 0, len(added))
	for _, id := range added {
		msg, err := client.GetMessage(ctx, id)
		if err != nil {
			slog.Warn("delta fetch: get message failed", "user_id", userID, "message_id", id, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}

	slog.Info("delta fetch complete",
		"user_id", userID, "added", len(added), "fetched", len(msgs), "cursor", newCursor)
	return msgs, newCursor, nil
}

// FetchFull runs every full-sync query in parallel, one worker and one
// client per query, and fuses results by message id. A single failing
// query is logged and skipped; the fetch fails only when every query
// failed.
func (f *Fetcher) FetchFull(ctx context.Context, userID int64, after, before time.Time) ([]models.EmailMessage, error) {
	queries := FullSyncQueries(after, before)

	var (
		mu       sync.Mutex
		seen     = make(map[string]struct{})
		fused    []models.EmailMessage
		okCount  int
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, query := range queries {
		query := query
		g.Go(func() error {
			// One client per worker: the provider library is not
			// safe for concurrent use.
			client, err := f.factory(gctx, userID)
			if err != nil {
				return err // credentials problem kills the whole fetch
			}

			ids, err := client.ListMessageIDs(gctx, query, f.maxPerQuery)
			if err != nil {
				slog.Warn("full fetch: query failed", "user_id", userID, "query", query, "error", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}

			var msgs []models.EmailMessage
			for _, id := range ids {
				mu.Lock()
				_, dup := seen[id]
				if !dup {
					seen[id] = struct{}{}
				}
				mu.Unlock()
				if dup {
					continue
				}
				msg, err := client.GetMessage(gctx, id)
				if err != nil {
					slog.Warn("full fetch: get message failed", "user_id", userID, "message_id", id, "error", err)
					continue
				}
				msgs = append(msgs, msg)
			}

			mu.Lock()
			fused = append(fused, msgs...)
			okCount++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if okCount == 0 {
		if firstErr == nil {
			firstErr = errors.New("all queries failed")
		}
		return nil, fmt.Errorf("full fetch: %w", firstErr)
	}

	slog.Info("full fetch complete",
		"user_id", userID, "queries", len(queries), "queries_ok", okCount, "messages", len(fused))
	return fused, nil
}
