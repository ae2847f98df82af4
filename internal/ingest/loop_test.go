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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jobtrail/ingestion/internal/cache"
	"github.com/jobtrail/ingestion/internal/models"
	"github.com/jobtrail/ingestion/internal/store"
)

// fakeClassifier labels every message via the byID table.
type fakeClassifier struct {
	mu    sync.Mutex
	byID  map[string]models.EmailState
	calls int
}

func (f *fakeClassifier) ProcessBatch(_ context.Context, msgs []models.EmailMessage) []models.EmailState {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	out := make([]models.EmailState, len(msgs))
	for i, m := range msgs {
		st := f.byID[m.MessageID]
		st.MessageID = m.MessageID
		st.Subject = m.Subject
		st.Sender = m.Sender
		st.Body = m.Body
		st.ReceivedDate = m.ReceivedAt
		out[i] = st
	}
	return out
}

type fakeCache struct {
	entries map[string]*cache.Entry // hash -> entry
	l1      []cache.Entry           // entries pushed to the fast tier
}

func (f *fakeCache) Get(_ context.Context, _ int64, hash string) (*cache.Entry, error) {
	if f.entries == nil {
		return nil, nil
	}
	return f.entries[hash], nil
}

func (f *fakeCache) PutL1(_ context.Context, _ int64, e cache.Entry) {
	f.l1 = append(f.l1, e)
}

// fakeWriter records writes; failures per message id drive the error paths.
type fakeWriter struct {
	apps       []models.Application
	logs       []models.EmailLog
	entries    []cache.Entry
	failCreate map[string][]error // source message id -> errors to return in order
	flushes    int
	finished   bool
	aborted    bool
}

func (w *fakeWriter) CreateApplication(_ context.Context, e cache.Entry, app models.Application, lg models.EmailLog) error {
	if errs := w.failCreate[app.SourceMessageID]; len(errs) > 0 {
		err := errs[0]
		w.failCreate[app.SourceMessageID] = errs[1:]
		return err
	}
	if e.ContentHash != "" {
		w.entries = append(w.entries, e)
	}
	w.apps = append(w.apps, app)
	w.logs = append(w.logs, lg)
	return nil
}

func (w *fakeWriter) RecordResult(_ context.Context, e cache.Entry, lg models.EmailLog) error {
	if e.ContentHash != "" {
		w.entries = append(w.entries, e)
	}
	w.logs = append(w.logs, lg)
	return nil
}

func (w *fakeWriter) Flush(context.Context) error  { w.flushes++; return nil }
func (w *fakeWriter) Finish(context.Context) error { w.finished = true; return nil }
func (w *fakeWriter) Abort(context.Context)        { w.aborted = true }

func confirmationState(company, title string) models.EmailState {
	return models.EmailState{
		Category:    models.CategoryApplicationConfirmation,
		Confidence:  0.9,
		CompanyName: company,
		JobTitle:    title,
		Stage:       models.StageApplied,
	}
}

func msg(id string) models.EmailMessage {
	return models.EmailMessage{
		MessageID:  id,
		Subject:    "subject " + id,
		Sender:     "careers@acme.com",
		Body:       "body " + id,
		ReceivedAt: time.Now().UTC(),
	}
}

func runLoop(t *testing.T, l *Loop, msgs []models.EmailMessage, existing map[string]bool, w Writer) Counts {
	t.Helper()
	counts, err := l.Run(context.Background(), 1, msgs, existing, NewDetector(), w, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return counts
}

func TestRunCreatesApplications(t *testing.T) {
	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": confirmationState("Acme", "Senior Engineer"),
		"m2": confirmationState("Globex", "Data Engineer"),
	}}
	w := &fakeWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 1})

	counts := runLoop(t, l, []models.EmailMessage{msg("m1"), msg("m2")}, nil, w)

	if counts.Created != 2 || counts.Errors != 0 {
		t.Errorf("counts = %+v", counts)
	}
	if len(w.apps) != 2 || len(w.logs) != 2 {
		t.Errorf("apps=%d logs=%d", len(w.apps), len(w.logs))
	}
	if !w.finished {
		t.Error("Finish not called")
	}
	for _, app := range w.apps {
		if app.Status != models.StatusApplied {
			t.Errorf("status = %q", app.Status)
		}
		if app.ContentHash == "" {
			t.Error("content hash not set")
		}
	}
}

func TestRunSkipsExistingByProviderID(t *testing.T) {
	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": confirmationState("Acme", "Senior Engineer"),
	}}
	w := &fakeWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 1})

	// Same message twice in one fetch; second occurrence caught by the
	// unique index and counted as existing.
	w.failCreate = map[string][]error{}
	counts, err := l.Run(context.Background(), 1,
		[]models.EmailMessage{msg("m1"), msg("m2")},
		map[string]bool{"m2": true}, NewDetector(), w, nil)
	if err != nil {
		t.Fatal(err)
	}

	if counts.Created != 1 || counts.SkippedExisting != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if len(w.apps) != 1 {
		t.Errorf("apps = %d, want 1", len(w.apps))
	}
}

func TestRunSameProviderIDTwiceInOneSync(t *testing.T) {
	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": confirmationState("Acme", "Senior Engineer"),
	}}
	w := &fakeWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 1})

	counts := runLoop(t, l, []models.EmailMessage{msg("m1"), msg("m1")}, nil, w)

	if counts.Created != 1 || counts.SkippedExisting != 1 || counts.SkippedDuplicate != 0 {
		t.Errorf("counts = %+v", counts)
	}
	if len(w.apps) != 1 || len(w.logs) != 1 {
		t.Errorf("apps=%d logs=%d, want exactly one of each", len(w.apps), len(w.logs))
	}
}

func TestRunSkipsDuplicateCompanyTitle(t *testing.T) {
	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": confirmationState("Acme", "Senior Engineer"),
		"m2": confirmationState("Acme", "Senior Engineer"),
	}}
	w := &fakeWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 1, BatchSize: 25})

	counts := runLoop(t, l, []models.EmailMessage{msg("m1"), msg("m2")}, nil, w)

	if counts.Created != 1 || counts.SkippedDuplicate != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if len(w.apps) != 1 {
		t.Errorf("apps = %d, want 1", len(w.apps))
	}
	// Both messages still get email logs.
	if len(w.logs) != 2 {
		t.Errorf("logs = %d, want 2", len(w.logs))
	}
}

func TestRunDuplicateCheckOnlyForApplicationClasses(t *testing.T) {
	alert := models.EmailState{
		Category:    models.CategoryJobAlerts,
		Confidence:  0.9,
		CompanyName: "Acme",
		Stage:       models.StageOther,
	}
	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": alert,
		"m2": alert,
	}}
	w := &fakeWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 1})

	counts := runLoop(t, l, []models.EmailMessage{msg("m1"), msg("m2")}, nil, w)
	if counts.Created != 2 || counts.SkippedDuplicate != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestRunCacheHitSkipsClassification(t *testing.T) {
	m := msg("m1")
	hash := cache.ContentHash(m.Subject, m.Sender, m.Body)

	fc := &fakeCache{entries: map[string]*cache.Entry{
		hash: {
			ContentHash: hash,
			Category:    models.CategoryApplicationConfirmation,
			Confidence:  0.9,
			CompanyName: "Acme",
			JobTitle:    "Senior Engineer",
			Stage:       models.StageApplied,
		},
	}}
	cls := &fakeClassifier{}
	w := &fakeWriter{}
	l := New(cls, fc, Config{Workers: 1})

	counts := runLoop(t, l, []models.EmailMessage{m}, nil, w)

	if cls.calls != 0 {
		t.Errorf("classifier called %d times on cache hit", cls.calls)
	}
	if counts.Created != 1 {
		t.Errorf("counts = %+v", counts)
	}
	if len(w.apps) != 1 || w.apps[0].Category != models.CategoryApplicationConfirmation {
		t.Errorf("apps = %+v", w.apps)
	}
}

func TestRunFreshResultWrittenToFastCache(t *testing.T) {
	m := msg("m1")
	hash := cache.ContentHash(m.Subject, m.Sender, m.Body)

	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": confirmationState("Acme", "Senior Engineer"),
	}}
	fc := &fakeCache{}
	w := &fakeWriter{}
	l := New(cls, fc, Config{Workers: 1})

	runLoop(t, l, []models.EmailMessage{m}, nil, w)

	if len(fc.l1) != 1 || fc.l1[0].ContentHash != hash {
		t.Fatalf("fast-tier writes = %+v, want one for %s", fc.l1, hash)
	}
	if fc.l1[0].Category != models.CategoryApplicationConfirmation {
		t.Errorf("cached category = %q", fc.l1[0].Category)
	}
}

func TestRunCacheHitNotRewrittenToFastCache(t *testing.T) {
	m := msg("m1")
	hash := cache.ContentHash(m.Subject, m.Sender, m.Body)
	fc := &fakeCache{entries: map[string]*cache.Entry{
		hash: {ContentHash: hash, Category: models.CategoryJobAlerts, Stage: models.StageOther},
	}}
	w := &fakeWriter{}
	l := New(&fakeClassifier{}, fc, Config{Workers: 1})

	runLoop(t, l, []models.EmailMessage{m}, nil, w)

	if len(fc.l1) != 0 {
		t.Errorf("fast-tier writes = %d on a cache hit, want 0", len(fc.l1))
	}
}

func TestRunLLMFailureCountedAsError(t *testing.T) {
	failed := models.EmailState{
		Category:   models.CategoryPromotionalMarketing,
		Confidence: 0,
		Errors:     []string{"classify_error: rate limited"},
	}
	cls := &fakeClassifier{byID: map[string]models.EmailState{"m1": failed}}
	w := &fakeWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 1})

	counts := runLoop(t, l, []models.EmailMessage{msg("m1")}, nil, w)

	if counts.Errors != 1 || counts.Created != 0 {
		t.Errorf("counts = %+v", counts)
	}
	if len(w.apps) != 0 {
		t.Error("application created for failed classification")
	}
	if len(w.logs) != 1 || w.logs[0].Error == "" {
		t.Errorf("logs = %+v", w.logs)
	}
}

func TestRunUniqueViolationCountsExisting(t *testing.T) {
	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": confirmationState("Acme", "Senior Engineer"),
	}}
	w := &fakeWriter{failCreate: map[string][]error{
		"m1": {store.ErrDuplicate},
	}}
	l := New(cls, &fakeCache{}, Config{Workers: 1})

	counts := runLoop(t, l, []models.EmailMessage{msg("m1")}, nil, w)
	if counts.SkippedExisting != 1 || counts.Created != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestRunContentionRetried(t *testing.T) {
	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": confirmationState("Acme", "Senior Engineer"),
	}}
	w := &fakeWriter{failCreate: map[string][]error{
		"m1": {store.ErrContention, store.ErrContention},
	}}
	l := New(cls, &fakeCache{}, Config{Workers: 1})

	counts := runLoop(t, l, []models.EmailMessage{msg("m1")}, nil, w)
	if counts.Created != 1 {
		t.Errorf("counts = %+v, want created after retries", counts)
	}
}

func TestRunCommitsEveryBatch(t *testing.T) {
	byID := map[string]models.EmailState{}
	var msgs []models.EmailMessage
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		byID[id] = confirmationState("Co "+id, "Engineer "+id)
		msgs = append(msgs, msg(id))
	}
	cls := &fakeClassifier{byID: byID}
	w := &fakeWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 1, CommitSize: 2})

	counts := runLoop(t, l, msgs, nil, w)
	if counts.Created != 5 {
		t.Fatalf("counts = %+v", counts)
	}
	// 5 savepoints, commit every 2: flushes after #2 and #4.
	if w.flushes != 2 {
		t.Errorf("flushes = %d, want 2", w.flushes)
	}
	if !w.finished {
		t.Error("Finish not called for the tail")
	}
}

// failingWriter rejects every application write with a fatal error.
type failingWriter struct {
	mu      sync.Mutex
	aborted bool
}

func (w *failingWriter) CreateApplication(context.Context, cache.Entry, models.Application, models.EmailLog) error {
	return errors.New("disk full")
}
func (w *failingWriter) RecordResult(context.Context, cache.Entry, models.EmailLog) error {
	return errors.New("disk full")
}
func (w *failingWriter) Flush(context.Context) error  { return nil }
func (w *failingWriter) Finish(context.Context) error { return nil }
func (w *failingWriter) Abort(context.Context) {
	w.mu.Lock()
	w.aborted = true
	w.mu.Unlock()
}

func TestRunWriterFailureStopsWorkers(t *testing.T) {
	byID := map[string]models.EmailState{}
	var msgs []models.EmailMessage
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("m%d", i)
		byID[id] = confirmationState("Co "+id, "Engineer "+id)
		msgs = append(msgs, msg(id))
	}
	cls := &fakeClassifier{byID: byID}
	w := &failingWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 4, BatchSize: 5})

	before := runtime.NumGoroutine()
	_, err := l.Run(context.Background(), 1, msgs, nil, NewDetector(), w, nil)
	if err == nil {
		t.Fatal("expected write error")
	}
	w.mu.Lock()
	aborted := w.aborted
	w.mu.Unlock()
	if !aborted {
		t.Error("Abort not called on fatal write error")
	}

	// Workers must all unwind once the run returns.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runtime.NumGoroutine(); got > before {
		t.Errorf("goroutines = %d after failed run, want <= %d", got, before)
	}
}

func TestRunProgressReported(t *testing.T) {
	cls := &fakeClassifier{byID: map[string]models.EmailState{
		"m1": confirmationState("Acme", "Senior Engineer"),
	}}
	w := &fakeWriter{}
	l := New(cls, &fakeCache{}, Config{Workers: 1})

	var last Counts
	_, err := l.Run(context.Background(), 1, []models.EmailMessage{msg("m1")}, nil,
		NewDetector(), w, func(c Counts, _ string) { last = c })
	if err != nil {
		t.Fatal(err)
	}
	if last.Total != 1 || last.Processed != 1 {
		t.Errorf("last progress = %+v", last)
	}
}
