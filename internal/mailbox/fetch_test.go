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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobtrail/ingestion/internal/models"
)

// fakeClient serves canned ids per query substring and canned messages.
type fakeClient struct {
	mu        sync.Mutex
	byQuery   map[string][]string // query substring -> ids
	failQuery string              // query substring that errors
	messages  map[string]models.EmailMessage
	history   []string
	cursorErr error
	newCursor string
}

func (f *fakeClient) ListMessageIDs(_ context.Context, query string, maxResults int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failQuery != "" && strings.Contains(query, f.failQuery) {
		return nil, errors.New("query exploded")
	}
	for sub, ids := range f.byQuery {
		if strings.Contains(query, sub) {
			if len(ids) > maxResults {
				return ids[:maxResults], nil
			}
			return ids, nil
		}
	}
	return nil, nil
}

func (f *fakeClient) GetMessage(_ context.Context, id string) (models.EmailMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return models.EmailMessage{}, errors.New("no such message")
	}
	return msg, nil
}

func (f *fakeClient) ListHistory(_ context.Context, cursor string) ([]string, string, error) {
	if f.cursorErr != nil {
		return nil, "", f.cursorErr
	}
	return f.history, f.newCursor, nil
}

func (f *fakeClient) CurrentCursor(context.Context) (string, error) {
	return f.newCursor, nil
}

func factoryOf(c Client) Factory {
	return func(context.Context, int64) (Client, error) { return c, nil }
}

func msgFixture(id string) models.EmailMessage {
	return models.EmailMessage{
		MessageID:  id,
		Subject:    "subject " + id,
		Sender:     "sender@acme.com",
		Body:       "body",
		ReceivedAt: time.Now().UTC(),
	}
}

func TestFetchFullFusesByMessageID(t *testing.T) {
	// Two query families return overlapping ids; each message must appear
	// exactly once.
	client := &fakeClient{
		byQuery: map[string][]string{
			"subject:(application": {"m1", "m2"},
			"subject:(interview":   {"m2", "m3"},
		},
		messages: map[string]models.EmailMessage{
			"m1": msgFixture("m1"), "m2": msgFixture("m2"), "m3": msgFixture("m3"),
		},
	}

	f := NewFetcher(factoryOf(client), 2000, 7)
	msgs, err := f.FetchFull(context.Background(), 1, time.Now().AddDate(0, 0, -90), time.Time{})
	if err != nil {
		t.Fatalf("FetchFull: %v", err)
	}

	seen := map[string]int{}
	for _, m := range msgs {
		seen[m.MessageID]++
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		if seen[id] != 1 {
			t.Errorf("message %s fetched %d times", id, seen[id])
		}
	}
	if len(msgs) != 3 {
		t.Errorf("got %d messages, want 3", len(msgs))
	}
}

func TestFetchFullToleratesSingleQueryFailure(t *testing.T) {
	client := &fakeClient{
		byQuery:   map[string][]string{"subject:(application": {"m1"}},
		failQuery: "subject:(interview",
		messages:  map[string]models.EmailMessage{"m1": msgFixture("m1")},
	}

	f := NewFetcher(factoryOf(client), 2000, 7)
	msgs, err := f.FetchFull(context.Background(), 1, time.Now(), time.Time{})
	if err != nil {
		t.Fatalf("FetchFull should tolerate one failing query: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "m1" {
		t.Errorf("msgs = %v", msgs)
	}
}

func TestFetchFullFailsWhenFactoryFails(t *testing.T) {
	wantErr := errors.New("no token")
	factory := func(context.Context, int64) (Client, error) { return nil, wantErr }

	f := NewFetcher(factory, 2000, 7)
	if _, err := f.FetchFull(context.Background(), 1, time.Now(), time.Time{}); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestFetchFullMaxPerQuery(t *testing.T) {
	ids := make([]string, 10)
	messages := map[string]models.EmailMessage{}
	for i := range ids {
		id := string(rune('a' + i))
		ids[i] = id
		messages[id] = msgFixture(id)
	}
	client := &fakeClient{
		byQuery:  map[string][]string{"subject:(application": ids},
		messages: messages,
	}

	f := NewFetcher(factoryOf(client), 3, 7)
	msgs, err := f.FetchFull(context.Background(), 1, time.Now(), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Errorf("got %d messages, want per-query cap of 3", len(msgs))
	}
}

func TestFetchDelta(t *testing.T) {
	client := &fakeClient{
		history:   []string{"m1", "m2"},
		newCursor: "12345",
		messages: map[string]models.EmailMessage{
			"m1": msgFixture("m1"), "m2": msgFixture("m2"),
		},
	}

	f := NewFetcher(factoryOf(client), 2000, 7)
	msgs, cursor, err := f.FetchDelta(context.Background(), 1, "11111")
	if err != nil {
		t.Fatalf("FetchDelta: %v", err)
	}
	if cursor != "12345" {
		t.Errorf("cursor = %q", cursor)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages", len(msgs))
	}
}

func TestFetchDeltaSkipsUnfetchableMessages(t *testing.T) {
	client := &fakeClient{
		history:   []string{"m1", "gone"},
		newCursor: "2",
		messages:  map[string]models.EmailMessage{"m1": msgFixture("m1")},
	}

	f := NewFetcher(factoryOf(client), 2000, 7)
	msgs, _, err := f.FetchDelta(context.Background(), 1, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "m1" {
		t.Errorf("msgs = %v", msgs)
	}
}

func TestFetchDeltaCursorTooOld(t *testing.T) {
	client := &fakeClient{cursorErr: ErrCursorTooOld}

	f := NewFetcher(factoryOf(client), 2000, 7)
	if _, _, err := f.FetchDelta(context.Background(), 1, "1"); !errors.Is(err, ErrCursorTooOld) {
		t.Errorf("err = %v, want ErrCursorTooOld", err)
	}
}

func TestFullSyncQueries(t *testing.T) {
	after := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	queries := FullSyncQueries(after, time.Time{})
	if len(queries) != 7 {
		t.Fatalf("got %d queries, want 7", len(queries))
	}
	for _, q := range queries {
		if !strings.HasPrefix(q, "after:2026/05/01 ") {
			t.Errorf("query missing date window: %q", q)
		}
		if strings.Contains(q, "before:") {
			t.Errorf("unbounded window grew a before term: %q", q)
		}
	}
}

func TestFullSyncQueriesBeforeBound(t *testing.T) {
	after := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, q := range FullSyncQueries(after, before) {
		if !strings.HasPrefix(q, "after:2026/05/01 before:2026/06/01 ") {
			t.Errorf("query missing bounded window: %q", q)
		}
	}
}
