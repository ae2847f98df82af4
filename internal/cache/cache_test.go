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

package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jobtrail/ingestion/internal/models"
)

type fakeLayer struct {
	entries map[string]Entry
	lookupN int
	saveN   int
	err     error
}

func newFakeLayer() *fakeLayer {
	return &fakeLayer{entries: make(map[string]Entry)}
}

func (f *fakeLayer) Lookup(_ context.Context, userID int64, hash string) (*Entry, error) {
	f.lookupN++
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.entries[key(userID, hash)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeLayer) Save(_ context.Context, userID int64, e Entry) error {
	f.saveN++
	if f.err != nil {
		return f.err
	}
	f.entries[key(userID, e.ContentHash)] = e
	return nil
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash("subject", "sender@acme.com", "body")
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(h1))
	}
	if h1 != ContentHash("subject", "sender@acme.com", "body") {
		t.Error("hash not deterministic")
	}
	if h1 == ContentHash("subject2", "sender@acme.com", "body") {
		t.Error("subject not part of hash")
	}
	if h1 == ContentHash("subject", "other@acme.com", "body") {
		t.Error("sender not part of hash")
	}
	if h1 == ContentHash("subject", "sender@acme.com", "body2") {
		t.Error("body not part of hash")
	}

	// Only the first MaxBodyHashed bytes of the body participate.
	long := strings.Repeat("x", models.MaxBodyHashed)
	if ContentHash("s", "f", long+"tail") != ContentHash("s", "f", long+"different") {
		t.Error("bodies differing past the hash window should hash identically")
	}
	if ContentHash("s", "f", long+"tail") != ContentHash("s", "f", long) {
		t.Error("body beyond hash window changed the hash")
	}
}

func TestCacheMissThenHit(t *testing.T) {
	ctx := context.Background()
	l2 := newFakeLayer()
	c := New(nil, l2) // L1 disabled

	hash := ContentHash("s", "f", "b")
	got, err := c.Get(ctx, 1, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}

	state := models.EmailState{
		Category:       models.CategoryApplicationConfirmation,
		Confidence:     0.9,
		CompanyName:    "Acme",
		JobTitle:       "SWE",
		Stage:          models.StageApplied,
		RequiresAction: false,
		ProcessedBy:    "gpt-4o-mini",
	}
	if err := l2.Save(ctx, 1, EntryFromState(hash, state)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err = c.Get(ctx, 1, hash)
	if err != nil {
		t.Fatalf("Get after Save: %v", err)
	}
	if got == nil {
		t.Fatal("expected hit after durable write")
	}
	if got.Category != models.CategoryApplicationConfirmation || got.CompanyName != "Acme" {
		t.Errorf("entry = %+v", got)
	}
}

func TestCacheIsPerUser(t *testing.T) {
	ctx := context.Background()
	l2 := newFakeLayer()
	c := New(nil, l2)

	hash := ContentHash("s", "f", "b")
	if err := l2.Save(ctx, 1, EntryFromState(hash, models.EmailState{Category: models.CategoryJobAlerts})); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, 2, hash)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("user 2 saw user 1's cache entry")
	}
}

func TestCacheL2ErrorPropagates(t *testing.T) {
	ctx := context.Background()
	l2 := newFakeLayer()
	l2.err = errors.New("connection refused")
	c := New(nil, l2)

	if _, err := c.Get(ctx, 1, "deadbeef"); err == nil {
		t.Error("Get swallowed L2 error")
	}
}

func TestPutL1WithoutRedisIsNoop(t *testing.T) {
	c := New(nil, newFakeLayer())
	c.PutL1(context.Background(), 1, Entry{ContentHash: "deadbeef"})
}

func TestApplyToRestoresState(t *testing.T) {
	e := Entry{
		Category:       models.CategoryInterviewAssessment,
		Confidence:     0.88,
		Reasoning:      "invite",
		CompanyName:    "Acme",
		JobTitle:       "SWE",
		Stage:          models.StageInterview,
		RequiresAction: true,
		ActionItems:    []string{"Complete assessment or schedule interview"},
		ProcessedBy:    "gpt-4o-mini",
	}

	var s models.EmailState
	e.ApplyTo(&s)

	if s.Category != e.Category || s.Stage != e.Stage || !s.RequiresAction {
		t.Errorf("state = %+v", s)
	}
	if len(s.ActionItems) != 1 {
		t.Errorf("action items = %v", s.ActionItems)
	}

	// The copy must be independent of the entry's slice.
	s.ActionItems[0] = "mutated"
	if e.ActionItems[0] == "mutated" {
		t.Error("ApplyTo aliased the entry's ActionItems slice")
	}
}
