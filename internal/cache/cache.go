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

// Package cache implements the two-tier classification cache keyed by
// content hash: Redis (L1, 7-day TTL, best effort) in front of Postgres
// (L2, durable). A hit in either tier means the message body was already
// classified and the LLM call can be skipped.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobtrail/ingestion/internal/models"
)

const (
	// DefaultTTL is how long an L1 entry lives. L2 has no expiry.
	DefaultTTL = 7 * 24 * time.Hour

	// keyPrefix namespaces classification keys in Redis.
	keyPrefix = "class:"
)

// ContentHash fingerprints a message for cache lookup: SHA-256 over
// subject, sender, and the first 5000 bytes of the body. Messages differing
// only deep in the body hash the same, which is acceptable for templated
// recruiting email.
func ContentHash(subject, sender, body string) string {
	body = models.Truncate(body, models.MaxBodyHashed)
	sum := sha256.Sum256([]byte(strings.Join([]string{subject, sender, body}, "|")))
	return hex.EncodeToString(sum[:])
}

// Entry is a cached classification result. Deterministic downstream nodes
// (stage, actions) are cached alongside the LLM output so a hit restores
// the complete state.
type Entry struct {
	ContentHash    string    `json:"content_hash"`
	Category       string    `json:"category"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	NeedsReview    bool      `json:"needs_review"`
	CompanyName    string    `json:"company_name"`
	JobTitle       string    `json:"job_title"`
	PositionLevel  string    `json:"position_level"`
	Stage          string    `json:"stage"`
	RequiresAction bool      `json:"requires_action"`
	ActionItems    []string  `json:"action_items,omitempty"`
	ProcessedBy    string    `json:"processed_by"`
	CachedAt       time.Time `json:"cached_at"`
}

// EntryFromState snapshots a pipeline result for caching.
func EntryFromState(hash string, s models.EmailState) Entry {
	return Entry{
		ContentHash:    hash,
		Category:       s.Category,
		Confidence:     s.Confidence,
		Reasoning:      s.Reasoning,
		NeedsReview:    s.NeedsReview,
		CompanyName:    s.CompanyName,
		JobTitle:       s.JobTitle,
		PositionLevel:  s.PositionLevel,
		Stage:          s.Stage,
		RequiresAction: s.RequiresAction,
		ActionItems:    s.ActionItems,
		ProcessedBy:    s.ProcessedBy,
		CachedAt:       time.Now().UTC(),
	}
}

// ApplyTo writes the cached result onto a fresh state for the message
// being processed.
func (e Entry) ApplyTo(s *models.EmailState) {
	s.Category = e.Category
	s.Confidence = e.Confidence
	s.Reasoning = e.Reasoning
	s.NeedsReview = e.NeedsReview
	s.CompanyName = e.CompanyName
	s.JobTitle = e.JobTitle
	s.PositionLevel = e.PositionLevel
	s.Stage = e.Stage
	s.RequiresAction = e.RequiresAction
	s.ActionItems = append([]string(nil), e.ActionItems...)
	s.ProcessedBy = e.ProcessedBy
}

// Layer is the durable L2 tier, implemented by the Postgres store.
// Lookup returns (nil, nil) on a miss.
type Layer interface {
	Lookup(ctx context.Context, userID int64, hash string) (*Entry, error)
	Save(ctx context.Context, userID int64, e Entry) error
}

// Cache is the two-tier classification cache. The Redis client may be nil,
// in which case only L2 is consulted; Redis errors are logged and treated
// as misses. L2 errors propagate: a broken database is not a cache miss.
type Cache struct {
	rdb *redis.Client
	l2  Layer
	ttl time.Duration
}

// New creates a cache over an optional Redis client and a durable layer.
func New(rdb *redis.Client, l2 Layer) *Cache {
	return &Cache{rdb: rdb, l2: l2, ttl: DefaultTTL}
}

func key(userID int64, hash string) string {
	return fmt.Sprintf("%s%d:%s", keyPrefix, userID, hash)
}

// Get looks up a classification by content hash: L1 first, then L2. An L2
// hit repopulates L1 (best effort).
func (c *Cache) Get(ctx context.Context, userID int64, hash string) (*Entry, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, key(userID, hash)).Result()
		switch {
		case err == nil:
			var e Entry
			if jerr := json.Unmarshal([]byte(raw), &e); jerr == nil {
				return &e, nil
			}
			slog.Warn("cache L1 entry corrupt, falling through", "user_id", userID, "hash", hash)
		case err != redis.Nil:
			slog.Warn("cache L1 read failed", "user_id", userID, "error", err)
		}
	}

	e, err := c.l2.Lookup(ctx, userID, hash)
	if err != nil {
		return nil, fmt.Errorf("cache L2 lookup: %w", err)
	}
	if e == nil {
		return nil, nil
	}

	c.setL1(ctx, userID, *e)
	return e, nil
}

// PutL1 stores an entry in the fast tier only, best effort. The durable
// tier is written by the ingestion transaction alongside the application
// row, so a separate L2 write here would race the open savepoint.
func (c *Cache) PutL1(ctx context.Context, userID int64, e Entry) {
	c.setL1(ctx, userID, e)
}

func (c *Cache) setL1(ctx context.Context, userID int64, e Entry) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(userID, e.ContentHash), raw, c.ttl).Err(); err != nil {
		slog.Warn("cache L1 write failed", "user_id", userID, "error", err)
	}
}
