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
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/jobtrail/ingestion/internal/cache"
)

// CacheLayer is the durable tier of the classification cache, backed by
// the classification_cache table. Implements cache.Layer.
type CacheLayer struct {
	s *Store
}

// Cache returns the durable classification-cache tier.
func (s *Store) Cache() *CacheLayer { return &CacheLayer{s: s} }

// Lookup returns the cached classification for (user, hash), or nil on a
// miss.
func (l *CacheLayer) Lookup(ctx context.Context, userID int64, hash string) (*cache.Entry, error) {
	var raw []byte
	err := l.s.pool.QueryRow(ctx, `
		SELECT result FROM classification_cache
		WHERE user_id = $1 AND content_hash = $2
	`, userID, hash).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var e cache.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Save upserts a classification result keyed on (user, hash).
func (l *CacheLayer) Save(ctx context.Context, userID int64, e cache.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = l.s.pool.Exec(ctx, `
		INSERT INTO classification_cache (user_id, content_hash, result)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, content_hash) DO UPDATE SET result = EXCLUDED.result
	`, userID, e.ContentHash, raw)
	return err
}

// SaveCacheEntryTx upserts a cache entry inside the ingestion transaction,
// so a rolled-back message does not leave a cache row behind.
func SaveCacheEntryTx(ctx context.Context, tx pgx.Tx, userID int64, e cache.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO classification_cache (user_id, content_hash, result)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, content_hash) DO UPDATE SET result = EXCLUDED.result
	`, userID, e.ContentHash, raw)
	return err
}
