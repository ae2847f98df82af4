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

	"github.com/jackc/pgx/v5"

	"github.com/jobtrail/ingestion/internal/cache"
	"github.com/jobtrail/ingestion/internal/models"
	"github.com/jobtrail/ingestion/internal/store"
)

// sessionWriter adapts a store.IngestSession to the Writer interface.
// Each call wraps its writes in one savepoint.
type sessionWriter struct {
	session *store.IngestSession
	userID  int64
}

// NewSessionWriter wraps an open ingestion session for one user.
func NewSessionWriter(session *store.IngestSession, userID int64) Writer {
	return &sessionWriter{session: session, userID: userID}
}

func (w *sessionWriter) CreateApplication(ctx context.Context, e cache.Entry, app models.Application, lg models.EmailLog) error {
	return w.session.WithSavepoint(ctx, func(tx pgx.Tx) error {
		if e.ContentHash != "" {
			if err := store.SaveCacheEntryTx(ctx, tx, w.userID, e); err != nil {
				return err
			}
		}
		if err := store.InsertApplicationTx(ctx, tx, app); err != nil {
			return err
		}
		return store.InsertEmailLogTx(ctx, tx, lg)
	})
}

func (w *sessionWriter) RecordResult(ctx context.Context, e cache.Entry, lg models.EmailLog) error {
	return w.session.WithSavepoint(ctx, func(tx pgx.Tx) error {
		if e.ContentHash != "" {
			if err := store.SaveCacheEntryTx(ctx, tx, w.userID, e); err != nil {
				return err
			}
		}
		return store.InsertEmailLogTx(ctx, tx, lg)
	})
}

func (w *sessionWriter) Flush(ctx context.Context) error {
	return w.session.Commit(ctx)
}

func (w *sessionWriter) Finish(ctx context.Context) error {
	return w.session.Close(ctx)
}

func (w *sessionWriter) Abort(ctx context.Context) {
	w.session.Rollback(ctx)
}
