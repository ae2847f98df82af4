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

	"github.com/jackc/pgx/v5"

	"github.com/jobtrail/ingestion/internal/models"
)

// GetUser returns a user by ID, or nil when absent.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, google_id, name, created_at
		FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetUserByEmail returns a user by email, or nil when absent.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, google_id, name, created_at
		FROM users WHERE email = $1
	`, email)
	return scanUser(row)
}

// UpsertGoogleUser creates or updates a user from a Google sign-in,
// keyed on email.
func (s *Store) UpsertGoogleUser(ctx context.Context, email, googleID, name string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, google_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			google_id = EXCLUDED.google_id,
			name      = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END
		RETURNING id, email, password_hash, google_id, name, created_at
	`, email, googleID, name)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.GoogleID, &u.Name, &u.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
