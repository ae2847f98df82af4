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
	"time"

	"github.com/jackc/pgx/v5"
)

// OAuth state kinds: what flow the callback should complete.
const (
	OAuthKindMailbox = "mailbox" // connect a mailbox for an existing user
	OAuthKindLogin   = "login"   // sign in / sign up via Google
)

// OAuthStateTTL bounds the window between kickoff and callback.
const OAuthStateTTL = 15 * time.Minute

// OAuthState is a single-use CSRF token minted at OAuth kickoff and
// consumed exactly once by the callback.
type OAuthState struct {
	Token       string
	Kind        string
	UserID      *int64
	RedirectURL string // where to send the browser after the callback
	ExpiresAt   time.Time
}

// PutOAuthState stores a freshly minted state token. Expired rows are
// swept opportunistically on every mint.
func (s *Store) PutOAuthState(ctx context.Context, st OAuthState) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM oauth_states WHERE expires_at < NOW()
	`); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_states (token, kind, user_id, redirect_url, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, st.Token, st.Kind, st.UserID, st.RedirectURL, st.ExpiresAt)
	return err
}

// ConsumeOAuthState atomically deletes and returns the state for a token.
// Returns nil when the token is unknown, already consumed, or expired:
// a replayed callback gets nothing.
func (s *Store) ConsumeOAuthState(ctx context.Context, token string) (*OAuthState, error) {
	row := s.pool.QueryRow(ctx, `
		DELETE FROM oauth_states
		WHERE token = $1 AND expires_at > NOW()
		RETURNING token, kind, user_id, redirect_url, expires_at
	`, token)

	var st OAuthState
	err := row.Scan(&st.Token, &st.Kind, &st.UserID, &st.RedirectURL, &st.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
