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

// Package tokenvault stores per-user OAuth tokens on disk. One file per
// user at ${TOKEN_DIR}/token_<user_id>, mode 0600. Written by the OAuth
// callback, read by the mailbox fetcher.
package tokenvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// ErrAuthRequired means the user has no usable token: the file is missing,
// or the token expired with no refresh path. The caller should surface a
// reauthorize action instead of blocking on an interactive flow.
var ErrAuthRequired = errors.New("mailbox authorization required")

// Vault reads and writes per-user OAuth token files.
type Vault struct {
	dir string

	// legacyPath is used when dir is empty: one shared token file
	// (single-user mode, kept for backward compatibility).
	legacyPath string

	// oauthCfg is used to refresh expired tokens on read. May be nil,
	// in which case expired tokens are returned as-is and the provider
	// client refreshes lazily.
	oauthCfg *oauth2.Config
}

// New creates a vault rooted at dir. When dir is empty the vault operates
// in legacy single-file mode at legacyPath.
func New(dir, legacyPath string, oauthCfg *oauth2.Config) *Vault {
	return &Vault{dir: dir, legacyPath: legacyPath, oauthCfg: oauthCfg}
}

// PerUser reports whether the vault holds one token per user.
func (v *Vault) PerUser() bool { return v.dir != "" }

func (v *Vault) path(userID int64) string {
	if v.dir == "" {
		return v.legacyPath
	}
	return filepath.Join(v.dir, fmt.Sprintf("token_%d", userID))
}

// Put writes the token for a user, creating the vault directory if needed.
func (v *Vault) Put(userID int64, tok *oauth2.Token) error {
	path := v.path(userID)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}

	slog.Info("token stored", "user_id", userID)
	return nil
}

// Get returns the stored token for a user, refreshing it first when it has
// expired and carries a refresh credential. A refreshed token is written
// back so subsequent reads skip the refresh round-trip.
//
// Returns ErrAuthRequired when no token exists or the refresh fails.
func (v *Vault) Get(ctx context.Context, userID int64) (*oauth2.Token, error) {
	data, err := os.ReadFile(v.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrAuthRequired
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}

	if tok.Valid() || v.oauthCfg == nil {
		return &tok, nil
	}

	if tok.RefreshToken == "" {
		return nil, ErrAuthRequired
	}

	fresh, err := v.oauthCfg.TokenSource(ctx, &tok).Token()
	if err != nil {
		slog.Warn("token refresh failed", "user_id", userID, "error", err)
		return nil, ErrAuthRequired
	}

	if fresh.AccessToken != tok.AccessToken {
		if err := v.Put(userID, fresh); err != nil {
			slog.Warn("failed to persist refreshed token", "user_id", userID, "error", err)
		}
	}

	return fresh, nil
}

// Delete removes the token for a user (explicit revocation).
func (v *Vault) Delete(userID int64) error {
	err := os.Remove(v.path(userID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete token file: %w", err)
	}
	slog.Info("token deleted", "user_id", userID)
	return nil
}
