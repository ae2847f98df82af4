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

// Package oauthflow implements the two Google OAuth round-trips: mailbox
// authorization for an existing user, and sign-in that provisions the
// user. State tokens are single-use and stored server-side.
package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	gauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/jobtrail/ingestion/internal/models"
	"github.com/jobtrail/ingestion/internal/store"
)

var (
	// ErrInvalidState means the callback carried an unknown, expired, or
	// already-used state token.
	ErrInvalidState = errors.New("oauth: invalid or expired state")

	// ErrMissingUser means a mailbox-kind state arrived without a bound
	// user id. States are written by us, so this indicates tampering.
	ErrMissingUser = errors.New("oauth: state has no bound user")
)

// Scopes are the Google scopes both round-trips request: mailbox read,
// label modification for marking processed mail, and the identity scopes
// for sign-in.
func Scopes() []string {
	return []string{
		gmail.GmailReadonlyScope,
		gmail.GmailModifyScope,
		gauth.UserinfoEmailScope,
		gauth.UserinfoProfileScope,
	}
}

// StateStore persists single-use OAuth state tokens.
type StateStore interface {
	PutOAuthState(ctx context.Context, st store.OAuthState) error
	ConsumeOAuthState(ctx context.Context, token string) (*store.OAuthState, error)
}

// Users provisions accounts from Google sign-in.
type Users interface {
	UpsertGoogleUser(ctx context.Context, email, googleID, name string) (*models.User, error)
}

// TokenSink receives the exchanged mailbox token. Implemented by
// tokenvault.Vault.
type TokenSink interface {
	Put(userID int64, tok *oauth2.Token) error
}

// Flow runs both OAuth round-trips against one oauth2.Config.
type Flow struct {
	cfg    *oauth2.Config
	states StateStore
	users  Users
	tokens TokenSink

	// userinfoOpts overrides the Google userinfo endpoint in tests.
	userinfoOpts []option.ClientOption
}

// New creates a flow. cfg must carry the Gmail readonly scope for mailbox
// authorization; sign-in only needs the identity scopes.
func New(cfg *oauth2.Config, states StateStore, users Users, tokens TokenSink) *Flow {
	return &Flow{cfg: cfg, states: states, users: users, tokens: tokens}
}

// AuthURL mints a single-use state token and returns the Google consent
// URL to redirect the browser to. userID is required for the mailbox kind
// and ignored for login. redirectURL, when set, is carried through the
// round-trip so the callback can send the browser back where it started.
func (f *Flow) AuthURL(ctx context.Context, kind string, userID *int64, redirectURL string) (string, error) {
	if kind == store.OAuthKindMailbox && userID == nil {
		return "", ErrMissingUser
	}

	st := store.OAuthState{
		Token:       uuid.NewString(),
		Kind:        kind,
		UserID:      userID,
		RedirectURL: redirectURL,
		ExpiresAt:   time.Now().UTC().Add(store.OAuthStateTTL),
	}
	if err := f.states.PutOAuthState(ctx, st); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}

	// AccessTypeOffline plus consent prompt so Google returns a refresh
	// token even on re-authorization.
	return f.cfg.AuthCodeURL(st.Token,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// CallbackResult is the outcome of a completed round-trip.
type CallbackResult struct {
	Kind        string
	UserID      int64
	User        *models.User // set for login-kind callbacks
	RedirectURL string       // carried from kickoff; "" means no preference
}

// HandleCallback consumes the state token and exchanges the authorization
// code. Mailbox-kind callbacks store the token for the bound user;
// login-kind callbacks resolve the Google identity, upsert the user, and
// store the token under the resulting account.
func (f *Flow) HandleCallback(ctx context.Context, stateToken, code string) (*CallbackResult, error) {
	st, err := f.states.ConsumeOAuthState(ctx, stateToken)
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if st == nil {
		return nil, ErrInvalidState
	}

	tok, err := f.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	switch st.Kind {
	case store.OAuthKindMailbox:
		if st.UserID == nil {
			return nil, ErrMissingUser
		}
		if err := f.tokens.Put(*st.UserID, tok); err != nil {
			return nil, fmt.Errorf("store mailbox token: %w", err)
		}
		slog.Info("mailbox authorized", "user_id", *st.UserID)
		return &CallbackResult{Kind: st.Kind, UserID: *st.UserID, RedirectURL: st.RedirectURL}, nil

	case store.OAuthKindLogin:
		info, err := f.fetchUserinfo(ctx, tok)
		if err != nil {
			return nil, fmt.Errorf("fetch google identity: %w", err)
		}
		user, err := f.users.UpsertGoogleUser(ctx, info.Email, info.Id, info.Name)
		if err != nil {
			return nil, fmt.Errorf("upsert user: %w", err)
		}
		if err := f.tokens.Put(user.ID, tok); err != nil {
			return nil, fmt.Errorf("store mailbox token: %w", err)
		}
		slog.Info("user signed in", "user_id", user.ID, "email", user.Email)
		return &CallbackResult{Kind: st.Kind, UserID: user.ID, User: user, RedirectURL: st.RedirectURL}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidState, st.Kind)
	}
}

func (f *Flow) fetchUserinfo(ctx context.Context, tok *oauth2.Token) (*gauth.Userinfo, error) {
	opts := append([]option.ClientOption{
		option.WithTokenSource(f.cfg.TokenSource(ctx, tok)),
	}, f.userinfoOpts...)

	svc, err := gauth.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if info.Email == "" {
		return nil, errors.New("google identity has no email")
	}
	return info, nil
}
