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

// Package mailbox fetches and decodes messages from the user's Gmail
// account: paginated query fetch for full syncs, history-based delta fetch
// for incremental ones. The underlying client library is not safe for
// concurrent use, so parallel fetches construct one client per worker via
// a Factory.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jobtrail/ingestion/internal/models"
	"github.com/jobtrail/ingestion/internal/tokenvault"
)

// ErrCursorTooOld is returned by ListHistory when the provider no longer
// retains history back to the stored cursor. The caller falls back to a
// full sync.
var ErrCursorTooOld = errors.New("mailbox: history cursor too old")

// Client is the per-user mailbox handle. Implementations are NOT safe for
// concurrent use; parallel fetch paths get one client each from a Factory.
type Client interface {
	// ListMessageIDs returns ids of messages matching the query, paging
	// until exhaustion or maxResults.
	ListMessageIDs(ctx context.Context, query string, maxResults int) ([]string, error)

	// GetMessage fetches and decodes one full message.
	GetMessage(ctx context.Context, id string) (models.EmailMessage, error)

	// ListHistory walks history pages from the cursor, returning ids added
	// minus ids deleted, plus the new cursor. Returns ErrCursorTooOld when
	// the cursor can no longer be replayed.
	ListHistory(ctx context.Context, cursor string) (added []string, newCursor string, err error)

	// CurrentCursor returns the mailbox's present history cursor.
	CurrentCursor(ctx context.Context) (string, error)
}

// Factory builds a fresh client for a user. Called once per fetch worker.
type Factory func(ctx context.Context, userID int64) (Client, error)

// Options tunes page sizes and pagination guards.
type Options struct {
	ListPageSize    int64 // messages.list page size (default 100)
	HistoryPageSize int64 // history.list page size (default 100)
	MaxPages        int   // hard stop per query (default 50)
}

func (o *Options) defaults() {
	if o.ListPageSize <= 0 {
		o.ListPageSize = 100
	}
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = 100
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 50
	}
}

// NewGmailFactory returns a Factory that resolves the user's OAuth token
// from the vault and builds a Gmail client with it. Token refresh happens
// inside the vault; a missing or unrefreshable token surfaces as
// tokenvault.ErrAuthRequired.
func NewGmailFactory(vault *tokenvault.Vault, oauthCfg *oauth2.Config, opts Options) Factory {
	opts.defaults()
	return func(ctx context.Context, userID int64) (Client, error) {
		tok, err := vault.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		svc, err := gmail.NewService(ctx,
			option.WithTokenSource(oauthCfg.TokenSource(ctx, tok)))
		if err != nil {
			return nil, fmt.Errorf("gmail service: %w", err)
		}
		return &gmailClient{svc: svc, opts: opts}, nil
	}
}

// gmailClient implements Client over the Gmail API. One instance per
// goroutine.
type gmailClient struct {
	svc  *gmail.Service
	opts Options
}

const gmailUser = "me"

func (c *gmailClient) ListMessageIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	var ids []string
	pageToken := ""

	for page := 0; page < c.opts.MaxPages; page++ {
		var resp *gmail.ListMessagesResponse
		err := withBackoff(ctx, "messages.list", func() error {
			call := c.svc.Users.Messages.List(gmailUser).
				Q(query).
				MaxResults(c.opts.ListPageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var derr error
			resp, derr = call.Do()
			return derr
		})
		if err != nil {
			return nil, fmt.Errorf("list messages %q: %w", query, err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if len(ids) >= maxResults {
			return ids[:maxResults], nil
		}
		// Stop on exhaustion or a stalled token.
		if resp.NextPageToken == "" || resp.NextPageToken == pageToken {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, nil
}

func (c *gmailClient) GetMessage(ctx context.Context, id string) (models.EmailMessage, error) {
	var msg *gmail.Message
	err := withBackoff(ctx, "messages.get", func() error {
		var derr error
		msg, derr = c.svc.Users.Messages.Get(gmailUser, id).
			Format("full").
			Context(ctx).
			Do()
		return derr
	})
	if err != nil {
		return models.EmailMessage{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return decodeMessage(msg)
}

func (c *gmailClient) ListHistory(ctx context.Context, cursor string) ([]string, string, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("invalid history cursor %q: %w", cursor, err)
	}

	addSet := make(map[string]struct{})
	delSet := make(map[string]struct{})
	newCursor := cursor
	pageToken := ""

	for page := 0; page < c.opts.MaxPages; page++ {
		var resp *gmail.ListHistoryResponse
		err := withBackoff(ctx, "history.list", func() error {
			call := c.svc.Users.History.List(gmailUser).
				StartHistoryId(startID).
				MaxResults(c.opts.HistoryPageSize).
				HistoryTypes("messageAdded", "messageDeleted").
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var derr error
			resp, derr = call.Do()
			return derr
		})
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == 404 {
				return nil, "", ErrCursorTooOld
			}
			return nil, "", fmt.Errorf("list history: %w", err)
		}

		if resp.HistoryId != 0 {
			newCursor = strconv.FormatUint(resp.HistoryId, 10)
		}
		for _, h := range resp.History {
			for _, ma := range h.MessagesAdded {
				if ma.Message == nil {
					continue
				}
				addSet[ma.Message.Id] = struct{}{}
				delete(delSet, ma.Message.Id)
			}
			for _, md := range h.MessagesDeleted {
				if md.Message == nil {
					continue
				}
				delSet[md.Message.Id] = struct{}{}
				delete(addSet, md.Message.Id)
			}
		}

		if resp.NextPageToken == "" || resp.NextPageToken == pageToken {
			break
		}
		pageToken = resp.NextPageToken
	}

	added := make([]string, 0, len(addSet))
	for id := range addSet {
		added = append(added, id)
	}
	return added, newCursor, nil
}

func (c *gmailClient) CurrentCursor(ctx context.Context) (string, error) {
	var profile *gmail.Profile
	err := withBackoff(ctx, "getProfile", func() error {
		var derr error
		profile, derr = c.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
		return derr
	})
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}
