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

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jobtrail/ingestion/internal/config"
	"github.com/jobtrail/ingestion/internal/coordinator"
	"github.com/jobtrail/ingestion/internal/models"
	"github.com/jobtrail/ingestion/internal/oauthflow"
	"github.com/jobtrail/ingestion/internal/store"
	"github.com/jobtrail/ingestion/internal/tokenvault"
)

type server struct {
	coord  *coordinator.Coordinator
	flow   *oauthflow.Flow
	cfg    *config.Config
	pgPool *pgxpool.Pool
	rdb    *redis.Client
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/sync-emails", s.withAPIKey(s.handleSyncStart))
	mux.HandleFunc("GET /api/sync-status", s.withAPIKey(s.handleSyncStatus))
	mux.HandleFunc("GET /api/sync-stream", s.withAPIKey(s.handleSyncStream))
	mux.HandleFunc("POST /api/reprocess", s.withAPIKey(s.handleReprocessStart))
	mux.HandleFunc("GET /api/reprocess-status", s.withAPIKey(s.handleReprocessStatus))

	// Browser round-trips: no API key, Google redirects back here.
	mux.HandleFunc("GET /api/auth/gmail", s.handleAuthGmail)
	mux.HandleFunc("GET /api/auth/google", s.handleAuthGoogle)
	mux.HandleFunc("GET /api/auth/callback", s.handleAuthCallback)

	return mux
}

// withAPIKey gates a handler on the shared API key when one is configured.
func (s *server) withAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		next(w, r)
	}
}

// userID resolves the acting user from the request, falling back to the
// configured API-key user for single-user deployments.
func (s *server) userID(r *http.Request) (int64, error) {
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid user_id %q", raw)
		}
		return id, nil
	}
	if s.cfg.APIKeyUserID > 0 {
		return s.cfg.APIKeyUserID, nil
	}
	return 0, errors.New("user_id required")
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pgPool.Ping(r.Context()); err != nil {
		http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

func (s *server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	mode := coordinator.Mode(r.URL.Query().Get("mode"))
	switch mode {
	case "":
		mode = coordinator.ModeAuto
	case coordinator.ModeAuto, coordinator.ModeFull, coordinator.ModeIncremental:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid mode %q", mode)})
		return
	}

	var win coordinator.Window
	if raw := r.URL.Query().Get("after"); raw != "" {
		t, ok := config.ParseDate(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid after date %q", raw)})
			return
		}
		win.After = t
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, ok := config.ParseDate(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid before date %q", raw)})
			return
		}
		win.Before = t
	}

	err = s.coord.StartSync(r.Context(), userID, mode, win)
	switch {
	case errors.Is(err, tokenvault.ErrAuthRequired):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "mailbox authorization required",
			"auth_url": fmt.Sprintf("/api/auth/gmail?user_id=%d", userID),
		})
	case errors.Is(err, coordinator.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sync already running"})
	case err != nil:
		slog.Error("failed to start sync", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start sync"})
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (s *server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	p, err := s.coord.Progress(r.Context(), userID)
	if err != nil {
		slog.Error("failed to read sync status", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read sync status"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleSyncStream streams progress as server-sent events until the sync
// reaches a terminal state or the client goes away.
func (s *server) handleSyncStream(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates, cancel := s.coord.Subscribe(userID)
	defer cancel()

	// Snapshot first so a client joining mid-sync sees current state.
	snapshot, err := s.coord.Progress(r.Context(), userID)
	if err == nil {
		writeEvent(w, flusher, snapshot)
		if snapshot.Status != models.SyncRunning {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-updates:
			writeEvent(w, flusher, p)
			if p.Status != models.SyncRunning {
				return
			}
		}
	}
}

func (s *server) handleReprocessStart(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	err = s.coord.StartReprocess(r.Context(), userID)
	switch {
	case errors.Is(err, coordinator.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "reprocess already running"})
	case err != nil:
		slog.Error("failed to start reprocess", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start reprocess"})
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (s *server) handleReprocessStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	st, err := s.coord.ReprocessStatus(r.Context(), userID)
	if err != nil {
		slog.Error("failed to read reprocess status", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read reprocess status"})
		return
	}
	if st == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": models.SyncIdle})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    st.Status,
		"message":   st.Message,
		"processed": st.Processed,
		"total":     st.Total,
		"updated":   st.Updated,
		"errors":    st.Errors,
		"error":     st.Error,
	})
}

func (s *server) handleAuthGmail(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	url, err := s.flow.AuthURL(r.Context(), store.OAuthKindMailbox, &userID, r.URL.Query().Get("redirect"))
	if err != nil {
		slog.Error("failed to start mailbox authorization", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start authorization"})
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *server) handleAuthGoogle(w http.ResponseWriter, r *http.Request) {
	url, err := s.flow.AuthURL(r.Context(), store.OAuthKindLogin, nil, r.URL.Query().Get("redirect"))
	if err != nil {
		slog.Error("failed to start sign-in", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start sign-in"})
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing state or code"})
		return
	}

	res, err := s.flow.HandleCallback(r.Context(), state, code)
	switch {
	case errors.Is(err, oauthflow.ErrInvalidState):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid or expired state"})
		return
	case err != nil:
		slog.Error("oauth callback failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "authorization failed"})
		return
	}

	// Send the browser back where the flow started. Only same-origin
	// paths are honoured; anything else falls back to the root.
	target := res.RedirectURL
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, p models.Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
