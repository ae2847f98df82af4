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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// Storage
	DatabaseURL string
	RedisURL    string

	// Google OAuth (mailbox authorization)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Token vault. When TokenDir is set, one token file per user; when
	// empty, a single shared token file (legacy single-user mode).
	TokenDir  string
	TokenPath string

	// Mailbox fetch
	HistoryPageSize     int
	ListPageSize        int
	FullSyncMaxPerQuery int
	FullSyncDaysBack    int
	FullSyncAfterDate   string // optional override, YYYY-MM-DD or YYYY/MM/DD
	FullSyncBeforeDate  string // optional upper bound, same formats
	IgnoreLastSynced    bool
	FetchWorkers        int

	// LLM
	LLMAPIKey                string
	LLMModel                 string
	LLMTemperature           float64
	BatchSize                int
	BatchConfidenceThreshold float64
	UseBatchClassification   bool

	// Ingestion loop
	IngestionWorkers   int
	IngestionBatchSize int
	BatchCommitSize    int

	// Auth surface (consumed by the API layer, carried here)
	JWTSecret     string
	JWTTTLMinutes int
	APIKey        string
	APIKeyUserID  int64

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RedirectURL  string `yaml:"redirect_url"`
	} `yaml:"google"`
	Tokens struct {
		Dir  string `yaml:"dir"`
		Path string `yaml:"path"`
	} `yaml:"tokens"`
	Mailbox struct {
		HistoryPageSize     int    `yaml:"history_page_size"`
		ListPageSize        int    `yaml:"list_page_size"`
		FullSyncMaxPerQuery int    `yaml:"full_sync_max_per_query"`
		FullSyncDaysBack    int    `yaml:"full_sync_days_back"`
		FullSyncAfterDate   string `yaml:"full_sync_after_date"`
		FullSyncBeforeDate  string `yaml:"full_sync_before_date"`
		IgnoreLastSynced    bool   `yaml:"ignore_last_synced"`
		FetchWorkers        int    `yaml:"fetch_workers"`
	} `yaml:"mailbox"`
	LLM struct {
		APIKey                   string  `yaml:"api_key"`
		Model                    string  `yaml:"model"`
		Temperature              float64 `yaml:"temperature"`
		BatchSize                int     `yaml:"batch_size"`
		BatchConfidenceThreshold float64 `yaml:"batch_confidence_threshold"`
		UseBatch                 *bool   `yaml:"use_batch"`
	} `yaml:"llm"`
	Ingestion struct {
		Workers         int `yaml:"workers"`
		BatchSize       int `yaml:"batch_size"`
		BatchCommitSize int `yaml:"batch_commit_size"`
	} `yaml:"ingestion"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret"`
		JWTTTLMinutes int    `yaml:"jwt_ttl_minutes"`
		APIKey        string `yaml:"api_key"`
		APIKeyUserID  int64  `yaml:"api_key_user_id"`
	} `yaml:"auth"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for overrides. The config file is optional; every
// option has an env fallback and a default.
func Load() (*Config, error) {
	var raw rawConfig

	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	useBatch := true
	if raw.LLM.UseBatch != nil {
		useBatch = *raw.LLM.UseBatch
	}
	if v := os.Getenv("CLASSIFICATION_USE_BATCH"); v != "" {
		useBatch = v == "1" || strings.EqualFold(v, "true")
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/jobtrail")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),

		GoogleClientID:     firstNonEmpty(raw.Google.ClientID, os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret: firstNonEmpty(raw.Google.ClientSecret, os.Getenv("GOOGLE_CLIENT_SECRET")),
		GoogleRedirectURL:  firstNonEmpty(raw.Google.RedirectURL, os.Getenv("GOOGLE_REDIRECT_URL")),

		TokenDir:  firstNonEmpty(raw.Tokens.Dir, os.Getenv("TOKEN_DIR")),
		TokenPath: firstNonEmpty(raw.Tokens.Path, envOrDefault("TOKEN_PATH", "token.json")),

		HistoryPageSize:     intOr(raw.Mailbox.HistoryPageSize, envOrDefaultInt("MAILBOX_HISTORY_PAGE_SIZE", 100)),
		ListPageSize:        intOr(raw.Mailbox.ListPageSize, envOrDefaultInt("MAILBOX_LIST_PAGE_SIZE", 100)),
		FullSyncMaxPerQuery: intOr(raw.Mailbox.FullSyncMaxPerQuery, envOrDefaultInt("FULL_SYNC_MAX_PER_QUERY", 2000)),
		FullSyncDaysBack:    intOr(raw.Mailbox.FullSyncDaysBack, envOrDefaultInt("FULL_SYNC_DAYS_BACK", 90)),
		FullSyncAfterDate:   firstNonEmpty(raw.Mailbox.FullSyncAfterDate, os.Getenv("FULL_SYNC_AFTER_DATE")),
		FullSyncBeforeDate:  firstNonEmpty(raw.Mailbox.FullSyncBeforeDate, os.Getenv("FULL_SYNC_BEFORE_DATE")),
		IgnoreLastSynced:    raw.Mailbox.IgnoreLastSynced || envBool("IGNORE_LAST_SYNCED"),
		FetchWorkers:        intOr(raw.Mailbox.FetchWorkers, envOrDefaultInt("FETCH_WORKERS", 7)),

		LLMAPIKey:                firstNonEmpty(raw.LLM.APIKey, os.Getenv("OPENAI_API_KEY")),
		LLMModel:                 firstNonEmpty(raw.LLM.Model, envOrDefault("LLM_MODEL", "gpt-4o-mini")),
		LLMTemperature:           floatOr(raw.LLM.Temperature, envOrDefaultFloat("LLM_TEMPERATURE", 0.1)),
		BatchSize:                intOr(raw.LLM.BatchSize, envOrDefaultInt("CLASSIFICATION_BATCH_SIZE", 10)),
		BatchConfidenceThreshold: floatOr(raw.LLM.BatchConfidenceThreshold, envOrDefaultFloat("CLASSIFICATION_BATCH_CONFIDENCE_THRESHOLD", 0.6)),
		UseBatchClassification:   useBatch,

		IngestionWorkers:   intOr(raw.Ingestion.Workers, envOrDefaultInt("INGESTION_WORKERS", 6)),
		IngestionBatchSize: intOr(raw.Ingestion.BatchSize, envOrDefaultInt("INGESTION_BATCH_SIZE", 25)),
		BatchCommitSize:    intOr(raw.Ingestion.BatchCommitSize, envOrDefaultInt("BATCH_COMMIT_SIZE", 50)),

		JWTSecret:     firstNonEmpty(raw.Auth.JWTSecret, os.Getenv("JWT_SECRET")),
		JWTTTLMinutes: intOr(raw.Auth.JWTTTLMinutes, envOrDefaultInt("JWT_TTL_MINUTES", 60*24*7)),
		APIKey:        firstNonEmpty(raw.Auth.APIKey, os.Getenv("API_KEY")),
		APIKeyUserID:  int64Or(raw.Auth.APIKeyUserID, envOrDefaultInt64("API_KEY_USER_ID", 0)),

		Port: envOrDefaultInt("PORT", 8080),
	}

	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set — classification requires an LLM credential")
	}

	return cfg, nil
}

// FullSyncWindowStart resolves the start of the full-sync date window for a
// user, picking the narrowest of: explicit config date, last full sync,
// last incremental sync, or now − days_back.
func (c *Config) FullSyncWindowStart(lastFullSyncAt, lastSyncedAt *time.Time, now time.Time) time.Time {
	fallback := now.AddDate(0, 0, -c.FullSyncDaysBack)

	if t, ok := ParseDate(c.FullSyncAfterDate); ok {
		return t
	}

	if c.IgnoreLastSynced {
		return fallback
	}

	best := fallback
	if lastFullSyncAt != nil && lastFullSyncAt.After(best) {
		best = *lastFullSyncAt
	}
	if lastSyncedAt != nil && lastSyncedAt.After(best) {
		best = *lastSyncedAt
	}
	return best
}

// FullSyncWindowEnd resolves the configured upper bound of the full-sync
// window. Zero means unbounded.
func (c *Config) FullSyncWindowEnd() time.Time {
	t, _ := ParseDate(c.FullSyncBeforeDate)
	return t
}

// ParseDate accepts the two date formats the sync window options use.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || strings.EqualFold(v, "true")
}

func intOr(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func int64Or(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

func floatOr(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
