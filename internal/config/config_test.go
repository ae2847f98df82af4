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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFullSyncWindowStart(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.AddDate(0, 0, -7)
	old := now.AddDate(0, 0, -200)

	tests := []struct {
		name     string
		cfg      Config
		lastFull *time.Time
		lastSync *time.Time
		want     time.Time
	}{
		{
			name: "no history falls back to days_back",
			cfg:  Config{FullSyncDaysBack: 90},
			want: now.AddDate(0, 0, -90),
		},
		{
			name: "explicit after date wins",
			cfg:  Config{FullSyncDaysBack: 90, FullSyncAfterDate: "2026-03-15"},
			want: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "slash date format accepted",
			cfg:  Config{FullSyncDaysBack: 90, FullSyncAfterDate: "2026/03/15"},
			want: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "recent sync narrows the window",
			cfg:      Config{FullSyncDaysBack: 90},
			lastSync: &recent,
			want:     recent,
		},
		{
			name:     "stale sync older than window ignored",
			cfg:      Config{FullSyncDaysBack: 90},
			lastSync: &old,
			want:     now.AddDate(0, 0, -90),
		},
		{
			name:     "ignore_last_synced forces the full window",
			cfg:      Config{FullSyncDaysBack: 90, IgnoreLastSynced: true},
			lastSync: &recent,
			lastFull: &recent,
			want:     now.AddDate(0, 0, -90),
		},
		{
			name:     "full sync timestamp narrows too",
			cfg:      Config{FullSyncDaysBack: 90},
			lastFull: &recent,
			want:     recent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.FullSyncWindowStart(tt.lastFull, tt.lastSync, now)
			if !got.Equal(tt.want) {
				t.Errorf("FullSyncWindowStart = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  url: postgres://db:5432/jobs
llm:
  api_key: sk-test
  model: gpt-4o
  batch_size: 5
ingestion:
  workers: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LLM_TEMPERATURE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "postgres://db:5432/jobs" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.LLMAPIKey != "sk-test" || cfg.LLMModel != "gpt-4o" {
		t.Errorf("LLM config = %q %q", cfg.LLMAPIKey, cfg.LLMModel)
	}
	if cfg.BatchSize != 5 || cfg.IngestionWorkers != 3 {
		t.Errorf("BatchSize = %d, IngestionWorkers = %d", cfg.BatchSize, cfg.IngestionWorkers)
	}
	// Untouched options keep their defaults.
	if cfg.IngestionBatchSize != 25 || cfg.BatchCommitSize != 50 {
		t.Errorf("defaults: batch = %d, commit = %d", cfg.IngestionBatchSize, cfg.BatchCommitSize)
	}
	if !cfg.UseBatchClassification {
		t.Error("batch classification should default on")
	}
	// Classification stays near-deterministic unless tuned explicitly.
	if cfg.LLMTemperature != 0.1 {
		t.Errorf("LLMTemperature = %v, want 0.1", cfg.LLMTemperature)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("CLASSIFICATION_USE_BATCH", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLMAPIKey != "sk-env" {
		t.Errorf("LLMAPIKey = %q", cfg.LLMAPIKey)
	}
	if cfg.UseBatchClassification {
		t.Error("CLASSIFICATION_USE_BATCH=false not honoured")
	}
}

func TestLoadRequiresLLMKey(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without an LLM credential")
	}
}
