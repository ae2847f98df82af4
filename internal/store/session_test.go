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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jobtrail/ingestion/internal/models"
)

func TestTranslatePGErr(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "applications_user_id_content_hash_key"}, ErrDuplicate},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, ErrContention},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrContention},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, ErrContention},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translatePGErr(tt.in)
			if !errors.Is(got, tt.want) {
				t.Errorf("translatePGErr(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	// Wrapped errors translate too.
	wrapped := fmt.Errorf("insert application: %w", &pgconn.PgError{Code: "23505"})
	if !errors.Is(translatePGErr(wrapped), ErrDuplicate) {
		t.Error("wrapped unique violation not translated")
	}

	// Other errors pass through untouched.
	plain := errors.New("connection reset")
	if got := translatePGErr(plain); got != plain {
		t.Errorf("unrelated error rewritten: %v", got)
	}
	other := &pgconn.PgError{Code: "42703"}
	if got := translatePGErr(other); errors.Is(got, ErrDuplicate) || errors.Is(got, ErrContention) {
		t.Errorf("unrelated pg error translated: %v", got)
	}
}

func TestStageTimestamps(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		stage string
		check func(applied, interview, offer, rejected *time.Time) bool
	}{
		{models.StageApplied, func(a, i, o, r *time.Time) bool { return a != nil && i == nil && o == nil && r == nil }},
		{models.StageScreening, func(a, i, o, r *time.Time) bool { return a == nil && i != nil }},
		{models.StageInterview, func(a, i, o, r *time.Time) bool { return i != nil && o == nil }},
		{models.StageOffer, func(a, i, o, r *time.Time) bool { return o != nil && r == nil }},
		{models.StageRejected, func(a, i, o, r *time.Time) bool { return r != nil && a == nil }},
		{models.StageOther, func(a, i, o, r *time.Time) bool { return a == nil && i == nil && o == nil && r == nil }},
	}
	for _, tt := range tests {
		a, i, o, r := stageTimestamps(tt.stage, at)
		if !tt.check(a, i, o, r) {
			t.Errorf("stageTimestamps(%q) = %v %v %v %v", tt.stage, a, i, o, r)
		}
		for _, ts := range []*time.Time{a, i, o, r} {
			if ts != nil && !ts.Equal(at) {
				t.Errorf("stageTimestamps(%q) timestamp = %v, want %v", tt.stage, ts, at)
			}
		}
	}
}
