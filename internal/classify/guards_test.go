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

package classify

import (
	"strings"
	"testing"

	"github.com/jobtrail/ingestion/internal/models"
)

func TestApplyGuards(t *testing.T) {
	tests := []struct {
		name     string
		category string
		text     string
		want     string
	}{
		{
			name:     "rejection language overrides confirmation",
			category: models.CategoryApplicationConfirmation,
			text:     "thank you for your interest. unfortunately, we will not be moving forward with your application.",
			want:     models.CategoryRejection,
		},
		{
			name:     "rejection language overrides talent community",
			category: models.CategoryTalentCommunity,
			text:     "we have decided to pursue other candidates. we invite you to join our talent community.",
			want:     models.CategoryRejection,
		},
		{
			name:     "rejection language does not touch other classes",
			category: models.CategoryJobAlerts,
			text:     "unfortunately your alert returned no results this week",
			want:     models.CategoryJobAlerts,
		},
		{
			name:     "conditional interview language downgrades to confirmation",
			category: models.CategoryInterviewAssessment,
			text:     "we received your application. if selected for an interview, our team will reach out to schedule.",
			want:     models.CategoryApplicationConfirmation,
		},
		{
			name:     "concrete invitation keeps interview class",
			category: models.CategoryInterviewAssessment,
			text:     "if we decide to move forward we will tell you. meanwhile, please schedule your interview using the link below.",
			want:     models.CategoryInterviewAssessment,
		},
		{
			name:     "coding challenge counts as concrete next step",
			category: models.CategoryInterviewAssessment,
			text:     "if selected for an interview we will contact you. your next step is our codesignal coding challenge.",
			want:     models.CategoryInterviewAssessment,
		},
		{
			name:     "clean confirmation untouched",
			category: models.CategoryApplicationConfirmation,
			text:     "thanks for applying! we will review your application and get back to you.",
			want:     models.CategoryApplicationConfirmation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasoning := applyGuards(tt.category, "model reasoning", tt.text)
			if got != tt.want {
				t.Fatalf("applyGuards(%q) = %q, want %q", tt.category, got, tt.want)
			}
			if got != tt.category && !strings.HasPrefix(reasoning, "[Override:") {
				t.Errorf("override did not annotate reasoning: %q", reasoning)
			}

			// Guards must be idempotent.
			again, _ := applyGuards(got, reasoning, tt.text)
			if again != got {
				t.Errorf("guards not idempotent: %q then %q", got, again)
			}
		})
	}
}

func TestRejectionPhraseCoverage(t *testing.T) {
	positives := []string{
		"we regret to inform you",
		"the position has been filled",
		"after careful consideration we chose another direction",
		"your skills do not quite match the requirements for this role",
		"given the competitive applicant pool",
		"we won't be proceeding with your candidacy",
	}
	for _, text := range positives {
		if !hasRejectionLanguage(text) {
			t.Errorf("expected rejection language in %q", text)
		}
	}

	negatives := []string{
		"we are excited to move forward with your application",
		"your interview is scheduled for monday",
	}
	for _, text := range negatives {
		if hasRejectionLanguage(text) {
			t.Errorf("unexpected rejection match in %q", text)
		}
	}
}
