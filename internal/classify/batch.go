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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jobtrail/ingestion/internal/models"
)

// Critical classes: a low-confidence batch result for one of these is
// reclassified individually, because mistaking a rejection for a
// confirmation (or vice versa) corrupts the application timeline.
var criticalCategories = map[string]bool{
	models.CategoryRejection:               true,
	models.CategoryInterviewAssessment:     true,
	models.CategoryApplicationConfirmation: true,
}

const batchBodyLimit = 800

// ProcessBatch classifies msgs in LLM batches of the configured size,
// falling back to per-message calls when a batch response is unusable or
// when batch mode is disabled. Results are returned in input order.
func (p *Pipeline) ProcessBatch(ctx context.Context, msgs []models.EmailMessage) []models.EmailState {
	out := make([]models.EmailState, 0, len(msgs))
	if !p.useBatch {
		for _, m := range msgs {
			out = append(out, p.Process(ctx, m))
		}
		return out
	}

	for start := 0; start < len(msgs); start += p.batchSize {
		end := start + p.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		out = append(out, p.processOneBatch(ctx, msgs[start:end])...)
	}
	return out
}

// processOneBatch issues a single LLM call for up to batchSize messages.
// A malformed response or a result-count mismatch discards the whole batch
// result and reruns every message individually.
func (p *Pipeline) processOneBatch(ctx context.Context, batch []models.EmailMessage) []models.EmailState {
	if len(batch) == 1 {
		return []models.EmailState{p.Process(ctx, batch[0])}
	}

	prompt := p.buildBatchPrompt(batch)
	maxTokens := 120 * len(batch)

	text, err := p.llm.Complete(ctx, prompt, maxTokens)
	if err != nil {
		slog.Warn("batch classification call failed, falling back to individual",
			"batch_size", len(batch), "error", err)
		return p.fallbackIndividual(ctx, batch)
	}

	results := parseBatchResults(text)
	if len(results) != len(batch) {
		slog.Warn("batch classification result mismatch, falling back to individual",
			"expected", len(batch), "got", len(results))
		return p.fallbackIndividual(ctx, batch)
	}

	out := make([]models.EmailState, len(batch))
	for i, msg := range batch {
		state := models.EmailState{
			MessageID:    msg.MessageID,
			Subject:      msg.Subject,
			Body:         msg.Body,
			Sender:       msg.Sender,
			ReceivedDate: msg.ReceivedAt,
			ProcessedBy:  p.model,
		}

		r := results[i]
		state.Category = jsonString(r, "email_class")
		state.Confidence = jsonFloat(r, "confidence", 0.5)
		state.Reasoning = jsonString(r, "reasoning")
		state.CompanyName = jsonString(r, "company_name")
		state.JobTitle = jsonString(r, "job_title")
		state.PositionLevel = jsonString(r, "position_level")

		if !models.ValidCategory(state.Category) {
			state.Category = models.CategoryPromotionalMarketing
		}

		// Low-confidence critical classes get a second, individual look.
		if state.Confidence < p.batchConfidence && criticalCategories[state.Category] {
			slog.Debug("reclassifying low-confidence batch result",
				"message_id", msg.MessageID, "category", state.Category, "confidence", state.Confidence)
			p.classifyExtract(ctx, &state)
		}

		p.finishDeterministic(&state)
		out[i] = state
	}
	return out
}

func (p *Pipeline) fallbackIndividual(ctx context.Context, batch []models.EmailMessage) []models.EmailState {
	out := make([]models.EmailState, len(batch))
	for i, m := range batch {
		out[i] = p.Process(ctx, m)
	}
	return out
}

// parseBatchResults extracts the results array from a batch response.
func parseBatchResults(text string) []map[string]any {
	obj := parseJSONObject(text)
	if obj == nil {
		return nil
	}
	raw, ok := obj["results"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil
		}
		out = append(out, m)
	}
	return out
}

// buildBatchPrompt renders the multi-email classification prompt. Bodies are
// cut harder than in single mode to keep the batch within context.
func (p *Pipeline) buildBatchPrompt(batch []models.EmailMessage) string {
	var emails strings.Builder
	for i, msg := range batch {
		body := msg.Body
		if len(body) > batchBodyLimit {
			body = body[:batchBodyLimit]
		}
		fmt.Fprintf(&emails, "--- EMAIL %d ---\nSubject: %s\nFrom: %s\nBody: %s\n\n",
			i+1, msg.Subject, msg.Sender, body)
	}

	return fmt.Sprintf(`You are an email classification system for job search emails.

Classify EACH of the %d emails below into EXACTLY ONE of these 14 classes:

%s

GUIDANCE (use as examples and cues):
%s

CRITICAL DISAMBIGUATION RULES:
1. CONDITIONAL LANGUAGE ("if selected for an interview", "if we decide to move
   forward") = job_application_confirmation, NOT interview_assessment
2. REJECTION LANGUAGE ("unfortunately", "not moving forward") = job_rejection
   even when wrapped in polite phrases
3. interview_assessment requires a CONCRETE next step, not a conditional one

EXTRACTION RULES:
- company_name: the HIRING company, not job boards or ATS providers
- job_title: the exact title from the email, without "role"/"position"/"at <company>"
- position_level: Junior|Mid|Senior|Staff|Principal|Lead|Manager or null

%s
Return ONLY valid JSON (no markdown), one result per email, in order:
{
  "results": [
    {
      "email_class": "<class_name>",
      "confidence": <0.0-1.0>,
      "reasoning": "<brief 1-sentence explanation>",
      "company_name": "<company name or null>",
      "job_title": "<exact job title or null>",
      "position_level": "<level or null>"
    }
  ]
}
The results array MUST contain exactly %d entries.`,
		len(batch),
		buildCategoriesText(),
		buildGuidanceText(),
		emails.String(),
		len(batch),
	)
}
