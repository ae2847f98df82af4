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

// Package classify implements the email classification pipeline: a linear
// graph of nodes that classifies a message into one of 14 categories,
// extracts company/title/level, applies rule-based guards, and assigns an
// application stage. One LLM call per message (or per batch in batch mode);
// every other node is deterministic.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jobtrail/ingestion/internal/models"
)

// Pipeline runs messages through the classification graph. Stateless and
// safe for concurrent use.
type Pipeline struct {
	llm             Completer
	model           string
	batchSize       int
	batchConfidence float64
	useBatch        bool
}

// Config holds pipeline construction options.
type Config struct {
	LLM   Completer
	Model string // recorded on results as the producing model

	BatchSize                int     // messages per batch LLM call (default 10)
	BatchConfidenceThreshold float64 // below this, critical classes reclassify individually (default 0.6)
	UseBatch                 bool
}

// New creates a classification pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchConfidenceThreshold <= 0 {
		cfg.BatchConfidenceThreshold = 0.6
	}
	return &Pipeline{
		llm:             cfg.LLM,
		model:           cfg.Model,
		batchSize:       cfg.BatchSize,
		batchConfidence: cfg.BatchConfidenceThreshold,
		useBatch:        cfg.UseBatch,
	}
}

const (
	promptBodyLimit  = 1500
	entityBodyLimit  = 2000
	classifyMaxToken = 400
)

// Process runs one message through the full graph:
// classify+extract → rule guards → title post-validation → resume matcher →
// stage assignment. It never fails: an LLM error yields the fallback class
// (promotional_marketing, confidence 0, needs_review) with the error recorded.
func (p *Pipeline) Process(ctx context.Context, msg models.EmailMessage) models.EmailState {
	state := models.EmailState{
		MessageID:    msg.MessageID,
		Subject:      msg.Subject,
		Body:         msg.Body,
		Sender:       msg.Sender,
		ReceivedDate: msg.ReceivedAt,
		ProcessedBy:  p.model,
	}

	p.classifyExtract(ctx, &state)
	p.finishDeterministic(&state)
	return state
}

// classifyExtract is the single LLM node: classification and entity
// extraction in one call.
func (p *Pipeline) classifyExtract(ctx context.Context, state *models.EmailState) {
	prompt := p.buildPrompt(state.Subject, state.Sender, state.Body)

	text, err := p.llm.Complete(ctx, prompt, classifyMaxToken)
	if err != nil {
		slog.Warn("classification call failed", "message_id", state.MessageID, "error", err)
		p.applyFallback(state, fmt.Sprintf("classify_error: %v", err))
		return
	}

	result := parseJSONObject(text)
	if result == nil {
		p.applyFallback(state, "classify_error: invalid JSON response")
		return
	}

	state.Category = jsonString(result, "email_class")
	state.Confidence = jsonFloat(result, "confidence", 0.5)
	state.Reasoning = jsonString(result, "reasoning")
	state.CompanyName = jsonString(result, "company_name")
	state.JobTitle = jsonString(result, "job_title")
	state.PositionLevel = jsonString(result, "position_level")

	if !models.ValidCategory(state.Category) {
		state.Category = models.CategoryPromotionalMarketing
	}
}

// applyFallback sets the failed-classification defaults.
func (p *Pipeline) applyFallback(state *models.EmailState, errMsg string) {
	state.Category = models.CategoryPromotionalMarketing
	state.Confidence = 0.0
	state.Reasoning = "Classification failed"
	state.NeedsReview = true
	state.Errors = append(state.Errors, errMsg)
}

// finishDeterministic runs every node after the LLM call: guards, entity
// cleanup, title post-validation, resume matching, stage assignment.
func (p *Pipeline) finishDeterministic(state *models.EmailState) {
	combined := strings.ToLower(state.Subject + "\n" + state.Body)

	state.Category, state.Reasoning = applyGuards(state.Category, state.Reasoning, combined)

	p.validateEntities(state)
	p.matchResume(state)
	p.assignStage(state, combined)

	if state.Confidence < models.NeedsReviewConf {
		state.NeedsReview = true
	}
}

// validateEntities discards entities for non-job categories, post-validates
// the job title against the deterministic extractor, and canonicalizes the
// company name.
func (p *Pipeline) validateEntities(state *models.EmailState) {
	if skipExtractionCategories[state.Category] {
		state.CompanyName = ""
		state.JobTitle = ""
		state.PositionLevel = ""
		return
	}

	body := state.Body
	if len(body) > entityBodyLimit {
		body = body[:entityBodyLimit]
	}
	state.JobTitle = PickBestJobTitle(state.Subject, body, state.JobTitle)

	company := NormalizeCompany(state.CompanyName)
	if company == UnknownCompany {
		company = CompanyFromSender(state.Sender)
	}
	state.CompanyName = company
}

// matchResume is a no-op today; the interface is preserved so a future
// resume store can slot in without touching the graph shape.
func (p *Pipeline) matchResume(state *models.EmailState) {
	state.ResumeMatched = ""
	state.ResumeFileID = ""
	state.ResumeVersion = ""
}

// Screening detection: phone screens / recruiter screens are a subset of
// interview_assessment.
var screeningPhrases = []string{
	"phone screen",
	"screening call",
	"recruiter screen",
	"intro call",
	"introductory call",
	"15 min call",
	"30 min call",
	"schedule a call",
	"available for a call",
}

var offerPhrases = []string{
	"we're pleased to offer",
	"we are pleased to offer",
	"we'd like to offer",
	"we would like to offer",
	"extend an offer",
	"offer letter",
	"employment offer",
	"compensation package",
	"salary offer",
	"congratulations",
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// assignStage maps category to stage and applies the screening and offer
// body overrides. combined must be lowercased subject+body.
func (p *Pipeline) assignStage(state *models.EmailState, combined string) {
	stage, ok := stageMapping[state.Category]
	if !ok {
		stage = models.StageOther
	}

	if state.Category == models.CategoryInterviewAssessment && containsAny(combined, screeningPhrases) {
		stage = models.StageScreening
	}

	isOffer := containsAny(combined, offerPhrases)
	if isOffer {
		stage = models.StageOffer
	}

	actions, requiresAction := actionCategories[state.Category]
	items := append([]string(nil), actions...)
	if isOffer {
		requiresAction = true
		items = append(items, "Review offer details and respond")
	}

	state.Stage = stage
	state.RequiresAction = requiresAction
	state.ActionItems = items
}

// buildPrompt renders the combined classification + extraction prompt,
// embedding per-class guidance and deterministic title candidates.
func (p *Pipeline) buildPrompt(subject, sender, body string) string {
	if len(body) > promptBodyLimit {
		body = body[:promptBodyLimit]
	}

	candidates := JobTitleCandidates(subject, body)
	var candText strings.Builder
	for i, c := range candidates {
		if i >= 6 {
			break
		}
		fmt.Fprintf(&candText, "- %s\n", c.Value)
	}
	if candText.Len() == 0 {
		candText.WriteString("- (none found)\n")
	}

	return fmt.Sprintf(`You are an email classification system for job search emails.

Classify this email into EXACTLY ONE of these 14 classes:

%s

GUIDANCE (use as examples and cues):
%s

CRITICAL DISAMBIGUATION RULES:
1. CONDITIONAL LANGUAGE = job_application_confirmation (NOT interview_assessment)
   - "if selected for an interview" = NOT an interview invite
   - "if we decide to move forward" = NOT an interview invite
   - These are acknowledgments with conditional future possibilities

2. REJECTION LANGUAGE = job_rejection (even with polite phrases)
   - "unfortunately" = REJECTION
   - "not moving forward" = REJECTION
   - "thank you for your interest" + any rejection phrase = REJECTION

3. ACTUAL INTERVIEW = interview_assessment
   - Must have CONCRETE next step, not conditional

PRIORITY RULES (when multiple classes could apply):
- job_rejection > job_application_confirmation (if ANY rejection language present)
- job_rejection > talent_community (if clearly rejecting)
- interview_assessment > job_application_confirmation (ONLY if concrete interview/assessment, not conditional)
- verification_security > application_followup (if contains OTP/code)
- recruiter_outreach > job_alerts (if from a specific recruiter person)
- application_followup > job_application_confirmation (if requests documents/forms)

EXTRACTION RULES:
- company_name: the HIRING company, not job boards or ATS providers; check the sender domain for clues
- job_title: the exact title from the email; if a candidate below matches, return that exact string;
  do NOT include extra text like "role", "position", or "at <company>"
- position_level: Junior|Mid|Senior|Staff|Principal|Lead|Manager, inferred from the title when not explicit

Possible job title candidates (auto-extracted):
%s
EMAIL TO CLASSIFY:
Subject: %s
From: %s
Body: %s

Return ONLY valid JSON (no markdown):
{
  "email_class": "<class_name from list above>",
  "confidence": <0.0-1.0>,
  "reasoning": "<brief 1-sentence explanation>",
  "company_name": "<company name or null if unclear>",
  "job_title": "<exact job title mentioned or null>",
  "position_level": "<Junior|Mid|Senior|Staff|Principal|Lead|Manager or null>"
}`,
		buildCategoriesText(),
		buildGuidanceText(),
		candText.String(),
		subject,
		sender,
		body,
	)
}
