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

// Package models defines the data structures shared across the ingestion
// service: decoded mailbox messages, classification results, persisted
// applications, and per-user sync state.
package models

import "time"

// Classification categories. Closed set — every classification result is
// validated against this list; anything else falls back to
// CategoryPromotionalMarketing.
const (
	CategoryApplicationConfirmation = "job_application_confirmation"
	CategoryRejection               = "job_rejection"
	CategoryInterviewAssessment     = "interview_assessment"
	CategoryApplicationFollowup     = "application_followup"
	CategoryRecruiterOutreach       = "recruiter_outreach"
	CategoryTalentCommunity         = "talent_community"
	CategoryLinkedInConnection      = "linkedin_connection_request"
	CategoryLinkedInMessage         = "linkedin_message"
	CategoryLinkedInJobRecs         = "linkedin_job_recommendations"
	CategoryLinkedInActivity        = "linkedin_profile_activity"
	CategoryJobAlerts               = "job_alerts"
	CategoryVerificationSecurity    = "verification_security"
	CategoryPromotionalMarketing    = "promotional_marketing"
	CategoryReceiptsInvoices        = "receipts_invoices"
)

// Categories lists all 14 classification categories in prompt order.
var Categories = []string{
	CategoryApplicationConfirmation,
	CategoryRejection,
	CategoryInterviewAssessment,
	CategoryApplicationFollowup,
	CategoryRecruiterOutreach,
	CategoryTalentCommunity,
	CategoryLinkedInConnection,
	CategoryLinkedInMessage,
	CategoryLinkedInJobRecs,
	CategoryLinkedInActivity,
	CategoryJobAlerts,
	CategoryVerificationSecurity,
	CategoryPromotionalMarketing,
	CategoryReceiptsInvoices,
}

// ValidCategory reports whether c is one of the 14 allowed categories.
func ValidCategory(c string) bool {
	for _, cat := range Categories {
		if c == cat {
			return true
		}
	}
	return false
}

// Application stages.
const (
	StageApplied   = "Applied"
	StageScreening = "Screening"
	StageInterview = "Interview"
	StageOffer     = "Offer"
	StageRejected  = "Rejected"
	StagePipeline  = "Pipeline"
	StageContacted = "Contacted"
	StageOther     = "Other"
)

// Stages lists the closed set of application stages.
var Stages = []string{
	StageApplied, StageScreening, StageInterview, StageOffer,
	StageRejected, StagePipeline, StageContacted, StageOther,
}

// ValidStage reports whether s is one of the allowed stages.
func ValidStage(s string) bool {
	for _, st := range Stages {
		if s == st {
			return true
		}
	}
	return false
}

// Application statuses, derived from the stage.
const (
	StatusApplied      = "APPLIED"
	StatusInterviewing = "INTERVIEWING"
	StatusOffer        = "OFFER"
	StatusRejected     = "REJECTED"
)

// StatusForStage derives the application status from the stage.
func StatusForStage(stage string) string {
	switch stage {
	case StageRejected:
		return StatusRejected
	case StageInterview, StageScreening:
		return StatusInterviewing
	case StageOffer:
		return StatusOffer
	default:
		return StatusApplied
	}
}

// Field truncation limits applied before persisting an Application.
const (
	MaxBodyStored   = 10000
	MaxBodyHashed   = 5000
	MaxSubjectLen   = 500
	MaxSenderLen    = 255
	MaxCompanyLen   = 255
	NeedsReviewConf = 0.65
)

// Truncate returns s cut to at most n bytes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// EmailMessage is a decoded mailbox message: the output of the fetcher and
// the input to the classification pipeline.
type EmailMessage struct {
	MessageID  string
	Subject    string
	Sender     string
	Body       string
	ReceivedAt time.Time
}

// EmailState is the typed record that flows through the classification
// pipeline. Each node fills in its slice of fields.
type EmailState struct {
	// Inputs
	MessageID    string
	Subject      string
	Body         string
	Sender       string
	ReceivedDate time.Time

	// Classification
	Category    string
	Confidence  float64
	Reasoning   string
	NeedsReview bool

	// Extracted entities
	CompanyName   string
	JobTitle      string
	PositionLevel string

	// Resume matching (interface preserved; always empty today)
	ResumeMatched string
	ResumeFileID  string
	ResumeVersion string

	// Stage assignment
	Stage          string
	RequiresAction bool
	ActionItems    []string

	// Processing metadata
	ProcessedBy string
	Errors      []string
}

// Application is one tracked job-search event per (user, message) pair.
type Application struct {
	ID              int64
	UserID          int64
	SourceMessageID string
	ContentHash     string
	CompanyName     string
	JobTitle        string
	PositionLevel   string
	Category        string
	Confidence      float64
	Status          string
	Stage           string
	RequiresAction  bool
	ActionItems     []string
	Reasoning       string
	NeedsReview     bool
	ProcessedBy     string

	EmailSubject string
	EmailFrom    string
	EmailBody    string
	ReceivedDate time.Time

	AppliedAt   *time.Time
	InterviewAt *time.Time
	OfferAt     *time.Time
	RejectedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmailLog records the outcome of processing one message, including errors.
type EmailLog struct {
	ID              int64
	UserID          int64
	SourceMessageID string
	Classification  string
	Error           string
	ProcessedAt     time.Time
}

// Sync status values for SyncState and ReprocessState.
const (
	SyncIdle    = "idle"
	SyncRunning = "syncing"
	SyncError   = "error"
)

// SyncState is the per-user sync record: one row per user.
type SyncState struct {
	UserID         int64
	LastHistoryID  string
	LastSyncedAt   *time.Time
	LastFullSyncAt *time.Time
	Status         string
	Message        string
	Processed      int
	Total          int
	Created        int
	Skipped        int
	Errors         int
	Error          string
	UpdatedAt      time.Time
}

// ReprocessState tracks a long-running reclassification job over existing
// applications. Same shape as SyncState, at most one per user.
type ReprocessState struct {
	UserID    int64
	Status    string
	Message   string
	Processed int
	Total     int
	Updated   int
	Errors    int
	Error     string
	UpdatedAt time.Time
}

// Progress is the read-only projection of SyncState exposed to observers.
type Progress struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Created   int    `json:"created"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	Error     string `json:"error,omitempty"`
}

// User is the principal. The pipeline only reads users; registration and
// sign-in live outside this service.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	GoogleID     string
	Name         string
	CreatedAt    time.Time
}
