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
	"fmt"
	"strings"

	"github.com/jobtrail/ingestion/internal/models"
)

// categoryDescriptions drives both the prompt's class list and the
// validation of LLM output.
var categoryDescriptions = map[string]string{
	models.CategoryApplicationConfirmation: "Automated acknowledgment after submitting application",
	models.CategoryRejection:               "Rejection notice from company",
	models.CategoryInterviewAssessment:     "Interview invitations, coding challenges, technical assessments",
	models.CategoryApplicationFollowup:     "Requests for additional information (EEO forms, etc.)",
	models.CategoryRecruiterOutreach:       "Direct messages from recruiting agencies",
	models.CategoryTalentCommunity:         "Welcome to company talent communities",
	models.CategoryLinkedInConnection:      "LinkedIn connection invitations",
	models.CategoryLinkedInMessage:         "LinkedIn direct message notifications",
	models.CategoryLinkedInJobRecs:         "LinkedIn job alert emails",
	models.CategoryLinkedInActivity:        "LinkedIn profile/post engagement notifications",
	models.CategoryJobAlerts:               "Job board automated recommendations (Indeed, Glassdoor, etc.)",
	models.CategoryVerificationSecurity:    "OTPs, password resets, security codes",
	models.CategoryPromotionalMarketing:    "Career tips, platform features, marketing",
	models.CategoryReceiptsInvoices:        "Payment receipts and invoices",
}

// guidance carries compact per-class cues: indicators, negative indicators,
// and one example snippet. Kept short to avoid prompt bloat.
type guidance struct {
	description string
	lookFor     []string
	notIf       []string
	exSubject   string
	exFrom      string
	exSnippet   string
}

var classGuidance = map[string]guidance{
	models.CategoryApplicationConfirmation: {
		description: "Automated acknowledgment emails received after submitting a job application",
		lookFor: []string{
			"thank you for applying", "received your application", "application confirmation",
			"we appreciate your interest", "application submitted", "we'll review your application",
		},
		notIf:     []string{"unfortunately", "not moving forward", "coding challenge"},
		exSubject: "Thanks for applying to MyJunior AI!",
		exFrom:    "MyJunior AI Hiring Team <no-reply@ashbyhq.com>",
		exSnippet: "Thank you for applying for the Senior Full Stack Engineer role at MyJunior AI! We appreciate your interest in joining the team. We will review your application and get back to you if there are next steps.",
	},
	models.CategoryRejection: {
		description: "Rejection emails from companies after application review, indicating the candidate will not move forward",
		lookFor: []string{
			"thank you for your interest", "not quite match the requirements", "not moving forward",
			"unfortunately", "after careful consideration", "decided to pursue other candidates",
		},
		notIf:     []string{"next steps", "schedule", "assessment"},
		exSubject: "Thank you for your interest in Respondology",
		exFrom:    "Mahri Lee <notifications@app.bamboohr.com>",
		exSnippet: "After reviewing your application, we have determined that your skills and experience do not quite match the requirements for this particular role. We appreciate your interest in our company and encourage you to keep an eye on our career page for future opportunities.",
	},
	models.CategoryInterviewAssessment: {
		description: "Emails inviting candidates to interviews, coding assessments, technical tests, or scheduling interview calls",
		lookFor: []string{
			"next step", "invite you to", "assessment", "coding challenge",
			"technical evaluation", "scheduled for",
		},
		notIf:     []string{"if selected for an interview", "if we decide to move forward", "unfortunately"},
		exSubject: "Next Steps with Magic",
		exFrom:    "Magic Hiring Team <no-reply@ashbyhq.com>",
		exSnippet: "Thank you for applying for the Software Engineer - Product role at Magic! We would like to invite you to the next step of our selection process. Please watch for an email from CodeSignal with your invitation to complete our 90-minute technical assessment.",
	},
	models.CategoryApplicationFollowup: {
		description: "Requests for additional information, documents, or actions after initial application",
		lookFor: []string{
			"additional information needed", "next steps for your application",
			"EEO self-identification", "complete your profile", "work opportunity tax credit",
		},
		notIf:     []string{"coding challenge", "assessment", "interview"},
		exSubject: "EEO Self-Identification Form- Talent Software Services, Inc.",
		exFrom:    "humanresources@talentemail.com",
		exSnippet: "Additional information needed for your application.",
	},
	models.CategoryRecruiterOutreach: {
		description: "Direct outreach from recruiters or staffing agencies about specific job opportunities",
		lookFor: []string{
			"must have", "key skills", "location:", "are you interested",
			"came across your profile", "noticed your background",
		},
		notIf:     []string{"thank you for applying", "received your application"},
		exSubject: "Senior Python / Conversational AI Engineer - remote",
		exFrom:    "Rachit Kumar Bhardwaj <rachit.kumar@diverselynx.com>",
		exSnippet: "Senior Python / Conversational AI Engineer / NLP Analyst. Must have – Python, Conversational AI, NLP, and LLMs. Location: Dallas, TX / Remote. Experience: 10+ Years.",
	},
	models.CategoryTalentCommunity: {
		description: "Welcome emails and nurture campaigns from company talent communities",
		lookFor: []string{
			"welcome to", "talent community", "join our community",
			"stay connected", "personalized job",
		},
		notIf:     []string{"unfortunately", "not moving forward", "not selected"},
		exSubject: "You're in! Welcome to the Mastercard talent community",
		exFrom:    "Mastercard <talent@careers.mastercard.com>",
		exSnippet: "Welcome to the Mastercard Talent Community! By joining our talent community, you're stepping into a world where bold ideas come together.",
	},
	models.CategoryLinkedInConnection: {
		description: "LinkedIn connection invitation notifications",
		lookFor: []string{
			"sent you a connection request", "I'd like to join your professional network",
			"connections in common", "invitations@linkedin.com",
		},
		exSubject: "I've sent you a connection request",
		exFrom:    "Nitin Pandey <invitations@linkedin.com>",
		exSnippet: "Hi, I'd like to join your professional network. 3 connections in common.",
	},
	models.CategoryLinkedInMessage: {
		description: "Notifications about new messages received on LinkedIn",
		lookFor: []string{
			"just messaged you", "new message", "messaging-digest-noreply@linkedin.com", "view message",
		},
		exSubject: "Vikram just messaged you",
		exFrom:    "Vikram Arikath via LinkedIn <messaging-digest-noreply@linkedin.com>",
		exSnippet: "You have 1 new message. View message: [link]",
	},
	models.CategoryLinkedInJobRecs: {
		description: "LinkedIn's curated job suggestions and career-related notifications",
		lookFor: []string{
			"jobs in [location] for you", "job alert for", "jobalerts-noreply@linkedin.com",
			"see all jobs on linkedin",
		},
		exSubject: "\"Software Engineer\": Matthews™ - Software Engineer (PHX) and more",
		exFrom:    "LinkedIn Job Alerts <jobalerts-noreply@linkedin.com>",
		exSnippet: "Your job alert for Software Engineer in Phoenix, AZ. New jobs match your preferences.",
	},
	models.CategoryLinkedInActivity: {
		description: "LinkedIn notifications about profile views, post engagement, and platform activity",
		lookFor: []string{
			"your posts got", "views", "follow", "profile activity", "notifications-noreply@linkedin.com",
		},
		exSubject: "Last week your posts got 82 views!",
		exFrom:    "LinkedIn <notifications-noreply@linkedin.com>",
		exSnippet: "See who viewed your posts and track your engagement.",
	},
	models.CategoryJobAlerts: {
		description: "Automated job recommendation emails from job boards and platforms suggesting relevant positions",
		lookFor: []string{
			"job alert", "new jobs match your preferences", "recommended jobs", "apply now",
		},
		exSubject: "\"Software Engineer\": NewtonX - Software Engineer- LLM Systems (Remote) and more",
		exFrom:    "LinkedIn Job Alerts <jobalerts-noreply@linkedin.com>",
		exSnippet: "Your job alert for Software Engineer in United States. New jobs match your preferences.",
	},
	models.CategoryVerificationSecurity: {
		description: "Security codes, OTPs, password resets, and account verification emails",
		lookFor: []string{
			"verification code", "OTP", "security code", "verify your account",
			"expires in", "one-time password",
		},
		exSubject: "Here's your verification code from ADP",
		exFrom:    "SecurityServices_NoReply@adp.com",
		exSnippet: "Verification code: 356103. This code expires in 15 minutes.",
	},
	models.CategoryPromotionalMarketing: {
		description: "Marketing emails, feature announcements, and promotional content from job platforms",
		lookFor: []string{
			"new feature", "tips", "career advice", "learning spotlight", "check out",
		},
		exSubject: "Craft a resume that rises above the noise",
		exFrom:    "LinkedIn <editors-noreply@linkedin.com>",
		exSnippet: "Tips and tools to improve your resume and stand out to recruiters.",
	},
	models.CategoryReceiptsInvoices: {
		description: "Payment receipts, invoices, and financial transaction confirmations",
		lookFor: []string{
			"receipt", "invoice", "payment", "order confirmation", "total amount",
		},
		exSubject: "Your receipt from Wynisco #2026-0074",
		exFrom:    "Wynisco <invoice+statements@stripe.com>",
		exSnippet: "Receipt for your recent payment.",
	},
}

// stageMapping maps category to application stage. Categories not listed
// map to StageOther.
var stageMapping = map[string]string{
	models.CategoryApplicationConfirmation: models.StageApplied,
	models.CategoryApplicationFollowup:     models.StageApplied,
	models.CategoryInterviewAssessment:     models.StageInterview,
	models.CategoryRecruiterOutreach:       models.StageContacted,
	models.CategoryRejection:               models.StageRejected,
	models.CategoryTalentCommunity:         models.StagePipeline,
}

// actionCategories lists the categories that require user action and the
// default action items attached to each.
var actionCategories = map[string][]string{
	models.CategoryInterviewAssessment: {"Complete assessment or schedule interview"},
	models.CategoryApplicationFollowup: {"Submit additional documents"},
	models.CategoryRecruiterOutreach:   {"Respond to recruiter"},
}

// skipExtractionCategories are not job-related; entity extraction results
// are discarded for them.
var skipExtractionCategories = map[string]bool{
	models.CategoryLinkedInConnection:   true,
	models.CategoryLinkedInMessage:      true,
	models.CategoryLinkedInActivity:     true,
	models.CategoryVerificationSecurity: true,
	models.CategoryPromotionalMarketing: true,
	models.CategoryReceiptsInvoices:     true,
}

// applicationCategories are the classes that create Applications subject to
// (company, title) duplicate detection.
var applicationCategories = map[string]bool{
	models.CategoryApplicationConfirmation: true,
	models.CategoryRejection:               true,
	models.CategoryInterviewAssessment:     true,
	models.CategoryApplicationFollowup:     true,
}

// IsApplicationCategory reports whether the class represents a concrete
// job application event (confirmation, rejection, interview, followup).
func IsApplicationCategory(c string) bool { return applicationCategories[c] }

// truncateRunes caps s at max runes, cutting on rune boundaries so
// multi-byte text never yields mangled UTF-8.
func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}

// buildGuidanceText renders the compact per-class guidance block embedded
// in the classification prompt.
func buildGuidanceText() string {
	var b strings.Builder
	for _, name := range models.Categories {
		g, ok := classGuidance[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, g.description)
		if len(g.lookFor) > 0 {
			n := len(g.lookFor)
			if n > 6 {
				n = 6
			}
			fmt.Fprintf(&b, "  LOOK FOR: %s\n", strings.Join(g.lookFor[:n], ", "))
		}
		if len(g.notIf) > 0 {
			n := len(g.notIf)
			if n > 3 {
				n = 3
			}
			fmt.Fprintf(&b, "  NOT IF: %s\n", strings.Join(g.notIf[:n], ", "))
		}
		if g.exSubject != "" || g.exFrom != "" || g.exSnippet != "" {
			fmt.Fprintf(&b, "  example: Subject: %s | From: %s | Snippet: %s\n",
				truncateRunes(g.exSubject, 120),
				truncateRunes(g.exFrom, 120),
				truncateRunes(g.exSnippet, 220),
			)
		}
	}
	return strings.TrimSpace(b.String())
}

// buildCategoriesText renders the numbered class list for the prompt.
func buildCategoriesText() string {
	var b strings.Builder
	for i, name := range models.Categories {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, name, categoryDescriptions[name])
	}
	return strings.TrimSpace(b.String())
}
