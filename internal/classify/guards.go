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
	"regexp"

	"github.com/jobtrail/ingestion/internal/models"
)

// Rule guards correct common LLM misclassifications. They match on the
// normalized (lowercased) subject + body and override the model's class.
// Applying the guards twice is a fixed point.

var rejectionPhrases = compileAll(
	`unfortunately`,
	`regret\s+to\s+inform`,
	`not\s+moving\s+forward`,
	`will\s+not\s+be\s+moving\s+forward`,
	`not\s+selected`,
	`position\s+has\s+been\s+filled`,
	`decided\s+to\s+(?:move\s+forward\s+with|pursue)\s+other\s+candidates?`,
	`not\s+(?:quite\s+)?match(?:ing)?\s+(?:the\s+)?requirements?`,
	`we\s+will\s+not\s+proceed`,
	`do\s+not\s+align\s+with`,
	`after\s+careful\s+(?:review|consideration)`,
	`competitive\s+(?:applicant\s+)?pool`,
	`won(?:'|’)?t\s+be\s+(?:moving|proceeding)`,
	`not\s+(?:the\s+)?right\s+fit`,
	`unable\s+to\s+(?:move|proceed)\s+forward`,
)

// Conditional interview language: acknowledgments about potential future
// interviews, not actual invitations.
var conditionalPhrases = compileAll(
	`if\s+(?:you(?:'|’)?re|we(?:'|’)?re)\s+selected\s+for\s+an?\s+interview`,
	`if\s+selected\s+for\s+an?\s+interview`,
	`if\s+we\s+decide\s+to\s+move\s+forward`,
	`if\s+we\s+move\s+forward`,
	`should\s+you\s+advance`,
	`if\s+chosen\s+to\s+move\s+forward`,
	`if\s+there\s+(?:is|are)\s+(?:a\s+)?(?:potential\s+)?(?:fit|match)`,
	`we(?:'|’)?ll\s+(?:be\s+in\s+touch|reach\s+out|contact\s+you)\s+if`,
)

// Concrete interview invitations: real next steps that outrank the
// conditional-language guard.
var invitationPhrases = compileAll(
	`(?:we(?:'|’)?d\s+like\s+to|we\s+would\s+like\s+to)\s+(?:invite|schedule)`,
	`please\s+(?:schedule|book|complete)\s+(?:your|the|an?)\s+(?:interview|assessment)`,
	`(?:interview|assessment)\s+(?:is\s+)?scheduled\s+for`,
	`(?:coding|technical)\s+(?:challenge|assessment|test)`,
	`hackerrank|codesignal|codility|leetcode`,
	`take[-\s]?home\s+(?:assignment|project|test)`,
	`next\s+step(?:s)?\s+(?:is|are|in)\s+(?:your|the|our)`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func hasRejectionLanguage(text string) bool { return anyMatch(rejectionPhrases, text) }

func hasConditionalInterviewLanguage(text string) bool { return anyMatch(conditionalPhrases, text) }

func hasActualInterviewInvitation(text string) bool { return anyMatch(invitationPhrases, text) }

// applyGuards overrides the LLM classification when the rule guards match.
// text must already be lowercased subject+body.
func applyGuards(category, reasoning, text string) (string, string) {
	// Guard 1: rejection language overrides confirmation/talent_community.
	if category == models.CategoryApplicationConfirmation || category == models.CategoryTalentCommunity {
		if hasRejectionLanguage(text) {
			return models.CategoryRejection, "[Override: rejection language detected] " + reasoning
		}
	}

	// Guard 2: conditional interview language with no concrete invite is a
	// confirmation, not an interview.
	if category == models.CategoryInterviewAssessment {
		if hasConditionalInterviewLanguage(text) && !hasActualInterviewInvitation(text) {
			return models.CategoryApplicationConfirmation, "[Override: conditional language, no concrete invite] " + reasoning
		}
	}

	return category, reasoning
}
