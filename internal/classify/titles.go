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
	"sort"
	"strings"
)

// Deterministic job-title extraction. Runs before the LLM call (to seed the
// prompt with candidates) and after it (to replace absent or implausible
// model output). The goal is recall: keep the title close to the email's
// wording, with only obvious wrapper noise removed.

// TitleCandidate is a ranked title extracted from subject or body.
type TitleCandidate struct {
	Value  string
	Score  int
	Source string
}

var wsRe = regexp.MustCompile(`\s+`)

func collapseWS(s string) string {
	return wsRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	wrapperPrefixRe  = regexp.MustCompile(`(?i)^(?:the\s+)?(?:role|position|title|opening|opportunity)\s*[:\-–—]\s*`)
	jobTitlePrefixRe = regexp.MustCompile(`(?i)^job\s*title\s*[:\-–—]\s*`)
	roleSuffixRe     = regexp.MustCompile(`(?i)\s+(?:role|position)\s*$`)
	atCompanyRe      = regexp.MustCompile(`\s+(?:at|with)\s+[A-Z0-9][\w&.,'\- ]{1,80}\s*$`)
	reqBracketRe     = regexp.MustCompile(`(?i)\s*[\(\[\{]\s*(?:req(?:uisition)?|job|role)?\s*#?\s*[A-Z0-9][\w\-]*\s*[\)\]\}]\s*$`)
	reqDashRe        = regexp.MustCompile(`(?i)\s*-\s*(?:Req|Requisition)\s*#?\s*[A-Z0-9][\w\-]*\s*$`)
	urlRe            = regexp.MustCompile(`(?i)https?://|www\.`)
	emailRe          = regexp.MustCompile(`\b[\w.\-]+@[\w.\-]+\.\w+\b`)
	letterRe         = regexp.MustCompile(`[A-Za-z]`)
)

const quoteCutset = " \t\r\n\"'“”‘’` "

// CleanJobTitle normalizes a raw extracted title: strips wrappers like
// "role:", trailing "at <Company>", requisition IDs, and quote characters.
func CleanJobTitle(raw string) string {
	s := collapseWS(raw)
	if s == "" {
		return ""
	}

	s = strings.Trim(s, quoteCutset)
	s = wrapperPrefixRe.ReplaceAllString(s, "")
	s = jobTitlePrefixRe.ReplaceAllString(s, "")
	s = roleSuffixRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(atCompanyRe.ReplaceAllString(s, ""))
	s = strings.Trim(s, quoteCutset)
	s = strings.TrimSpace(reqBracketRe.ReplaceAllString(s, ""))
	s = strings.TrimSpace(reqDashRe.ReplaceAllString(s, ""))
	s = strings.TrimRight(s, " .,:;|/\\-–—")

	return collapseWS(s)
}

var bannedTitles = map[string]bool{
	"thank you for applying": true,
	"your application":       true,
	"next steps":             true,
	"application received":   true,
	"interview invitation":   true,
	"candidate":              true,
	"opportunity":            true,
	"position":               true,
	"role":                   true,
	"job":                    true,
}

// IsPlausibleJobTitle is a conservative junk filter: 3–90 chars, at least
// one letter, at most 10 words, no URLs or emails, not generic boilerplate.
func IsPlausibleJobTitle(title string) bool {
	s := collapseWS(title)
	if len(s) < 3 || len(s) > 90 {
		return false
	}
	if !letterRe.MatchString(s) {
		return false
	}
	if urlRe.MatchString(s) || emailRe.MatchString(s) {
		return false
	}
	if len(strings.Fields(s)) > 10 {
		return false
	}
	return !bannedTitles[strings.ToLower(s)]
}

type titlePattern struct {
	re     *regexp.Regexp
	score  int
	source string
}

var subjectPatterns = []titlePattern{
	// "Interview invitation for Senior Software Engineer"
	{regexp.MustCompile(`(?im)\b(?:interview|phone\s*screen|screening)\b.*?\bfor\b\s+(.+?)\s*$`), 120, "subject:interview_for"},
	// "Application received - Senior Backend Engineer"
	{regexp.MustCompile(`(?im)\b(?:application|applied|thanks\s+for\s+applying|thank\s+you\s+for\s+applying)\b.*?(?:for|-\s*)\s+(.+?)\s*$`), 110, "subject:applied_for"},
	// "Senior Python Engineer - Remote - Company"
	{regexp.MustCompile(`(?im)^\s*([A-Za-z][^|]{3,80}?)\s+[-–—]\s+(?:remote|hybrid|onsite)\b`), 105, "subject:title_dash_location"},
	// "Role: Senior Data Engineer"
	{regexp.MustCompile(`(?im)\b(?:role|position|title|opening|opportunity)\s*[:\-–—]\s*(.+?)\s*$`), 100, "subject:role_label"},
	// "Senior Data Engineer at Acme"
	{regexp.MustCompile(`(?m)^\s*(.+?)\s+\b(?:at|with)\b\s+[A-Z0-9]`), 95, "subject:title_at_company"},
}

var bodyPatterns = []titlePattern{
	// "Thank you for applying for the Senior Full Stack Engineer role at X"
	{regexp.MustCompile(`(?i)thank you for applying for (?:the )?(.+?)(?:\s+(?:role|position))?\s+(?:at|with)\b`), 90, "body:thanks_for_applying"},
	// "Your application for Senior Backend Engineer"
	{regexp.MustCompile(`(?i)\byour application (?:was received|for)\s*(?:for\s+)?(.+?)\s*(?:\n|\.|,|$)`), 80, "body:your_application_for"},
	// "We would like to invite you to interview for Senior Backend Engineer"
	{regexp.MustCompile(`(?i)\binvit(?:e|ing)\s+you\b.*?\bfor\b\s+(.+?)\s*(?:\n|\.|,|$)`), 75, "body:invite_for"},
	// "Position: Senior Backend Engineer"
	{regexp.MustCompile(`(?i)\b(?:position|role|job title|title|hiring)\s*[:\-–—]\s*(.+?)\s*(?:\n|\.|,|$)`), 70, "body:label"},
}

func extractWithPatterns(text string, patterns []titlePattern) []TitleCandidate {
	var out []TitleCandidate
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := m[0]
		if len(m) > 1 {
			raw = m[1]
		}
		cleaned := CleanJobTitle(raw)
		if IsPlausibleJobTitle(cleaned) {
			out = append(out, TitleCandidate{Value: cleaned, Score: p.score, Source: p.source})
		}
	}
	return out
}

const maxTitleBodyChars = 2500

// JobTitleCandidates extracts ranked title candidates from subject + body.
// Subject patterns outrank body patterns; duplicates (case-insensitive)
// keep the higher score.
func JobTitleCandidates(subject, body string) []TitleCandidate {
	if len(body) > maxTitleBodyChars {
		body = body[:maxTitleBodyChars]
	}

	cands := extractWithPatterns(subject, subjectPatterns)
	cands = append(cands, extractWithPatterns(body, bodyPatterns)...)

	best := make(map[string]TitleCandidate)
	for _, c := range cands {
		key := strings.ToLower(collapseWS(c.Value))
		if existing, ok := best[key]; !ok || c.Score > existing.Score {
			best[key] = c
		}
	}

	out := make([]TitleCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// PickBestJobTitle returns the model-suggested title when it is plausible,
// otherwise the top deterministic candidate, otherwise empty.
func PickBestJobTitle(subject, body, llmSuggested string) string {
	suggested := CleanJobTitle(llmSuggested)
	if IsPlausibleJobTitle(suggested) {
		return suggested
	}
	if cands := JobTitleCandidates(subject, body); len(cands) > 0 {
		return cands[0].Value
	}
	return ""
}
