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
	"strings"
)

// UnknownCompany is the canonical placeholder for an unresolvable company.
const UnknownCompany = "Unknown"

var corporateSuffixes = []string{
	"Inc", "Inc.", "LLC", "L.L.C.", "Corp", "Corp.", "Corporation",
	"Ltd", "Ltd.", "Limited", "Co", "Co.", "Company", "PLC", "GmbH",
}

var suffixRes = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(corporateSuffixes))
	for i, s := range corporateSuffixes {
		out[i] = regexp.MustCompile(`(?i),?\s*` + regexp.QuoteMeta(s) + `\.?\s*$`)
	}
	return out
}()

// NormalizeCompany canonicalizes a company name by stripping corporate
// suffixes (Inc, LLC, GmbH, ...).
func NormalizeCompany(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == UnknownCompany {
		return UnknownCompany
	}
	for _, re := range suffixRes {
		name = strings.TrimSpace(re.ReplaceAllString(name, ""))
	}
	if name == "" {
		return UnknownCompany
	}
	return name
}

var senderDomainRe = regexp.MustCompile(`@([\w.\-]+)`)

// Mailbox providers whose domain says nothing about the hiring company.
var genericDomains = map[string]bool{
	"gmail.com": true, "yahoo.com": true, "hotmail.com": true,
	"outlook.com": true, "icloud.com": true, "mail.com": true,
	"protonmail.com": true, "aol.com": true,
}

// ATS providers: the hiring company is in the body, not the sender domain.
var atsDomains = []string{"greenhouse.io", "lever.co", "myworkdayjobs.com", "ashbyhq.com", "bamboohr.com"}

// CompanyFromSender extracts a company name from the sender's email domain,
// skipping generic mailbox providers and known ATS domains.
func CompanyFromSender(sender string) string {
	m := senderDomainRe.FindStringSubmatch(sender)
	if m == nil {
		return UnknownCompany
	}
	domain := strings.ToLower(m[1])

	if genericDomains[domain] {
		return UnknownCompany
	}
	for _, ats := range atsDomains {
		if strings.Contains(domain, ats) {
			return UnknownCompany
		}
	}

	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return UnknownCompany
	}
	company := parts[len(parts)-2]
	if company == "" {
		return UnknownCompany
	}
	return strings.ToUpper(company[:1]) + company[1:]
}
