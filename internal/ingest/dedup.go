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

package ingest

import (
	"strings"
	"time"
)

// DedupWindow is how far back recent applications seed the duplicate
// detector.
const DedupWindow = 14 * 24 * time.Hour

// Detector tracks (company, title) pairs seen recently. Owned and mutated
// exclusively by the writer goroutine; no locking.
type Detector struct {
	byCompany map[string]map[string]struct{}
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{byCompany: make(map[string]map[string]struct{})}
}

// Load seeds the detector from stored (company, title) pairs.
func (d *Detector) Load(pairs [][2]string) {
	for _, p := range pairs {
		d.Add(p[0], p[1])
	}
}

func companyKey(company string) string {
	key := strings.ToLower(strings.TrimSpace(company))
	if key == "" || key == "unknown" {
		return ""
	}
	return key
}

// Add records a (company, title) pair. Unknown companies are never
// tracked: "Unknown" would glue unrelated applications together.
func (d *Detector) Add(company, title string) {
	key := companyKey(company)
	if key == "" {
		return
	}
	titles, ok := d.byCompany[key]
	if !ok {
		titles = make(map[string]struct{})
		d.byCompany[key] = titles
	}
	titles[strings.ToLower(strings.TrimSpace(title))] = struct{}{}
}

// IsDuplicate reports whether this (company, title) was already seen:
// the title matches a cached one, the empty title is cached, or the title
// is empty and any title exists for the company.
func (d *Detector) IsDuplicate(company, title string) bool {
	key := companyKey(company)
	if key == "" {
		return false
	}
	titles, ok := d.byCompany[key]
	if !ok {
		return false
	}

	titleKey := strings.ToLower(strings.TrimSpace(title))
	if titleKey == "" {
		return len(titles) > 0
	}
	if _, ok := titles[titleKey]; ok {
		return true
	}
	_, emptyCached := titles[""]
	return emptyCached
}
