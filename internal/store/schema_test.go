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
	"strings"
	"testing"
)

// tableDDL cuts one table's definition (plus its trailing indexes) out of
// the schema script.
func tableDDL(t *testing.T, name string) string {
	t.Helper()
	marker := "CREATE TABLE IF NOT EXISTS " + name
	start := strings.Index(schemaSQL, marker)
	if start < 0 {
		t.Fatalf("table %s not in schema", name)
	}
	rest := schemaSQL[start+len(marker):]
	if end := strings.Index(rest, "CREATE TABLE"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func TestSchemaApplicationsUniqueOnMessageIDOnly(t *testing.T) {
	apps := tableDDL(t, "applications")

	if !strings.Contains(apps, "UNIQUE(user_id, source_message_id)") {
		t.Error("applications must be unique per (user_id, source_message_id)")
	}
	// Two different messages may carry identical content; only the
	// classification cache keys on the content hash.
	if strings.Contains(apps, "UNIQUE(user_id, content_hash)") {
		t.Error("applications must not be unique on content_hash")
	}
	if !strings.Contains(tableDDL(t, "classification_cache"), "UNIQUE(user_id, content_hash)") {
		t.Error("classification_cache must be unique per (user_id, content_hash)")
	}
}

func TestSchemaApplicationsIndexes(t *testing.T) {
	apps := tableDDL(t, "applications")
	for _, idx := range []string{
		"applications(user_id, received_date DESC)",
		"applications(category, received_date)",
		"applications(status, received_date)",
	} {
		if !strings.Contains(apps, idx) {
			t.Errorf("missing index on %s", idx)
		}
	}
}
