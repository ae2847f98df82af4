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

package mailbox

import (
	"encoding/base64"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/jobtrail/ingestion/internal/models"
)

// htmlBodyLimit bounds bodies recovered from text/html parts; stripped
// HTML is noisy and everything downstream reads only the head of the body.
const htmlBodyLimit = 2000

var (
	stripPolicy = bluemonday.StrictPolicy()
	wsRunRe     = regexp.MustCompile(`[ \t]+`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// decodeMessage converts a full-format provider message into the decoded
// form the pipeline consumes.
func decodeMessage(msg *gmail.Message) (models.EmailMessage, error) {
	if msg == nil || msg.Payload == nil {
		return models.EmailMessage{}, fmt.Errorf("message has no payload")
	}

	out := models.EmailMessage{MessageID: msg.Id}
	var dateHeader string
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			out.Subject = h.Value
		case "from":
			out.Sender = h.Value
		case "date":
			dateHeader = h.Value
		}
	}

	out.ReceivedAt = parseReceivedAt(dateHeader, msg.InternalDate)
	out.Body = extractBody(msg.Payload)
	return out, nil
}

// parseReceivedAt prefers the Date header, falling back to the provider's
// internal timestamp (ms since epoch), then to now.
func parseReceivedAt(header string, internalMillis int64) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t.UTC()
		}
	}
	if internalMillis > 0 {
		return time.UnixMilli(internalMillis).UTC()
	}
	return time.Now().UTC()
}

// extractBody walks MIME parts depth-first, preferring text/plain over
// text/html. HTML bodies are tag-stripped and truncated.
func extractBody(payload *gmail.MessagePart) string {
	if plain := findPart(payload, "text/plain"); plain != "" {
		return normalizeText(plain)
	}
	if htmlBody := findPart(payload, "text/html"); htmlBody != "" {
		stripped := html.UnescapeString(stripPolicy.Sanitize(htmlBody))
		return models.Truncate(normalizeText(stripped), htmlBodyLimit)
	}
	return ""
}

// findPart returns the decoded data of the first part matching mimeType.
func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		if data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(part.Body.Data, "=")); err == nil {
			return string(data)
		}
	}
	for _, child := range part.Parts {
		if found := findPart(child, mimeType); found != "" {
			return found
		}
	}
	return ""
}

// normalizeText collapses whitespace runs left behind by quoted-printable
// and HTML stripping.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = wsRunRe.ReplaceAllString(s, " ")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
