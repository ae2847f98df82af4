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
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func headers() []*gmail.MessagePartHeader {
	return []*gmail.MessagePartHeader{
		{Name: "Subject", Value: "Thanks for applying"},
		{Name: "From", Value: "Acme Careers <careers@acme.com>"},
		{Name: "Date", Value: "Mon, 03 Aug 2026 10:30:00 -0700"},
	}
}

func TestDecodePlainTextMessage(t *testing.T) {
	msg := &gmail.Message{
		Id: "m1",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers:  headers(),
			Body:     &gmail.MessagePartBody{Data: b64("We received your application.")},
		},
	}

	got, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if got.MessageID != "m1" {
		t.Errorf("id = %q", got.MessageID)
	}
	if got.Subject != "Thanks for applying" {
		t.Errorf("subject = %q", got.Subject)
	}
	if got.Sender != "Acme Careers <careers@acme.com>" {
		t.Errorf("sender = %q", got.Sender)
	}
	if got.Body != "We received your application." {
		t.Errorf("body = %q", got.Body)
	}
	want := time.Date(2026, 8, 3, 17, 30, 0, 0, time.UTC)
	if !got.ReceivedAt.Equal(want) {
		t.Errorf("received = %v, want %v", got.ReceivedAt, want)
	}
}

func TestDecodePrefersPlainOverHTML(t *testing.T) {
	msg := &gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers:  headers(),
			Parts: []*gmail.MessagePart{
				{
					MimeType: "text/html",
					Body:     &gmail.MessagePartBody{Data: b64("<p>HTML body</p>")},
				},
				{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: b64("Plain body")},
				},
			},
		},
	}

	got, err := decodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "Plain body" {
		t.Errorf("body = %q, want plain part", got.Body)
	}
}

func TestDecodeHTMLFallbackStripsTags(t *testing.T) {
	msg := &gmail.Message{
		Id: "m3",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Headers:  headers(),
			Body: &gmail.MessagePartBody{
				Data: b64("<html><body><p>Thank you for <b>applying</b>!</p><script>evil()</script></body></html>"),
			},
		},
	}

	got, err := decodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got.Body, "<") {
		t.Errorf("tags not stripped: %q", got.Body)
	}
	if !strings.Contains(got.Body, "Thank you for applying") {
		t.Errorf("text lost: %q", got.Body)
	}
	if strings.Contains(got.Body, "evil") {
		t.Errorf("script content survived: %q", got.Body)
	}
}

func TestDecodeHTMLBodyTruncated(t *testing.T) {
	long := "<p>" + strings.Repeat("x", htmlBodyLimit*2) + "</p>"
	msg := &gmail.Message{
		Id: "m4",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Headers:  headers(),
			Body:     &gmail.MessagePartBody{Data: b64(long)},
		},
	}

	got, err := decodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Body) > htmlBodyLimit {
		t.Errorf("body length = %d, want <= %d", len(got.Body), htmlBodyLimit)
	}
}

func TestDecodeNestedMultipart(t *testing.T) {
	msg := &gmail.Message{
		Id: "m5",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers:  headers(),
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/plain",
							Body:     &gmail.MessagePartBody{Data: b64("Nested plain body")},
						},
					},
				},
			},
		},
	}

	got, err := decodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Body != "Nested plain body" {
		t.Errorf("body = %q", got.Body)
	}
}

func TestDecodeFallsBackToInternalDate(t *testing.T) {
	internal := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	msg := &gmail.Message{
		Id:           "m6",
		InternalDate: internal.UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "s"},
				{Name: "From", Value: "a@b.com"},
			},
			Body: &gmail.MessagePartBody{Data: b64("x")},
		},
	}

	got, err := decodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ReceivedAt.Equal(internal) {
		t.Errorf("received = %v, want %v", got.ReceivedAt, internal)
	}
}

func TestDecodeNilPayload(t *testing.T) {
	if _, err := decodeMessage(&gmail.Message{Id: "m7"}); err == nil {
		t.Error("expected error for message without payload")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{404, false},
		{403, false},
		{401, false},
	}
	for _, tt := range tests {
		err := &googleapi.Error{Code: tt.code}
		if got := retryable(err); got != tt.want {
			t.Errorf("retryable(%d) = %v, want %v", tt.code, got, tt.want)
		}
		wrapped := fmt.Errorf("messages.list: %w", err)
		if got := retryable(wrapped); got != tt.want {
			t.Errorf("retryable(wrapped %d) = %v, want %v", tt.code, got, tt.want)
		}
	}

	if retryable(errors.New("boom")) {
		t.Error("plain error should not be retryable")
	}
}
