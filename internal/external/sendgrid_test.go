package external

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sphyra/internal/types"
)

func newTestSendGridClient(t *testing.T, serverURL, apiKey string) *SendGridClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-sendgrid",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
		"Sphyra-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewSendGridClientWithBase(base, SendGridClientConfig{APIKey: apiKey, BaseURL: serverURL})
}

func testEmail() EmailMessage {
	return EmailMessage{
		To:          "giulia@example.com",
		FromAddress: "noreply@sphyra.local",
		FromName:    "Sphyra Wellness Lab",
		Subject:     "Promemoria Appuntamento - giovedì 21 dicembre 2023",
		BodyHTML:    "<p>Ciao</p>",
		BodyText:    "Ciao",
		Attachments: []EmailAttachment{{
			Filename:    "appuntamento.ics",
			ContentType: "text/calendar; method=REQUEST",
			Content:     []byte("BEGIN:VCALENDAR"),
		}},
		ReferenceID: "appt-1",
	}
}

func TestSendGridSend_Success(t *testing.T) {
	var payload sendGridMailPayload
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("X-Message-Id", "sg_msg_abc123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL, "SG.test_api_key")
	msgID, err := client.Send(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if msgID != "sg_msg_abc123" {
		t.Errorf("expected message ID sg_msg_abc123, got %s", msgID)
	}
	if auth != "Bearer SG.test_api_key" {
		t.Errorf("unexpected Authorization header %q", auth)
	}
	if len(payload.Personalizations) != 1 || payload.Personalizations[0].To[0].Email != "giulia@example.com" {
		t.Errorf("unexpected personalizations: %+v", payload.Personalizations)
	}
	if len(payload.Content) != 2 || payload.Content[0].Type != "text/plain" || payload.Content[1].Type != "text/html" {
		t.Errorf("expected text/plain then text/html content, got %+v", payload.Content)
	}
	if len(payload.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	decoded, _ := base64.StdEncoding.DecodeString(att.Content)
	if att.Filename != "appuntamento.ics" || string(decoded) != "BEGIN:VCALENDAR" {
		t.Errorf("unexpected attachment: %+v", att)
	}
	if payload.CustomArgs["reference_id"] != "appt-1" {
		t.Errorf("expected reference_id appt-1, got %v", payload.CustomArgs)
	}
}

func TestSendGridSend_NotConfigured(t *testing.T) {
	client := newTestSendGridClient(t, "http://unused.invalid", "")

	_, err := client.Send(context.Background(), testEmail())
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
	if !strings.Contains(err.Error(), "SendGrid API key not configured") {
		t.Errorf("unexpected error: %v", err)
	}
	if !types.HasCode(err, types.ErrCodeInternalChannelMissing) {
		t.Errorf("expected %s, got %v", types.ErrCodeInternalChannelMissing, err)
	}
}

func TestSendGridSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode types.ErrorCode
		wantMsg  string
	}{
		{"forbidden", http.StatusForbidden, `{"errors":[{"message":"recipient suppressed"}]}`, types.ErrCodeEmailBlocked, "recipient suppressed"},
		{"bad request", http.StatusBadRequest, `{"errors":[{"message":"invalid from"}]}`, types.ErrCodeUpstreamEmailProvider, "invalid from"},
		{"plain body", http.StatusUnauthorized, "nope", types.ErrCodeUpstreamEmailProvider, "nope"},
		{"server error", http.StatusBadGateway, "", types.ErrCodeUpstreamUnavailable, ""},
		{"rate limited", http.StatusTooManyRequests, "", types.ErrCodeUpstreamRateLimited, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestSendGridClient(t, server.URL, "SG.key")
			_, err := client.Send(context.Background(), testEmail())
			if !types.HasCode(err, tt.wantCode) {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected message to contain %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestBuildMailPayload_OmitsEmptyParts(t *testing.T) {
	p := buildMailPayload(EmailMessage{To: "a@b.c", Subject: "s", BodyText: "only text"})
	if len(p.Content) != 1 || p.Content[0].Type != "text/plain" {
		t.Errorf("expected only text/plain content, got %+v", p.Content)
	}
	if p.Attachments != nil || p.CustomArgs != nil {
		t.Errorf("expected no attachments or custom args, got %+v / %+v", p.Attachments, p.CustomArgs)
	}
}
