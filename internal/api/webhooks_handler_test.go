package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leadsup/capture/internal/ingest"
	"github.com/leadsup/capture/internal/models"
)

type fakeIngestor struct {
	events []*models.InboundEmail
	result *ingest.Result
	err    error
}

func (f *fakeIngestor) Ingest(_ context.Context, event *models.InboundEmail) (*ingest.Result, error) {
	f.events = append(f.events, event)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ingest.Result{Status: ingest.StatusDone, MessageID: "m1", ConversationID: "c1"}, nil
}

func sendgridForm(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("Failed to write form field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close form writer: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/webhooks/sendgrid", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHandleSendGrid(t *testing.T) {
	t.Run("ingests parsed form fields", func(t *testing.T) {
		ingestor := &fakeIngestor{}
		handler := NewWebhookHandler(ingestor, "")

		req := sendgridForm(t, map[string]string{
			"from":     "John Prospect <john@example.com>",
			"to":       "reply@reply.leadsup.io",
			"subject":  "Re: Quick question",
			"text":     "Thanks, interested!",
			"envelope": `{"from":"john@example.com","to":["reply@reply.leadsup.io"]}`,
		})
		rr := httptest.NewRecorder()
		handler.HandleSendGrid(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}
		if len(ingestor.events) != 1 {
			t.Fatalf("Expected one ingested event, got %d", len(ingestor.events))
		}

		event := ingestor.events[0]
		if event.From != "john@example.com" || event.To != "reply@reply.leadsup.io" {
			t.Errorf("Expected envelope addresses, got %q -> %q", event.From, event.To)
		}
		if event.Provider != "sendgrid" {
			t.Errorf("Expected provider sendgrid, got %q", event.Provider)
		}

		var result ingest.Result
		if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if result.Status != ingest.StatusDone {
			t.Errorf("Expected done, got %s", result.Status)
		}
	})

	t.Run("falls back to the raw email field", func(t *testing.T) {
		ingestor := &fakeIngestor{}
		handler := NewWebhookHandler(ingestor, "")

		raw := "From: jane@example.com\r\n" +
			"To: reply@reply.leadsup.io\r\n" +
			"Subject: Re: Pricing\r\n" +
			"Message-Id: <raw-1@example.com>\r\n" +
			"\r\n" +
			"What does it cost?\r\n"

		req := sendgridForm(t, map[string]string{
			"from":  "jane@example.com",
			"to":    "reply@reply.leadsup.io",
			"email": raw,
		})
		rr := httptest.NewRecorder()
		handler.HandleSendGrid(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}

		event := ingestor.events[0]
		if !strings.Contains(event.Text, "What does it cost?") {
			t.Errorf("Expected body from raw email, got %q", event.Text)
		}
		if event.ProviderMessageID != "raw-1@example.com" {
			t.Errorf("Expected message id from raw email, got %q", event.ProviderMessageID)
		}
		if event.Subject != "Re: Pricing" {
			t.Errorf("Expected subject from raw email, got %q", event.Subject)
		}
	})

	t.Run("rejections still answer 200", func(t *testing.T) {
		ingestor := &fakeIngestor{
			result: &ingest.Result{Status: ingest.StatusRejected, Reason: ingest.ReasonNoOwner},
		}
		handler := NewWebhookHandler(ingestor, "")

		req := sendgridForm(t, map[string]string{
			"from": "x@example.com",
			"to":   "stranger@reply.leadsup.io",
			"text": "hi",
		})
		rr := httptest.NewRecorder()
		handler.HandleSendGrid(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Expected 200 for rejection, got %d", rr.Code)
		}

		var result ingest.Result
		if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if result.Status != ingest.StatusRejected || result.Reason != ingest.ReasonNoOwner {
			t.Errorf("Expected rejected/no_owner body, got %+v", result)
		}
	})

	t.Run("storage failure answers 500", func(t *testing.T) {
		ingestor := &fakeIngestor{err: errors.New("connection refused")}
		handler := NewWebhookHandler(ingestor, "")

		req := sendgridForm(t, map[string]string{
			"from": "x@example.com",
			"to":   "reply@reply.leadsup.io",
			"text": "hi",
		})
		rr := httptest.NewRecorder()
		handler.HandleSendGrid(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("Expected 500 for storage failure, got %d", rr.Code)
		}
	})
}

func mailersendBody(t *testing.T) []byte {
	t.Helper()

	payload := map[string]any{
		"type":       "activity.inbound",
		"webhook_id": "wh-1",
		"data": map[string]any{
			"from":       "John Prospect <john@example.com>",
			"to":         "reply@reply.leadsup.io",
			"subject":    "Re: Quick question",
			"text":       "Thanks, interested!",
			"message_id": "ms-123",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return body
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleMailerSend(t *testing.T) {
	const secret = "signing-secret"

	t.Run("ingests a signed inbound event", func(t *testing.T) {
		ingestor := &fakeIngestor{}
		handler := NewWebhookHandler(ingestor, secret)

		body := mailersendBody(t)
		req := httptest.NewRequest("POST", "/api/webhooks/mailersend", bytes.NewReader(body))
		req.Header.Set("X-Signature", signBody(secret, body))

		rr := httptest.NewRecorder()
		handler.HandleMailerSend(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}
		if len(ingestor.events) != 1 {
			t.Fatalf("Expected one ingested event, got %d", len(ingestor.events))
		}

		event := ingestor.events[0]
		if event.Provider != "mailersend" {
			t.Errorf("Expected provider mailersend, got %q", event.Provider)
		}
		if event.ProviderMessageID != "ms-123" {
			t.Errorf("Expected provider message id, got %q", event.ProviderMessageID)
		}
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		ingestor := &fakeIngestor{}
		handler := NewWebhookHandler(ingestor, secret)

		body := mailersendBody(t)
		req := httptest.NewRequest("POST", "/api/webhooks/mailersend", bytes.NewReader(body))
		req.Header.Set("X-Signature", "deadbeef")

		rr := httptest.NewRecorder()
		handler.HandleMailerSend(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401 for bad signature, got %d", rr.Code)
		}
		if len(ingestor.events) != 0 {
			t.Errorf("Expected no ingestion, got %d events", len(ingestor.events))
		}
	})

	t.Run("acknowledges other webhook types without ingesting", func(t *testing.T) {
		ingestor := &fakeIngestor{}
		handler := NewWebhookHandler(ingestor, "")

		body := []byte(`{"type":"activity.delivered","data":{}}`)
		req := httptest.NewRequest("POST", "/api/webhooks/mailersend", bytes.NewReader(body))

		rr := httptest.NewRecorder()
		handler.HandleMailerSend(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("Expected 200 for unhandled type, got %d", rr.Code)
		}
		if len(ingestor.events) != 0 {
			t.Errorf("Expected no ingestion, got %d events", len(ingestor.events))
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		handler := NewWebhookHandler(&fakeIngestor{}, "")

		req := httptest.NewRequest("POST", "/api/webhooks/mailersend", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		handler.HandleMailerSend(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for malformed JSON, got %d", rr.Code)
		}
	})
}
