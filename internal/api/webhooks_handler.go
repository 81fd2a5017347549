package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/leadsup/capture/internal/ingest"
	"github.com/leadsup/capture/internal/mailparse"
	"github.com/leadsup/capture/internal/models"
)

// Ingestor is the part of the ingestion coordinator webhook handlers use.
type Ingestor interface {
	Ingest(ctx context.Context, event *models.InboundEmail) (*ingest.Result, error)
}

// WebhookHandler receives inbound-email webhooks from delivery providers and
// feeds them to the ingestion coordinator. Rejections still answer 200 so
// providers stop redelivering mail we will never route; only storage failures
// answer 500 and trigger a retry.
type WebhookHandler struct {
	ingestor         Ingestor
	mailersendSecret string
}

// NewWebhookHandler creates a WebhookHandler. mailersendSecret may be empty,
// in which case MailerSend signature verification is skipped with a warning.
func NewWebhookHandler(ingestor Ingestor, mailersendSecret string) *WebhookHandler {
	return &WebhookHandler{
		ingestor:         ingestor,
		mailersendSecret: mailersendSecret,
	}
}

const maxWebhookBody = 32 << 20 // SendGrid posts full MIME bodies

// sendgridEnvelope is the SMTP envelope SendGrid attaches to Inbound Parse
// posts. Envelope addresses are preferred over the display-form headers.
type sendgridEnvelope struct {
	From string   `json:"from"`
	To   []string `json:"to"`
}

// HandleSendGrid handles SendGrid Inbound Parse posts (multipart form data).
func (h *WebhookHandler) HandleSendGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxWebhookBody); err != nil {
		log.Printf("WebhookHandler: Failed to parse sendgrid form: %v", err)
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	event := &models.InboundEmail{
		From:       r.FormValue("from"),
		To:         r.FormValue("to"),
		Subject:    r.FormValue("subject"),
		Text:       r.FormValue("text"),
		HTML:       r.FormValue("html"),
		Provider:   "sendgrid",
		ReceivedAt: time.Now().UTC(),
	}

	var envelope sendgridEnvelope
	if raw := r.FormValue("envelope"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			log.Printf("WebhookHandler: Ignoring malformed sendgrid envelope: %v", err)
		} else {
			if envelope.From != "" {
				event.From = envelope.From
			}
			if len(envelope.To) > 0 {
				event.To = envelope.To[0]
			}
		}
	}

	if count, err := strconv.Atoi(r.FormValue("attachments")); err == nil && count > 0 {
		event.HasAttachments = true
	}

	// Some parse configurations post the raw MIME message instead of
	// pre-extracted fields. Fall back to parsing it ourselves.
	if event.Text == "" && event.HTML == "" {
		if raw := r.FormValue("email"); raw != "" {
			parsed, err := mailparse.ParseRaw(strings.NewReader(raw), "sendgrid")
			if err != nil {
				log.Printf("WebhookHandler: Failed to parse raw sendgrid email: %v", err)
			} else {
				event.Text = parsed.Text
				event.HTML = parsed.HTML
				event.HasAttachments = event.HasAttachments || parsed.HasAttachments
				event.ProviderMessageID = parsed.ProviderMessageID
				if event.Subject == "" {
					event.Subject = parsed.Subject
				}
			}
		}
	}

	event.ProviderData = map[string]any{
		"spam_score": r.FormValue("spam_score"),
		"envelope":   r.FormValue("envelope"),
	}

	h.ingestAndRespond(w, r, event)
}

// mailersendWebhook is the envelope MailerSend wraps every event in. Only
// activity.inbound events carry mail; everything else is acknowledged and
// dropped.
type mailersendWebhook struct {
	Type      string `json:"type"`
	WebhookID string `json:"webhook_id"`
	Data      struct {
		From        string            `json:"from"`
		To          string            `json:"to"`
		Subject     string            `json:"subject"`
		Text        string            `json:"text"`
		HTML        string            `json:"html"`
		MessageID   string            `json:"message_id"`
		CreatedAt   time.Time         `json:"created_at"`
		Attachments []json.RawMessage `json:"attachments"`
	} `json:"data"`
}

// HandleMailerSend handles MailerSend inbound webhooks (JSON with an
// HMAC-SHA256 signature in the X-Signature header).
func (h *WebhookHandler) HandleMailerSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Printf("WebhookHandler: Failed to read mailersend body: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !h.verifyMailerSendSignature(body, r.Header.Get("X-Signature")) {
		log.Println("WebhookHandler: MailerSend signature verification failed")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var webhook mailersendWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		log.Printf("WebhookHandler: Failed to parse mailersend payload: %v", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if webhook.Type != "activity.inbound" {
		log.Printf("WebhookHandler: Ignoring mailersend webhook type %s", webhook.Type)
		WriteJSONResponse(w, map[string]string{"status": "ignored", "type": webhook.Type})
		return
	}

	receivedAt := time.Now().UTC()
	if !webhook.Data.CreatedAt.IsZero() {
		receivedAt = webhook.Data.CreatedAt.UTC()
	}

	event := &models.InboundEmail{
		From:              webhook.Data.From,
		To:                webhook.Data.To,
		Subject:           webhook.Data.Subject,
		Text:              webhook.Data.Text,
		HTML:              webhook.Data.HTML,
		ProviderMessageID: webhook.Data.MessageID,
		Provider:          "mailersend",
		HasAttachments:    len(webhook.Data.Attachments) > 0,
		ProviderData: map[string]any{
			"webhook_type":  webhook.Type,
			"webhook_id":    webhook.WebhookID,
			"original_from": webhook.Data.From,
			"original_to":   webhook.Data.To,
		},
		ReceivedAt: receivedAt,
	}

	h.ingestAndRespond(w, r, event)
}

// verifyMailerSendSignature checks the hex HMAC-SHA256 of the raw body
// against the configured signing secret.
func (h *WebhookHandler) verifyMailerSendSignature(body []byte, signature string) bool {
	if h.mailersendSecret == "" {
		log.Println("WebhookHandler: No MailerSend secret configured, skipping signature verification")
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.mailersendSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// ingestAndRespond runs the event through the coordinator. Storage failures
// answer 500 so the provider redelivers; everything else, including typed
// rejections, answers 200 with the result body.
func (h *WebhookHandler) ingestAndRespond(w http.ResponseWriter, r *http.Request, event *models.InboundEmail) {
	result, err := h.ingestor.Ingest(r.Context(), event)
	if err != nil {
		log.Printf("WebhookHandler: Ingest failed for %s event: %v", event.Provider, err)
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, result)
}
