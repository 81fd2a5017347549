// Package mailparse converts raw RFC 5322 messages into inbound email events.
// It backs every path that receives full MIME payloads: the SMTP ingress, the
// IMAP capture worker, and the SendGrid raw-email fallback.
package mailparse

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/leadsup/capture/internal/models"
)

// ParseRaw reads a full MIME message and maps it onto an InboundEmail.
// The Message-Id header becomes the provider message id so redelivery of
// the same message dedupes regardless of which path carried it in.
func ParseRaw(r io.Reader, provider string) (*models.InboundEmail, error) {
	envelope, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mime message: %w", err)
	}

	receivedAt := time.Now().UTC()
	if date, err := envelope.Date(); err == nil && !date.IsZero() {
		receivedAt = date.UTC()
	}

	event := &models.InboundEmail{
		From:              envelope.GetHeader("From"),
		To:                envelope.GetHeader("To"),
		Subject:           envelope.GetHeader("Subject"),
		Text:              envelope.Text,
		HTML:              envelope.HTML,
		ProviderMessageID: StripMessageID(envelope.GetHeader("Message-Id")),
		Provider:          provider,
		HasAttachments:    len(envelope.Attachments) > 0,
		ReceivedAt:        receivedAt,
	}

	return event, nil
}

// StripMessageID removes the angle brackets RFC 5322 wraps around a
// Message-Id, leaving the bare identifier used for dedup.
func StripMessageID(header string) string {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "<")
	header = strings.TrimSuffix(header, ">")
	return header
}
