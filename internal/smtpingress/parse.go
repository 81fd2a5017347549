package smtpingress

import (
	"bytes"
	"fmt"

	"github.com/leadsup/capture/internal/mailparse"
	"github.com/leadsup/capture/internal/models"
)

// parseDelivery builds an InboundEmail for one recipient of an SMTP delivery.
// The envelope addresses win over the message headers: the RCPT address is
// the routing address even when the To header says something else (Bcc,
// aliasing, catch-all domains).
func parseDelivery(data []byte, envelopeFrom, rcpt string) (*models.InboundEmail, error) {
	event, err := mailparse.ParseRaw(bytes.NewReader(data), "smtp")
	if err != nil {
		return nil, fmt.Errorf("failed to parse delivery: %w", err)
	}

	if event.From == "" {
		event.From = envelopeFrom
	}
	event.To = rcpt

	event.ProviderData = map[string]any{
		"envelope_from": envelopeFrom,
		"envelope_to":   rcpt,
	}

	return event, nil
}
