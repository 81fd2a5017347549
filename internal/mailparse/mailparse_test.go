package mailparse

import (
	"strings"
	"testing"
	"time"
)

const sampleMessage = "From: John Prospect <john@example.com>\r\n" +
	"To: reply@reply.leadsup.io\r\n" +
	"Subject: Re: Quick question\r\n" +
	"Message-Id: <CAF+abc123@mail.example.com>\r\n" +
	"Date: Thu, 02 Jan 2025 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Thanks, interested!\r\n"

func TestParseRaw(t *testing.T) {
	t.Run("maps headers and body", func(t *testing.T) {
		event, err := ParseRaw(strings.NewReader(sampleMessage), "smtp")
		if err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}

		if event.From != "John Prospect <john@example.com>" {
			t.Errorf("Unexpected From: %q", event.From)
		}
		if event.To != "reply@reply.leadsup.io" {
			t.Errorf("Unexpected To: %q", event.To)
		}
		if event.Subject != "Re: Quick question" {
			t.Errorf("Unexpected Subject: %q", event.Subject)
		}
		if strings.TrimSpace(event.Text) != "Thanks, interested!" {
			t.Errorf("Unexpected body: %q", event.Text)
		}
		if event.ProviderMessageID != "CAF+abc123@mail.example.com" {
			t.Errorf("Expected bare message id, got %q", event.ProviderMessageID)
		}
		if event.Provider != "smtp" {
			t.Errorf("Unexpected provider: %q", event.Provider)
		}

		expected := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
		if !event.ReceivedAt.Equal(expected) {
			t.Errorf("Expected Date header as receive time, got %v", event.ReceivedAt)
		}
	})

	t.Run("multipart with attachment", func(t *testing.T) {
		raw := "From: jane@example.com\r\n" +
			"To: reply@reply.leadsup.io\r\n" +
			"Subject: Report attached\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
			"\r\n" +
			"--b1\r\n" +
			"Content-Type: text/plain\r\n" +
			"\r\n" +
			"See attached.\r\n" +
			"--b1\r\n" +
			"Content-Type: application/pdf\r\n" +
			"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
			"Content-Transfer-Encoding: base64\r\n" +
			"\r\n" +
			"JVBERi0xLjQ=\r\n" +
			"--b1--\r\n"

		event, err := ParseRaw(strings.NewReader(raw), "imap")
		if err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}
		if !event.HasAttachments {
			t.Error("Expected HasAttachments")
		}
		if strings.TrimSpace(event.Text) != "See attached." {
			t.Errorf("Unexpected body: %q", event.Text)
		}
	})

	t.Run("missing date falls back to now", func(t *testing.T) {
		raw := "From: jane@example.com\r\n" +
			"To: reply@reply.leadsup.io\r\n" +
			"Subject: No date\r\n" +
			"\r\n" +
			"Hello\r\n"

		before := time.Now().UTC()
		event, err := ParseRaw(strings.NewReader(raw), "smtp")
		if err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}
		if event.ReceivedAt.Before(before.Add(-time.Second)) {
			t.Errorf("Expected current time fallback, got %v", event.ReceivedAt)
		}
	})
}

func TestStripMessageID(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"<abc@host>", "abc@host"},
		{"abc@host", "abc@host"},
		{"  <abc@host>  ", "abc@host"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := StripMessageID(tc.in); got != tc.out {
			t.Errorf("StripMessageID(%q) = %q, want %q", tc.in, got, tc.out)
		}
	}
}
