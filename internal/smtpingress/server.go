// Package smtpingress runs an SMTP listener on the reply-capture domain.
// Providers are optional: any mail server that can relay to this listener can
// deliver campaign replies without a webhook integration.
package smtpingress

import (
	"context"
	"io"
	"log"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/leadsup/capture/internal/ingest"
	"github.com/leadsup/capture/internal/models"
)

// Ingestor is the part of the ingestion coordinator the SMTP session uses.
type Ingestor interface {
	Ingest(ctx context.Context, event *models.InboundEmail) (*ingest.Result, error)
}

const maxMessageBytes = 25 << 20

// Server wraps a go-smtp server that feeds received mail to the coordinator.
type Server struct {
	srv *smtp.Server
}

// NewServer creates an SMTP ingress listening on addr for the given domain.
func NewServer(addr, domain string, ingestor Ingestor) *Server {
	backend := &backend{ingestor: ingestor}

	s := smtp.NewServer(backend)
	s.Addr = addr
	s.Domain = domain
	s.ReadTimeout = 60 * time.Second
	s.WriteTimeout = 60 * time.Second
	s.MaxMessageBytes = maxMessageBytes
	s.MaxRecipients = 50

	return &Server{srv: s}
}

// ListenAndServe blocks serving SMTP until Close is called.
func (s *Server) ListenAndServe() error {
	log.Printf("smtpingress: listening on %s for domain %s", s.srv.Addr, s.srv.Domain)
	return s.srv.ListenAndServe()
}

// Serve accepts connections from the given listener. Used by tests that need
// a random port.
func (s *Server) Serve(l net.Listener) error {
	return s.srv.Serve(l)
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.srv.Close()
}

type backend struct {
	ingestor Ingestor
}

func (b *backend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &session{ingestor: b.ingestor}, nil
}

// session collects the SMTP envelope, then ingests the message once per
// recipient at DATA time. Each RCPT address is a routing address, so one
// delivery can land in several users' inboxes.
type session struct {
	ingestor Ingestor
	from     string
	to       []string
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, maxMessageBytes))
	if err != nil {
		return err
	}

	for _, rcpt := range s.to {
		event, err := parseDelivery(data, s.from, rcpt)
		if err != nil {
			log.Printf("smtpingress: failed to parse message for %s: %v", rcpt, err)
			return &smtp.SMTPError{
				Code:         554,
				EnhancedCode: smtp.EnhancedCode{5, 6, 0},
				Message:      "Malformed message content",
			}
		}

		result, err := s.ingestor.Ingest(context.Background(), event)
		if err != nil {
			// Storage failure. Tell the relaying MTA to retry later.
			log.Printf("smtpingress: ingest failed for %s: %v", rcpt, err)
			return &smtp.SMTPError{
				Code:         451,
				EnhancedCode: smtp.EnhancedCode{4, 3, 0},
				Message:      "Temporary processing failure, try again later",
			}
		}

		if result.Status == ingest.StatusRejected {
			// Unroutable mail is accepted and dropped so the sender does
			// not keep retrying.
			log.Printf("smtpingress: dropping mail for %s (%s)", rcpt, result.Reason)
		}
	}

	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
