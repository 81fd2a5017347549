package imapcapture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadsup/capture/internal/crypto"
	"github.com/leadsup/capture/internal/db"
	"github.com/leadsup/capture/internal/ingest"
	"github.com/leadsup/capture/internal/mailparse"
	"github.com/leadsup/capture/internal/models"
)

// Ingestor is the part of the ingestion coordinator the worker uses.
type Ingestor interface {
	Ingest(ctx context.Context, event *models.InboundEmail) (*ingest.Result, error)
}

// reconnectSleep is the backoff after a mailbox session error.
const reconnectSleep = 10 * time.Second

// Worker keeps one mailbox loop per campaign sender with stored IMAP
// credentials. The sender list is refreshed on every poll interval; loops for
// removed senders are canceled.
type Worker struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
	ingestor  Ingestor
	interval  time.Duration
	useTLS    bool

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewWorker creates a Worker. interval is the poll period used both for the
// sender-list refresh and as the IDLE fallback.
func NewWorker(pool *pgxpool.Pool, encryptor *crypto.Encryptor, ingestor Ingestor, interval time.Duration, useTLS bool) *Worker {
	return &Worker{
		pool:      pool,
		encryptor: encryptor,
		ingestor:  ingestor,
		interval:  interval,
		useTLS:    useTLS,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Run blocks managing mailbox loops until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	w.refreshSenders(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refreshSenders(ctx)
		}
	}
}

// refreshSenders reconciles running mailbox loops with the current
// campaign-sender registry.
func (w *Worker) refreshSenders(ctx context.Context) {
	senders, err := db.GetIMAPSenders(ctx, w.pool)
	if err != nil {
		log.Printf("imapcapture: failed to load senders: %v", err)
		return
	}

	active := make(map[string]bool, len(senders))
	for _, sender := range senders {
		if sender.IMAPHost == "" {
			continue
		}
		active[sender.ID] = true
		w.ensureMailboxLoop(ctx, sender)
	}

	w.mu.Lock()
	for id, cancel := range w.cancels {
		if !active[id] {
			log.Printf("imapcapture: sender %s removed, stopping mailbox loop", id)
			cancel()
			delete(w.cancels, id)
		}
	}
	w.mu.Unlock()
}

// ensureMailboxLoop starts a mailbox loop for the sender if one is not
// already running.
func (w *Worker) ensureMailboxLoop(ctx context.Context, sender *models.CampaignSender) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.cancels[sender.ID]; exists {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancels[sender.ID] = cancel

	go func() {
		w.mailboxLoop(loopCtx, sender)

		w.mu.Lock()
		delete(w.cancels, sender.ID)
		w.mu.Unlock()
	}()
}

// mailboxLoop runs capture sessions for one sender until canceled,
// reconnecting with a backoff after errors.
func (w *Worker) mailboxLoop(ctx context.Context, sender *models.CampaignSender) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.captureSession(ctx, sender); err != nil {
			log.Printf("imapcapture: session for %s ended: %v", sender.Email, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectSleep):
		}
	}
}

// captureSession holds one IMAP connection: process unseen mail, then IDLE
// until something arrives or the poll interval elapses, and repeat.
func (w *Worker) captureSession(ctx context.Context, sender *models.CampaignSender) error {
	password, err := w.encryptor.Decrypt(sender.IMAPPasswordEncrypted)
	if err != nil {
		return fmt.Errorf("failed to decrypt password for %s: %w", sender.Email, err)
	}

	c, err := Connect(sender.IMAPHost, w.useTLS)
	if err != nil {
		return err
	}
	defer func() { _ = c.Logout() }()

	username := sender.IMAPUsername
	if username == "" {
		username = sender.Email
	}
	if err := Login(c, username, password); err != nil {
		return err
	}

	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	for {
		if err := w.processUnseen(ctx, c, sender); err != nil {
			return err
		}

		if err := waitForMail(ctx, c, w.interval); err != nil {
			return err
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// processUnseen ingests every unseen message in the selected mailbox, oldest
// first. Messages are marked seen only after the coordinator accepted them,
// so a storage failure leaves them unseen for the next pass.
func (w *Worker) processUnseen(ctx context.Context, c *client.Client, sender *models.CampaignSender) error {
	uids, err := UnseenUIDs(c)
	if err != nil {
		return err
	}

	for _, uid := range uids {
		msg, err := FetchFullMessage(c, uid)
		if err != nil {
			log.Printf("imapcapture: failed to fetch %d from %s: %v", uid, sender.Email, err)
			continue
		}

		event, err := EventFromMessage(msg, sender)
		if err != nil {
			log.Printf("imapcapture: skipping unparseable message %d from %s: %v", uid, sender.Email, err)
			continue
		}

		result, err := w.ingestor.Ingest(ctx, event)
		if err != nil {
			return fmt.Errorf("failed to ingest message %d: %w", uid, err)
		}

		if err := MarkSeen(c, uid); err != nil {
			log.Printf("imapcapture: %v", err)
		}

		if result.Status == ingest.StatusRejected {
			log.Printf("imapcapture: dropped message %d from %s (%s)", uid, sender.Email, result.Reason)
		}
	}

	return nil
}

// EventFromMessage converts a fetched IMAP message into an inbound email
// event. The mailbox owner's address is the routing address regardless of
// what the To header says.
func EventFromMessage(msg *imap.Message, sender *models.CampaignSender) (*models.InboundEmail, error) {
	section := &imap.BodySectionName{}
	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %d has no body", msg.Uid)
	}

	event, err := mailparse.ParseRaw(body, "imap")
	if err != nil {
		return nil, err
	}

	event.To = sender.Email
	event.ProviderData = map[string]any{
		"imap_uid": msg.Uid,
		"mailbox":  "INBOX",
	}

	return event, nil
}
