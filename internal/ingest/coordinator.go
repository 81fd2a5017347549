// Package ingest turns raw inbound email events into conversation threads
// and messages. The coordinator is the single write path into the inbox: it
// normalizes identities and content, resolves the owning user from the
// routing address, derives the conversation key, and persists the thread
// update and message atomically.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/leadsup/capture/internal/content"
	"github.com/leadsup/capture/internal/conversation"
	"github.com/leadsup/capture/internal/db"
	"github.com/leadsup/capture/internal/identity"
	"github.com/leadsup/capture/internal/models"
)

// Store is the persistence surface the coordinator writes through. Save must
// be atomic: the thread upsert and message insert both land or neither does.
type Store interface {
	ResolveOwner(ctx context.Context, routingAddress string) (*models.Owner, error)
	Save(ctx context.Context, thread *models.Thread, msg *models.Message) error
}

// Notifier pushes a realtime event to the owning user after a successful
// ingestion. It must not block the ingestion path.
type Notifier interface {
	NotifyNewReply(userID, conversationID string)
}

// Result statuses and rejection reasons returned to callers.
const (
	StatusDone     = "done"
	StatusRejected = "rejected"

	ReasonNoOwner        = "no_owner"
	ReasonAmbiguousOwner = "ambiguous_owner"
	ReasonMalformedEvent = "malformed_event"
)

// Result is the coordinator's answer for one inbound event. A rejected event
// left no trace in storage; a done event is stored exactly once, even when
// the same provider event is delivered again.
type Result struct {
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Coordinator orchestrates ingestion of inbound email events.
type Coordinator struct {
	store    Store
	notifier Notifier
}

// NewCoordinator creates a Coordinator. notifier may be nil.
func NewCoordinator(store Store, notifier Notifier) *Coordinator {
	return &Coordinator{store: store, notifier: notifier}
}

// Ingest processes one inbound email event.
//
// A (nil, error) return means a transient storage failure: nothing was
// committed and the caller may retry the whole event safely. All other
// outcomes, including rejections and duplicate redelivery, return a Result
// and no error.
func (c *Coordinator) Ingest(ctx context.Context, event *models.InboundEmail) (*Result, error) {
	fromAddr, err := identity.Normalize(identity.Extract(event.From))
	if err != nil {
		log.Printf("Ingest: rejecting event with unparseable sender %q: %v", event.From, err)
		return &Result{Status: StatusRejected, Reason: ReasonMalformedEvent}, nil
	}

	toAddr, err := identity.Normalize(identity.Extract(event.To))
	if err != nil {
		log.Printf("Ingest: rejecting event with unparseable recipient %q: %v", event.To, err)
		return &Result{Status: StatusRejected, Reason: ReasonMalformedEvent}, nil
	}

	bodyText := content.Normalize(event.Text)
	bodyHTML := content.Normalize(event.HTML)

	owner, err := c.store.ResolveOwner(ctx, toAddr)
	if errors.Is(err, db.ErrOwnerNotFound) {
		log.Printf("Ingest: no campaign sender for %s, dropping event from %s", toAddr, fromAddr)
		return &Result{Status: StatusRejected, Reason: ReasonNoOwner}, nil
	}
	if errors.Is(err, db.ErrAmbiguousOwner) {
		// Operational alert: somebody registered the same routing address
		// for different owners. Never pick one silently.
		log.Printf("Ingest: ALERT ambiguous owner for routing address %s, manual remediation required: %v", toAddr, err)
		return &Result{Status: StatusRejected, Reason: ReasonAmbiguousOwner}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner for %s: %w", toAddr, err)
	}

	conversationID, err := conversation.DeriveKey(fromAddr, toAddr, owner.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive conversation key: %w", err)
	}

	messageID := event.ProviderMessageID
	if messageID == "" {
		messageID = synthesizeMessageID(event.Provider)
	}

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	campaignID := owner.CampaignID
	thread := &models.Thread{
		UserID:             owner.UserID,
		ConversationID:     conversationID,
		CampaignID:         &campaignID,
		ContactEmail:       fromAddr,
		ContactName:        identity.ExtractName(event.From),
		Subject:            event.Subject,
		LastMessageAt:      receivedAt,
		LastMessagePreview: content.Preview(bodyText, models.PreviewLength),
	}

	direction := models.DirectionInbound
	msg := &models.Message{
		UserID:         owner.UserID,
		MessageID:      messageID,
		ConversationID: conversationID,
		CampaignID:     &campaignID,
		ContactEmail:   fromAddr,
		SenderEmail:    toAddr,
		Subject:        event.Subject,
		BodyText:       bodyText,
		BodyHTML:       bodyHTML,
		Direction:      direction,
		Channel:        "email",
		Status:         models.StatusUnread,
		Folder:         models.FolderForDirection(direction),
		HasAttachments: event.HasAttachments,
		Provider:       event.Provider,
		ProviderData:   event.ProviderData,
		SentAt:         receivedAt,
		ReceivedAt:     receivedAt,
	}

	if err := c.store.Save(ctx, thread, msg); err != nil {
		if errors.Is(err, db.ErrDuplicateMessage) {
			// At-least-once webhook delivery replayed an event we already
			// stored. Not an error for the caller.
			log.Printf("Ingest: duplicate delivery of message %s for conversation %s", messageID, conversationID)
			return &Result{Status: StatusDone, MessageID: messageID, ConversationID: conversationID}, nil
		}
		return nil, fmt.Errorf("failed to persist message %s: %w", messageID, err)
	}

	log.Printf("Ingest: captured reply from %s for user %s (conversation %s)", fromAddr, owner.UserID, conversationID)

	if c.notifier != nil {
		c.notifier.NotifyNewReply(owner.UserID, conversationID)
	}

	return &Result{Status: StatusDone, MessageID: messageID, ConversationID: conversationID}, nil
}

// RecordOutbound stores a sent reply in the same conversation as the inbound
// mail it answers, so the thread shows both sides of the exchange. The
// message lands in the sent folder, already read.
func (c *Coordinator) RecordOutbound(ctx context.Context, userID, campaignID, senderEmail, contactEmail, subject, bodyText, bodyHTML string) (*Result, error) {
	sender, err := identity.Normalize(senderEmail)
	if err != nil {
		return &Result{Status: StatusRejected, Reason: ReasonMalformedEvent}, nil
	}
	contact, err := identity.Normalize(contactEmail)
	if err != nil {
		return &Result{Status: StatusRejected, Reason: ReasonMalformedEvent}, nil
	}

	conversationID, err := conversation.DeriveKey(contact, sender, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive conversation key: %w", err)
	}

	now := time.Now().UTC()
	var campaignRef *string
	if campaignID != "" {
		campaignRef = &campaignID
	}

	thread := &models.Thread{
		UserID:             userID,
		ConversationID:     conversationID,
		CampaignID:         campaignRef,
		ContactEmail:       contact,
		Subject:            subject,
		LastMessageAt:      now,
		LastMessagePreview: content.Preview(bodyText, models.PreviewLength),
	}

	direction := models.DirectionOutbound
	msg := &models.Message{
		UserID:         userID,
		MessageID:      synthesizeMessageID("outbound"),
		ConversationID: conversationID,
		CampaignID:     campaignRef,
		ContactEmail:   contact,
		SenderEmail:    sender,
		Subject:        subject,
		BodyText:       bodyText,
		BodyHTML:       bodyHTML,
		Direction:      direction,
		Channel:        "email",
		Status:         models.StatusRead,
		Folder:         models.FolderForDirection(direction),
		SentAt:         now,
		ReceivedAt:     now,
	}

	if err := c.store.Save(ctx, thread, msg); err != nil {
		return nil, fmt.Errorf("failed to persist outbound message: %w", err)
	}

	return &Result{Status: StatusDone, MessageID: msg.MessageID, ConversationID: conversationID}, nil
}

func synthesizeMessageID(provider string) string {
	if provider == "" {
		provider = "capture"
	}
	return provider + "-" + uuid.NewString()
}
