package models

import "time"

// Direction indicates whether a message was received or sent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Folder is the inbox folder a message lives in.
type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
	FolderTrash Folder = "trash"
)

// MessageStatus is the read state of a message.
type MessageStatus string

const (
	StatusUnread MessageStatus = "unread"
	StatusRead   MessageStatus = "read"
)

// ThreadStatus is the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadArchived ThreadStatus = "archived"
)

// FolderForDirection returns the folder a new message belongs in.
// Inbound mail lands in the inbox, outbound mail in sent. Messages only
// leave these folders through an explicit user action (see CanMoveTo).
func FolderForDirection(d Direction) Folder {
	if d == DirectionOutbound {
		return FolderSent
	}
	return FolderInbox
}

// CanMoveTo reports whether a message with the given direction may be moved
// to the given folder. Inbound messages may be trashed and restored; outbound
// messages always stay in sent.
func CanMoveTo(d Direction, f Folder) bool {
	switch d {
	case DirectionInbound:
		return f == FolderInbox || f == FolderTrash
	case DirectionOutbound:
		return f == FolderSent
	}
	return false
}

// PreviewLength is the maximum length of a thread's last-message preview.
const PreviewLength = 150

type Thread struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"user_id"`
	ConversationID     string       `json:"conversation_id"`
	CampaignID         *string      `json:"campaign_id,omitempty"`
	ContactEmail       string       `json:"contact_email"`
	ContactName        string       `json:"contact_name,omitempty"`
	Subject            string       `json:"subject"`
	LastMessageAt      time.Time    `json:"last_message_at"`
	LastMessagePreview string       `json:"last_message_preview"`
	MessageCount       int          `json:"message_count"`
	UnreadCount        int          `json:"unread_count"`
	Status             ThreadStatus `json:"status"`
	Messages           []Message    `json:"messages,omitempty"`
}

type Message struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	CampaignID     *string        `json:"campaign_id,omitempty"`
	ContactEmail   string         `json:"contact_email"`
	SenderEmail    string         `json:"sender_email"`
	Subject        string         `json:"subject"`
	BodyText       string         `json:"body_text"`
	BodyHTML       string         `json:"body_html,omitempty"`
	Direction      Direction      `json:"direction"`
	Channel        string         `json:"channel"`
	Status         MessageStatus  `json:"status"`
	Folder         Folder         `json:"folder"`
	HasAttachments bool           `json:"has_attachments"`
	Provider       string         `json:"provider,omitempty"`
	ProviderData   map[string]any `json:"provider_data,omitempty"`
	SentAt         time.Time      `json:"sent_at"`
	ReceivedAt     time.Time      `json:"received_at"`
}

// ThreadsResponse is the paginated thread-list payload.
type ThreadsResponse struct {
	Threads    []*Thread      `json:"threads"`
	Pagination PaginationInfo `json:"pagination"`
}

// PaginationInfo describes the page window of a list response.
type PaginationInfo struct {
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
}

// InboundEmail is a provider-agnostic inbound email event. Webhook handlers,
// the SMTP ingress, and the IMAP capture worker all normalize into this shape
// before handing the event to the ingestion coordinator.
type InboundEmail struct {
	From              string         `json:"from"`
	To                string         `json:"to"`
	Subject           string         `json:"subject"`
	Text              string         `json:"text"`
	HTML              string         `json:"html"`
	ProviderMessageID string         `json:"providerMessageId"`
	Provider          string         `json:"provider"`
	HasAttachments    bool           `json:"hasAttachments"`
	ProviderData      map[string]any `json:"providerData,omitempty"`
	ReceivedAt        time.Time      `json:"receivedAt"`
}

// Owner is the result of resolving a routing address against the
// campaign-sender registry.
type Owner struct {
	SenderID   string
	UserID     string
	CampaignID string
}

// CampaignSender is a registered sending identity for a campaign. Its email
// doubles as the routing address that captures replies for the campaign.
// IMAP fields are optional; when set, the capture worker polls the mailbox.
type CampaignSender struct {
	ID                    string
	UserID                string
	CampaignID            string
	Email                 string
	IMAPHost              string
	IMAPUsername          string
	IMAPPasswordEncrypted []byte
}
