package websocket

import (
	"encoding/json"
	"log"
)

// sender is the part of Hub the notifier needs.
type sender interface {
	Send(userID string, msg []byte)
}

// ReplyNotifier pushes new-reply events to a user's open inbox views.
// Plugged into the ingestion pipeline so a captured reply shows up
// without a page refresh.
type ReplyNotifier struct {
	hub sender
}

// NewReplyNotifier creates a notifier backed by the given hub.
func NewReplyNotifier(hub *Hub) *ReplyNotifier {
	return &ReplyNotifier{hub: hub}
}

type newReplyEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Folder         string `json:"folder"`
}

// NotifyNewReply tells every connected client of the user that a new
// inbound message landed in the given conversation.
func (n *ReplyNotifier) NotifyNewReply(userID, conversationID string) {
	payload, err := json.Marshal(newReplyEvent{
		Type:           "new_reply",
		ConversationID: conversationID,
		Folder:         "inbox",
	})
	if err != nil {
		log.Printf("websocket: failed to marshal new_reply event: %v", err)
		return
	}
	n.hub.Send(userID, payload)
}
