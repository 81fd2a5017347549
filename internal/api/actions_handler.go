package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadsup/capture/internal/db"
	"github.com/leadsup/capture/internal/ingest"
	"github.com/leadsup/capture/internal/models"
)

// actionStore is the part of db.Store the actions handler uses.
type actionStore interface {
	MarkThread(ctx context.Context, userID, conversationID string, status models.MessageStatus) error
	MarkMessage(ctx context.Context, userID, id string, status models.MessageStatus) error
	MoveMessage(ctx context.Context, userID, id string, folder models.Folder) error
}

// Recorder records outbound replies into their conversation.
type Recorder interface {
	RecordOutbound(ctx context.Context, userID, campaignID, senderEmail, contactEmail, subject, bodyText, bodyHTML string) (*ingest.Result, error)
}

// ActionsHandler applies inbox mutations: read state, archival, folder moves,
// and recording sent replies.
type ActionsHandler struct {
	pool     *pgxpool.Pool
	store    actionStore
	recorder Recorder
}

// NewActionsHandler creates a new ActionsHandler instance.
func NewActionsHandler(pool *pgxpool.Pool, store actionStore, recorder Recorder) *ActionsHandler {
	return &ActionsHandler{
		pool:     pool,
		store:    store,
		recorder: recorder,
	}
}

type actionRequest struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Folder         string `json:"folder,omitempty"`

	// record_sent fields
	CampaignID   string `json:"campaign_id,omitempty"`
	SenderEmail  string `json:"sender_email,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	Subject      string `json:"subject,omitempty"`
	BodyText     string `json:"body_text,omitempty"`
	BodyHTML     string `json:"body_html,omitempty"`
}

// HandleAction dispatches a POST /api/v1/actions request.
func (h *ActionsHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "mark_read":
		h.handleMark(ctx, w, userID, &req, models.StatusRead)
	case "mark_unread":
		h.handleMark(ctx, w, userID, &req, models.StatusUnread)
	case "archive":
		h.handleSetThreadStatus(ctx, w, userID, &req, models.ThreadArchived)
	case "unarchive":
		h.handleSetThreadStatus(ctx, w, userID, &req, models.ThreadActive)
	case "move_folder":
		h.handleMoveFolder(ctx, w, userID, &req)
	case "record_sent":
		h.handleRecordSent(ctx, w, userID, &req)
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
	}
}

// handleMark updates read state for a single message or a whole thread.
func (h *ActionsHandler) handleMark(ctx context.Context, w http.ResponseWriter, userID string, req *actionRequest, status models.MessageStatus) {
	var err error
	switch {
	case req.MessageID != "":
		err = h.store.MarkMessage(ctx, userID, req.MessageID, status)
	case req.ConversationID != "":
		err = h.store.MarkThread(ctx, userID, req.ConversationID, status)
	default:
		http.Error(w, "message_id or conversation_id is required", http.StatusBadRequest)
		return
	}

	if err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		log.Printf("ActionsHandler: Failed to update read state: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, map[string]string{"status": "ok"})
}

func (h *ActionsHandler) handleSetThreadStatus(ctx context.Context, w http.ResponseWriter, userID string, req *actionRequest, status models.ThreadStatus) {
	if req.ConversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	if err := db.SetThreadStatus(ctx, h.pool, userID, req.ConversationID, status); err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		log.Printf("ActionsHandler: Failed to set thread status: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, map[string]string{"status": "ok"})
}

func (h *ActionsHandler) handleMoveFolder(ctx context.Context, w http.ResponseWriter, userID string, req *actionRequest) {
	if req.MessageID == "" || req.Folder == "" {
		http.Error(w, "message_id and folder are required", http.StatusBadRequest)
		return
	}

	err := h.store.MoveMessage(ctx, userID, req.MessageID, models.Folder(req.Folder))
	if err != nil {
		switch {
		case errors.Is(err, db.ErrMessageNotFound):
			http.Error(w, "Message not found", http.StatusNotFound)
		case errors.Is(err, db.ErrFolderNotAllowed):
			http.Error(w, "Message cannot be moved to that folder", http.StatusUnprocessableEntity)
		default:
			log.Printf("ActionsHandler: Failed to move message: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	WriteJSONResponse(w, map[string]string{"status": "ok"})
}

// handleRecordSent stores an outbound reply so the conversation shows both
// sides of the exchange.
func (h *ActionsHandler) handleRecordSent(ctx context.Context, w http.ResponseWriter, userID string, req *actionRequest) {
	if req.SenderEmail == "" || req.ContactEmail == "" {
		http.Error(w, "sender_email and contact_email are required", http.StatusBadRequest)
		return
	}

	result, err := h.recorder.RecordOutbound(ctx, userID, req.CampaignID, req.SenderEmail, req.ContactEmail, req.Subject, req.BodyText, req.BodyHTML)
	if err != nil {
		log.Printf("ActionsHandler: Failed to record sent reply: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if result.Status == ingest.StatusRejected {
		http.Error(w, "Invalid sender or contact address", http.StatusBadRequest)
		return
	}

	WriteJSONResponse(w, result)
}
