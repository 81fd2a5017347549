package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadsup/capture/internal/db"
	"github.com/leadsup/capture/internal/models"
)

// ThreadHandler serves single conversations with their messages.
type ThreadHandler struct {
	pool *pgxpool.Pool
}

// NewThreadHandler creates a new ThreadHandler instance.
func NewThreadHandler(pool *pgxpool.Pool) *ThreadHandler {
	return &ThreadHandler{pool: pool}
}

// GetThread returns one thread with all of its messages, oldest first.
// Path: /api/v1/thread/{conversation_id}
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/thread/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	conversationID := pathParts[0]

	thread, err := db.GetThreadByConversationID(ctx, h.pool, userID, conversationID)
	if err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		log.Printf("ThreadHandler: Failed to get thread: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	messages, err := db.GetMessagesForThread(ctx, h.pool, userID, conversationID)
	if err != nil {
		log.Printf("ThreadHandler: Failed to get messages: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	threadMessages := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg != nil {
			threadMessages = append(threadMessages, *msg)
		}
	}
	thread.Messages = threadMessages

	if !WriteJSONResponse(w, thread) {
		return
	}
}
