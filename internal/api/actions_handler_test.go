package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leadsup/capture/internal/auth"
	"github.com/leadsup/capture/internal/db"
	"github.com/leadsup/capture/internal/ingest"
	"github.com/leadsup/capture/internal/models"
	"github.com/leadsup/capture/internal/testutil"
)

func postAction(t *testing.T, email string, body map[string]any) *http.Request {
	t.Helper()

	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal action body: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/v1/actions", bytes.NewReader(encoded))
	ctx := context.WithValue(req.Context(), auth.UserEmailKey, email)
	return req.WithContext(ctx)
}

func TestActionsHandler(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := db.NewStore(pool)
	coordinator := ingest.NewCoordinator(store, nil)
	handler := NewActionsHandler(pool, store, coordinator)

	email := "actionuser@example.com"
	routing := "actionuser@reply.leadsup.io"
	userID := setupTestSender(t, pool, email, "camp-actions", routing)

	t.Run("rejects non-POST requests", func(t *testing.T) {
		req := createRequestWithUser("GET", "/api/v1/actions", email)
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", rr.Code)
		}
	})

	t.Run("rejects unknown actions", func(t *testing.T) {
		req := postAction(t, email, map[string]any{"action": "explode"})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rr.Code)
		}
	})

	t.Run("marks a whole thread read and back unread", func(t *testing.T) {
		result := ingestTestReply(t, pool, "greg@example.com", routing, "msg-greg-1", "A reply")
		ingestTestReply(t, pool, "greg@example.com", routing, "msg-greg-2", "Another reply")

		req := postAction(t, email, map[string]any{
			"action":          "mark_read",
			"conversation_id": result.ConversationID,
		})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		thread, err := db.GetThreadByConversationID(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load thread: %v", err)
		}
		if thread.UnreadCount != 0 {
			t.Errorf("Expected unread_count 0 after mark_read, got %d", thread.UnreadCount)
		}

		req = postAction(t, email, map[string]any{
			"action":          "mark_unread",
			"conversation_id": result.ConversationID,
		})
		rr = httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}

		thread, err = db.GetThreadByConversationID(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load thread: %v", err)
		}
		if thread.UnreadCount != 2 {
			t.Errorf("Expected unread_count 2 after mark_unread, got %d", thread.UnreadCount)
		}
	})

	t.Run("marks a single message read", func(t *testing.T) {
		result := ingestTestReply(t, pool, "helen@example.com", routing, "msg-helen-1", "A reply")
		ingestTestReply(t, pool, "helen@example.com", routing, "msg-helen-2", "Another reply")

		messages, err := db.GetMessagesForThread(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load messages: %v", err)
		}

		req := postAction(t, email, map[string]any{
			"action":     "mark_read",
			"message_id": messages[0].ID,
		})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}

		thread, err := db.GetThreadByConversationID(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load thread: %v", err)
		}
		if thread.UnreadCount != 1 {
			t.Errorf("Expected unread_count 1 after single mark_read, got %d", thread.UnreadCount)
		}
	})

	t.Run("returns 404 for a missing message", func(t *testing.T) {
		req := postAction(t, email, map[string]any{
			"action":     "mark_read",
			"message_id": "00000000-0000-0000-0000-000000000000",
		})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rr.Code)
		}
	})

	t.Run("archives and unarchives a thread", func(t *testing.T) {
		result := ingestTestReply(t, pool, "ivan@example.com", routing, "msg-ivan-1", "A reply")

		req := postAction(t, email, map[string]any{
			"action":          "archive",
			"conversation_id": result.ConversationID,
		})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}

		thread, err := db.GetThreadByConversationID(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load thread: %v", err)
		}
		if thread.Status != models.ThreadArchived {
			t.Errorf("Expected archived status, got %s", thread.Status)
		}

		req = postAction(t, email, map[string]any{
			"action":          "unarchive",
			"conversation_id": result.ConversationID,
		})
		rr = httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rr.Code)
		}

		thread, err = db.GetThreadByConversationID(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load thread: %v", err)
		}
		if thread.Status != models.ThreadActive {
			t.Errorf("Expected active status, got %s", thread.Status)
		}
	})

	t.Run("refuses to move an inbound message to sent", func(t *testing.T) {
		result := ingestTestReply(t, pool, "judy@example.com", routing, "msg-judy-1", "A reply")

		messages, err := db.GetMessagesForThread(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load messages: %v", err)
		}

		req := postAction(t, email, map[string]any{
			"action":     "move_folder",
			"message_id": messages[0].ID,
			"folder":     "sent",
		})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected status 422, got %d", rr.Code)
		}
	})

	t.Run("moves an inbound message to trash", func(t *testing.T) {
		result := ingestTestReply(t, pool, "kate@example.com", routing, "msg-kate-1", "A reply")

		messages, err := db.GetMessagesForThread(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load messages: %v", err)
		}

		req := postAction(t, email, map[string]any{
			"action":     "move_folder",
			"message_id": messages[0].ID,
			"folder":     "trash",
		})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		moved, err := db.GetMessageByID(ctx, pool, userID, messages[0].ID)
		if err != nil {
			t.Fatalf("Failed to reload message: %v", err)
		}
		if moved.Folder != models.FolderTrash {
			t.Errorf("Expected trash folder, got %s", moved.Folder)
		}
	})

	t.Run("records a sent reply into the conversation", func(t *testing.T) {
		result := ingestTestReply(t, pool, "leo@example.com", routing, "msg-leo-1", "A reply")

		req := postAction(t, email, map[string]any{
			"action":        "record_sent",
			"campaign_id":   "camp-actions",
			"sender_email":  routing,
			"contact_email": "leo@example.com",
			"subject":       "Re: Quick question",
			"body_text":     "Happy to walk you through it.",
		})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var recorded ingest.Result
		if err := json.NewDecoder(rr.Body).Decode(&recorded); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if recorded.ConversationID != result.ConversationID {
			t.Errorf("Expected reply in conversation %s, got %s", result.ConversationID, recorded.ConversationID)
		}

		messages, err := db.GetMessagesForThread(ctx, pool, userID, result.ConversationID)
		if err != nil {
			t.Fatalf("Failed to load messages: %v", err)
		}
		if len(messages) != 2 {
			t.Fatalf("Expected 2 messages, got %d", len(messages))
		}

		outbound := messages[1]
		if outbound.Direction != models.DirectionOutbound {
			t.Errorf("Expected outbound direction, got %s", outbound.Direction)
		}
		if outbound.Folder != models.FolderSent {
			t.Errorf("Expected sent folder, got %s", outbound.Folder)
		}
		if outbound.Status != models.StatusRead {
			t.Errorf("Expected read status, got %s", outbound.Status)
		}
	})

	t.Run("rejects record_sent with a malformed address", func(t *testing.T) {
		req := postAction(t, email, map[string]any{
			"action":        "record_sent",
			"sender_email":  "not an address",
			"contact_email": "leo@example.com",
			"body_text":     "hi",
		})
		rr := httptest.NewRecorder()
		handler.HandleAction(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rr.Code)
		}
	})
}
