package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadsup/capture/internal/models"
	"github.com/leadsup/capture/internal/testutil"
)

func TestInsertAndGetMessages(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	userID, err := GetOrCreateUser(ctx, pool, "messages@example.com")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}

	t.Run("returns messages oldest first", func(t *testing.T) {
		base := time.Now().UTC()
		for i, id := range []string{"msg-order-2", "msg-order-1"} {
			thread, msg := newCapturedPair(userID, "conv-order", id, "kim@example.com")
			// Insert out of order; sent_at decides the read order.
			msg.SentAt = base.Add(time.Duration(-i) * time.Hour)
			if err := UpsertThreadForMessage(ctx, pool, thread, msg); err != nil {
				t.Fatalf("UpsertThreadForMessage failed: %v", err)
			}
			if err := InsertMessage(ctx, pool, msg); err != nil {
				t.Fatalf("InsertMessage failed: %v", err)
			}
		}

		messages, err := GetMessagesForThread(ctx, pool, userID, "conv-order")
		if err != nil {
			t.Fatalf("GetMessagesForThread failed: %v", err)
		}
		if len(messages) != 2 {
			t.Fatalf("Expected 2 messages, got %d", len(messages))
		}
		if messages[0].MessageID != "msg-order-1" {
			t.Errorf("Expected oldest message first, got %s", messages[0].MessageID)
		}
	})

	t.Run("rejects a duplicate provider message id", func(t *testing.T) {
		thread, msg := newCapturedPair(userID, "conv-dup", "msg-dup-1", "lee@example.com")
		if err := UpsertThreadForMessage(ctx, pool, thread, msg); err != nil {
			t.Fatalf("UpsertThreadForMessage failed: %v", err)
		}
		if err := InsertMessage(ctx, pool, msg); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}

		_, replay := newCapturedPair(userID, "conv-dup", "msg-dup-1", "lee@example.com")
		if err := InsertMessage(ctx, pool, replay); !errors.Is(err, ErrDuplicateMessage) {
			t.Errorf("Expected ErrDuplicateMessage, got %v", err)
		}
	})

	t.Run("allows the same message id for another user", func(t *testing.T) {
		otherID, err := GetOrCreateUser(ctx, pool, "messages-other@example.com")
		if err != nil {
			t.Fatalf("GetOrCreateUser failed: %v", err)
		}

		thread, msg := newCapturedPair(otherID, "conv-dup", "msg-dup-1", "lee@example.com")
		if err := UpsertThreadForMessage(ctx, pool, thread, msg); err != nil {
			t.Fatalf("UpsertThreadForMessage failed: %v", err)
		}
		if err := InsertMessage(ctx, pool, msg); err != nil {
			t.Errorf("Expected insert to succeed for another user, got %v", err)
		}
	})

	t.Run("GetMessageByID scopes by user", func(t *testing.T) {
		thread, msg := newCapturedPair(userID, "conv-scope", "msg-scope-1", "max@example.com")
		if err := UpsertThreadForMessage(ctx, pool, thread, msg); err != nil {
			t.Fatalf("UpsertThreadForMessage failed: %v", err)
		}
		if err := InsertMessage(ctx, pool, msg); err != nil {
			t.Fatalf("InsertMessage failed: %v", err)
		}

		otherID, err := GetOrCreateUser(ctx, pool, "messages-stranger@example.com")
		if err != nil {
			t.Fatalf("GetOrCreateUser failed: %v", err)
		}

		if _, err := GetMessageByID(ctx, pool, otherID, msg.ID); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Expected ErrMessageNotFound for foreign user, got %v", err)
		}
	})
}

func TestGetInboxStats(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewStore(pool)

	userID, err := GetOrCreateUser(ctx, pool, "stats@example.com")
	if err != nil {
		t.Fatalf("GetOrCreateUser failed: %v", err)
	}

	for _, id := range []string{"msg-stats-1", "msg-stats-2"} {
		thread, msg := newCapturedPair(userID, "conv-stats", id, "nina@example.com")
		if err := store.Save(ctx, thread, msg); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	outThread, outMsg := newCapturedPair(userID, "conv-stats", "msg-stats-out", "nina@example.com")
	outMsg.Direction = models.DirectionOutbound
	outMsg.Status = models.StatusRead
	outMsg.Folder = models.FolderSent
	if err := store.Save(ctx, outThread, outMsg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stats, err := GetInboxStats(ctx, pool, userID)
	if err != nil {
		t.Fatalf("GetInboxStats failed: %v", err)
	}

	if stats.TotalMessages != 3 {
		t.Errorf("Expected 3 total messages, got %d", stats.TotalMessages)
	}
	if stats.UnreadMessages != 2 {
		t.Errorf("Expected 2 unread messages, got %d", stats.UnreadMessages)
	}
	if stats.TodayMessages != 3 {
		t.Errorf("Expected 3 messages today, got %d", stats.TodayMessages)
	}
	if stats.ActiveThreads != 1 {
		t.Errorf("Expected 1 active thread, got %d", stats.ActiveThreads)
	}

	t.Run("trashed messages drop out of the counts", func(t *testing.T) {
		messages, err := GetMessagesForThread(ctx, pool, userID, "conv-stats")
		if err != nil {
			t.Fatalf("GetMessagesForThread failed: %v", err)
		}

		var inboundID string
		for _, msg := range messages {
			if msg.Direction == models.DirectionInbound {
				inboundID = msg.ID
				break
			}
		}

		if err := store.MoveMessage(ctx, userID, inboundID, models.FolderTrash); err != nil {
			t.Fatalf("MoveMessage failed: %v", err)
		}

		stats, err := GetInboxStats(ctx, pool, userID)
		if err != nil {
			t.Fatalf("GetInboxStats failed: %v", err)
		}
		if stats.TotalMessages != 2 {
			t.Errorf("Expected 2 total messages after trashing, got %d", stats.TotalMessages)
		}
		if stats.UnreadMessages != 1 {
			t.Errorf("Expected 1 unread message after trashing, got %d", stats.UnreadMessages)
		}
	})
}
