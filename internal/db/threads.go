package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/leadsup/capture/internal/models"
)

// ErrThreadNotFound is returned when a requested thread cannot be found.
var ErrThreadNotFound = errors.New("thread not found")

// UpsertThreadForMessage creates or updates the thread a message belongs to
// in a single conditional upsert. On first contact the thread starts with
// message_count 1; on every subsequent message the counters are incremented
// in the database, never read-then-written by the application, so concurrent
// ingestion of the same conversation cannot lose an update. unread_count
// only grows when the new message is inbound and unread, which keeps
// unread_count <= message_count by construction.
func UpsertThreadForMessage(ctx context.Context, q Querier, thread *models.Thread, msg *models.Message) error {
	unreadDelta := 0
	if msg.Direction == models.DirectionInbound && msg.Status == models.StatusUnread {
		unreadDelta = 1
	}

	err := q.QueryRow(ctx, `
		INSERT INTO inbox_threads (
			user_id,
			conversation_id,
			campaign_id,
			contact_email,
			contact_name,
			subject,
			last_message_at,
			last_message_preview,
			message_count,
			unread_count,
			status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, 'active')
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			message_count = inbox_threads.message_count + 1,
			unread_count = inbox_threads.unread_count + $9,
			last_message_at = EXCLUDED.last_message_at,
			last_message_preview = EXCLUDED.last_message_preview,
			contact_email = EXCLUDED.contact_email,
			contact_name = COALESCE(NULLIF(EXCLUDED.contact_name, ''), inbox_threads.contact_name),
			subject = EXCLUDED.subject,
			status = 'active'
		RETURNING id, message_count, unread_count
	`,
		thread.UserID,
		thread.ConversationID,
		thread.CampaignID,
		thread.ContactEmail,
		thread.ContactName,
		thread.Subject,
		thread.LastMessageAt,
		thread.LastMessagePreview,
		unreadDelta,
	).Scan(&thread.ID, &thread.MessageCount, &thread.UnreadCount)

	if err != nil {
		return fmt.Errorf("failed to upsert thread: %w", err)
	}

	thread.Status = models.ThreadActive
	return nil
}

// GetThreadByConversationID returns a thread by its conversation id.
func GetThreadByConversationID(ctx context.Context, q Querier, userID, conversationID string) (*models.Thread, error) {
	var thread models.Thread

	err := q.QueryRow(ctx, `
		SELECT id, user_id, conversation_id, campaign_id, contact_email, contact_name,
		       subject, last_message_at, last_message_preview, message_count, unread_count, status
		FROM inbox_threads
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID).Scan(
		&thread.ID,
		&thread.UserID,
		&thread.ConversationID,
		&thread.CampaignID,
		&thread.ContactEmail,
		&thread.ContactName,
		&thread.Subject,
		&thread.LastMessageAt,
		&thread.LastMessagePreview,
		&thread.MessageCount,
		&thread.UnreadCount,
		&thread.Status,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	return &thread, nil
}

// GetThreads returns a user's threads ordered by most recent activity.
func GetThreads(ctx context.Context, q Querier, userID string, status models.ThreadStatus, limit, offset int) ([]*models.Thread, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, conversation_id, campaign_id, contact_email, contact_name,
		       subject, last_message_at, last_message_preview, message_count, unread_count, status
		FROM inbox_threads
		WHERE user_id = $1 AND status = $2
		ORDER BY last_message_at DESC
		LIMIT $3 OFFSET $4
	`, userID, status, limit, offset)

	if err != nil {
		return nil, fmt.Errorf("failed to get threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		var thread models.Thread
		if err := rows.Scan(
			&thread.ID,
			&thread.UserID,
			&thread.ConversationID,
			&thread.CampaignID,
			&thread.ContactEmail,
			&thread.ContactName,
			&thread.Subject,
			&thread.LastMessageAt,
			&thread.LastMessagePreview,
			&thread.MessageCount,
			&thread.UnreadCount,
			&thread.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, &thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	return threads, nil
}

// GetThreadCount returns the total number of threads with the given status.
func GetThreadCount(ctx context.Context, q Querier, userID string, status models.ThreadStatus) (int, error) {
	var count int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM inbox_threads
		WHERE user_id = $1 AND status = $2
	`, userID, status).Scan(&count)

	if err != nil {
		return 0, fmt.Errorf("failed to get thread count: %w", err)
	}

	return count, nil
}

// SetThreadStatus archives or reactivates a thread.
func SetThreadStatus(ctx context.Context, q Querier, userID, conversationID string, status models.ThreadStatus) error {
	tag, err := q.Exec(ctx, `
		UPDATE inbox_threads
		SET status = $3
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID, status)

	if err != nil {
		return fmt.Errorf("failed to set thread status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrThreadNotFound
	}

	return nil
}

// RefreshThreadUnreadCount recomputes a thread's unread counter from its
// messages. Used after read-state mutations, which are not part of the
// append-only ingestion path.
func RefreshThreadUnreadCount(ctx context.Context, q Querier, userID, conversationID string) error {
	_, err := q.Exec(ctx, `
		UPDATE inbox_threads
		SET unread_count = (
			SELECT COUNT(*)
			FROM inbox_messages m
			WHERE m.user_id = $1
			  AND m.conversation_id = $2
			  AND m.direction = 'inbound'
			  AND m.status = 'unread'
			  AND m.folder <> 'trash'
		)
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID)

	if err != nil {
		return fmt.Errorf("failed to refresh thread unread count: %w", err)
	}

	return nil
}
