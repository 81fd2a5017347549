package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leadsup/capture/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// ErrDuplicateMessage is returned when a message with the same provider
// message id was already stored for this user. Providers deliver webhooks
// at least once, so callers treat this as already-processed, not a failure.
var ErrDuplicateMessage = errors.New("message already exists")

const messageColumns = `
	id, user_id, message_id, conversation_id, campaign_id, contact_email, sender_email,
	subject, body_text, body_html, direction, channel, status, folder,
	has_attachments, provider, provider_data, sent_at, received_at`

// InsertMessage stores a message. Messages are immutable: there is no update
// path, and re-inserting the same (user, message_id) returns
// ErrDuplicateMessage.
func InsertMessage(ctx context.Context, q Querier, msg *models.Message) error {
	err := q.QueryRow(ctx, `
		INSERT INTO inbox_messages (
			user_id,
			message_id,
			conversation_id,
			campaign_id,
			contact_email,
			sender_email,
			subject,
			body_text,
			body_html,
			direction,
			channel,
			status,
			folder,
			has_attachments,
			provider,
			provider_data,
			sent_at,
			received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`,
		msg.UserID,
		msg.MessageID,
		msg.ConversationID,
		msg.CampaignID,
		msg.ContactEmail,
		msg.SenderEmail,
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.Direction,
		msg.Channel,
		msg.Status,
		msg.Folder,
		msg.HasAttachments,
		msg.Provider,
		msg.ProviderData,
		msg.SentAt,
		msg.ReceivedAt,
	).Scan(&msg.ID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "inbox_messages_provider_message_unique" {
			return fmt.Errorf("%w: %s", ErrDuplicateMessage, msg.MessageID)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// GetMessagesForThread returns all messages in a conversation, oldest first.
func GetMessagesForThread(ctx context.Context, q Querier, userID, conversationID string) ([]*models.Message, error) {
	rows, err := q.Query(ctx, `
		SELECT `+messageColumns+`
		FROM inbox_messages
		WHERE user_id = $1 AND conversation_id = $2
		ORDER BY sent_at
	`, userID, conversationID)

	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// GetMessageByID returns a message by its database id.
func GetMessageByID(ctx context.Context, q Querier, userID, id string) (*models.Message, error) {
	row := q.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM inbox_messages
		WHERE user_id = $1 AND id = $2
	`, userID, id)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// SetMessageStatus updates a message's read state and returns its
// conversation id so the caller can refresh the thread counter.
func SetMessageStatus(ctx context.Context, q Querier, userID, id string, status models.MessageStatus) (string, error) {
	var conversationID string
	err := q.QueryRow(ctx, `
		UPDATE inbox_messages
		SET status = $3
		WHERE user_id = $1 AND id = $2
		RETURNING conversation_id
	`, userID, id, status).Scan(&conversationID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMessageNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to set message status: %w", err)
	}

	return conversationID, nil
}

// SetMessageFolder moves a message to another folder and returns its
// conversation id. The direction/folder pairing is validated by the caller
// and enforced again by a database constraint.
func SetMessageFolder(ctx context.Context, q Querier, userID, id string, folder models.Folder) (string, error) {
	var conversationID string
	err := q.QueryRow(ctx, `
		UPDATE inbox_messages
		SET folder = $3
		WHERE user_id = $1 AND id = $2
		RETURNING conversation_id
	`, userID, id, folder).Scan(&conversationID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMessageNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to set message folder: %w", err)
	}

	return conversationID, nil
}

// SetThreadMessagesStatus updates the read state of every inbound message in
// a conversation. Outbound messages are already read by construction.
func SetThreadMessagesStatus(ctx context.Context, q Querier, userID, conversationID string, status models.MessageStatus) error {
	_, err := q.Exec(ctx, `
		UPDATE inbox_messages
		SET status = $3
		WHERE user_id = $1 AND conversation_id = $2 AND direction = 'inbound'
	`, userID, conversationID, status)

	if err != nil {
		return fmt.Errorf("failed to set thread message status: %w", err)
	}

	return nil
}

// InboxStats summarizes a user's inbox for the dashboard.
type InboxStats struct {
	TotalMessages  int `json:"total_messages"`
	UnreadMessages int `json:"unread_messages"`
	TodayMessages  int `json:"today_messages"`
	ActiveThreads  int `json:"active_threads"`
}

// GetInboxStats returns message and thread counts for a user.
func GetInboxStats(ctx context.Context, q Querier, userID string) (*InboxStats, error) {
	var stats InboxStats

	err := q.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE folder <> 'trash'),
			COUNT(*) FILTER (WHERE status = 'unread' AND direction = 'inbound' AND folder <> 'trash'),
			COUNT(*) FILTER (WHERE received_at >= date_trunc('day', now()) AND folder <> 'trash'),
			(SELECT COUNT(*) FROM inbox_threads t WHERE t.user_id = $1 AND t.status = 'active')
		FROM inbox_messages
		WHERE user_id = $1
	`, userID).Scan(
		&stats.TotalMessages,
		&stats.UnreadMessages,
		&stats.TodayMessages,
		&stats.ActiveThreads,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get inbox stats: %w", err)
	}

	return &stats, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.UserID,
		&msg.MessageID,
		&msg.ConversationID,
		&msg.CampaignID,
		&msg.ContactEmail,
		&msg.SenderEmail,
		&msg.Subject,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.Direction,
		&msg.Channel,
		&msg.Status,
		&msg.Folder,
		&msg.HasAttachments,
		&msg.Provider,
		&msg.ProviderData,
		&msg.SentAt,
		&msg.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &msg, nil
}
