package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadsup/capture/internal/models"
)

// Store bundles the accessors the ingestion coordinator needs behind one
// value, with the transactional write path in a single place.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ResolveOwner looks up the owning user and campaign for a routing address.
func (s *Store) ResolveOwner(ctx context.Context, routingAddress string) (*models.Owner, error) {
	return ResolveOwner(ctx, s.pool, routingAddress)
}

// Save upserts the thread and inserts the message in one transaction: either
// both land or neither does. A duplicate message id rolls the thread update
// back too, so webhook redelivery cannot bump the counters twice.
func (s *Store) Save(ctx context.Context, thread *models.Thread, msg *models.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := UpsertThreadForMessage(ctx, tx, thread, msg); err != nil {
		return err
	}

	if err := InsertMessage(ctx, tx, msg); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkThread sets the read state of every inbound message in a conversation
// and recomputes the thread's unread counter in the same transaction.
func (s *Store) MarkThread(ctx context.Context, userID, conversationID string, status models.MessageStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := SetThreadMessagesStatus(ctx, tx, userID, conversationID, status); err != nil {
		return err
	}

	if err := RefreshThreadUnreadCount(ctx, tx, userID, conversationID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkMessage sets the read state of one message and recomputes its thread's
// unread counter in the same transaction.
func (s *Store) MarkMessage(ctx context.Context, userID, id string, status models.MessageStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversationID, err := SetMessageStatus(ctx, tx, userID, id, status)
	if err != nil {
		return err
	}

	if err := RefreshThreadUnreadCount(ctx, tx, userID, conversationID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ErrFolderNotAllowed is returned when a move would break the
// direction/folder pairing (outbound mail stays in sent, inbound mail moves
// only between inbox and trash).
var ErrFolderNotAllowed = errors.New("folder not allowed for message direction")

// MoveMessage moves a message to another folder after validating the move
// against the message's direction, then recomputes the thread's unread
// counter since trashed messages no longer count.
func (s *Store) MoveMessage(ctx context.Context, userID, id string, folder models.Folder) error {
	msg, err := GetMessageByID(ctx, s.pool, userID, id)
	if err != nil {
		return err
	}

	if !models.CanMoveTo(msg.Direction, folder) {
		return fmt.Errorf("%w: %s -> %s", ErrFolderNotAllowed, msg.Direction, folder)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversationID, err := SetMessageFolder(ctx, tx, userID, id, folder)
	if err != nil {
		return err
	}

	if err := RefreshThreadUnreadCount(ctx, tx, userID, conversationID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
