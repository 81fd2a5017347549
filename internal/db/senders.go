package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadsup/capture/internal/models"
)

// ErrOwnerNotFound is returned when no campaign sender is registered for a
// routing address.
var ErrOwnerNotFound = errors.New("no owner for routing address")

// ErrAmbiguousOwner is returned when a routing address maps to more than one
// distinct (user, campaign) pair. Picking an arbitrary row would attribute
// captured mail to the wrong user, so the caller must fail the event instead.
var ErrAmbiguousOwner = errors.New("routing address maps to multiple owners")

// ResolveOwner looks up the campaign sender registered for a routing address.
// The lookup runs fresh on every call; results must not be cached across
// events because sender registrations change underneath a running server.
func ResolveOwner(ctx context.Context, q Querier, routingAddress string) (*models.Owner, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, campaign_id
		FROM campaign_senders
		WHERE email = $1
	`, routingAddress)

	if err != nil {
		return nil, fmt.Errorf("failed to query campaign senders: %w", err)
	}
	defer rows.Close()

	var owners []models.Owner
	for rows.Next() {
		var o models.Owner
		if err := rows.Scan(&o.SenderID, &o.UserID, &o.CampaignID); err != nil {
			return nil, fmt.Errorf("failed to scan campaign sender: %w", err)
		}
		owners = append(owners, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign senders: %w", err)
	}

	if len(owners) == 0 {
		return nil, ErrOwnerNotFound
	}

	// Duplicate registrations of the same (user, campaign) pair are a single
	// candidate; only disagreeing rows make the routing ambiguous.
	first := owners[0]
	for _, o := range owners[1:] {
		if o.UserID != first.UserID || o.CampaignID != first.CampaignID {
			return nil, fmt.Errorf("%w: %s", ErrAmbiguousOwner, routingAddress)
		}
	}

	return &first, nil
}

// GetIMAPSenders returns the campaign senders that have a mailbox configured
// for IMAP reply capture.
func GetIMAPSenders(ctx context.Context, q Querier) ([]*models.CampaignSender, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, campaign_id, email,
		       COALESCE(imap_host, ''), COALESCE(imap_username, ''), imap_password_encrypted
		FROM campaign_senders
		WHERE imap_host IS NOT NULL AND imap_host <> ''
	`)

	if err != nil {
		return nil, fmt.Errorf("failed to query IMAP senders: %w", err)
	}
	defer rows.Close()

	var senders []*models.CampaignSender
	for rows.Next() {
		var s models.CampaignSender
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.CampaignID,
			&s.Email,
			&s.IMAPHost,
			&s.IMAPUsername,
			&s.IMAPPasswordEncrypted,
		); err != nil {
			return nil, fmt.Errorf("failed to scan IMAP sender: %w", err)
		}
		senders = append(senders, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating IMAP senders: %w", err)
	}

	return senders, nil
}

// RegisterCampaignSender inserts a campaign sender row. Used by provisioning
// and by tests.
func RegisterCampaignSender(ctx context.Context, q Querier, s *models.CampaignSender) error {
	err := q.QueryRow(ctx, `
		INSERT INTO campaign_senders (user_id, campaign_id, email, imap_host, imap_username, imap_password_encrypted)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		RETURNING id
	`, s.UserID, s.CampaignID, s.Email, s.IMAPHost, s.IMAPUsername, s.IMAPPasswordEncrypted).Scan(&s.ID)

	if err != nil {
		return fmt.Errorf("failed to register campaign sender: %w", err)
	}

	return nil
}
