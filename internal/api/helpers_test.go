package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadsup/capture/internal/auth"
	"github.com/leadsup/capture/internal/db"
	"github.com/leadsup/capture/internal/ingest"
	"github.com/leadsup/capture/internal/models"
)

// createRequestWithUser builds a request carrying an authenticated user email
// in its context, the way the auth middleware would.
func createRequestWithUser(method, path, email string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserEmailKey, email)
	return req.WithContext(ctx)
}

// setupTestSender creates a user and registers a campaign sender whose email
// doubles as the routing address for captured replies.
func setupTestSender(t *testing.T, pool *pgxpool.Pool, userEmail, campaignID, routingAddress string) string {
	t.Helper()

	ctx := context.Background()
	userID, err := db.GetOrCreateUser(ctx, pool, userEmail)
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	sender := &models.CampaignSender{
		UserID:     userID,
		CampaignID: campaignID,
		Email:      routingAddress,
	}
	if err := db.RegisterCampaignSender(ctx, pool, sender); err != nil {
		t.Fatalf("Failed to register campaign sender: %v", err)
	}

	return userID
}

// ingestTestReply pushes one inbound event through a real coordinator and
// returns the stored result.
func ingestTestReply(t *testing.T, pool *pgxpool.Pool, from, routingAddress, providerMessageID, text string) *ingest.Result {
	t.Helper()

	coordinator := ingest.NewCoordinator(db.NewStore(pool), nil)
	result, err := coordinator.Ingest(context.Background(), &models.InboundEmail{
		From:              from,
		To:                routingAddress,
		Subject:           "Re: Quick question",
		Text:              text,
		Provider:          "sendgrid",
		ProviderMessageID: providerMessageID,
		ReceivedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to ingest test reply: %v", err)
	}
	if result.Status != ingest.StatusDone {
		t.Fatalf("Expected test reply to be stored, got %s (%s)", result.Status, result.Reason)
	}

	return result
}
