package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadsup/capture/internal/api"
	"github.com/leadsup/capture/internal/auth"
	"github.com/leadsup/capture/internal/config"
	"github.com/leadsup/capture/internal/crypto"
	"github.com/leadsup/capture/internal/db"
	"github.com/leadsup/capture/internal/imapcapture"
	"github.com/leadsup/capture/internal/ingest"
	"github.com/leadsup/capture/internal/smtpingress"
	ws "github.com/leadsup/capture/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	wsHub := ws.NewHub(10)
	store := db.NewStore(pool)
	coordinator := ingest.NewCoordinator(store, ws.NewReplyNotifier(wsHub))

	if cfg.SMTPListenAddr != "" {
		ingressServer := smtpingress.NewServer(cfg.SMTPListenAddr, cfg.SMTPDomain, coordinator)
		go func() {
			if err := ingressServer.ListenAndServe(); err != nil {
				log.Fatalf("SMTP ingress failed: %v", err)
			}
		}()
	}

	if cfg.IMAPCaptureEnabled {
		encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
		if err != nil {
			log.Fatalf("Failed to create encryptor: %v", err)
		}
		worker := imapcapture.NewWorker(pool, encryptor, coordinator, cfg.IMAPPollInterval, true)
		go worker.Run(ctx)
		log.Printf("IMAP capture worker started (poll interval %s)", cfg.IMAPPollInterval)
	}

	server := NewServer(cfg, pool, store, coordinator, wsHub)

	address := ":" + cfg.Port
	log.Printf("LeadsUp capture server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates and returns the HTTP handler for the capture API.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool, store *db.Store, coordinator *ingest.Coordinator, wsHub *ws.Hub) http.Handler {
	webhookHandler := api.NewWebhookHandler(coordinator, cfg.MailerSendWebhookSecret)
	threadsHandler := api.NewThreadsHandler(dbPool)
	threadHandler := api.NewThreadHandler(dbPool)
	actionsHandler := api.NewActionsHandler(dbPool, store, coordinator)
	wsHandler := api.NewWebSocketHandler(dbPool, wsHub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	// Provider webhooks authenticate themselves (signature or none), not
	// with user tokens.
	mux.Handle("/api/webhooks/sendgrid", http.HandlerFunc(webhookHandler.HandleSendGrid))
	mux.Handle("/api/webhooks/mailersend", http.HandlerFunc(webhookHandler.HandleMailerSend))

	mux.Handle("/api/v1/threads", auth.RequireAuth(http.HandlerFunc(threadsHandler.GetThreads)))
	mux.Handle("/api/v1/stats", auth.RequireAuth(http.HandlerFunc(threadsHandler.GetStats)))
	mux.Handle("/api/v1/actions", auth.RequireAuth(http.HandlerFunc(actionsHandler.HandleAction)))

	// WebSocket handler handles its own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	// Handle /api/v1/thread/{conversation_id} pattern
	mux.Handle("/api/v1/thread/", auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/thread/")
		if path == "" || path == r.URL.Path {
			http.Error(w, "conversation_id is required", http.StatusBadRequest)
			return
		}
		threadHandler.GetThread(w, r)
	})))

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "LeadsUp capture API is running")
}
