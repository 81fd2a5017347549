package api

import (
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadsup/capture/internal/db"
	"github.com/leadsup/capture/internal/models"
)

// ThreadsHandler handles thread-list and stats API requests.
type ThreadsHandler struct {
	pool *pgxpool.Pool
}

// NewThreadsHandler creates a new ThreadsHandler instance.
func NewThreadsHandler(pool *pgxpool.Pool) *ThreadsHandler {
	return &ThreadsHandler{pool: pool}
}

// BuildPaginationResponse builds the pagination response structure.
func BuildPaginationResponse(threads []*models.Thread, totalCount, page, limit int) *models.ThreadsResponse {
	return &models.ThreadsResponse{
		Threads: threads,
		Pagination: models.PaginationInfo{
			TotalCount: totalCount,
			Page:       page,
			PerPage:    limit,
		},
	}
}

// GetThreads returns a paginated list of conversation threads, newest
// activity first. The status query parameter selects active (default) or
// archived threads.
func (h *ThreadsHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	status := models.ThreadActive
	switch r.URL.Query().Get("status") {
	case "", "active":
	case "archived":
		status = models.ThreadArchived
	default:
		http.Error(w, "status must be active or archived", http.StatusBadRequest)
		return
	}

	page, limit := ParsePaginationParams(r, 50)
	offset := (page - 1) * limit

	threads, err := db.GetThreads(ctx, h.pool, userID, status, limit, offset)
	if err != nil {
		log.Printf("ThreadsHandler: Failed to get threads: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	totalCount, err := db.GetThreadCount(ctx, h.pool, userID, status)
	if err != nil {
		log.Printf("ThreadsHandler: Failed to get thread count: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := BuildPaginationResponse(threads, totalCount, page, limit)

	if !WriteJSONResponse(w, response) {
		return
	}
}

// GetStats returns inbox-wide message and thread counts.
func (h *ThreadsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.pool)
	if !ok {
		return
	}

	stats, err := db.GetInboxStats(ctx, h.pool, userID)
	if err != nil {
		log.Printf("ThreadsHandler: Failed to get inbox stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if !WriteJSONResponse(w, stats) {
		return
	}
}
