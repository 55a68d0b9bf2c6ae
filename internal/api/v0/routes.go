// Package v0 provides the REST API handlers for the sync engine's
// operational endpoints.
package v0

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/content-sync/internal/coordinator"
	"github.com/stacklok/content-sync/internal/service"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// InvalidateResponse reports how many cache entries were removed
type InvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

// SyncResponse summarizes a manually triggered sync run
type SyncResponse struct {
	Source           string `json:"source"`
	Records          int    `json:"records"`
	Strategy         string `json:"strategy"`
	SkippedUnchanged int    `json:"skipped_unchanged"`
	Failed           int    `json:"failed"`
	ElapsedMs        int64  `json:"elapsed_ms"`
}

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	service service.SyncService
}

// NewRoutes creates a new Routes instance with the provided service
func NewRoutes(svc service.SyncService) *Routes {
	return &Routes{
		service: svc,
	}
}

// Router creates a new router for the sync API
func Router(svc service.SyncService) http.Handler {
	routes := NewRoutes(svc)

	r := chi.NewRouter()

	r.Get("/cache/stats", routes.getCacheStats)
	r.Delete("/cache", routes.invalidateCache)
	r.Get("/queue/stats", routes.getQueueStats)
	r.Get("/status", routes.getSyncStatuses)
	r.Post("/sync/{sourceID}", routes.triggerSync)

	return r
}

// getCacheStats handles GET /api/v0/cache/stats
func (rt *Routes) getCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.service.CacheStats())
}

// invalidateCache handles DELETE /api/v0/cache?pattern=...
func (rt *Routes) invalidateCache(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "pattern query parameter is required"})
		return
	}

	count := rt.service.InvalidateCache(r.Context(), pattern)
	writeJSON(w, http.StatusOK, InvalidateResponse{Invalidated: count})
}

// getQueueStats handles GET /api/v0/queue/stats
func (rt *Routes) getQueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.service.QueueStats())
}

// getSyncStatuses handles GET /api/v0/status
func (rt *Routes) getSyncStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := rt.service.SyncStatuses(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// triggerSync handles POST /api/v0/sync/{sourceID}
func (rt *Routes) triggerSync(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	result, err := rt.service.TriggerSync(r.Context(), sourceID)
	if err != nil {
		code := http.StatusConflict
		if errors.Is(err, coordinator.ErrUnknownSource) {
			code = http.StatusNotFound
		}
		writeJSON(w, code, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, SyncResponse{
		Source:           sourceID,
		Records:          len(result.Records),
		Strategy:         result.Stats.Strategy,
		SkippedUnchanged: result.Stats.SkippedUnchanged,
		Failed:           result.Stats.Failed,
		ElapsedMs:        result.Stats.Elapsed.Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
