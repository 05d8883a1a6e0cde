package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// QueryHandler serves historical record reads from the durable store.
type QueryHandler struct {
	repo   domain.TrafficRepository
	logger *slog.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(repo domain.TrafficRepository, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{repo: repo, logger: logger}
}

// ServeHTTP handles GET /api/traffic?device_id=&limit=.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	limit := defaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if v > maxQueryLimit {
			v = maxQueryLimit
		}
		limit = v
	}

	records, err := h.repo.QueryRecent(r.Context(), deviceID, limit)
	if err != nil {
		h.logger.Error("failed to query records", "device_id", deviceID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
