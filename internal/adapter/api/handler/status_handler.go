package handler

import (
	"net/http"

	"github.com/yunze7373/traffic-tool/internal/usecase"
)

// StatusHandler serves the pipeline's counter snapshot.
type StatusHandler struct {
	aggregator *usecase.StatusAggregator
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(aggregator *usecase.StatusAggregator) *StatusHandler {
	return &StatusHandler{aggregator: aggregator}
}

// ServeHTTP handles GET /api/status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.aggregator.Snapshot())
}
