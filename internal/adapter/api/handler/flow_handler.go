package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

// FlowIngestor is the slice of the ingestion coordinator the handler needs.
type FlowIngestor interface {
	Ingest(ctx context.Context, flow *domain.RawFlow) error
}

// FlowHandler accepts raw flows from remote interception layers over HTTP.
// In-process collaborators call the coordinator directly; this adapter exists
// for capture clients submitting from another host.
type FlowHandler struct {
	ingestor    FlowIngestor
	logger      *slog.Logger
	maxFlowSize int64
}

// NewFlowHandler creates a new FlowHandler.
func NewFlowHandler(ingestor FlowIngestor, logger *slog.Logger, maxFlowSize int64) *FlowHandler {
	return &FlowHandler{
		ingestor:    ingestor,
		logger:      logger,
		maxFlowSize: maxFlowSize,
	}
}

// ServeHTTP handles POST /api/flows.
func (h *FlowHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFlowSize)

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			http.Error(w, "Unsupported Content-Type", http.StatusUnsupportedMediaType)
			return
		}
	}

	var flow domain.RawFlow
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if err := h.ingestor.Ingest(r.Context(), &flow); err != nil {
		var nerr *domain.NormalizationError
		if errors.As(err, &nerr) {
			http.Error(w, nerr.Error(), http.StatusBadRequest)
			return
		}
		// The coordinator absorbs every other stage failure; anything else
		// here is unexpected.
		h.logger.Error("failed to ingest flow", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
