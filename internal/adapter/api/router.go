package api

import (
	"log/slog"
	"net/http"

	"github.com/yunze7373/traffic-tool/internal/adapter/api/handler"
	"github.com/yunze7373/traffic-tool/internal/domain"
	"github.com/yunze7373/traffic-tool/internal/pkg/config"
	"github.com/yunze7373/traffic-tool/internal/usecase"
)

// NewRouter creates and configures the main HTTP router: the query surface,
// the status summary, the push channel and the remote flow intake.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	repo domain.TrafficRepository,
	aggregator *usecase.StatusAggregator,
	ingestor handler.FlowIngestor,
	pushChannel http.Handler,
) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/flows", handler.NewFlowHandler(ingestor, logger, cfg.MaxFlowSize))
	mux.Handle("GET /api/traffic", handler.NewQueryHandler(repo, logger))
	mux.Handle("GET /api/status", handler.NewStatusHandler(aggregator))
	mux.Handle("GET /ws", pushChannel)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}
