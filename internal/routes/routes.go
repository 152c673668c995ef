package routes

import (
	"net/http"

	"inspector/internal/config"
	"inspector/internal/handlers"
	"inspector/internal/logger"
	"inspector/internal/middleware"
	"inspector/internal/repository"
	"inspector/internal/services/websocket"
)

// Dependencies are the services the dashboard API reads from. Pipeline and
// Hub are nil when only the query API is served.
type Dependencies struct {
	Config   *config.Config
	Logger   *logger.Logger
	Records  repository.RecordRepository
	Pipeline handlers.StatsProvider
	Hub      *websocket.HubService
}

// SetupRoutes registers the query API and wraps the mux with the
// authentication middleware.
func SetupRoutes(deps Dependencies) http.Handler {
	mux := http.NewServeMux()
	cfg, logger := deps.Config, deps.Logger

	// Records
	mux.HandleFunc("GET /api/records", handlers.ListRecordsHandler(deps.Records, logger))
	mux.HandleFunc("GET /api/records/{id}", handlers.GetRecordHandler(deps.Records, logger))
	mux.HandleFunc("GET /api/records/{id}/image", handlers.RecordImageHandler(deps.Records, cfg, logger))
	mux.HandleFunc("GET /api/stats/defects", handlers.DefectStatsHandler(deps.Records, logger))

	// Pipeline
	mux.HandleFunc("GET /api/pipeline/stats", handlers.PipelineStatsHandler(deps.Pipeline, logger))
	if deps.Hub != nil {
		mux.HandleFunc("GET /api/events", handlers.EventsWebsocketHandler(deps.Hub, logger))
	}

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handlers.ShowLogsHandler(cfg))
	mux.HandleFunc("POST /logs/{level}/clear", handlers.ClearLogsHandler(logger))

	mux.HandleFunc("GET /healthcheck", handlers.HealthcheckHandler(logger))

	return middleware.AuthMiddleware(cfg.APIToken, mux)
}
