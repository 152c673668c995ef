package handlers

import (
	"net/http"

	"inspector/internal/logger"
	"inspector/internal/services"
)

// StatsProvider exposes live pipeline counters.
type StatsProvider interface {
	Stats() services.Stats
}

// PipelineStatsHandler reports capture, processing and logger counters. In
// serve-only mode there is no pipeline and the endpoint answers 503.
func PipelineStatsHandler(pipeline StatsProvider, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pipeline == nil {
			http.Error(w, "Pipeline not running", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, logger, http.StatusOK, pipeline.Stats())
	}
}

// HealthcheckHandler answers OK while the process is serving.
func HealthcheckHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("Unable to write healthcheck: %v", err)
		}
	}
}
