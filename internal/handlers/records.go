package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"inspector/internal/config"
	"inspector/internal/logger"
	"inspector/internal/models"
	"inspector/internal/repository"
)

const (
	// DefaultRecordLimit is used when the limit query parameter is missing.
	DefaultRecordLimit = 20
	// MaxRecordLimit caps a single page of records.
	MaxRecordLimit = 500
)

// RecordsResponse is the payload of the record list endpoint.
type RecordsResponse struct {
	Records []models.DetectionRecord `json:"records"`
	Count   int                      `json:"count"`
	Total   int                      `json:"total"`
	Limit   int                      `json:"limit"`
	Offset  int                      `json:"offset"`
}

// ListRecordsHandler returns the latest records, newest first. Supports
// limit, offset, defectType, defectOnly, since and until (YYYY-MM-DD or
// RFC 3339) query parameters.
func ListRecordsHandler(repo repository.RecordRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := atoiDefault(q.Get("limit"), DefaultRecordLimit)
		if limit > MaxRecordLimit {
			limit = MaxRecordLimit
		}

		filter := repository.RecordFilter{
			DefectType: q.Get("defectType"),
			DefectOnly: q.Get("defectOnly") == "true",
			Since:      parseTime(q.Get("since")),
			Until:      parseTime(q.Get("until")),
			Limit:      limit,
			Offset:     atoiDefault(q.Get("offset"), 0),
		}

		records, err := repo.List(r.Context(), filter)
		if err != nil {
			logger.Error("Error querying records: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		total, err := repo.Count(r.Context())
		if err != nil {
			logger.Error("Error counting records: %v", err)
			total = len(records)
		}

		writeJSON(w, logger, http.StatusOK, RecordsResponse{
			Records: records,
			Count:   len(records),
			Total:   total,
			Limit:   limit,
			Offset:  filter.Offset,
		})
	}
}

// GetRecordHandler returns one record by id.
func GetRecordHandler(repo repository.RecordRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Invalid record id", http.StatusBadRequest)
			return
		}

		rec, err := repo.GetByID(r.Context(), id)
		if err != nil {
			logger.Error("Error fetching record %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "Record not found", http.StatusNotFound)
			return
		}

		writeJSON(w, logger, http.StatusOK, rec)
	}
}

// RecordImageHandler serves the annotated image referenced by a record.
// Paths outside the storage root are never served.
func RecordImageHandler(repo repository.RecordRepository, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "Invalid record id", http.StatusBadRequest)
			return
		}

		rec, err := repo.GetByID(r.Context(), id)
		if err != nil {
			logger.Error("Error fetching record %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "Record not found", http.StatusNotFound)
			return
		}

		if !withinRoot(cfg.StorageRoot, rec.ImagePath) {
			logger.Warning("Record %d points outside the storage root: %s", id, rec.ImagePath)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if _, err := os.Stat(rec.ImagePath); os.IsNotExist(err) {
			http.Error(w, "Image not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Cache-Control", "private, max-age=86400")
		http.ServeFile(w, r, rec.ImagePath)
	}
}

// DefectStatsHandler returns record counts grouped by defect type.
func DefectStatsHandler(repo repository.RecordRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := repo.CountByDefectType(r.Context())
		if err != nil {
			logger.Error("Failed to get stats: %v", err)
			http.Error(w, "Failed to retrieve stats", http.StatusInternalServerError)
			return
		}

		total := 0
		for _, c := range counts {
			total += c.Count
		}

		writeJSON(w, logger, http.StatusOK, map[string]interface{}{
			"total":  total,
			"counts": counts,
		})
	}
}

// helpers

func writeJSON(w http.ResponseWriter, logger *logger.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseTime accepts a date in the format "2006-01-02" (HTML input format) or
// an RFC 3339 timestamp. Anything else yields the zero time.
func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t
	}
	return time.Time{}
}

func withinRoot(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
