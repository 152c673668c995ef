package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inspector/internal/models"
	"inspector/internal/repository"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = `id, image_id, image_path, timestamp, model_name, model_version,
	defect_detected, defect_type, bounding_boxes, confidence_score, inference_time_ms, notes`

// RecordRepository implements repository.RecordRepository for SQLite.
type RecordRepository struct {
	db *DB
}

var _ repository.RecordRepository = (*RecordRepository)(nil)

// NewRecordRepository creates a new SQLite detection record repository.
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Insert adds a new detection record and returns its id. A record whose
// defect flag disagrees with its boxes is rejected.
func (r *RecordRepository) Insert(ctx context.Context, rec *models.DetectionRecord) (int64, error) {
	if rec.DefectDetected != (len(rec.BoundingBoxes) > 0) {
		return 0, fmt.Errorf("record %s: defect_detected=%v with %d bounding boxes", rec.ImageID, rec.DefectDetected, len(rec.BoundingBoxes))
	}

	boxes := rec.BoundingBoxes
	if boxes == nil {
		boxes = []models.BoundingBox{}
	}
	boxesJSON, err := json.Marshal(boxes)
	if err != nil {
		return 0, fmt.Errorf("failed to encode bounding boxes: %w", err)
	}

	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO detection_records (image_id, image_path, timestamp, model_name, model_version,
			defect_detected, defect_type, bounding_boxes, confidence_score, inference_time_ms, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ImageID, rec.ImagePath, rec.Timestamp.UTC().Format(timeLayout), rec.ModelName, rec.ModelVersion,
		rec.DefectDetected, rec.DefectType, string(boxesJSON), rec.ConfidenceScore, rec.InferenceTimeMS, rec.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	rec.ID = id
	return id, nil
}

// GetByID retrieves a record by its ID. Returns nil when it does not exist.
func (r *RecordRepository) GetByID(ctx context.Context, id int64) (*models.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx, `SELECT `+recordColumns+` FROM detection_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// GetByImageID retrieves a record by its image id. Returns nil when it does
// not exist.
func (r *RecordRepository) GetByImageID(ctx context.Context, imageID string) (*models.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx, `SELECT `+recordColumns+` FROM detection_records WHERE image_id = ?`, imageID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record by image id: %w", err)
	}
	return rec, nil
}

// ListLatest returns the newest limit records, newest first.
func (r *RecordRepository) ListLatest(ctx context.Context, limit int) ([]models.DetectionRecord, error) {
	return r.List(ctx, repository.RecordFilter{Limit: limit})
}

// List returns records matching the filter ordered by timestamp descending.
func (r *RecordRepository) List(ctx context.Context, filter repository.RecordFilter) ([]models.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT ` + recordColumns + ` FROM detection_records WHERE 1=1`
	args := []interface{}{}

	if filter.DefectType != "" {
		query += " AND defect_type = ?"
		args = append(args, filter.DefectType)
	}

	if filter.DefectOnly {
		query += " AND defect_detected = 1"
	}

	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	if !filter.Until.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, filter.Until.UTC().Format(timeLayout))
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []models.DetectionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// CountByDefectType aggregates record counts per defect type, largest first.
func (r *RecordRepository) CountByDefectType(ctx context.Context) ([]models.DefectTypeCount, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT defect_type, COUNT(*) AS cnt
		FROM detection_records
		GROUP BY defect_type
		ORDER BY cnt DESC, defect_type ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}
	defer rows.Close()

	counts := []models.DefectTypeCount{}
	for rows.Next() {
		var c models.DefectTypeCount
		if err := rows.Scan(&c.DefectType, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Count returns the total number of records.
func (r *RecordRepository) Count(ctx context.Context) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM detection_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// ImagePaths returns the image path of every record.
func (r *RecordRepository) ImagePaths(ctx context.Context) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `SELECT image_path FROM detection_records`)
	if err != nil {
		return nil, fmt.Errorf("failed to query image paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*models.DetectionRecord, error) {
	var (
		rec       models.DetectionRecord
		timestamp string
		boxesJSON string
	)
	err := s.Scan(&rec.ID, &rec.ImageID, &rec.ImagePath, &timestamp, &rec.ModelName, &rec.ModelVersion,
		&rec.DefectDetected, &rec.DefectType, &boxesJSON, &rec.ConfidenceScore, &rec.InferenceTimeMS, &rec.Notes)
	if err != nil {
		return nil, err
	}

	ts, err := time.Parse(timeLayout, timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", timestamp, err)
	}
	rec.Timestamp = ts.UTC()

	if err := json.Unmarshal([]byte(boxesJSON), &rec.BoundingBoxes); err != nil {
		return nil, fmt.Errorf("invalid bounding boxes for %s: %w", rec.ImageID, err)
	}
	if rec.BoundingBoxes == nil {
		rec.BoundingBoxes = []models.BoundingBox{}
	}
	return &rec, nil
}
