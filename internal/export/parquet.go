// Package export writes detection records to Parquet for offline analysis.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"inspector/internal/models"
	"inspector/internal/repository"
)

// Row is one detection record as stored in the Parquet file. Bounding boxes
// stay JSON encoded, as in the record store.
type Row struct {
	ID              int64     `parquet:"id"`
	ImageID         string    `parquet:"image_id"`
	ImagePath       string    `parquet:"image_path"`
	Timestamp       time.Time `parquet:"timestamp"`
	ModelName       string    `parquet:"model_name"`
	ModelVersion    string    `parquet:"model_version"`
	DefectDetected  bool      `parquet:"defect_detected"`
	DefectType      string    `parquet:"defect_type"`
	BoxCount        int32     `parquet:"box_count"`
	BoundingBoxes   string    `parquet:"bounding_boxes"`
	ConfidenceScore float64   `parquet:"confidence_score"`
	InferenceTimeMS float64   `parquet:"inference_time_ms"`
	Notes           string    `parquet:"notes"`
}

func toRow(r models.DetectionRecord) (Row, error) {
	boxes, err := json.Marshal(r.BoundingBoxes)
	if err != nil {
		return Row{}, fmt.Errorf("record %d: %w", r.ID, err)
	}
	return Row{
		ID:              r.ID,
		ImageID:         r.ImageID,
		ImagePath:       r.ImagePath,
		Timestamp:       r.Timestamp.UTC(),
		ModelName:       r.ModelName,
		ModelVersion:    r.ModelVersion,
		DefectDetected:  r.DefectDetected,
		DefectType:      r.DefectType,
		BoxCount:        int32(len(r.BoundingBoxes)),
		BoundingBoxes:   string(boxes),
		ConfidenceScore: r.ConfidenceScore,
		InferenceTimeMS: r.InferenceTimeMS,
		Notes:           r.Notes,
	}, nil
}

// WriteFile writes records to path, replacing any existing file.
func WriteFile(path string, records []models.DetectionRecord) error {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		row, err := toRow(r)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write parquet: %w", err)
	}
	return nil
}

// Export writes every record matching filter to path and returns the count.
func Export(ctx context.Context, repo repository.RecordRepository, filter repository.RecordFilter, path string) (int, error) {
	records, err := repo.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := WriteFile(path, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// ReadFile loads the rows of an exported file.
func ReadFile(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	rows := make([]Row, 0, pf.NumRows())
	batch := make([]Row, 128)
	for {
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if err != nil {
			break
		}
	}
	return rows, nil
}
