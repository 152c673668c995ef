package repository

import (
	"context"
	"time"

	"inspector/internal/models"
)

// RecordFilter narrows record listings. Zero values mean "no constraint".
type RecordFilter struct {
	DefectType string
	DefectOnly bool
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// RecordRepository defines the interface for detection record operations.
type RecordRepository interface {
	// Create operations
	Insert(ctx context.Context, rec *models.DetectionRecord) (int64, error)

	// Read operations
	GetByID(ctx context.Context, id int64) (*models.DetectionRecord, error)
	GetByImageID(ctx context.Context, imageID string) (*models.DetectionRecord, error)
	ListLatest(ctx context.Context, limit int) ([]models.DetectionRecord, error)
	List(ctx context.Context, filter RecordFilter) ([]models.DetectionRecord, error)
	CountByDefectType(ctx context.Context) ([]models.DefectTypeCount, error)
	Count(ctx context.Context) (int, error)
	ImagePaths(ctx context.Context) ([]string, error)
}
