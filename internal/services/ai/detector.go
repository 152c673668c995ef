package ai

import (
	"context"
	"fmt"

	"inspector/internal/config"
	"inspector/internal/logger"
	"inspector/internal/models"
)

// Backend names accepted by NewDetector.
const (
	BackendFake = "fake"
	BackendDNN  = "dnn"
)

// Detector wraps one object-detection model. Detect always returns a
// Detection, possibly with no boxes; an empty result is not an error.
// Boxes are in original-frame pixels.
type Detector interface {
	Detect(ctx context.Context, t *models.PreprocessedTensor) (*models.Detection, error)
	Name() string
	Version() string
	Close() error
}

// Settings shared by every backend.
type Settings struct {
	ModelName           string
	ModelVersion        string
	Classes             []string
	ConfidenceThreshold float64
	NMSThreshold        float64
	Device              string
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ModelName:           cfg.ModelName,
		ModelVersion:        cfg.ModelVersion,
		Classes:             cfg.ModelClasses,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		NMSThreshold:        cfg.NMSThreshold,
		Device:              cfg.Device,
	}
}

// NewDetector builds the backend named by cfg.ModelBackend. It is called
// once at startup; a load failure wraps models.ErrModelLoad and is fatal.
func NewDetector(cfg *config.Config, logger *logger.Logger) (Detector, error) {
	settings := SettingsFromConfig(cfg)

	switch cfg.ModelBackend {
	case BackendFake:
		d, err := NewFakeDetector(settings, FakeOptions{
			Rate:    cfg.FakeDefectRate,
			Seed:    cfg.FakeSeed,
			Batch:   cfg.FakeBatch,
			Latency: cfg.FakeLatency,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("🤖 Fake detector ready (rate %.2f, seed %d, batch %d)", cfg.FakeDefectRate, cfg.FakeSeed, cfg.FakeBatch)
		return d, nil
	case BackendDNN:
		return newDNNDetector(cfg.ModelPath, cfg.ModelConfigPath, settings, logger)
	default:
		return nil, fmt.Errorf("%w: unknown model backend %q", models.ErrModelLoad, cfg.ModelBackend)
	}
}

func className(classes []string, id int) string {
	if id >= 0 && id < len(classes) {
		return classes[id]
	}
	return fmt.Sprintf("class_%d", id)
}
