//go:build !gocv
// +build !gocv

package ai

import (
	"fmt"

	"inspector/internal/logger"
	"inspector/internal/models"
)

// newDNNDetector fails when the binary is built without the gocv tag.
func newDNNDetector(modelPath, configPath string, settings Settings, logger *logger.Logger) (Detector, error) {
	_ = configPath
	_ = settings
	_ = logger
	return nil, fmt.Errorf("%w: %s: dnn backend needs the gocv build tag", models.ErrModelLoad, modelPath)
}
