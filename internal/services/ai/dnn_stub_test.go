//go:build !gocv
// +build !gocv

package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"inspector/internal/config"
	"inspector/internal/logger"
	"inspector/internal/models"
)

func TestNewDetector_DNNWithoutGocv(t *testing.T) {
	_, err := NewDetector(&config.Config{ModelBackend: BackendDNN, ModelPath: "model.pb"}, logger.Discard())
	assert.ErrorIs(t, err, models.ErrModelLoad)
}
