package simulate

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspector/internal/config"
	"inspector/internal/logger"
	"inspector/internal/services/events"
	"inspector/internal/services/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ModelName:           "fake",
		ModelVersion:        "1",
		ModelClasses:        []string{"scratch", "dent", "crack"},
		ConfidenceThreshold: 0.5,
		NMSThreshold:        0.45,
		FakeDefectRate:      0.75,
		FakeSeed:            42,
		FakeBatch:           10,
		TargetWidth:         32,
		TargetHeight:        32,
		Interpolation:       "bilinear",
		ColorConversion:     "bgr2rgb",
		Normalization:       "unit",
		NormMean:            []float64{0.485, 0.456, 0.406},
		NormStd:             []float64{0.229, 0.224, 0.225},
		TensorLayout:        "HWC",
		StorageRoot:         filepath.Join(dir, "images"),
		DBPath:              filepath.Join(dir, "data", "detections.db"),
		ImageFormat:         "jpg",
		LogQueueDepth:       4,
		LogWriteRetries:     1,
		LogRetryDelay:       time.Millisecond,
		FlushTimeout:        5 * time.Second,
	}
}

func TestHarness_TenFramesAtSeventyFivePercent(t *testing.T) {
	cfg := testConfig(t)
	rec := &events.Recorder{}
	h := New(cfg, logger.Discard(), rec)

	dayBefore := time.Now().UTC().Format("2006/01/02")
	report, err := h.Run(context.Background(), Options{Frames: 10, Width: 64, Height: 48})
	require.NoError(t, err)
	dayAfter := time.Now().UTC().Format("2006/01/02")

	assert.Equal(t, 10, report.Records)
	assert.Equal(t, 8, report.Defects)
	assert.Equal(t, 10, report.Files)
	assert.Zero(t, report.Errored)
	assert.Zero(t, report.Lost)

	files, err := CountImages(cfg.StorageRoot)
	require.NoError(t, err)
	assert.Equal(t, 10, files)

	defects := 0
	for _, p := range report.Paths {
		rel, err := filepath.Rel(cfg.StorageRoot, p)
		require.NoError(t, err)
		rel = filepath.ToSlash(rel)

		// <YYYY>/<MM>/<DD>/<category>/<uuid>.jpg
		parts := strings.Split(rel, "/")
		require.Len(t, parts, 5, rel)
		date := strings.Join(parts[:3], "/")
		assert.True(t, date == dayBefore || date == dayAfter, "unexpected date segment %s", date)
		assert.True(t, strings.HasSuffix(parts[4], ".jpg"))
		if parts[3] == storage.DirDefects {
			defects++
		}
	}
	assert.Equal(t, 8, defects)
	assert.Len(t, rec.Events(events.RecordSaved), 10)
}

func TestHarness_RepeatableWithSameSeed(t *testing.T) {
	run := func() []string {
		h := New(testConfig(t), logger.Discard(), nil)
		report, err := h.Run(context.Background(), Options{Frames: 20})
		require.NoError(t, err)

		var categories []string
		for _, p := range report.Paths {
			categories = append(categories, filepath.Base(filepath.Dir(p)))
		}
		return categories
	}

	first := run()
	assert.Len(t, first, 20)
	assert.ElementsMatch(t, first, run())
}

func TestHarness_RejectsEmptyRun(t *testing.T) {
	h := New(testConfig(t), logger.Discard(), nil)
	_, err := h.Run(context.Background(), Options{})
	assert.Error(t, err)
}
