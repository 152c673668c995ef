package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspector/internal/models"
)

func tensorFor(seq uint64) *models.PreprocessedTensor {
	return &models.PreprocessedTensor{
		FrameSeq:      seq,
		OriginalShape: models.Shape{Height: 480, Width: 640, Channels: 3},
		TargetShape:   models.Shape{Height: 300, Width: 300, Channels: 3},
	}
}

func TestDefectCount(t *testing.T) {
	tests := []struct {
		n    int
		rate float64
		want int
	}{
		{10, 0.75, 8},
		{10, 0.25, 3},
		{10, 0.0, 0},
		{10, 1.0, 10},
		{4, 0.5, 2},
		{3, 0.5, 2},
		{7, 0.1, 1},
		{0, 0.5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefectCount(tt.n, tt.rate), "n=%d rate=%v", tt.n, tt.rate)
	}
}

func TestFakeDetector_ExactRatePerBatch(t *testing.T) {
	d, err := NewFakeDetector(Settings{Classes: []string{"scratch", "dent"}, ConfidenceThreshold: 0.5, NMSThreshold: 0.45},
		FakeOptions{Rate: 0.75, Seed: 42, Batch: 10})
	require.NoError(t, err)

	for batch := 0; batch < 3; batch++ {
		defects := 0
		for i := 1; i <= 10; i++ {
			seq := uint64(batch*10 + i)
			det, err := d.Detect(context.Background(), tensorFor(seq))
			require.NoError(t, err)
			require.Equal(t, len(det.Boxes) > 0, det.DefectDetected)
			if det.DefectDetected {
				defects++
			}
		}
		assert.Equal(t, 8, defects, "batch %d", batch)
	}
}

func TestFakeDetector_Deterministic(t *testing.T) {
	opts := FakeOptions{Rate: 0.5, Seed: 7, Batch: 20}
	settings := Settings{ModelName: "fake", ModelVersion: "1", Classes: []string{"crack"}, ConfidenceThreshold: 0.6, NMSThreshold: 0.45}
	a, _ := NewFakeDetector(settings, opts)
	b, _ := NewFakeDetector(settings, opts)

	for seq := uint64(1); seq <= 20; seq++ {
		da, err := a.Detect(context.Background(), tensorFor(seq))
		require.NoError(t, err)
		db, err := b.Detect(context.Background(), tensorFor(seq))
		require.NoError(t, err)
		require.Equal(t, da.Boxes, db.Boxes)
	}
}

func TestFakeDetector_BoxesInsideFrameAndAboveThreshold(t *testing.T) {
	d, _ := NewFakeDetector(Settings{Classes: []string{"scratch"}, ConfidenceThreshold: 0.7, NMSThreshold: 0.45},
		FakeOptions{Rate: 1, Seed: 3, Batch: 5})

	for seq := uint64(1); seq <= 25; seq++ {
		det, err := d.Detect(context.Background(), tensorFor(seq))
		require.NoError(t, err)
		require.NotEmpty(t, det.Boxes)
		for _, b := range det.Boxes {
			assert.GreaterOrEqual(t, b.X, 0)
			assert.GreaterOrEqual(t, b.Y, 0)
			assert.LessOrEqual(t, b.X+b.W, 640)
			assert.LessOrEqual(t, b.Y+b.H, 480)
			assert.Greater(t, b.Confidence, 0.7)
			assert.Less(t, b.Confidence, 1.0)
		}
		assert.Equal(t, det.Boxes[0].Confidence, det.Confidence)
	}
}

func TestFakeDetector_LatencyHonoursContext(t *testing.T) {
	d, _ := NewFakeDetector(Settings{}, FakeOptions{Rate: 0, Batch: 1, Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Detect(ctx, tensorFor(1))
	assert.ErrorIs(t, err, models.ErrInference)
}

func TestFakeDetector_ReportsLatency(t *testing.T) {
	d, _ := NewFakeDetector(Settings{}, FakeOptions{Rate: 0, Batch: 1, Latency: 15 * time.Millisecond})

	det, err := d.Detect(context.Background(), tensorFor(1))
	require.NoError(t, err)
	assert.False(t, det.DefectDetected)
	assert.GreaterOrEqual(t, det.InferenceTime, 15*time.Millisecond)
}

func TestNewFakeDetector_RejectsBadRate(t *testing.T) {
	_, err := NewFakeDetector(Settings{}, FakeOptions{Rate: 1.5})
	assert.ErrorIs(t, err, models.ErrModelLoad)
}
