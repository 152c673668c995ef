package ai

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"inspector/internal/models"
)

type FakeOptions struct {
	// Rate is the share of frames in each batch that carry a defect.
	Rate float64
	Seed int64
	// Batch is the number of consecutive frames the rate is applied to.
	Batch   int
	Latency time.Duration
}

// FakeDetector produces defects according to a seeded defect-rate policy
// instead of running a model. Frame seq n (counting from 1) falls into batch
// (n-1)/Batch; exactly DefectCount(Batch, Rate) frames of every batch are
// defective, chosen by a permutation seeded with Seed and the batch number.
type FakeDetector struct {
	settings Settings
	opts     FakeOptions
}

func NewFakeDetector(settings Settings, opts FakeOptions) (*FakeDetector, error) {
	if opts.Rate < 0 || opts.Rate > 1 {
		return nil, fmt.Errorf("%w: defect rate %v outside [0,1]", models.ErrModelLoad, opts.Rate)
	}
	if opts.Batch <= 0 {
		opts.Batch = 1
	}
	if len(settings.Classes) == 0 {
		settings.Classes = []string{"defect"}
	}
	if settings.ModelName == "" {
		settings.ModelName = "fake"
	}
	return &FakeDetector{settings: settings, opts: opts}, nil
}

// DefectCount is the number of defective frames out of n for the given rate.
// Halves round up: 10 frames at 75% give 8.
func DefectCount(n int, rate float64) int {
	if n <= 0 || rate <= 0 {
		return 0
	}
	k := int(math.Floor(float64(n)*rate + 0.5))
	if k > n {
		k = n
	}
	return k
}

// IsDefect reports whether frame seq is defective under the policy.
func (d *FakeDetector) IsDefect(seq uint64) bool {
	if seq == 0 {
		seq = 1
	}
	batch := int64((seq - 1) / uint64(d.opts.Batch))
	idx := int((seq - 1) % uint64(d.opts.Batch))

	k := DefectCount(d.opts.Batch, d.opts.Rate)
	perm := rand.New(rand.NewSource(d.opts.Seed + batch)).Perm(d.opts.Batch)
	for _, p := range perm[:k] {
		if p == idx {
			return true
		}
	}
	return false
}

func (d *FakeDetector) Detect(ctx context.Context, t *models.PreprocessedTensor) (*models.Detection, error) {
	start := time.Now()

	if d.opts.Latency > 0 {
		timer := time.NewTimer(d.opts.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", models.ErrInference, ctx.Err())
		}
	}

	var boxes []models.BoundingBox
	if d.IsDefect(t.FrameSeq) {
		boxes = NMS(d.boxesFor(t), d.settings.NMSThreshold)
	}

	return models.NewDetection(boxes, d.settings.ModelName, d.settings.ModelVersion, time.Since(start)), nil
}

// boxesFor generates one or two boxes inside the original frame. The result
// depends only on the seed and the frame sequence.
func (d *FakeDetector) boxesFor(t *models.PreprocessedTensor) []models.BoundingBox {
	w, h := t.OriginalShape.Width, t.OriginalShape.Height
	if w <= 0 || h <= 0 {
		w, h = t.TargetShape.Width, t.TargetShape.Height
	}
	rng := rand.New(rand.NewSource(d.opts.Seed*7919 + int64(t.FrameSeq)))

	n := 1 + rng.Intn(2)
	boxes := make([]models.BoundingBox, 0, n)
	for i := 0; i < n; i++ {
		bw := max(1, w/8+rng.Intn(w/4+1))
		bh := max(1, h/8+rng.Intn(h/4+1))
		thr := d.settings.ConfidenceThreshold
		boxes = append(boxes, models.BoundingBox{
			X:          rng.Intn(max(1, w-bw)),
			Y:          rng.Intn(max(1, h-bh)),
			W:          bw,
			H:          bh,
			Class:      d.settings.Classes[rng.Intn(len(d.settings.Classes))],
			Confidence: thr + (1-thr)*(0.05+0.9*rng.Float64()),
		})
	}
	return boxes
}

func (d *FakeDetector) Name() string    { return d.settings.ModelName }
func (d *FakeDetector) Version() string { return d.settings.ModelVersion }
func (d *FakeDetector) Close() error    { return nil }
