package services

import (
	"sync"

	"inspector/internal/models"
)

// motionPixelDelta is the grayscale difference above which a pixel counts as changed.
const motionPixelDelta = 30

// MotionGate compares each frame with the previous one from the same source
// and reports whether enough pixels changed. The first frame of a source
// always passes.
type MotionGate struct {
	threshold int

	mu       sync.Mutex
	previous map[string][]byte
}

// NewMotionGate returns nil when threshold is not positive, which disables
// the gate.
func NewMotionGate(threshold int) *MotionGate {
	if threshold <= 0 {
		return nil
	}
	return &MotionGate{threshold: threshold, previous: make(map[string][]byte)}
}

// Moved records f as the new reference frame and returns the number of
// changed pixels and whether it exceeds the threshold.
func (g *MotionGate) Moved(f *models.Frame) (int, bool) {
	gray := grayscale(f)

	g.mu.Lock()
	prev, ok := g.previous[f.SourceID]
	g.previous[f.SourceID] = gray
	g.mu.Unlock()

	if !ok || len(prev) != len(gray) {
		return len(gray), true
	}

	changed := 0
	for i := range gray {
		d := int(gray[i]) - int(prev[i])
		if d > motionPixelDelta || d < -motionPixelDelta {
			changed++
		}
	}
	return changed, changed > g.threshold
}

// grayscale converts packed BGR to luma with the BT.601 weights.
func grayscale(f *models.Frame) []byte {
	if f.Channels != 3 {
		out := make([]byte, len(f.Data))
		copy(out, f.Data)
		return out
	}
	out := make([]byte, len(f.Data)/3)
	for p, i := 0, 0; i+2 < len(f.Data); p, i = p+1, i+3 {
		b, g, r := int(f.Data[i]), int(f.Data[i+1]), int(f.Data[i+2])
		out[p] = byte((114*b + 587*g + 299*r) / 1000)
	}
	return out
}
