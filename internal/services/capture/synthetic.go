package capture

import (
	"context"
	"fmt"
	"time"

	"inspector/internal/models"
)

// SyntheticBackend generates a deterministic moving gradient. Frame n is
// always the same bytes for the same size.
type SyntheticBackend struct {
	width, height int
	fps           float64
	pace          pacer
	n             int
	open          bool
}

func NewSyntheticBackend(width, height int, fps float64) *SyntheticBackend {
	return &SyntheticBackend{width: width, height: height, fps: fps}
}

func (b *SyntheticBackend) Open(ctx context.Context) error {
	b.open = true
	b.pace = newPacer(b.fps)
	return nil
}

func (b *SyntheticBackend) Read(ctx context.Context) (*models.Frame, error) {
	if !b.open {
		return nil, fmt.Errorf("synthetic source is closed")
	}
	if err := b.pace.wait(ctx); err != nil {
		return nil, err
	}

	f := SyntheticFrame(b.width, b.height, b.n)
	b.n++
	return f, nil
}

func (b *SyntheticBackend) FrameInterval() time.Duration {
	return newPacer(b.fps).interval
}

func (b *SyntheticBackend) Close() error {
	b.open = false
	return nil
}

func (b *SyntheticBackend) String() string {
	return fmt.Sprintf("synthetic://%dx%d", b.width, b.height)
}

// SyntheticFrame renders pattern number n.
func SyntheticFrame(width, height, n int) *models.Frame {
	data := make([]byte, width*height*3)
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[i] = byte(x + n)
			data[i+1] = byte(y + 2*n)
			data[i+2] = byte(x ^ y)
			i += 3
		}
	}
	return &models.Frame{Width: width, Height: height, Channels: 3, Data: data}
}
