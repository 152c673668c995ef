package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"inspector/internal/models"
)

// DirectoryBackend replays the JPEG/PNG files of a directory in name order,
// starting over after the last one.
type DirectoryBackend struct {
	dir   string
	fps   float64
	pace  pacer
	files []string
	next  int
}

func NewDirectoryBackend(dir string, fps float64) *DirectoryBackend {
	return &DirectoryBackend{dir: dir, fps: fps}
}

func (b *DirectoryBackend) Open(ctx context.Context) error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("failed to read source directory: %w", err)
	}

	b.files = b.files[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			b.files = append(b.files, filepath.Join(b.dir, e.Name()))
		}
	}
	if len(b.files) == 0 {
		return fmt.Errorf("no images in %s", b.dir)
	}
	sort.Strings(b.files)

	b.pace = newPacer(b.fps)
	return nil
}

func (b *DirectoryBackend) Read(ctx context.Context) (*models.Frame, error) {
	if len(b.files) == 0 {
		return nil, fmt.Errorf("directory source is closed")
	}
	if err := b.pace.wait(ctx); err != nil {
		return nil, err
	}

	path := b.files[b.next%len(b.files)]
	b.next++

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return models.FrameFromImage(img), nil
}

func (b *DirectoryBackend) FrameInterval() time.Duration {
	return newPacer(b.fps).interval
}

func (b *DirectoryBackend) Close() error {
	b.files = nil
	return nil
}

func (b *DirectoryBackend) String() string {
	return "dir://" + b.dir
}
