package capture

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inspector/internal/models"
)

// Backend is a pull-based camera or stream. Read blocks until the next frame
// is available; the returned frame carries pixels and dimensions only.
type Backend interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (*models.Frame, error)
	Close() error
	String() string
}

// OpenBackend selects a backend from a source URI:
//
//	synthetic://640x480?fps=15   generated test pattern
//	dir:///data/parts?fps=5      images from a directory, looped
//	0, rtsp://..., http://...,   OpenCV capture (needs the gocv build tag)
//	file:///clip.mp4
func OpenBackend(uri string) (Backend, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty source uri")
	}

	if idx, err := strconv.Atoi(uri); err == nil {
		return newDeviceBackend(idx, "")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid source uri %q: %w", uri, err)
	}

	fps := 0.0
	if v := u.Query().Get("fps"); v != "" {
		if fps, err = strconv.ParseFloat(v, 64); err != nil || fps < 0 {
			return nil, fmt.Errorf("invalid fps %q in %q", v, uri)
		}
	}

	switch u.Scheme {
	case "synthetic":
		w, h, err := parseSize(u.Host)
		if err != nil {
			return nil, err
		}
		return NewSyntheticBackend(w, h, fps), nil
	case "dir":
		return NewDirectoryBackend(u.Path, fps), nil
	case "rtsp", "rtsps", "http", "https", "file":
		return newDeviceBackend(-1, uri)
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func parseSize(s string) (int, int, error) {
	if s == "" {
		return 640, 480, nil
	}
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid frame size %q, want WxH", s)
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid frame size %q, want WxH", s)
	}
	return w, h, nil
}

// Paced is implemented by backends that hold a Read back to a target frame
// rate. The capture loop adds the interval to its read deadline, so waiting
// for the next frame is never mistaken for a stalled source.
type Paced interface {
	FrameInterval() time.Duration
}

// pacer spaces reads to a target frame rate. Zero fps means unpaced.
type pacer struct {
	interval time.Duration
	next     time.Time
}

func newPacer(fps float64) pacer {
	if fps <= 0 {
		return pacer{}
	}
	return pacer{interval: time.Duration(float64(time.Second) / fps)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.interval == 0 {
		return ctx.Err()
	}
	now := time.Now()
	if p.next.IsZero() || p.next.Before(now) {
		p.next = now
	}
	if !sleepCtx(ctx, time.Until(p.next)) {
		return ctx.Err()
	}
	p.next = p.next.Add(p.interval)
	return nil
}
