package capture

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"inspector/internal/logger"
	"inspector/internal/models"
	"inspector/internal/services/events"
)

// fpsAlpha weights the newest sample of the FPS moving average.
const fpsAlpha = 0.2

type Options struct {
	SourceID    string
	ReadTimeout time.Duration
	Reconnect   ReconnectConfig
}

// Stats is a snapshot of the capture loop counters.
type Stats struct {
	SourceID    string  `json:"source_id"`
	Backend     string  `json:"backend"`
	Captured    uint64  `json:"captured"`
	Overwritten uint64  `json:"overwritten"`
	Reconnects  uint64  `json:"reconnects"`
	LastSeq     uint64  `json:"last_seq"`
	FPS         float64 `json:"fps"`
	Running     bool    `json:"running"`
}

// FrameSource owns the capture loop of one backend and publishes every frame
// into a single-slot buffer.
type FrameSource struct {
	backend Backend
	opts    Options
	slot    *Slot
	logger  *logger.Logger
	events  events.Emitter

	seq        atomic.Uint64
	captured   atomic.Uint64
	reconnects atomic.Uint64
	fpsBits    atomic.Uint64
	running    atomic.Bool
	lastAt     time.Time // capture goroutine only
}

func NewFrameSource(backend Backend, opts Options, logger *logger.Logger, emitter events.Emitter) *FrameSource {
	if opts.SourceID == "" {
		opts.SourceID = backend.String()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &FrameSource{
		backend: backend,
		opts:    opts,
		slot:    NewSlot(),
		logger:  logger,
		events:  emitter,
	}
}

// Run is the capture loop. It returns nil when ctx is cancelled and an error
// wrapping models.ErrSourceUnavailable once reconnection attempts are
// exhausted. The backend is left for Close to release.
func (s *FrameSource) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.Info("📷 Capture started on %s (%s)", s.opts.SourceID, s.backend)

	failures := 0
	opened := false
	for {
		if ctx.Err() != nil {
			s.logger.Info("📷 Capture stopped on %s", s.opts.SourceID)
			return nil
		}

		if !opened {
			if err := s.backend.Open(ctx); err != nil {
				failures++
				if err := s.backoff(ctx, failures, err); err != nil {
					return err
				}
				continue
			}
			opened = true
		}

		readCtx, cancel := context.WithTimeout(ctx, s.readTimeout())
		frame, err := s.backend.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.backend.Close()
			opened = false
			failures++
			if err := s.backoff(ctx, failures, err); err != nil {
				return err
			}
			continue
		}

		failures = 0
		s.publish(frame)
	}
}

// readTimeout is ReadTimeout on top of the time a paced backend spends
// waiting for its next frame.
func (s *FrameSource) readTimeout() time.Duration {
	if p, ok := s.backend.(Paced); ok {
		return s.opts.ReadTimeout + p.FrameInterval()
	}
	return s.opts.ReadTimeout
}

// backoff waits before the next attempt, or gives up after MaxRetries
// consecutive failures.
func (s *FrameSource) backoff(ctx context.Context, attempt int, cause error) error {
	cfg := s.opts.Reconnect
	if attempt > cfg.MaxRetries {
		err := fmt.Errorf("%w: %s: max retries exceeded (%d attempts): %w",
			models.ErrSourceUnavailable, s.opts.SourceID, cfg.MaxRetries, cause)
		s.logger.Error("📷 %v", err)
		s.events.Emit(events.Event{Kind: events.Fatal, SourceID: s.opts.SourceID, Stage: "capture", Cause: err.Error()})
		return err
	}

	s.reconnects.Add(1)
	delay := calculateBackoff(attempt, cfg)
	s.logger.Warning("📷 Source %s failed (%v), retry %d/%d in %s", s.opts.SourceID, cause, attempt, cfg.MaxRetries, delay)
	s.events.Emit(events.Event{
		Kind:     events.SourceReconnect,
		SourceID: s.opts.SourceID,
		Stage:    "capture",
		Cause:    cause.Error(),
		Fields:   map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()},
	})

	sleepCtx(ctx, delay)
	return nil
}

// publish stamps the frame and overwrites the slot.
func (s *FrameSource) publish(f *models.Frame) {
	now := time.Now()
	f.Seq = s.seq.Add(1)
	f.SourceID = s.opts.SourceID
	f.CapturedAt = now.UTC()

	if !s.lastAt.IsZero() {
		if dt := now.Sub(s.lastAt).Seconds(); dt > 0 {
			s.updateFPS(1 / dt)
		}
	}
	s.lastAt = now
	s.captured.Add(1)

	if s.slot.Put(f) {
		s.logger.Debug("📷 Frame overwritten before processing (seq %d)", f.Seq-1)
	}
}

func (s *FrameSource) updateFPS(sample float64) {
	prev := math.Float64frombits(s.fpsBits.Load())
	next := sample
	if prev > 0 {
		next = fpsAlpha*sample + (1-fpsAlpha)*prev
	}
	s.fpsBits.Store(math.Float64bits(next))
}

// Latest returns the most recent frame, waiting at most wait for one. It
// returns nil when nothing arrived in time.
func (s *FrameSource) Latest(ctx context.Context, wait time.Duration) *models.Frame {
	return s.slot.Wait(ctx, wait)
}

// HasNewer reports whether a frame is waiting that was captured after the
// one currently being processed.
func (s *FrameSource) HasNewer() bool {
	return s.slot.Pending()
}

// FPS is the exponential moving average of the capture rate.
func (s *FrameSource) FPS() float64 {
	return math.Float64frombits(s.fpsBits.Load())
}

func (s *FrameSource) Stats() Stats {
	return Stats{
		SourceID:    s.opts.SourceID,
		Backend:     s.backend.String(),
		Captured:    s.captured.Load(),
		Overwritten: s.slot.Overwritten(),
		Reconnects:  s.reconnects.Load(),
		LastSeq:     s.seq.Load(),
		FPS:         s.FPS(),
		Running:     s.running.Load(),
	}
}

// Close releases the capture backend. Call after Run returned.
func (s *FrameSource) Close() error {
	return s.backend.Close()
}
