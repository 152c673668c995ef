package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"inspector/internal/config"
	"inspector/internal/logger"
	"inspector/internal/models"
	"inspector/internal/repository"
	"inspector/internal/services/events"
)

var (
	ErrNotOpen = errors.New("detection logger is not open")
	ErrClosed  = errors.New("detection logger is closed")
)

type Options struct {
	Root       string
	Ext        string
	QueueDepth int
	MaxRetries int
	RetryDelay time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Root:       cfg.StorageRoot,
		Ext:        cfg.ImageFormat,
		QueueDepth: cfg.LogQueueDepth,
		MaxRetries: cfg.LogWriteRetries,
		RetryDelay: cfg.LogRetryDelay,
	}
}

// Job is one detection with its annotated image.
type Job struct {
	Detection *models.Detection
	Image     []byte
}

// Result describes the outcome of persisting one Job.
type Result struct {
	ImageID   string
	ImagePath string
	RecordID  int64
	Err       error
}

type Stats struct {
	Enqueued       uint64 `json:"enqueued"`
	Persisted      uint64 `json:"persisted"`
	ImageFailures  uint64 `json:"image_failures"`
	RecordFailures uint64 `json:"record_failures"`
	Dropped        uint64 `json:"dropped"`
	Pending        int    `json:"pending"`
}

// DetectionLogger persists detections in two ordered phases: the image file
// first, then the record that references it. Enqueued jobs are written by a
// single worker; when the queue is full the oldest pending job is dropped.
type DetectionLogger struct {
	opts   Options
	repo   repository.RecordRepository
	writer ImageWriter
	logger *logger.Logger
	events events.Emitter
	newID  func() string

	mu       sync.Mutex
	queue    []Job
	inFlight bool
	open     bool
	closed   bool
	changed  chan struct{} // closed and replaced whenever a job completes
	wake     chan struct{}
	done     chan struct{}

	enqueued       atomic.Uint64
	persisted      atomic.Uint64
	imageFailures  atomic.Uint64
	recordFailures atomic.Uint64
	dropped        atomic.Uint64
}

func NewDetectionLogger(opts Options, repo repository.RecordRepository, writer ImageWriter, logger *logger.Logger, emitter events.Emitter) *DetectionLogger {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1
	}
	if opts.Ext == "" {
		opts.Ext = "jpg"
	}
	if writer == nil {
		writer = FileWriter{}
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &DetectionLogger{
		opts:    opts,
		repo:    repo,
		writer:  writer,
		logger:  logger,
		events:  emitter,
		newID:   uuid.NewString,
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Open starts the write worker.
func (l *DetectionLogger) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.open {
		return nil
	}
	l.open = true
	go l.run()

	l.logger.Info("💾 Detection logger writing to %s (queue %d, retries %d)", l.opts.Root, l.opts.QueueDepth, l.opts.MaxRetries)
	return nil
}

// Enqueue hands a job to the worker without blocking. If the queue is full
// the oldest pending job is dropped and counted as a loss.
func (l *DetectionLogger) Enqueue(job Job) error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return ErrNotOpen
	}
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}

	var lost *Job
	if len(l.queue) >= l.opts.QueueDepth {
		oldest := l.queue[0]
		lost = &oldest
		l.queue = l.queue[1:]
	}
	l.queue = append(l.queue, job)
	l.mu.Unlock()

	l.enqueued.Add(1)
	if lost != nil {
		l.dropped.Add(1)
		l.logger.Warning("💾 Write queue full, dropped pending write for frame %d", lost.Detection.FrameSeq)
		l.events.Emit(events.Event{
			Kind:     events.WriteDropped,
			Seq:      lost.Detection.FrameSeq,
			SourceID: lost.Detection.SourceID,
			Stage:    "storage",
			Cause:    "write queue full",
		})
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Persist runs both phases synchronously.
func (l *DetectionLogger) Persist(ctx context.Context, job Job) Result {
	return l.persist(ctx, job)
}

func (l *DetectionLogger) run() {
	defer close(l.done)

	for {
		job, ok, closed := l.next()
		if !ok {
			if closed {
				return
			}
			<-l.wake
			continue
		}

		// writes started before shutdown always complete
		l.persist(context.Background(), job)
		l.complete()
	}
}

func (l *DetectionLogger) next() (Job, bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return Job{}, false, l.closed
	}
	job := l.queue[0]
	l.queue[0] = Job{}
	l.queue = l.queue[1:]
	l.inFlight = true
	return job, true, false
}

func (l *DetectionLogger) complete() {
	l.mu.Lock()
	l.inFlight = false
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func (l *DetectionLogger) persist(ctx context.Context, job Job) Result {
	d := job.Detection
	res := Result{ImageID: l.newID()}
	res.ImagePath = PathFor(l.opts.Root, d.Timestamp, d.DefectDetected, res.ImageID, l.opts.Ext)

	// Phase 1: image
	err := l.retry(ctx, func() error { return l.writer.WriteImage(res.ImagePath, job.Image) })
	if err != nil {
		l.imageFailures.Add(1)
		res.Err = &models.StorageWriteError{Phase: models.PhaseImage, Path: res.ImagePath, Err: err}
		l.logger.Error("💾 Frame %d: %v", d.FrameSeq, res.Err)
		l.events.Emit(events.Event{
			Kind:     events.FrameError,
			Seq:      d.FrameSeq,
			SourceID: d.SourceID,
			Stage:    "storage:" + models.PhaseImage,
			Cause:    res.Err.Error(),
		})
		return res
	}

	// Phase 2: record referencing the written image
	rec := models.NewRecord(d, res.ImageID, res.ImagePath)
	err = l.retry(ctx, func() error {
		id, err := l.repo.Insert(ctx, rec)
		res.RecordID = id
		return err
	})
	if err != nil {
		l.recordFailures.Add(1)
		res.Err = &models.StorageWriteError{Phase: models.PhaseRecord, Path: res.ImagePath, Err: err}
		l.logger.Error("💾 Frame %d: orphan image %s: %v", d.FrameSeq, res.ImagePath, err)
		l.events.Emit(events.Event{
			Kind:     events.OrphanImage,
			Seq:      d.FrameSeq,
			SourceID: d.SourceID,
			Stage:    "storage:" + models.PhaseRecord,
			Cause:    err.Error(),
			Fields:   map[string]any{"image_path": res.ImagePath, "image_id": res.ImageID},
		})
		return res
	}

	l.persisted.Add(1)
	l.events.Emit(events.Event{
		Kind:     events.RecordSaved,
		Seq:      d.FrameSeq,
		SourceID: d.SourceID,
		Stage:    "storage",
		Fields: map[string]any{
			"record_id":       res.RecordID,
			"image_id":        res.ImageID,
			"image_path":      res.ImagePath,
			"defect_detected": rec.DefectDetected,
			"defect_type":     rec.DefectType,
			"confidence":      rec.ConfidenceScore,
		},
	})
	return res
}

// retry runs fn once plus up to MaxRetries more times with a fixed delay.
func (l *DetectionLogger) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(l.opts.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// Flush waits until every queued write has completed or ctx ends.
func (l *DetectionLogger) Flush(ctx context.Context) error {
	for {
		l.mu.Lock()
		idle := len(l.queue) == 0 && !l.inFlight
		changed := l.changed
		l.mu.Unlock()

		if idle {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("flush: %w", ctx.Err())
		}
	}
}

// Close flushes within ctx, then stops the worker. Writes still queued when
// ctx ends are dropped and counted.
func (l *DetectionLogger) Close(ctx context.Context) error {
	flushErr := l.Flush(ctx)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	lost := len(l.queue)
	l.queue = nil
	wasOpen := l.open
	l.mu.Unlock()

	if lost > 0 {
		l.dropped.Add(uint64(lost))
		l.logger.Warning("💾 Dropped %d pending write(s) at shutdown", lost)
	}

	if !wasOpen {
		return flushErr
	}

	select {
	case l.wake <- struct{}{}:
	default:
	}

	select {
	case <-l.done:
	case <-ctx.Done():
		if flushErr == nil {
			flushErr = fmt.Errorf("close: %w", ctx.Err())
		}
	}

	s := l.Stats()
	l.logger.Info("💾 Detection logger closed: %d persisted, %d image failures, %d orphans, %d dropped",
		s.Persisted, s.ImageFailures, s.RecordFailures, s.Dropped)
	return flushErr
}

// Wait blocks until the worker has exited or ctx ends. Close returns as soon
// as its own ctx ends, possibly with a write still running; callers that tear
// down the record store afterwards wait here first.
func (l *DetectionLogger) Wait(ctx context.Context) error {
	l.mu.Lock()
	started := l.open
	l.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait: %w", ctx.Err())
	}
}

func (l *DetectionLogger) Stats() Stats {
	l.mu.Lock()
	pending := len(l.queue)
	if l.inFlight {
		pending++
	}
	l.mu.Unlock()

	return Stats{
		Enqueued:       l.enqueued.Load(),
		Persisted:      l.persisted.Load(),
		ImageFailures:  l.imageFailures.Load(),
		RecordFailures: l.recordFailures.Load(),
		Dropped:        l.dropped.Load(),
		Pending:        pending,
	}
}
