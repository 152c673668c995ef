package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"inspector/internal/config"
	"inspector/internal/logger"
	"inspector/internal/models"
	"inspector/internal/services/capture"
	"inspector/internal/services/events"
	"inspector/internal/services/storage"
)

// Source is the capture side of the pipeline.
type Source interface {
	Run(ctx context.Context) error
	Latest(ctx context.Context, wait time.Duration) *models.Frame
	HasNewer() bool
	Stats() capture.Stats
	Close() error
}

type Preprocessor interface {
	Process(f *models.Frame) (*models.PreprocessedTensor, error)
}

type Detector interface {
	Detect(ctx context.Context, t *models.PreprocessedTensor) (*models.Detection, error)
}

type Annotator interface {
	Annotate(f *models.Frame, boxes []models.BoundingBox) ([]byte, error)
}

// DetectionSink receives finished detections. storage.DetectionLogger
// implements it.
type DetectionSink interface {
	Open() error
	Enqueue(job storage.Job) error
	Close(ctx context.Context) error
	Stats() storage.Stats
}

type Options struct {
	// AbandonStale drops a preprocessed frame when a newer one is waiting.
	AbandonStale bool
	PollWait     time.Duration
	FlushTimeout time.Duration
	// MotionThreshold drops frames with no more changed pixels than this
	// before preprocessing. Zero disables the gate.
	MotionThreshold int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AbandonStale:    cfg.AbandonStale,
		PollWait:        cfg.PollWait,
		FlushTimeout:    cfg.FlushTimeout,
		MotionThreshold: cfg.MotionThreshold,
	}
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Running          bool          `json:"running"`
	Processed        uint64        `json:"processed"`
	Done             uint64        `json:"done"`
	Dropped          uint64        `json:"dropped"`
	Errored          uint64        `json:"errored"`
	Defects          uint64        `json:"defects"`
	InferenceRetries uint64        `json:"inference_retries"`
	Capture          capture.Stats `json:"capture"`
	Logger           storage.Stats `json:"logger"`
}

// Orchestrator drives frames from the source through preprocessing,
// inference and annotation into the detection sink.
type Orchestrator struct {
	source    Source
	pre       Preprocessor
	detector  Detector
	annotator Annotator
	sink      DetectionSink
	motion    *MotionGate
	opts      Options
	logger    *logger.Logger
	events    events.Emitter

	running   atomic.Bool
	processed atomic.Uint64
	done      atomic.Uint64
	dropped   atomic.Uint64
	errored   atomic.Uint64
	defects   atomic.Uint64
	retries   atomic.Uint64
}

func NewOrchestrator(source Source, pre Preprocessor, detector Detector, annotator Annotator, sink DetectionSink, opts Options, logger *logger.Logger, emitter events.Emitter) *Orchestrator {
	if opts.PollWait <= 0 {
		opts.PollWait = 100 * time.Millisecond
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Orchestrator{
		source:    source,
		pre:       pre,
		detector:  detector,
		annotator: annotator,
		sink:      sink,
		motion:    NewMotionGate(opts.MotionThreshold),
		opts:      opts,
		logger:    logger,
		events:    emitter,
	}
}

// Run opens the sink and runs the capture and processing loops until ctx is
// cancelled or the source fails fatally. On the way out the frame in flight
// completes, the sink is flushed within FlushTimeout and the source is
// released last. The returned error is nil on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.sink.Open(); err != nil {
		return fmt.Errorf("open detection logger: %w", err)
	}

	o.running.Store(true)
	o.logger.Info("🎬 Pipeline started (abandon stale: %v, poll wait: %s, motion threshold: %d)", o.opts.AbandonStale, o.opts.PollWait, o.opts.MotionThreshold)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.source.Run(gctx) })
	g.Go(func() error { return o.processLoop(gctx) })
	err := g.Wait()

	o.running.Store(false)
	o.shutdown()

	if err != nil {
		o.logger.Error("🛑 Pipeline stopped: %v", err)
		return err
	}
	o.logger.Info("🛑 Pipeline stopped")
	return nil
}

func (o *Orchestrator) processLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame := o.source.Latest(ctx, o.opts.PollWait)
		if frame == nil {
			continue
		}
		// a frame taken from the slot always finishes its chain
		o.Process(context.WithoutCancel(ctx), frame)
	}
}

func (o *Orchestrator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.FlushTimeout)
	defer cancel()

	if err := o.sink.Close(ctx); err != nil {
		o.logger.Warning("💾 Detection logger did not flush in %s: %v", o.opts.FlushTimeout, err)
	}
	if err := o.source.Close(); err != nil {
		o.logger.Warning("📷 Closing source: %v", err)
	}
}

// cycle tracks one frame through the state machine.
type cycle struct {
	seq    uint64
	source string
	state  State
	path   []string
	start  time.Time
}

func (c *cycle) to(next State) error {
	if !c.state.CanTransition(next) {
		return fmt.Errorf("frame %d: invalid transition %s -> %s", c.seq, c.state, next)
	}
	c.state = next
	c.path = append(c.path, string(next))
	return nil
}

// Process runs one frame through the chain and returns its terminal state.
func (o *Orchestrator) Process(ctx context.Context, frame *models.Frame) State {
	o.processed.Add(1)
	c := &cycle{
		seq:    frame.Seq,
		source: frame.SourceID,
		state:  StateCaptured,
		path:   []string{string(StateCaptured)},
		start:  time.Now(),
	}

	if o.motion != nil {
		if changed, moved := o.motion.Moved(frame); !moved {
			return o.drop(c, "motion", fmt.Sprintf("no motion (%d pixels changed)", changed))
		}
	}

	tensor, err := o.pre.Process(frame)
	if err != nil {
		return o.fail(c, "preprocess", err)
	}
	for _, t := range tensor.Timings {
		o.timing(c, t.Stage, t.Duration)
	}
	o.advance(c, StatePreprocessed)

	if o.opts.AbandonStale && o.source != nil && o.source.HasNewer() {
		return o.drop(c, "detect", "newer frame waiting")
	}

	detection, err := o.detect(ctx, tensor)
	if err != nil {
		return o.fail(c, "detect", err)
	}
	detection.FrameSeq = frame.Seq
	detection.SourceID = frame.SourceID
	detection.Timestamp = frame.CapturedAt
	o.timing(c, "inference", detection.InferenceTime)
	o.advance(c, StateDetected)

	start := time.Now()
	img, err := o.annotator.Annotate(frame, detection.Boxes)
	if err != nil {
		return o.fail(c, "annotate", err)
	}
	o.timing(c, "annotate", time.Since(start))

	if err := o.sink.Enqueue(storage.Job{Detection: detection, Image: img}); err != nil {
		return o.fail(c, "log", err)
	}
	o.advance(c, StateLogged)

	o.advance(c, StateDone)
	o.done.Add(1)
	if detection.DefectDetected {
		o.defects.Add(1)
	}
	o.events.Emit(events.Event{
		Kind:       events.FrameDone,
		Seq:        c.seq,
		SourceID:   c.source,
		DurationMS: ms(time.Since(c.start)),
		Fields: map[string]any{
			"path":            strings.Join(c.path, ">"),
			"defect_detected": detection.DefectDetected,
			"defect_type":     detection.DefectType(),
			"boxes":           len(detection.Boxes),
		},
	})
	o.logger.Debug("🎬 Frame %d done in %s (%d boxes)", c.seq, time.Since(c.start), len(detection.Boxes))
	return StateDone
}

// detect retries a failed inference exactly once.
func (o *Orchestrator) detect(ctx context.Context, t *models.PreprocessedTensor) (*models.Detection, error) {
	d, err := o.detector.Detect(ctx, t)
	if err == nil {
		return d, nil
	}

	o.retries.Add(1)
	o.logger.Warning("🤖 Inference failed on frame %d, retrying once: %v", t.FrameSeq, err)
	d, err = o.detector.Detect(ctx, t)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, models.ErrInference) {
		err = fmt.Errorf("%w: %w", models.ErrInference, err)
	}
	return nil, err
}

func (o *Orchestrator) advance(c *cycle, next State) {
	if err := c.to(next); err != nil {
		o.logger.Error("🎬 %v", err)
	}
}

func (o *Orchestrator) fail(c *cycle, stage string, err error) State {
	var fe *models.FrameError
	if !errors.As(err, &fe) {
		fe = &models.FrameError{Seq: c.seq, Stage: stage, Err: err}
	}

	o.advance(c, StateErrored)
	o.errored.Add(1)
	o.logger.Error("🎬 %v", fe)
	o.events.Emit(events.Event{
		Kind:       events.FrameError,
		Seq:        c.seq,
		SourceID:   c.source,
		Stage:      stage,
		Cause:      fe.Error(),
		DurationMS: ms(time.Since(c.start)),
		Fields:     map[string]any{"path": strings.Join(c.path, ">")},
	})
	return StateErrored
}

func (o *Orchestrator) drop(c *cycle, stage, cause string) State {
	o.advance(c, StateDropped)
	o.dropped.Add(1)
	o.logger.Debug("🎬 Frame %d dropped at %s: %s", c.seq, stage, cause)
	o.events.Emit(events.Event{
		Kind:       events.FrameDropped,
		Seq:        c.seq,
		SourceID:   c.source,
		Stage:      stage,
		Cause:      cause,
		DurationMS: ms(time.Since(c.start)),
		Fields:     map[string]any{"path": strings.Join(c.path, ">")},
	})
	return StateDropped
}

func (o *Orchestrator) timing(c *cycle, stage string, d time.Duration) {
	o.events.Emit(events.Event{
		Kind:       events.StageTiming,
		Seq:        c.seq,
		SourceID:   c.source,
		Stage:      stage,
		DurationMS: ms(d),
	})
}

func (o *Orchestrator) Stats() Stats {
	s := Stats{
		Running:          o.running.Load(),
		Processed:        o.processed.Load(),
		Done:             o.done.Load(),
		Dropped:          o.dropped.Load(),
		Errored:          o.errored.Load(),
		Defects:          o.defects.Load(),
		InferenceRetries: o.retries.Load(),
		Logger:           o.sink.Stats(),
	}
	if o.source != nil {
		s.Capture = o.source.Stats()
	}
	return s
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
