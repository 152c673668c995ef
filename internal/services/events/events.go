package events

import (
	"sync"
	"sync/atomic"
	"time"

	"inspector/internal/logger"
)

type Kind string

const (
	FrameDone       Kind = "frame_done"
	FrameDropped    Kind = "frame_dropped"
	FrameError      Kind = "frame_error"
	StageTiming     Kind = "stage_timing"
	RecordSaved     Kind = "record_saved"
	OrphanImage     Kind = "orphan_image"
	WriteDropped    Kind = "write_dropped"
	SourceReconnect Kind = "source_reconnect"
	Fatal           Kind = "fatal"
)

// Event is one structured pipeline notification.
type Event struct {
	Kind       Kind           `json:"kind"`
	Time       time.Time      `json:"time"`
	Seq        uint64         `json:"seq,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	DurationMS float64        `json:"duration_ms,omitempty"`
	Cause      string         `json:"cause,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(Event)
}

// Sink consumes events delivered by a Bus.
type Sink interface {
	Name() string
	Handle(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(Event) {}

// Bus fans events out to sinks from a single goroutine. Emit never blocks:
// when the buffer is full the event is dropped and counted.
type Bus struct {
	ch      chan Event
	sinks   []Sink
	logger  *logger.Logger
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	emitted atomic.Uint64
	dropped atomic.Uint64
}

func NewBus(buffer int, logger *logger.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{
		ch:     make(chan Event, buffer),
		logger: logger,
	}
}

// Subscribe adds a sink. Must be called before Start.
func (b *Bus) Subscribe(s Sink) {
	b.sinks = append(b.sinks, s)
}

func (b *Bus) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for e := range b.ch {
			for _, s := range b.sinks {
				s.Handle(e)
			}
		}
	}()
}

func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}

	select {
	case b.ch <- e:
		b.emitted.Add(1)
	default:
		b.dropped.Add(1)
	}
}

// Close stops accepting events and waits until the queued ones are delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	b.wg.Wait()
	if n := b.dropped.Load(); n > 0 {
		b.logger.Warning("Event bus dropped %d event(s)", n)
	}
}

// Stats returns the number of delivered and dropped events.
func (b *Bus) Stats() (emitted, dropped uint64) {
	return b.emitted.Load(), b.dropped.Load()
}

// LogSink writes events to the leveled logger.
type LogSink struct {
	logger *logger.Logger
}

func NewLogSink(logger *logger.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(e Event) {
	switch e.Kind {
	case Fatal, OrphanImage:
		s.logger.Error("[%s] seq=%d stage=%s cause=%s", e.Kind, e.Seq, e.Stage, e.Cause)
	case FrameError, WriteDropped, SourceReconnect:
		s.logger.Warning("[%s] seq=%d stage=%s cause=%s", e.Kind, e.Seq, e.Stage, e.Cause)
	case StageTiming:
		s.logger.Debug("[%s] seq=%d stage=%s %.2fms", e.Kind, e.Seq, e.Stage, e.DurationMS)
	default:
		s.logger.Debug("[%s] seq=%d %v", e.Kind, e.Seq, e.Fields)
	}
}

// Recorder keeps every event in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Emit lets a Recorder stand in for a Bus.
func (r *Recorder) Emit(e Event) { r.Handle(e) }

// Events returns a copy of the recorded events, optionally filtered by kind.
func (r *Recorder) Events(kinds ...Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if len(kinds) == 0 || containsKind(kinds, e.Kind) {
			out = append(out, e)
		}
	}
	return out
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
