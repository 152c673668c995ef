package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspector/internal/logger"
	"inspector/internal/models"
	"inspector/internal/services/events"
)

// scriptedBackend fails the first openFailures opens and the read with
// index failReadAt (once).
type scriptedBackend struct {
	mu           sync.Mutex
	openFailures int
	failReadAt   int
	opens        int
	reads        int
	failed       bool
}

func (b *scriptedBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if b.openFailures < 0 || b.opens <= b.openFailures {
		return errors.New("connection refused")
	}
	return nil
}

func (b *scriptedBackend) Read(ctx context.Context) (*models.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if b.reads == b.failReadAt && !b.failed {
		b.failed = true
		return nil, errors.New("stream reset")
	}
	time.Sleep(time.Millisecond)
	return SyntheticFrame(4, 4, b.reads), nil
}

func (b *scriptedBackend) Close() error   { return nil }
func (b *scriptedBackend) String() string { return "scripted" }

func fastReconnect(maxRetries int) ReconnectConfig {
	return ReconnectConfig{MaxRetries: maxRetries, RetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond}
}

func collectSeqs(t *testing.T, src *FrameSource, n int) []uint64 {
	t.Helper()
	var seqs []uint64
	deadline := time.Now().Add(5 * time.Second)
	for len(seqs) < n && time.Now().Before(deadline) {
		if f := src.Latest(context.Background(), 50*time.Millisecond); f != nil {
			seqs = append(seqs, f.Seq)
		}
	}
	require.Len(t, seqs, n)
	return seqs
}

func TestFrameSource_SequenceStrictlyIncreasing(t *testing.T) {
	src := NewFrameSource(NewSyntheticBackend(8, 6, 0), Options{SourceID: "cam0", Reconnect: fastReconnect(3)}, logger.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	seqs := collectSeqs(t, src, 50)
	cancel()
	require.NoError(t, <-done)

	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}

	stats := src.Stats()
	assert.Equal(t, "cam0", stats.SourceID)
	assert.GreaterOrEqual(t, stats.Captured, uint64(50))
	assert.Equal(t, stats.Captured, stats.LastSeq)
	assert.False(t, stats.Running)
}

func TestFrameSource_FrameIsStamped(t *testing.T) {
	src := NewFrameSource(NewSyntheticBackend(8, 6, 0), Options{SourceID: "line-3", Reconnect: fastReconnect(1)}, logger.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Run(ctx)

	f := src.Latest(context.Background(), time.Second)
	require.NotNil(t, f)
	assert.Equal(t, "line-3", f.SourceID)
	assert.Equal(t, 8*6*3, len(f.Data))
	assert.Equal(t, time.UTC, f.CapturedAt.Location())
	assert.NotZero(t, f.Seq)
}

func TestFrameSource_ExhaustedRetriesIsFatal(t *testing.T) {
	rec := &events.Recorder{}
	backend := &scriptedBackend{openFailures: -1}
	src := NewFrameSource(backend, Options{SourceID: "cam0", Reconnect: fastReconnect(3)}, logger.Discard(), rec)

	err := src.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.True(t, models.IsFatal(err))

	assert.Equal(t, 4, backend.opens)
	assert.Equal(t, uint64(3), src.Stats().Reconnects)
	assert.Len(t, rec.Events(events.SourceReconnect), 3)
	assert.Len(t, rec.Events(events.Fatal), 1)
}

func TestFrameSource_RecoversAfterTransientFailure(t *testing.T) {
	rec := &events.Recorder{}
	backend := &scriptedBackend{openFailures: 2, failReadAt: 5}
	src := NewFrameSource(backend, Options{SourceID: "cam0", Reconnect: fastReconnect(3)}, logger.Discard(), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	seqs := collectSeqs(t, src, 10)
	cancel()
	require.NoError(t, <-done)

	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1], fmt.Sprint(seqs))
	}
	// two failed opens plus one failed read
	assert.Equal(t, uint64(3), src.Stats().Reconnects)
	assert.Empty(t, rec.Events(events.Fatal))
}

func TestFrameSource_FPSEstimate(t *testing.T) {
	src := NewFrameSource(NewSyntheticBackend(4, 4, 100), Options{Reconnect: fastReconnect(1)}, logger.Discard(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	require.NoError(t, src.Run(ctx))

	fps := src.FPS()
	assert.InDelta(t, 100, fps, 40)
	assert.Equal(t, "synthetic://4x4", src.Stats().SourceID)
}

func TestFrameSource_SlowSourceDoesNotReconnect(t *testing.T) {
	rec := &events.Recorder{}
	// one frame every 500ms, well past the read timeout
	src := NewFrameSource(NewSyntheticBackend(4, 4, 2), Options{
		SourceID:    "slow",
		ReadTimeout: 200 * time.Millisecond,
		Reconnect:   fastReconnect(3),
	}, logger.Discard(), rec)

	ctx, cancel := context.WithTimeout(context.Background(), 1700*time.Millisecond)
	defer cancel()
	require.NoError(t, src.Run(ctx))

	stats := src.Stats()
	assert.Zero(t, stats.Reconnects)
	assert.Empty(t, rec.Events(events.SourceReconnect))
	assert.Empty(t, rec.Events(events.Fatal))
	// frames at 0, 0.5, 1.0 and 1.5s
	assert.GreaterOrEqual(t, stats.Captured, uint64(3))
	assert.LessOrEqual(t, stats.Captured, uint64(4))
	assert.InDelta(t, 2, stats.FPS, 0.3)
}

func TestFrameSource_ReadTimeoutIncludesFrameInterval(t *testing.T) {
	paced := NewFrameSource(NewSyntheticBackend(4, 4, 2), Options{ReadTimeout: time.Second}, logger.Discard(), nil)
	assert.Equal(t, 1500*time.Millisecond, paced.readTimeout())

	unpaced := NewFrameSource(NewSyntheticBackend(4, 4, 0), Options{ReadTimeout: time.Second}, logger.Discard(), nil)
	assert.Equal(t, time.Second, unpaced.readTimeout())

	scripted := NewFrameSource(&scriptedBackend{}, Options{ReadTimeout: time.Second}, logger.Discard(), nil)
	assert.Equal(t, time.Second, scripted.readTimeout())
}
