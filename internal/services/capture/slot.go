package capture

import (
	"context"
	"sync/atomic"
	"time"

	"inspector/internal/models"
)

// Slot is a single-frame cell with overwrite semantics. One writer swaps new
// frames in; readers take the current frame out. The writer never waits on a
// reader.
type Slot struct {
	cur         atomic.Pointer[models.Frame]
	notify      chan struct{}
	overwritten atomic.Uint64
}

func NewSlot() *Slot {
	return &Slot{notify: make(chan struct{}, 1)}
}

// Put stores f, replacing any frame nobody took yet. It reports whether an
// unconsumed frame was dropped.
func (s *Slot) Put(f *models.Frame) bool {
	old := s.cur.Swap(f)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	if old != nil {
		s.overwritten.Add(1)
		return true
	}
	return false
}

// Take removes and returns the current frame, or nil when the slot is empty.
func (s *Slot) Take() *models.Frame {
	return s.cur.Swap(nil)
}

// Pending reports whether a frame is waiting in the slot.
func (s *Slot) Pending() bool {
	return s.cur.Load() != nil
}

// Overwritten is the number of frames replaced before anyone took them.
func (s *Slot) Overwritten() uint64 {
	return s.overwritten.Load()
}

// Wait takes the current frame, waiting at most d for one to arrive.
// Returns nil on timeout or cancellation.
func (s *Slot) Wait(ctx context.Context, d time.Duration) *models.Frame {
	if f := s.Take(); f != nil {
		return f
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-s.notify:
			// the notification may belong to a frame that was already taken
			if f := s.Take(); f != nil {
				return f
			}
		case <-timer.C:
			return s.Take()
		case <-ctx.Done():
			return nil
		}
	}
}
