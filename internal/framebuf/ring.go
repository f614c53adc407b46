// Package framebuf implements the bounded frame ring buffer shared between
// the capture loop and the persistence writer.
//
// The buffer is single-producer single-consumer: the capture loop owns the
// write index, the writer goroutine owns the read index. Each side reads the
// other's index through an atomic load, so the occupancy computation is
// consistent between the two without a lock.
package framebuf

import (
	"fmt"
	"sync/atomic"

	"github.com/lookout-data/lookout/internal/frame"
)

// ErrShapeMismatch is returned when a pushed frame's dimensions differ from
// the buffer's fixed shape. This means the camera resolution and the
// configured resolution disagree; it cannot self-correct and is not retried.
var ErrShapeMismatch = fmt.Errorf("frame shape does not match buffer shape")

// Ring is a fixed-capacity FIFO of frames awaiting persistence. One slot is
// reserved as a sentinel so that full and empty are distinguishable from the
// index pair alone: indices run modulo capacity+1, occupancy capacity means
// full and occupancy zero means empty.
type Ring struct {
	slots []frame.Frame
	shape frame.Shape

	// write is advanced only by the producer, read only by the consumer.
	write atomic.Uint64
	read  atomic.Uint64
}

// New creates a ring buffer holding up to capacity frames of the given shape.
func New(capacity int, shape frame.Shape) (*Ring, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("ring buffer capacity must be >= 1, got %d", capacity)
	}
	return &Ring{
		slots: make([]frame.Frame, capacity+1),
		shape: shape,
	}, nil
}

// Cap returns the buffer capacity in frames.
func (r *Ring) Cap() int {
	return len(r.slots) - 1
}

// Shape returns the fixed frame shape the buffer was created with.
func (r *Ring) Shape() frame.Shape {
	return r.shape
}

// Len returns the number of frames currently buffered.
func (r *Ring) Len() int {
	n := uint64(len(r.slots))
	w := r.write.Load()
	rd := r.read.Load()
	return int((w + n - rd) % n)
}

// Empty reports whether the buffer holds no frames.
func (r *Ring) Empty() bool {
	return r.write.Load() == r.read.Load()
}

// Push appends a frame. It returns false without blocking when the buffer is
// full; the frame is dropped and the caller decides whether to end the
// session. A shape mismatch returns ErrShapeMismatch.
//
// Push may only be called from the producer goroutine.
func (r *Ring) Push(f frame.Frame) (bool, error) {
	if f.Shape() != r.shape {
		return false, fmt.Errorf("%w: got %dx%dx%d, want %dx%dx%d", ErrShapeMismatch,
			f.Width, f.Height, f.Channels, r.shape.Width, r.shape.Height, r.shape.Channels)
	}

	n := uint64(len(r.slots))
	w := r.write.Load()
	rd := r.read.Load()
	if (w+n-rd)%n == n-1 {
		return false, nil
	}

	r.slots[w] = f
	r.write.Store((w + 1) % n)
	return true, nil
}

// Pop removes and returns the oldest frame. When the buffer is empty it
// returns a zero Frame and false rather than fabricating data. The consumed
// slot is cleared so stale pixel data is not retained.
//
// Pop may only be called from the consumer goroutine.
func (r *Ring) Pop() (frame.Frame, bool) {
	n := uint64(len(r.slots))
	rd := r.read.Load()
	w := r.write.Load()
	if rd == w {
		return frame.Frame{}, false
	}

	f := r.slots[rd]
	r.slots[rd] = frame.Frame{}
	r.read.Store((rd + 1) % n)
	return f, true
}
