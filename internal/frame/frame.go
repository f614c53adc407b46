// Package frame defines the pixel buffer type passed between the camera,
// the ring buffer and the persistence writer.
package frame

import "time"

// Shape describes the fixed dimensions of a frame. Every frame pushed into a
// ring buffer must match the shape the buffer was created with; a mismatch
// indicates a camera/config integration error, not a runtime condition.
type Shape struct {
	Width    int
	Height   int
	Channels int
}

// Size returns the expected pixel buffer length in bytes.
func (s Shape) Size() int {
	return s.Width * s.Height * s.Channels
}

// Frame is a single captured image. The camera adapter copies pixel data out
// of its live working buffer before handing a Frame over, so a Frame never
// aliases memory the capture device is still mutating. Frames are treated as
// immutable once captured.
type Frame struct {
	Pixels   []byte
	Width    int
	Height   int
	Channels int

	// Captured is the monotonic capture timestamp assigned by the control
	// loop's clock.
	Captured time.Time
}

// Shape returns the dimensions of the frame.
func (f Frame) Shape() Shape {
	return Shape{Width: f.Width, Height: f.Height, Channels: f.Channels}
}

// Empty reports whether the frame holds no pixel data. An empty Frame is the
// well-defined "no frame" value returned by an empty ring buffer pop.
func (f Frame) Empty() bool {
	return len(f.Pixels) == 0
}

// Clone returns a deep copy of the frame with its own pixel buffer.
func (f Frame) Clone() Frame {
	out := f
	out.Pixels = make([]byte, len(f.Pixels))
	copy(out.Pixels, f.Pixels)
	return out
}
