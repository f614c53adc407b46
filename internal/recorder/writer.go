// Package recorder implements the persistence writer: a background goroutine
// that drains the frame ring buffer into the current video file, decoupling
// disk and encoder latency from the capture rate.
package recorder

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lookout-data/lookout/internal/frame"
	"github.com/lookout-data/lookout/internal/framebuf"
	"github.com/lookout-data/lookout/internal/monitoring"
	"github.com/lookout-data/lookout/internal/timeutil"
)

// FrameSink is the video encoding boundary. The writer owns the sink's open
// file exclusively between Open and Close; the control loop only ever signals
// intent through OpenSession/CloseSession.
type FrameSink interface {
	// Open creates a new output file at the given path.
	Open(path string) error

	// WriteFrame appends one frame to the open file.
	WriteFrame(f frame.Frame) error

	// Close finalizes and releases the open file.
	Close() error
}

// SessionListener receives session lifecycle notifications from the writer
// goroutine. SessionEnded fires only after the ring buffer has been fully
// drained into the file and the file handle released.
type SessionListener interface {
	SessionStarted(path string, at time.Time)
	SessionEnded(path string, at time.Time, framesWritten int)
}

const defaultPollInterval = 50 * time.Millisecond

// Option configures a Writer.
type Option func(*Writer)

// WithPollInterval sets the idle poll interval. The only driver of urgency is
// buffer occupancy, so the default is a relaxed 50ms.
func WithPollInterval(d time.Duration) Option {
	return func(w *Writer) { w.poll = d }
}

// WithListener attaches a session lifecycle listener.
func WithListener(l SessionListener) Option {
	return func(w *Writer) { w.listener = l }
}

type command struct {
	open bool
	path string
}

// Writer drains the ring buffer into the current session file. It runs as a
// single goroutine for the lifetime of the process; it is the only reader of
// the ring buffer.
type Writer struct {
	ring     *framebuf.Ring
	sink     FrameSink
	clock    timeutil.Clock
	listener SessionListener
	poll     time.Duration

	cmds chan command
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// NewWriter creates a persistence writer reading from ring and writing
// through sink. Call Start to launch the worker goroutine.
func NewWriter(ring *framebuf.Ring, sink FrameSink, clock timeutil.Clock, opts ...Option) *Writer {
	w := &Writer{
		ring:  ring,
		sink:  sink,
		clock: clock,
		poll:  defaultPollInterval,
		cmds:  make(chan command, 4),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the writer goroutine. Subsequent calls are no-ops.
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run()
	})
}

// OpenSession asks the writer to create a new output file. If a session is
// already open it is drained and closed first.
func (w *Writer) OpenSession(path string) {
	w.cmds <- command{open: true, path: path}
}

// CloseSession marks the current file for graceful close. The writer keeps
// draining the ring buffer into the current file until it is empty, then
// releases the handle; only then is the close complete. Closing with no open
// session is a no-op.
func (w *Writer) CloseSession() {
	w.cmds <- command{open: false}
}

// Shutdown requests termination and blocks until the writer has finished its
// final close-and-drain cycle and exited its loop. There is deliberately no
// timeout: buffered footage takes priority over shutdown latency.
func (w *Writer) Shutdown() {
	if !w.started.Load() {
		return
	}
	w.stopOnce.Do(func() {
		close(w.quit)
	})
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)

	var (
		open    bool
		path    string
		written int
	)

	closeCurrent := func() {
		if !open {
			return
		}
		written += w.drain()
		if err := w.sink.Close(); err != nil {
			monitoring.Logf("failed to close session file %s: %v", path, err)
		}
		monitoring.Logf("session file %s closed (%d frames)", path, written)
		if w.listener != nil {
			w.listener.SessionEnded(path, w.clock.Now(), written)
		}
		open = false
	}

	for {
		select {
		case cmd := <-w.cmds:
			if !cmd.open {
				closeCurrent()
				continue
			}
			closeCurrent()
			if err := w.sink.Open(cmd.path); err != nil {
				monitoring.Logf("failed to open session file %s: %v", cmd.path, err)
				continue
			}
			open = true
			path = cmd.path
			written = 0
			monitoring.Logf("session file %s opened", path)
			if w.listener != nil {
				w.listener.SessionStarted(path, w.clock.Now())
			}

		case <-w.quit:
			closeCurrent()
			return

		case <-w.clock.After(w.poll):
			if open {
				written += w.drain()
			}
		}
	}
}

// drain pops frames until the ring buffer reads empty, writing each to the
// sink. Returns the number of frames successfully written.
func (w *Writer) drain() int {
	var n int
	for {
		f, ok := w.ring.Pop()
		if !ok {
			return n
		}
		if err := w.sink.WriteFrame(f); err != nil {
			monitoring.Logf("failed to write frame: %v", err)
			continue
		}
		n++
	}
}
