// Package watch implements the top-level surveillance state machine: it owns
// the controller state, advances the fixed-rate capture loop, opens and
// closes recording sessions, and sequences shutdown.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lookout-data/lookout/internal/alarm"
	"github.com/lookout-data/lookout/internal/detect"
	"github.com/lookout-data/lookout/internal/events"
	"github.com/lookout-data/lookout/internal/frame"
	"github.com/lookout-data/lookout/internal/framebuf"
	"github.com/lookout-data/lookout/internal/monitoring"
	"github.com/lookout-data/lookout/internal/timeutil"
)

// State is the top-level controller state.
type State int

const (
	// Inactive waits for a motion trigger.
	Inactive State = iota

	// Active is a running recording session.
	Active

	// ShuttingDown drains and releases everything before the process exits.
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case ShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

// ErrForceShutdown is returned by Run when the panic-button path fired. The
// caller must terminate immediately without waiting for the writer to drain;
// losing the current session's footage is accepted on this path.
var ErrForceShutdown = errors.New("forced shutdown requested")

// Camera is the capture side of the camera collaborator. Capture returns a
// caller-owned copy of the current frame; it never aliases the device's live
// working buffer.
type Camera interface {
	Resume() error
	Capture() (frame.Frame, error)
	Pause() error
	Close() error
	Capturing() bool
}

// Annotator draws detection boxes and labels onto a frame before it is
// buffered for persistence.
type Annotator interface {
	Annotate(f *frame.Frame, ds detect.Set)
}

// Outputs is the indicator side of the GPIO collaborator.
type Outputs interface {
	SetIndicator(on bool)
	SetLamps(on bool)
	EnableMotionSensor(on bool)
}

// RecordingWriter is the persistence writer's control surface. The machine
// only signals intent; the writer owns the file handle.
type RecordingWriter interface {
	OpenSession(path string)
	CloseSession()
	Shutdown()
}

// Params collects the machine's collaborators and tuning.
type Params struct {
	Clock      timeutil.Clock
	Camera     Camera
	Annotator  Annotator // optional
	Detections detect.Source
	Gate       *alarm.Controller
	Ring       *framebuf.Ring
	Writer     RecordingWriter
	Events     *events.Processor
	Outputs    Outputs

	Framerate           int
	IdleTimeout         time.Duration
	ConfidenceThreshold float64
	ValidObjects        []string
	SaveDirectory       string

	// BlinkPeriod is the indicator heartbeat interval while inactive.
	// Defaults to one second.
	BlinkPeriod time.Duration
}

// Machine is the surveillance controller.
type Machine struct {
	clock     timeutil.Clock
	cam       Camera
	annotator Annotator
	source    detect.Source
	gate      *alarm.Controller
	ring      *framebuf.Ring
	writer    RecordingWriter
	events    *events.Processor
	outputs   Outputs

	period        time.Duration
	idleTimeout   time.Duration
	minConfidence float64
	validObjects  []string
	saveDir       string
	blinkPeriod   time.Duration
}

// New creates a surveillance state machine.
func New(p Params) (*Machine, error) {
	if p.Framerate < 1 {
		return nil, fmt.Errorf("framerate must be >= 1, got %d", p.Framerate)
	}
	if p.Clock == nil || p.Camera == nil || p.Detections == nil || p.Gate == nil ||
		p.Ring == nil || p.Writer == nil || p.Events == nil || p.Outputs == nil {
		return nil, errors.New("all collaborators must be provided")
	}
	blink := p.BlinkPeriod
	if blink == 0 {
		blink = time.Second
	}
	return &Machine{
		clock:         p.Clock,
		cam:           p.Camera,
		annotator:     p.Annotator,
		source:        p.Detections,
		gate:          p.Gate,
		ring:          p.Ring,
		writer:        p.Writer,
		events:        p.Events,
		outputs:       p.Outputs,
		period:        time.Second / time.Duration(p.Framerate),
		idleTimeout:   p.IdleTimeout,
		minConfidence: p.ConfidenceThreshold,
		validObjects:  p.ValidObjects,
		saveDir:       p.SaveDirectory,
		blinkPeriod:   blink,
	}, nil
}

// Run blocks until shutdown completes or a forced shutdown is requested. On
// a nil return the process may safely exit; on ErrForceShutdown the caller
// must exit immediately without further cleanup.
func (m *Machine) Run(ctx context.Context) error {
	monitoring.Logf("surveillance controller started")
	m.outputs.EnableMotionSensor(true)

	state := Inactive
	for {
		var err error
		var next State

		switch state {
		case Inactive:
			next, err = m.idle(ctx)
		case Active:
			next, err = m.record(ctx)
		case ShuttingDown:
			return m.shutdown()
		}

		if err != nil {
			if errors.Is(err, ErrForceShutdown) {
				monitoring.Logf("forced shutdown, abandoning buffered footage")
				return err
			}
			// A contract violation still gets an orderly teardown so
			// already-buffered footage is not lost.
			m.shutdown()
			return err
		}

		if next != state {
			monitoring.Debugf("state %s -> %s", state, next)
		}
		state = next
	}
}

// idle waits for a trigger while flashing the indicator as a heartbeat.
func (m *Machine) idle(ctx context.Context) (State, error) {
	blink := m.clock.NewTicker(m.blinkPeriod)
	defer blink.Stop()
	defer m.outputs.SetIndicator(false)

	ledOn := false
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("interrupted, shutting down")
			return ShuttingDown, nil

		case ev := <-m.events.Events():
			switch ev {
			case events.Motion:
				return Active, nil
			case events.ShutdownRequest:
				return ShuttingDown, nil
			case events.ForceShutdown:
				return ShuttingDown, ErrForceShutdown
			}

		case <-blink.C():
			ledOn = !ledOn
			m.outputs.SetIndicator(ledOn)
		}
	}
}

// record runs one recording session and returns the next state.
func (m *Machine) record(ctx context.Context) (State, error) {
	path := filepath.Join(m.saveDir, m.clock.Now().Format("20060102.150405.000")+".avi")

	if !m.cam.Capturing() {
		if err := m.cam.Resume(); err != nil {
			monitoring.Logf("failed to open camera stream: %v", err)
			return Inactive, nil
		}
	}
	m.writer.OpenSession(path)
	m.outputs.SetLamps(true)
	m.outputs.SetIndicator(true)
	m.gate.Reset()
	monitoring.Logf("recording session started: %s", path)

	// The previous successfully captured frame. Kept so a transient capture
	// failure reuses the last-known frame instead of dropping the tick; an
	// empty value means no frame has been captured yet.
	var last frame.Frame

	for {
		tickStart := m.clock.Now()

		// Interrupt-context events are consumed at the top of each tick.
		drained := false
		for !drained {
			select {
			case ev := <-m.events.Events():
				switch ev {
				case events.ShutdownRequest:
					m.endSession("shutdown requested")
					return ShuttingDown, nil
				case events.ForceShutdown:
					return ShuttingDown, ErrForceShutdown
				case events.Motion:
					// Already recording; the sensor retriggering while
					// objects remain in view is expected.
				}
			default:
				drained = true
			}
		}
		select {
		case <-ctx.Done():
			m.endSession("interrupted")
			return ShuttingDown, nil
		default:
		}

		f, err := m.cam.Capture()
		if err != nil {
			monitoring.Logf("failed to retrieve current frame from camera: %v", err)
			// Reuse the last-known frame; with no frame at all this tick
			// has nothing to buffer but the idle timer still runs.
			if last.Empty() {
				f = frame.Frame{}
			} else {
				f = last.Clone()
			}
		}

		ds := detect.Filter(m.source.Latest(), m.minConfidence, m.validObjects)
		m.gate.Observe(ds)

		if !f.Empty() {
			f.Captured = tickStart
			if m.annotator != nil {
				m.annotator.Annotate(&f, ds)
			}
			last = f

			ok, err := m.ring.Push(f)
			if err != nil {
				m.endSession("frame shape mismatch")
				return ShuttingDown, fmt.Errorf("ring buffer rejected frame: %w", err)
			}
			if !ok {
				monitoring.Logf("frame buffer exhausted, ending session")
				m.endSession("buffer full")
				return Inactive, nil
			}
		}

		if m.gate.IdleFor() >= m.idleTimeout {
			monitoring.Logf("no objects detected for %v, ending session", m.idleTimeout)
			m.endSession("idle timeout")
			return Inactive, nil
		}

		m.pace(tickStart)
	}
}

// pace sleeps out the remainder of the tick period. An overrunning tick
// starts the next frame immediately, but always yields for at least a
// millisecond.
func (m *Machine) pace(tickStart time.Time) {
	sleep := m.period - m.clock.Since(tickStart)
	if sleep < time.Millisecond {
		sleep = time.Millisecond
	}
	m.clock.Sleep(sleep)
}

// endSession closes the capture session. The writer keeps draining buffered
// frames asynchronously; this never blocks the loop.
func (m *Machine) endSession(reason string) {
	monitoring.Logf("recording session ended (%s)", reason)
	m.writer.CloseSession()
	if err := m.cam.Pause(); err != nil {
		monitoring.Logf("failed to close camera stream: %v", err)
	}
	m.outputs.SetLamps(false)
	m.outputs.SetIndicator(false)
	m.gate.Disarm()
}

// shutdown disables all interrupt sources, stops the detection collaborator,
// waits for the writer's final drain, and releases hardware resources.
func (m *Machine) shutdown() error {
	monitoring.Logf("shutting down")
	m.events.Disable()
	m.outputs.EnableMotionSensor(false)

	if err := m.source.Close(); err != nil {
		monitoring.Logf("failed to stop detection collaborator: %v", err)
	}

	// Blocking join: buffered footage takes priority over shutdown latency.
	m.writer.Shutdown()

	if err := m.cam.Close(); err != nil {
		monitoring.Logf("failed to close camera: %v", err)
	}
	m.gate.Disarm()
	m.outputs.SetLamps(false)
	m.outputs.SetIndicator(false)
	monitoring.Logf("shutdown complete")
	return nil
}
