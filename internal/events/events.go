// Package events converts raw electrical edge callbacks into debounced
// logical events for the control loop.
//
// Edge handlers are invoked from interrupt context: they must not block,
// perform I/O, or touch the ring buffer. The handoff to the main loop is a
// buffered channel with a non-blocking send; an overflowing queue drops the
// event and logs it rather than stalling the interrupt path.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lookout-data/lookout/internal/monitoring"
	"github.com/lookout-data/lookout/internal/timeutil"
)

// Event is a debounced logical event delivered to the control loop.
type Event int

const (
	// Motion is a rising edge on the motion sensor.
	Motion Event = iota

	// ShutdownRequest asks the state machine to end the session and shut
	// down cleanly, draining buffered footage first.
	ShutdownRequest

	// ForceShutdown requests immediate process termination without waiting
	// for the writer to drain. Footage loss on the current session is the
	// accepted cost of this escape hatch.
	ForceShutdown
)

func (e Event) String() string {
	switch e {
	case Motion:
		return "motion"
	case ShutdownRequest:
		return "shutdown-request"
	case ForceShutdown:
		return "force-shutdown"
	default:
		return "unknown"
	}
}

const queueDepth = 16

// Processor debounces edges and measures button hold duration.
type Processor struct {
	clock         timeutil.Clock
	holdThreshold time.Duration
	debounce      time.Duration
	ch            chan Event
	disabled      atomic.Bool

	mu         sync.Mutex
	pressed    bool
	pressedAt  time.Time
	lastMotion time.Time
	sawMotion  bool
}

// NewProcessor creates an event processor. holdThreshold is the button hold
// duration beyond which a release becomes a ForceShutdown; debounce is the
// minimum interval between motion events (the PIR retriggers continuously
// while warm bodies remain in view).
func NewProcessor(holdThreshold, debounce time.Duration, clock timeutil.Clock) *Processor {
	return &Processor{
		clock:         clock,
		holdThreshold: holdThreshold,
		debounce:      debounce,
		ch:            make(chan Event, queueDepth),
	}
}

// Events returns the channel the control loop consumes at the top of each
// tick.
func (p *Processor) Events() <-chan Event {
	return p.ch
}

// Disable stops all further event emission. Called once the state machine
// enters shutdown so late interrupts cannot re-trigger application logic.
func (p *Processor) Disable() {
	p.disabled.Store(true)
}

// HandleMotionEdge is the motion sensor callback. Only rising edges are
// meaningful; anything else is an erroneous readback (typically a watchdog
// timeout) and is logged and discarded.
func (p *Processor) HandleMotionEdge(rising bool) {
	if p.disabled.Load() {
		return
	}
	if !rising {
		monitoring.Logf("unexpected motion sensor edge (not rising), ignoring")
		return
	}

	now := p.clock.Now()

	p.mu.Lock()
	if p.sawMotion && now.Sub(p.lastMotion) < p.debounce {
		p.mu.Unlock()
		monitoring.Debugf("motion edge suppressed by debounce")
		return
	}
	p.sawMotion = true
	p.lastMotion = now
	p.mu.Unlock()

	monitoring.Debugf("motion sensor activated")
	p.emit(Motion)
}

// HandleButtonEdge is the power button callback, invoked on both edges.
// Press starts the hold timer; release measures the hold and emits either a
// graceful or a forced shutdown request.
func (p *Processor) HandleButtonEdge(pressed bool) {
	if p.disabled.Load() {
		return
	}

	now := p.clock.Now()

	p.mu.Lock()
	if pressed {
		p.pressed = true
		p.pressedAt = now
		p.mu.Unlock()
		monitoring.Debugf("power button pressed")
		return
	}

	if !p.pressed {
		// Release with no recorded press: the hold cannot be measured, so
		// treat it as an ordinary short press.
		p.mu.Unlock()
		monitoring.Logf("button release without preceding press, treating as shutdown request")
		p.emit(ShutdownRequest)
		return
	}

	held := now.Sub(p.pressedAt)
	p.pressed = false
	p.mu.Unlock()

	if held > p.holdThreshold {
		monitoring.Logf("power button held %v, forcing shutdown", held)
		p.emit(ForceShutdown)
		return
	}
	monitoring.Logf("power button released after %v, requesting shutdown", held)
	p.emit(ShutdownRequest)
}

func (p *Processor) emit(e Event) {
	select {
	case p.ch <- e:
	default:
		monitoring.Logf("event queue full, dropping %s", e)
	}
}
