// Package hw contains the hardware adapters behind the controller's
// collaborator interfaces. Everything here is thin integration code kept out
// of the unit-tested core.
package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/lookout-data/lookout/internal/events"
	"github.com/lookout-data/lookout/internal/monitoring"
)

// Pins names the GPIO lines by their registry names ("GPIO4", "GPIO17", ...).
type Pins struct {
	Motion       string
	Button       string
	Buzzer       string
	Indicator    string
	Lamps        string
	SensorEnable string
}

// DefaultPins is the garden monitor's wiring.
var DefaultPins = Pins{
	Motion:       "GPIO4",
	Button:       "GPIO27",
	Buzzer:       "GPIO13",
	Indicator:    "GPIO26",
	Lamps:        "GPIO16",
	SensorEnable: "GPIO22",
}

// GPIO owns the device's pins. Input edges are forwarded to the event
// processor from dedicated goroutines; outputs are driven directly.
type GPIO struct {
	motion       gpio.PinIO
	button       gpio.PinIO
	buzzer       gpio.PinIO
	indicator    gpio.PinIO
	lamps        gpio.PinIO
	sensorEnable gpio.PinIO

	proc *events.Processor
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// OpenGPIO initialises the host drivers, claims the pins and starts the edge
// watchers. The motion sensor watches rising edges only; the button watches
// both edges so hold duration can be measured.
func OpenGPIO(pins Pins, proc *events.Processor) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise gpio host: %w", err)
	}

	g := &GPIO{proc: proc}

	var err error
	if g.motion, err = claimInput(pins.Motion, gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, err
	}
	if g.button, err = claimInput(pins.Button, gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, err
	}
	if g.buzzer, err = claimOutput(pins.Buzzer); err != nil {
		return nil, err
	}
	if g.indicator, err = claimOutput(pins.Indicator); err != nil {
		return nil, err
	}
	if g.lamps, err = claimOutput(pins.Lamps); err != nil {
		return nil, err
	}
	if g.sensorEnable, err = claimOutput(pins.SensorEnable); err != nil {
		return nil, err
	}

	g.wg.Add(2)
	go g.watchMotion()
	go g.watchButton()
	return g, nil
}

func claimInput(name string, pull gpio.Pull, edge gpio.Edge) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no such pin %q", name)
	}
	if err := p.In(pull, edge); err != nil {
		return nil, fmt.Errorf("failed to configure input %q: %w", name, err)
	}
	return p, nil
}

func claimOutput(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no such pin %q", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure output %q: %w", name, err)
	}
	return p, nil
}

func (g *GPIO) watchMotion() {
	defer g.wg.Done()
	for {
		if !g.motion.WaitForEdge(-1) {
			if g.isClosed() {
				return
			}
			continue
		}
		g.proc.HandleMotionEdge(g.motion.Read() == gpio.High)
	}
}

func (g *GPIO) watchButton() {
	defer g.wg.Done()
	for {
		if !g.button.WaitForEdge(-1) {
			if g.isClosed() {
				return
			}
			continue
		}
		// Button wired active-low against the pull-up.
		g.proc.HandleButtonEdge(g.button.Read() == gpio.Low)
	}
}

func (g *GPIO) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// SetIndicator drives the power LED.
func (g *GPIO) SetIndicator(on bool) {
	if err := g.indicator.Out(level(on)); err != nil {
		monitoring.Logf("failed to set indicator: %v", err)
	}
}

// SetLamps drives the IR illumination bank.
func (g *GPIO) SetLamps(on bool) {
	if err := g.lamps.Out(level(on)); err != nil {
		monitoring.Logf("failed to set lamps: %v", err)
	}
}

// EnableMotionSensor powers the motion sensor's enable line.
func (g *GPIO) EnableMotionSensor(on bool) {
	if err := g.sensorEnable.Out(level(on)); err != nil {
		monitoring.Logf("failed to set motion sensor enable: %v", err)
	}
}

// SetAlarm drives the buzzer at the given frequency; zero turns it off. The
// piezo is driven by a hardware PWM clock, so arming costs nothing per tick.
func (g *GPIO) SetAlarm(frequencyHz int) error {
	if frequencyHz <= 0 {
		if err := g.buzzer.Halt(); err != nil {
			return fmt.Errorf("failed to stop buzzer: %w", err)
		}
		return g.buzzer.Out(gpio.Low)
	}
	f := physic.Frequency(frequencyHz) * physic.Hertz
	if err := g.buzzer.PWM(gpio.DutyHalf, f); err != nil {
		return fmt.Errorf("failed to drive buzzer at %v: %w", f, err)
	}
	return nil
}

// Close releases the pins and stops the edge watchers.
func (g *GPIO) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	// Halting the inputs unblocks WaitForEdge.
	if err := g.motion.Halt(); err != nil {
		monitoring.Logf("failed to halt motion pin: %v", err)
	}
	if err := g.button.Halt(); err != nil {
		monitoring.Logf("failed to halt button pin: %v", err)
	}
	g.wg.Wait()

	for _, p := range []gpio.PinIO{g.buzzer, g.indicator, g.lamps, g.sensorEnable} {
		if err := p.Out(gpio.Low); err != nil {
			monitoring.Logf("failed to clear output %s: %v", p.Name(), err)
		}
	}
	return nil
}

func level(on bool) gpio.Level {
	if on {
		return gpio.High
	}
	return gpio.Low
}
