// Package alarm implements the detection gate: it evaluates each capture
// tick's detections against the configured block and allow lists, drives the
// buzzer output, and maintains the session idle timer.
package alarm

import (
	"time"

	"github.com/lookout-data/lookout/internal/detect"
	"github.com/lookout-data/lookout/internal/monitoring"
	"github.com/lookout-data/lookout/internal/timeutil"
)

// Output is the buzzer side of the GPIO collaborator. A frequency of zero
// turns the output off.
type Output interface {
	SetAlarm(frequencyHz int) error
}

// Config holds the immutable gate parameters.
type Config struct {
	// Enabled gates the whole alarm path; when false the controller still
	// tracks the idle timer but never drives the output.
	Enabled bool

	// FrequencyHz is the buzzer drive frequency while armed.
	FrequencyHz int

	// Duration is how long the alarm stays armed after its last trigger.
	Duration time.Duration

	// Blocklist labels arm the alarm when detected.
	Blocklist []string

	// Allowlist labels suppress the alarm for the tick regardless of any
	// blocklist match.
	Allowlist []string
}

// Controller runs once per capture tick, synchronously inside the main loop.
// It is not safe for concurrent use.
type Controller struct {
	cfg   Config
	block map[string]struct{}
	allow map[string]struct{}
	clock timeutil.Clock
	out   Output

	armed   bool
	armedAt time.Time
	idleAt  time.Time
}

// NewController creates a gate controller driving the given output.
func NewController(cfg Config, out Output, clock timeutil.Clock) *Controller {
	c := &Controller{
		cfg:   cfg,
		block: labelSet(cfg.Blocklist),
		allow: labelSet(cfg.Allowlist),
		clock: clock,
		out:   out,
	}
	c.idleAt = clock.Now()
	return c
}

func labelSet(labels []string) map[string]struct{} {
	m := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		m[l] = struct{}{}
	}
	return m
}

// Reset prepares the controller for a new session: the idle timer restarts
// and any armed alarm is cleared.
func (c *Controller) Reset() {
	c.idleAt = c.clock.Now()
	c.Disarm()
}

// Observe evaluates one tick's detection set.
//
// The idle timer refresh happens before the caller's idle-timeout check, so a
// tick that both contains an object and lands exactly on the idle threshold
// does not spuriously end the session.
func (c *Controller) Observe(ds detect.Set) {
	now := c.clock.Now()

	if len(ds) > 0 {
		c.idleAt = now
	}

	var blocked, allowed bool
	for _, d := range ds {
		if _, ok := c.block[d.Label]; ok {
			blocked = true
		}
		if _, ok := c.allow[d.Label]; ok {
			allowed = true
		}
	}

	// An allowlisted object always suppresses the trigger for this tick,
	// regardless of blocklist matches.
	trigger := c.cfg.Enabled && blocked && !allowed

	if trigger {
		c.armedAt = now
		if !c.armed {
			c.armed = true
			monitoring.Logf("alarm armed (labels %v)", ds.Labels())
			if err := c.out.SetAlarm(c.cfg.FrequencyHz); err != nil {
				monitoring.Logf("failed to enable alarm output: %v", err)
			}
		}
		return
	}

	// Disarm on duration, not on absence of detections.
	if c.armed && now.Sub(c.armedAt) >= c.cfg.Duration {
		c.Disarm()
	}
}

// Armed reports whether the alarm output is currently enabled.
func (c *Controller) Armed() bool {
	return c.armed
}

// IdleFor returns the time elapsed since a detection was last present.
func (c *Controller) IdleFor() time.Duration {
	return c.clock.Since(c.idleAt)
}

// Disarm unconditionally turns the alarm output off.
func (c *Controller) Disarm() {
	if !c.armed {
		return
	}
	c.armed = false
	monitoring.Logf("alarm disarmed")
	if err := c.out.SetAlarm(0); err != nil {
		monitoring.Logf("failed to disable alarm output: %v", err)
	}
}
