package hw

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.bug.st/serial"

	"github.com/lookout-data/lookout/internal/events"
	"github.com/lookout-data/lookout/internal/monitoring"
)

// report is one line from the doppler module: "<uptime_ms>,<magnitude>,<speed_mps>".
type report struct {
	UptimeMs  uint64
	Magnitude float64
	SpeedMps  float64
}

func parseReport(line string) (report, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return report{}, fmt.Errorf("expected 3 fields, got %d in %q", len(parts), line)
	}

	uptime, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return report{}, fmt.Errorf("bad uptime %q: %w", parts[0], err)
	}
	magnitude, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return report{}, fmt.Errorf("bad magnitude %q: %w", parts[1], err)
	}
	speed, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return report{}, fmt.Errorf("bad speed %q: %w", parts[2], err)
	}

	return report{UptimeMs: uptime, Magnitude: magnitude, SpeedMps: speed}, nil
}

// Radar reads a UART doppler module and synthesizes motion edges, for
// installations where a doppler unit replaces the passive IR sensor.
type Radar struct {
	port      serial.Port
	proc      *events.Processor
	threshold float64
}

// OpenRadar opens the doppler module's serial port. threshold is the minimum
// report magnitude that counts as motion.
func OpenRadar(portName string, baud int, threshold float64, proc *events.Processor) (*Radar, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open radar port %s: %w", portName, err)
	}

	return &Radar{port: port, proc: proc, threshold: threshold}, nil
}

// Monitor reads reports until the port closes or the context is cancelled.
// Run it on its own goroutine.
func (r *Radar) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(r.port)

	for scan.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scan.Text()
		rep, err := parseReport(line)
		if err != nil {
			monitoring.Debugf("discarding radar line: %v", err)
			continue
		}

		if rep.Magnitude >= r.threshold {
			r.proc.HandleMotionEdge(true)
		}
	}
	return scan.Err()
}

// Close closes the serial port, which also unblocks Monitor.
func (r *Radar) Close() error {
	return r.port.Close()
}
