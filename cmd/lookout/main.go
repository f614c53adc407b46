// Command lookout runs the garden surveillance controller. It wakes on a
// motion trigger, records annotated video while objects of interest remain in
// view, sounds the deterrent alarm on blocklisted objects and powers the
// device down when the button is pressed.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lookout-data/lookout/internal/alarm"
	"github.com/lookout-data/lookout/internal/camera"
	"github.com/lookout-data/lookout/internal/config"
	"github.com/lookout-data/lookout/internal/events"
	"github.com/lookout-data/lookout/internal/frame"
	"github.com/lookout-data/lookout/internal/framebuf"
	"github.com/lookout-data/lookout/internal/hw"
	"github.com/lookout-data/lookout/internal/monitoring"
	"github.com/lookout-data/lookout/internal/recorder"
	"github.com/lookout-data/lookout/internal/storage"
	"github.com/lookout-data/lookout/internal/timeutil"
	"github.com/lookout-data/lookout/internal/watch"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode: no GPIO required, no system shutdown on exit")
	configPath = flag.String("config", "/media/usb/lookout/config.json", "Path to the JSON config file")
)

// outputs is the union of the indicator and buzzer surfaces, satisfied by the
// GPIO adapter and by the dev-mode stub.
type outputs interface {
	watch.Outputs
	alarm.Output
}

// noopOutputs is the dev-mode stand-in when no GPIO hardware is present.
type noopOutputs struct{}

func (noopOutputs) SetIndicator(on bool)           {}
func (noopOutputs) SetLamps(on bool)               {}
func (noopOutputs) EnableMotionSensor(on bool)     {}
func (noopOutputs) SetAlarm(frequencyHz int) error { return nil }

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}
	monitoring.SetDebug(*devMode || os.Getenv("LOOKOUT_DEBUG") != "")

	cfg, err := config.Load(*configPath)
	if err != nil {
		// A broken config must not leave the device dark. Run on defaults.
		log.Printf("failed to load config from %s, using defaults: %v", *configPath, err)
		cfg = config.Default()
	}

	if err := run(cfg); err != nil {
		if errors.Is(err, watch.ErrForceShutdown) {
			powerOff()
			return
		}
		log.Fatalf("controller failed: %v", err)
	}

	powerOff()
}

func run(cfg *config.Config) error {
	clock := timeutil.RealClock{}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	saveDir := cfg.GetSaveDirectory()
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return err
	}

	store, err := storage.Open(filepath.Join(saveDir, "sessions.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	shape := frame.Shape{
		Width:    cfg.GetFrameWidth(),
		Height:   cfg.GetFrameHeight(),
		Channels: 3,
	}
	ring, err := framebuf.New(cfg.GetFrameBufferSize(), shape)
	if err != nil {
		return err
	}

	sink := camera.NewVideoSink(float64(cfg.GetFramerate()), shape)
	writer := recorder.NewWriter(ring, sink, clock,
		recorder.WithListener(storage.NewLog(store)))
	writer.Start()

	proc := events.NewProcessor(cfg.GetForcedShutdownHold(), cfg.GetMotionDebounce(), clock)

	var out outputs
	gpioDev, err := hw.OpenGPIO(hw.DefaultPins, proc)
	if err != nil {
		if !*devMode {
			return err
		}
		monitoring.Logf("no GPIO hardware (%v), running with stub outputs", err)
		out = noopOutputs{}
	} else {
		defer gpioDev.Close()
		out = gpioDev
	}

	if cfg.GetMotionSource() == "radar" {
		radar, err := hw.OpenRadar(cfg.GetRadarPort(), cfg.GetRadarBaud(),
			cfg.GetRadarThreshold(), proc)
		if err != nil {
			return err
		}
		defer radar.Close()
		go func() {
			if err := radar.Monitor(ctx); err != nil {
				monitoring.Logf("radar monitor stopped: %v", err)
			}
		}()
	}

	cam := camera.OpenDevice(cfg.GetCameraIndex(), shape.Width, shape.Height)
	detector, err := camera.NewDetector(cfg.GetModelPath(), cfg.GetModelConfigPath(),
		cfg.GetModelLabels(), cam, clock)
	if err != nil {
		return err
	}

	gate := alarm.NewController(alarm.Config{
		Enabled:     cfg.GetEnableAlarm(),
		FrequencyHz: cfg.GetAlarmFrequencyHz(),
		Duration:    cfg.GetAlarmDuration(),
		Blocklist:   cfg.GetObjectBlocklist(),
		Allowlist:   cfg.GetObjectAllowlist(),
	}, out, clock)

	machine, err := watch.New(watch.Params{
		Clock:               clock,
		Camera:              cam,
		Annotator:           camera.Annotator{},
		Detections:          detector,
		Gate:                gate,
		Ring:                ring,
		Writer:              writer,
		Events:              proc,
		Outputs:             out,
		Framerate:           cfg.GetFramerate(),
		IdleTimeout:         cfg.GetIdleTimeout(),
		ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		ValidObjects:        cfg.GetValidObjects(),
		SaveDirectory:       saveDir,
	})
	if err != nil {
		return err
	}

	return machine.Run(ctx)
}

// powerOff halts the device. The controller is the only reason this device is
// powered, so a clean controller exit powers it down.
func powerOff() {
	if *devMode {
		monitoring.Logf("dev mode, skipping system shutdown")
		return
	}
	if err := exec.Command("sudo", "shutdown", "-h", "now").Run(); err != nil {
		log.Fatalf("failed to invoke system shutdown: %v", err)
	}
}
