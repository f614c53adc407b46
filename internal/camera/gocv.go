// Package camera adapts a V4L2 camera, the video encoder and the neural
// detector to the controller's collaborator interfaces, using gocv.
package camera

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/lookout-data/lookout/internal/detect"
	"github.com/lookout-data/lookout/internal/frame"
	"github.com/lookout-data/lookout/internal/monitoring"
	"github.com/lookout-data/lookout/internal/timeutil"
)

// Device wraps a camera device. The stream is closed while paused so the
// sensor and its ISP can power down between sessions.
type Device struct {
	index  int
	width  int
	height int

	mu  sync.Mutex
	cap *gocv.VideoCapture
	buf gocv.Mat

	lastMu sync.Mutex
	last   frame.Frame
}

// OpenDevice prepares a camera device. The stream is not started until the
// first Resume.
func OpenDevice(index, width, height int) *Device {
	return &Device{
		index:  index,
		width:  width,
		height: height,
		buf:    gocv.NewMat(),
	}
}

// Resume opens the camera stream.
func (d *Device) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap != nil {
		return nil
	}
	cap, err := gocv.OpenVideoCapture(d.index)
	if err != nil {
		return fmt.Errorf("failed to open camera %d: %w", d.index, err)
	}
	cap.Set(gocv.VideoCaptureFrameWidth, float64(d.width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(d.height))
	d.cap = cap
	return nil
}

// Capture grabs the current frame. The returned frame owns its pixel buffer;
// it never aliases the device's working Mat.
func (d *Device) Capture() (frame.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return frame.Frame{}, fmt.Errorf("camera %d stream is not open", d.index)
	}
	if ok := d.cap.Read(&d.buf); !ok || d.buf.Empty() {
		return frame.Frame{}, fmt.Errorf("failed to read from camera %d", d.index)
	}

	// ToBytes copies out of the Mat, so the frame owns its pixels.
	f := frame.Frame{
		Pixels:   d.buf.ToBytes(),
		Width:    d.buf.Cols(),
		Height:   d.buf.Rows(),
		Channels: d.buf.Channels(),
	}

	d.lastMu.Lock()
	d.last = f.Clone()
	d.lastMu.Unlock()
	return f, nil
}

// LastFrame returns a copy of the most recently captured frame, or an empty
// frame if nothing has been captured yet. Safe to call from the detector
// goroutine.
func (d *Device) LastFrame() frame.Frame {
	d.lastMu.Lock()
	defer d.lastMu.Unlock()
	return d.last.Clone()
}

// Capturing reports whether the stream is open.
func (d *Device) Capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cap != nil
}

// Pause closes the camera stream, keeping the device handle for a later
// Resume.
func (d *Device) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cap == nil {
		return nil
	}
	err := d.cap.Close()
	d.cap = nil
	if err != nil {
		return fmt.Errorf("failed to close camera %d: %w", d.index, err)
	}
	return nil
}

// Close releases the camera and the working buffer.
func (d *Device) Close() error {
	err := d.Pause()
	d.mu.Lock()
	defer d.mu.Unlock()
	if cerr := d.buf.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

// Annotator draws detection boxes and labels onto frames.
type Annotator struct{}

var boxColor = color.RGBA{R: 0, G: 220, B: 0, A: 0}

// Annotate draws ds onto f in place. Box coordinates are normalized; frames
// that are not 3-channel BGR are passed through untouched.
func (Annotator) Annotate(f *frame.Frame, ds detect.Set) {
	if len(ds) == 0 || f.Channels != 3 {
		return
	}

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pixels)
	if err != nil {
		monitoring.Logf("failed to wrap frame for annotation: %v", err)
		return
	}
	defer mat.Close()

	w, h := float64(f.Width), float64(f.Height)
	for _, d := range ds {
		r := image.Rect(
			int(d.Box.XMin*w), int(d.Box.YMin*h),
			int(d.Box.XMax*w), int(d.Box.YMax*h),
		)
		if err := gocv.Rectangle(&mat, r, boxColor, 2); err != nil {
			monitoring.Logf("failed to draw box: %v", err)
			continue
		}
		label := fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100)
		pt := image.Pt(r.Min.X, r.Min.Y-5)
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, boxColor, 1); err != nil {
			monitoring.Logf("failed to draw label: %v", err)
		}
	}
	copy(f.Pixels, mat.ToBytes())
}

// VideoSink encodes frames into an MJPEG video file. It implements the
// persistence writer's sink boundary.
type VideoSink struct {
	fps    float64
	shape  frame.Shape
	writer *gocv.VideoWriter
}

// NewVideoSink creates a sink producing MJPEG files at the given frame rate.
func NewVideoSink(fps float64, shape frame.Shape) *VideoSink {
	return &VideoSink{fps: fps, shape: shape}
}

// Open creates a new output file at path.
func (s *VideoSink) Open(path string) error {
	w, err := gocv.VideoWriterFile(path, "MJPG", s.fps, s.shape.Width, s.shape.Height, s.shape.Channels == 3)
	if err != nil {
		return fmt.Errorf("failed to open video file %s: %w", path, err)
	}
	s.writer = w
	return nil
}

// WriteFrame appends one frame to the open file.
func (s *VideoSink) WriteFrame(f frame.Frame) error {
	if s.writer == nil {
		return fmt.Errorf("no open video file")
	}
	mt := gocv.MatTypeCV8UC3
	if f.Channels == 1 {
		mt = gocv.MatTypeCV8UC1
	}
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, f.Pixels)
	if err != nil {
		return fmt.Errorf("failed to wrap frame for encoding: %w", err)
	}
	defer mat.Close()
	return s.writer.Write(mat)
}

// Close finalizes and releases the open file.
func (s *VideoSink) Close() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}

// FrameProvider supplies the detector with the most recent camera frame.
type FrameProvider interface {
	LastFrame() frame.Frame
}

const detectorInterval = 500 * time.Millisecond

// Detector runs an SSD object detection network on its own goroutine at a
// fraction of the capture rate and publishes the latest result set. The main
// loop reads a snapshot each tick; detections lag the frame they are drawn
// onto by up to one detector interval.
type Detector struct {
	net      gocv.Net
	labels   []string
	frames   FrameProvider
	clock    timeutil.Clock
	interval time.Duration

	mu     sync.Mutex
	latest detect.Set

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewDetector loads the detection model and starts the inference goroutine.
// labels maps network class IDs to label strings.
func NewDetector(modelPath, configPath string, labels []string, frames FrameProvider, clock timeutil.Clock) (*Detector, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model %s", modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set network backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set network target: %w", err)
	}

	d := &Detector{
		net:      net,
		labels:   labels,
		frames:   frames,
		clock:    clock,
		interval: detectorInterval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d, nil
}

func (d *Detector) run() {
	defer close(d.done)
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C():
		}

		f := d.frames.LastFrame()
		if f.Empty() || f.Channels != 3 {
			continue
		}

		set, err := d.infer(f)
		if err != nil {
			monitoring.Logf("inference failed: %v", err)
			continue
		}

		d.mu.Lock()
		d.latest = set
		d.mu.Unlock()
	}
}

func (d *Detector) infer(f frame.Frame) (detect.Set, error) {
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// SSD output rows: [batch, classID, confidence, x1, y1, x2, y2].
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	var set detect.Set
	for i := 0; i < rows.Rows(); i++ {
		conf := float64(rows.GetFloatAt(i, 2))
		if conf <= 0 {
			continue
		}
		classID := int(rows.GetFloatAt(i, 1))
		if classID < 0 || classID >= len(d.labels) {
			continue
		}
		set = append(set, detect.Detection{
			Label:      d.labels[classID],
			Confidence: conf,
			Box: detect.Box{
				XMin: float64(rows.GetFloatAt(i, 3)),
				YMin: float64(rows.GetFloatAt(i, 4)),
				XMax: float64(rows.GetFloatAt(i, 5)),
				YMax: float64(rows.GetFloatAt(i, 6)),
			},
		})
	}
	return set, nil
}

// Latest returns the most recent detection set.
func (d *Detector) Latest() detect.Set {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest
}

// Close stops the inference goroutine and releases the network.
func (d *Detector) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.quit)
		<-d.done
		err = d.net.Close()
	})
	return err
}
