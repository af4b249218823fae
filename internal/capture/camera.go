// Package capture provides timestamped frame acquisition using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 22
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrEndOfStream is returned when a file source without looping is exhausted.
	ErrEndOfStream = errors.New("end of video stream")
)

// Frame is one captured image with its position in the stream. Timestamps are
// seconds and increase monotonically for a given camera.
type Frame struct {
	Image     gocv.Mat
	Timestamp float64
	Index     int64
}

// Close releases the frame image.
func (f *Frame) Close() error {
	if f == nil {
		return nil
	}
	return f.Image.Close()
}

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller owns it and must Close it.
	ReadFrame() (*Frame, error)
	SetFPS(fps float64)
	// FPS returns the measured frame rate once enough frames were read, otherwise
	// the nominal one.
	FPS() float64
	IsOpen() bool
}

// Options configures a VideoCamera.
type Options struct {
	// Source is a device index ("0"), a stream URL or a video file path.
	Source string
	Width  int
	Height int
	FPS    float64
	HFlip  bool
	VFlip  bool
	// Loop rewinds file sources at the end instead of returning ErrEndOfStream.
	Loop bool
}

// VideoCamera manages video capture from a device, stream or file using GoCV.
type VideoCamera struct {
	opts    Options
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     float64
	meter   *RateMeter

	isFile  bool
	started time.Time
	index   int64
	// offset carries file timestamps across loops.
	offset float64
	lastTS float64
}

// NewCamera creates a VideoCamera for the given options.
func NewCamera(opts Options) *VideoCamera {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	return &VideoCamera{
		opts:  opts,
		fps:   opts.FPS,
		meter: NewRateMeter(100),
	}
}

// sourceKind classifies a source string. Device indexes are plain integers and
// streams carry a URL scheme; anything else is a file path.
func sourceKind(src string) (device int, isDevice, isFile bool) {
	if n, err := strconv.Atoi(strings.TrimSpace(src)); err == nil {
		return n, true, false
	}
	if strings.Contains(src, "://") {
		return 0, false, false
	}
	return 0, false, true
}

// Open opens the source for capturing frames.
func (c *VideoCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	device, isDevice, isFile := sourceKind(c.opts.Source)
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if isDevice {
		capture, err = gocv.OpenVideoCapture(device)
	} else {
		capture, err = gocv.OpenVideoCapture(c.opts.Source)
	}
	if err != nil {
		return fmt.Errorf("open video source %q: %w", c.opts.Source, err)
	}

	if isDevice {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
		capture.Set(gocv.VideoCaptureFPS, c.fps)
	}
	if isFile {
		if fps := capture.Get(gocv.VideoCaptureFPS); fps > 0 {
			c.fps = fps
		}
	}

	c.capture = capture
	c.isFile = isFile
	c.running = true
	c.started = time.Now()
	c.index = 0
	c.offset = 0
	c.lastTS = 0
	c.meter.Reset()

	return nil
}

// Close closes the source and releases resources.
func (c *VideoCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame. The caller is responsible for closing it.
func (c *VideoCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		if !c.isFile {
			return nil, errors.New("failed to read frame from camera")
		}
		if !c.opts.Loop {
			return nil, ErrEndOfStream
		}
		// Rewind and continue the timeline after the last frame.
		c.offset = c.lastTS + 1/c.fps
		c.capture.Set(gocv.VideoCapturePosFrames, 0)
		mat = gocv.NewMat()
		if ok := c.capture.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			return nil, ErrEndOfStream
		}
	}

	if err := c.flip(&mat); err != nil {
		mat.Close()
		return nil, err
	}

	var ts float64
	if c.isFile {
		ts = c.offset + c.capture.Get(gocv.VideoCapturePosMsec)/1000
	} else {
		ts = time.Since(c.started).Seconds()
	}
	if ts <= c.lastTS && c.index > 0 {
		// Some containers report a zero position; fall back to the nominal rate.
		ts = c.lastTS + 1/c.fps
	}
	c.lastTS = ts
	c.index++
	c.meter.Tick(ts)

	return &Frame{Image: mat, Timestamp: ts, Index: c.index}, nil
}

func (c *VideoCamera) flip(mat *gocv.Mat) error {
	var code int
	switch {
	case c.opts.HFlip && c.opts.VFlip:
		code = -1
	case c.opts.HFlip:
		code = 1
	case c.opts.VFlip:
		code = 0
	default:
		return nil
	}
	flipped := gocv.NewMat()
	gocv.Flip(*mat, &flipped, code)
	if flipped.Empty() {
		flipped.Close()
		return errors.New("flip produced an empty frame")
	}
	mat.Close()
	*mat = flipped
	return nil
}

// SetFPS sets the nominal frames per second.
// Values less than or equal to 0 are ignored.
func (c *VideoCamera) SetFPS(fps float64) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil && !c.isFile {
		c.capture.Set(gocv.VideoCaptureFPS, fps)
	}
}

// FPS returns the measured rate when available, else the nominal rate.
func (c *VideoCamera) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rate, ok := c.meter.Rate(); ok {
		return rate
	}
	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *VideoCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// IsLive reports whether the source is a device or stream rather than a file.
// Live sources run in real time, so a slow consumer should drop frames.
func (c *VideoCamera) IsLive() bool {
	_, _, isFile := sourceKind(c.opts.Source)
	return !isFile
}
