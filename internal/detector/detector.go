// Package detector turns video frames into motion regions for the tracking engine.
package detector

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/speedcam/internal/tracking"
)

// Detector defines the interface for motion region detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns the motion regions found inside the
	// field of view, in field-of-view coordinates. Returns an empty slice if there
	// is no motion.
	Detect(frame *gocv.Mat) ([]tracking.Region, error)

	// Reset forgets any state carried between frames, such as the previous image.
	Reset()

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for motion detection.
type Config struct {
	// FieldOfView is the crop rectangle in frame coordinates. An empty rectangle
	// uses the whole frame.
	FieldOfView image.Rectangle

	// CannyLow and CannyHigh are the hysteresis thresholds of the edge detector.
	CannyLow  float32
	CannyHigh float32

	// BlockSize and C parameterise the Gaussian adaptive threshold.
	BlockSize int
	C         float32
}

// DefaultConfig returns a Config with the standard edge and threshold values.
func DefaultConfig(fov image.Rectangle) Config {
	return Config{
		FieldOfView: fov,
		CannyLow:    100,
		CannyHigh:   200,
		BlockSize:   11,
		C:           2,
	}
}
