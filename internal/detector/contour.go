package detector

import (
	"errors"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/speedcam/internal/tracking"
)

// ErrEmptyCrop is returned when the field of view does not overlap the frame.
var ErrEmptyCrop = errors.New("field of view is outside the frame")

// ContourDetector finds moving objects by differencing consecutive grayscale crops
// of the field of view and extracting the external contours of the edges.
type ContourDetector struct {
	cfg         Config
	prevGray    gocv.Mat
	initialized bool
	mu          sync.Mutex
}

// NewContourDetector creates a ContourDetector. Zero thresholds take the defaults.
func NewContourDetector(cfg Config) *ContourDetector {
	def := DefaultConfig(cfg.FieldOfView)
	if cfg.CannyLow <= 0 {
		cfg.CannyLow = def.CannyLow
	}
	if cfg.CannyHigh <= 0 {
		cfg.CannyHigh = def.CannyHigh
	}
	if cfg.BlockSize < 3 || cfg.BlockSize%2 == 0 {
		cfg.BlockSize = def.BlockSize
	}
	if cfg.C == 0 {
		cfg.C = def.C
	}
	return &ContourDetector{
		cfg:      cfg,
		prevGray: gocv.NewMat(),
	}
}

// crop returns the field of view clipped to the frame bounds.
func (d *ContourDetector) crop(frame *gocv.Mat) image.Rectangle {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	if d.cfg.FieldOfView.Empty() {
		return bounds
	}
	return d.cfg.FieldOfView.Intersect(bounds)
}

// Detect compares the frame with the previous one and returns one region per
// external contour.
//
// Algorithm:
// 1. Crop the frame to the field of view and convert to grayscale
// 2. If first frame, store as baseline and return no regions
// 3. Absolute difference with the previous crop
// 4. Canny edges of the difference
// 5. Inverted Gaussian adaptive threshold, so the border is not a contour
// 6. External contours, each reported with its area and bounding box
func (d *ContourDetector) Detect(frame *gocv.Mat) ([]tracking.Region, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return nil, nil
	}

	rect := d.crop(frame)
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}

	roi := frame.Region(rect)
	defer roi.Close()

	gray := gocv.NewMat()
	if roi.Channels() > 1 {
		gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
	} else {
		roi.CopyTo(&gray)
	}

	// A new baseline is needed on the first frame or when the crop size changed.
	if !d.initialized || d.prevGray.Rows() != gray.Rows() || d.prevGray.Cols() != gray.Cols() {
		d.prevGray.Close()
		d.prevGray = gray
		d.initialized = true
		return nil, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(d.prevGray, gray, &diff)

	// Update previous frame
	d.prevGray.Close()
	d.prevGray = gray

	edged := gocv.NewMat()
	defer edged.Close()
	gocv.Canny(diff, &edged, d.cfg.CannyLow, d.cfg.CannyHigh)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.AdaptiveThreshold(edged, &thresh, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, d.cfg.BlockSize, d.cfg.C)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]tracking.Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		box := gocv.BoundingRect(contour)
		regions = append(regions, tracking.NewRegionFromRect(box, int(area)))
	}
	return regions, nil
}

// Reset clears the detector state, allowing it to be reused
// with a new baseline frame.
func (d *ContourDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prevGray.Close()
	d.prevGray = gocv.NewMat()
	d.initialized = false
}

// Close releases resources used by the detector.
func (d *ContourDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.initialized = false
	return d.prevGray.Close()
}

// SetFieldOfView changes the crop rectangle. The next frame becomes the baseline.
func (d *ContourDetector) SetFieldOfView(fov image.Rectangle) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cfg.FieldOfView = fov
	d.initialized = false
}

// FieldOfView returns the configured crop rectangle.
func (d *ContourDetector) FieldOfView() image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cfg.FieldOfView
}
