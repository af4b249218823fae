package tracking

import (
	"errors"
	"fmt"

	"github.com/ayusman/speedcam/internal/units"
)

// Thresholds are the numeric gates of the engine. They are fixed for a session.
type Thresholds struct {
	// MinArea is the contour area a region must exceed, in px².
	MinArea int
	// XDiffMin and XDiffMax bound the accepted horizontal movement between samples.
	XDiffMin int
	XDiffMax int
	// YDiffMax bounds the accepted vertical centroid movement.
	YDiffMax int
	// TrackCounter is the number of speed samples that completes a track.
	TrackCounter int
	// TrackTimeout is the post-completion cooldown in seconds.
	TrackTimeout float64
	// MaxSpeedOver and MaxSpeedCount bound the speeds that trigger a capture.
	MaxSpeedOver  float64
	MaxSpeedCount float64
	// ZoneWidth is the width of the tracked field of view. Zero disables the
	// far-edge clamp for left-to-right tracks.
	ZoneWidth int
	// EventTimeout abandons tracks with no new record for that many seconds.
	// Zero disables it.
	EventTimeout float64
}

// DefaultThresholds returns the thresholds used when no configuration is given.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinArea:       1000,
		XDiffMin:      1,
		XDiffMax:      40,
		YDiffMax:      10,
		TrackCounter:  10,
		TrackTimeout:  1,
		MaxSpeedOver:  8,
		MaxSpeedCount: 65,
		ZoneWidth:     210,
	}
}

// Validate reports the first inconsistent threshold.
func (t Thresholds) Validate() error {
	switch {
	case t.MinArea < 0:
		return fmt.Errorf("min_area must be non-negative, got %d", t.MinArea)
	case t.XDiffMin < 0:
		return fmt.Errorf("x_diff_min must be non-negative, got %d", t.XDiffMin)
	case t.XDiffMax <= t.XDiffMin:
		return fmt.Errorf("x_diff_max (%d) must be greater than x_diff_min (%d)", t.XDiffMax, t.XDiffMin)
	case t.YDiffMax < 0:
		return fmt.Errorf("y_diff_max must be non-negative, got %d", t.YDiffMax)
	case t.TrackCounter < 2:
		return fmt.Errorf("track_counter must be at least 2, got %d", t.TrackCounter)
	case t.TrackTimeout < 0:
		return fmt.Errorf("track_timeout must be non-negative, got %f", t.TrackTimeout)
	case t.MaxSpeedCount <= t.MaxSpeedOver:
		return fmt.Errorf("max_speed_count (%f) must be greater than max_speed_over (%f)", t.MaxSpeedCount, t.MaxSpeedOver)
	case t.ZoneWidth < 0:
		return fmt.Errorf("zone_width must be non-negative, got %d", t.ZoneWidth)
	case t.EventTimeout < 0:
		return fmt.Errorf("event_timeout must be non-negative, got %f", t.EventTimeout)
	}
	return nil
}

// ValidateRegion accepts a region iff its area exceeds minArea.
func ValidateRegion(r Region, minArea int) Reason {
	if r.Area > minArea {
		return ReasonNone
	}
	return ReasonAreaTooSmall
}

// Calibration holds the reference object measurements for each direction.
type Calibration struct {
	PxL2R float64
	MmL2R float64
	PxR2L float64
	MmR2L float64
	Units units.Unit
}

// Conversion holds the per-direction factors turning px/s into the reporting unit.
type Conversion struct {
	L2R float64
	R2L float64
}

// For returns the factor for dir. Unknown has no factor.
func (c Conversion) For(dir Direction) (float64, bool) {
	switch dir {
	case LeftToRight:
		return c.L2R, true
	case RightToLeft:
		return c.R2L, true
	case Unknown:
		return 0, false
	default:
		return 0, false
	}
}

var errZeroPixels = errors.New("calibration pixel length must be positive")

// Conversion derives the speed factors: mm per px scaled to the reporting unit.
func (c Calibration) Conversion() (Conversion, error) {
	if c.PxL2R <= 0 || c.PxR2L <= 0 {
		return Conversion{}, errZeroPixels
	}
	if c.MmL2R <= 0 || c.MmR2L <= 0 {
		return Conversion{}, errors.New("calibration object length must be positive")
	}
	if !units.IsValid(string(c.Units)) {
		return Conversion{}, fmt.Errorf("invalid speed unit %q", c.Units)
	}
	return Conversion{
		L2R: c.Units.FromMMPerSecond(c.MmL2R / c.PxL2R),
		R2L: c.Units.FromMMPerSecond(c.MmR2L / c.PxR2L),
	}, nil
}

// Reference returns the calibration object size used for dir.
func (c Calibration) Reference(dir Direction) (px, mm float64) {
	if dir == RightToLeft {
		return c.PxR2L, c.MmR2L
	}
	return c.PxL2R, c.MmL2R
}
