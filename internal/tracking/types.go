// Package tracking implements the speed estimation engine: it associates the motion
// regions of each frame with in-progress tracks, resolves their direction of travel,
// accumulates calibrated speed samples and decides when a track is complete.
//
// The engine is synchronous and single-threaded. It performs no I/O; callers feed it
// one frame at a time and consume the FrameResult it returns.
package tracking

import (
	"fmt"
	"image"
)

// Direction is the net travel orientation of a track.
type Direction uint8

const (
	// Unknown is the direction of a track's first record, and of a candidate whose
	// x position equals the track origin.
	Unknown Direction = iota
	// LeftToRight is travel towards increasing x.
	LeftToRight
	// RightToLeft is travel towards decreasing x.
	RightToLeft
)

// String returns the short form used in logs, CSV lines and the database.
func (d Direction) String() string {
	switch d {
	case LeftToRight:
		return "L2R"
	case RightToLeft:
		return "R2L"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// MarshalText encodes the direction as its short form.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts the forms written by MarshalText.
func (d *Direction) UnmarshalText(b []byte) error {
	if string(b) == "unknown" {
		*d = Unknown
		return nil
	}
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection parses "L2R" or "R2L".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "L2R":
		return LeftToRight, nil
	case "R2L":
		return RightToLeft, nil
	default:
		return Unknown, fmt.Errorf("invalid direction %q", s)
	}
}

// Region is one motion candidate within a frame, in field-of-view coordinates.
type Region struct {
	X, Y          int
	Width, Height int
	Area          int
	Centroid      image.Point
}

// NewRegion builds a Region from a bounding box and contour area.
func NewRegion(x, y, w, h, area int) Region {
	return Region{
		X:        x,
		Y:        y,
		Width:    w,
		Height:   h,
		Area:     area,
		Centroid: image.Pt(x+w/2, y+h/2),
	}
}

// NewRegionFromRect builds a Region from an image.Rectangle and contour area.
func NewRegionFromRect(r image.Rectangle, area int) Region {
	return NewRegion(r.Min.X, r.Min.Y, r.Dx(), r.Dy(), area)
}

// TrackRecord is one accepted position sample of a track. Records are immutable once
// appended.
type TrackRecord struct {
	// X is the tracked reference point: the right edge for LeftToRight records and
	// the left edge otherwise.
	X int `json:"x"`
	Y int `json:"y"`
	// Left is the raw left edge of the bounding box.
	Left      int         `json:"left"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Centroid  image.Point `json:"centroid"`
	Direction Direction   `json:"direction"`
	Area      int         `json:"area"`
	Timestamp float64     `json:"timestamp"`
	// PrevX is the previous record's reference point for this record's direction.
	PrevX int `json:"prev_x"`
}

// newRecord builds a record for region r travelling in direction dir.
func newRecord(r Region, dir Direction, ts float64) TrackRecord {
	rec := TrackRecord{
		X:         referenceX(r.X, r.Width, dir),
		Y:         r.Y,
		Left:      r.X,
		Width:     r.Width,
		Height:    r.Height,
		Centroid:  r.Centroid,
		Direction: dir,
		Area:      r.Area,
		Timestamp: ts,
	}
	rec.PrevX = rec.X
	return rec
}

// referenceX returns the tracked edge of a box. A box touching the left border has its
// left edge off-frame, so its right edge is used whatever the direction.
func referenceX(left, width int, dir Direction) int {
	if left == 0 {
		return left + width
	}
	switch dir {
	case LeftToRight:
		return left + width
	case RightToLeft, Unknown:
		return left
	default:
		return left
	}
}

// Reason classifies why a region was not attached to a track. ReasonNone means the
// region was accepted.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonAreaTooSmall
	ReasonXShiftTooSmall
	ReasonXShiftTooLarge
	ReasonYShiftTooLarge
	ReasonOutOfRange
	ReasonDirectionUnknown
	ReasonDirectionMismatch
	ReasonEdgeReached
	ReasonTrackInactive
	ReasonDuplicateTimestamp
	ReasonHeld
	ReasonCooldown
)

var reasonNames = [...]string{
	ReasonNone:               "none",
	ReasonAreaTooSmall:       "area_too_small",
	ReasonXShiftTooSmall:     "x_shift_too_small",
	ReasonXShiftTooLarge:     "x_shift_too_large",
	ReasonYShiftTooLarge:     "y_shift_too_large",
	ReasonOutOfRange:         "out_of_range",
	ReasonDirectionUnknown:   "direction_unknown",
	ReasonDirectionMismatch:  "direction_mismatch",
	ReasonEdgeReached:        "edge_reached",
	ReasonTrackInactive:      "track_inactive",
	ReasonDuplicateTimestamp: "duplicate_timestamp",
	ReasonHeld:               "held",
	ReasonCooldown:           "cooldown",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// MarshalText encodes the reason name, so rejection maps serialise with readable keys.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
