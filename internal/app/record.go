package app

import (
	"time"

	"github.com/ayusman/speedcam/internal/store"
	"github.com/ayusman/speedcam/internal/tracking"
)

// record builds the stored form of a completed track. Box coordinates are in
// frame space.
func (a *App) record(ev tracking.CompletionEvent, imagePath string, now time.Time, frameW, frameH int) *store.SpeedRecord {
	s := a.settings
	last := ev.Last()
	fov := s.FieldOfView()
	px, mm := a.calib.Reference(ev.Direction)

	return &store.SpeedRecord{
		LogTimestamp: now,
		Camera:       s.Camera.GetSource(),
		AveSpeed:     round2(ev.FinalSpeed),
		StdDev:       round2(ev.FinalStdDev),
		SpeedUnits:   s.Motion.GetSpeedUnits(),
		ImagePath:    imagePath,
		ImageW:       int(float64(frameW) * s.Image.GetBigger()),
		ImageH:       int(float64(frameH) * s.Image.GetBigger()),
		ImageBigger:  s.Image.GetBigger(),
		Direction:    ev.Direction.String(),
		OverlayName:  s.GetName(),
		CX:           last.Centroid.X + fov.Min.X,
		CY:           last.Centroid.Y + fov.Min.Y,
		MW:           last.Width,
		MH:           last.Height,
		MArea:        last.Area,
		XLeft:        fov.Min.X,
		XRight:       fov.Max.X,
		YUpper:       fov.Min.Y,
		YLower:       fov.Max.Y,
		MaxSpeedOver: s.Motion.GetMaxSpeedOver(),
		MinArea:      s.Motion.GetMinArea(),
		TrackCounter: s.Motion.GetTrackCounter(),
		CalObjPx:     int(px),
		CalObjMM:     int(mm),
		Location:     s.Camera.GetLocation(),
		TrackID:      ev.TrackID,
		Samples:      len(ev.SpeedSamples),
		DistancePx:   ev.TotalDistancePx,
		DurationS:    round2(ev.TotalTimeS),
	}
}

func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
