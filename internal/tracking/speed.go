package tracking

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// displacement returns the like-edge pixel distance covered by rec.
func displacement(rec TrackRecord) int {
	d := rec.X - rec.PrevX
	if d < 0 {
		return -d
	}
	return d
}

// sampleSpeed converts the displacement of rec since prevTS into a calibrated speed.
// A non-zero Reason means the sample must not be recorded.
func sampleSpeed(rec TrackRecord, prevTS float64, th Thresholds, conv Conversion) (float64, Reason) {
	d := displacement(rec)
	if d <= th.XDiffMin {
		return 0, ReasonXShiftTooSmall
	}
	if d > th.XDiffMax {
		return 0, ReasonXShiftTooLarge
	}
	elapsed := math.Abs(rec.Timestamp - prevTS)
	if elapsed == 0 {
		return 0, ReasonDuplicateTimestamp
	}
	factor, ok := conv.For(rec.Direction)
	if !ok {
		return 0, ReasonDirectionUnknown
	}
	return float64(d) / elapsed * factor, ReasonNone
}

// finalize drops the first sample, measured while the object was still entering the
// frame, and returns the population mean and standard deviation of the rest.
func finalize(samples []float64) (mean, stddev float64) {
	if len(samples) < 2 {
		return 0, 0
	}
	return stat.PopMeanStdDev(samples[1:], nil)
}
