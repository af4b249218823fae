package tracking

import "image"

// ResolveDirection classifies a candidate centroid against the track's oldest record,
// giving the net direction from the track origin. An equal x is Unknown.
func ResolveDirection(t *Track, c image.Point) Direction {
	if t == nil || t.Len() == 0 {
		return Unknown
	}
	return compareX(c.X, t.First().Centroid.X)
}

// CheckDirection validates a candidate against the track's most recent record. A track
// with a single record accepts any bearing. Otherwise both the instantaneous direction
// from the last centroid and the net direction from the origin must equal the last
// record's direction.
func CheckDirection(t *Track, c image.Point) bool {
	if t == nil {
		return false
	}
	if t.Len() <= 1 {
		return true
	}
	last := t.Last()
	if last.Direction == Unknown {
		return true
	}
	if compareX(c.X, last.Centroid.X) != last.Direction {
		return false
	}
	return ResolveDirection(t, c) == last.Direction
}

func compareX(x, ref int) Direction {
	switch {
	case x > ref:
		return LeftToRight
	case x < ref:
		return RightToLeft
	default:
		return Unknown
	}
}
