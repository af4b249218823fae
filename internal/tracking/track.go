package tracking

import "fmt"

// State is the lifecycle state of a Track.
type State uint8

const (
	// StatePending holds a single record and no speed sample.
	StatePending State = iota
	// StateAccumulating has at least one speed sample but fewer than TrackCounter.
	StateAccumulating
	// StateComplete is terminal: final statistics are set.
	StateComplete
	// StateAbandoned is terminal: the track was restarted, timed out or cleared.
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAccumulating:
		return "accumulating"
	case StateComplete:
		return "complete"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for v := StatePending; v <= StateAbandoned; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("invalid track state %q", b)
}

// Track is one candidate object under observation. Its history is append-only.
type Track struct {
	ID uint64

	history      []TrackRecord
	speedSamples []float64
	active       bool
	finalSpeed   float64
	finalStdDev  float64
	state        State
}

func newTrack(id uint64, r Region, ts float64) *Track {
	return &Track{
		ID:      id,
		history: []TrackRecord{newRecord(r, Unknown, ts)},
		active:  true,
		state:   StatePending,
	}
}

// Len returns the number of records.
func (t *Track) Len() int { return len(t.history) }

// First returns the oldest record.
func (t *Track) First() TrackRecord { return t.history[0] }

// Last returns the most recent record.
func (t *Track) Last() TrackRecord { return t.history[len(t.history)-1] }

// History returns a copy of the records, oldest first.
func (t *Track) History() []TrackRecord {
	out := make([]TrackRecord, len(t.history))
	copy(out, t.history)
	return out
}

// SpeedSamples returns a copy of the per-step speeds.
func (t *Track) SpeedSamples() []float64 {
	out := make([]float64, len(t.speedSamples))
	copy(out, t.speedSamples)
	return out
}

// Active reports whether the track may still accept records.
func (t *Track) Active() bool { return t.active }

func (t *Track) State() State { return t.state }

func (t *Track) FinalSpeed() float64 { return t.finalSpeed }

func (t *Track) FinalStdDev() float64 { return t.finalStdDev }

// Direction returns the direction of the newest record.
func (t *Track) Direction() Direction { return t.Last().Direction }

func (t *Track) terminal() bool {
	return t.state == StateComplete || t.state == StateAbandoned
}

// append adds an accepted record together with the speed measured for it.
func (t *Track) append(rec TrackRecord, speed float64) {
	t.history = append(t.history, rec)
	t.speedSamples = append(t.speedSamples, speed)
	t.state = StateAccumulating
}

func (t *Track) abandon() {
	t.active = false
	t.state = StateAbandoned
}

func (t *Track) complete(speed, stddev float64) {
	t.finalSpeed = speed
	t.finalStdDev = stddev
	t.active = false
	t.state = StateComplete
}

// TrackInfo is a read-only view of a live track for telemetry.
type TrackInfo struct {
	ID        uint64    `json:"id"`
	State     State     `json:"state"`
	Direction Direction `json:"direction"`
	Records   int       `json:"records"`
	Samples   int       `json:"samples"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	// RunningSpeed is the mean of the samples collected so far.
	RunningSpeed float64 `json:"running_speed"`
}

func (t *Track) info() TrackInfo {
	last := t.Last()
	info := TrackInfo{
		ID:        t.ID,
		State:     t.state,
		Direction: last.Direction,
		Records:   len(t.history),
		Samples:   len(t.speedSamples),
		X:         last.X,
		Y:         last.Y,
	}
	if n := len(t.speedSamples); n > 0 {
		var sum float64
		for _, s := range t.speedSamples {
			sum += s
		}
		info.RunningSpeed = sum / float64(n)
	}
	return info
}
