package tracking

import (
	"errors"
	"fmt"
	"math"
)

// OrphanPolicy selects which unmatched regions of a frame spawn new tracks.
type OrphanPolicy uint8

const (
	// OrphanLatest spawns a track for the most recently queued orphan only.
	OrphanLatest OrphanPolicy = iota
	// OrphanAll spawns one track per orphan.
	OrphanAll
)

// ParseOrphanPolicy parses "latest" or "all".
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch s {
	case "", "latest":
		return OrphanLatest, nil
	case "all":
		return OrphanAll, nil
	default:
		return OrphanLatest, fmt.Errorf("invalid orphan policy %q", s)
	}
}

// CompletionEvent is emitted once per completed track.
type CompletionEvent struct {
	TrackID         uint64        `json:"track_id"`
	Timestamp       float64       `json:"timestamp"`
	Direction       Direction     `json:"direction"`
	FinalSpeed      float64       `json:"final_speed"`
	FinalStdDev     float64       `json:"final_stddev"`
	History         []TrackRecord `json:"history"`
	SpeedSamples    []float64     `json:"speed_samples"`
	TotalDistancePx int           `json:"total_distance_px"`
	TotalTimeS      float64       `json:"total_time_s"`
	GatedForCapture bool          `json:"gated_for_capture"`
}

// Last returns the final record of the completed track.
func (ev CompletionEvent) Last() TrackRecord {
	return ev.History[len(ev.History)-1]
}

// FrameResult is the per-frame telemetry of Engine.Process.
type FrameResult struct {
	Timestamp float64 `json:"timestamp"`
	// Regions is the number of candidates given, Valid those above the minimum area.
	Regions  int `json:"regions"`
	Valid    int `json:"valid"`
	Attached int `json:"attached"`
	// Rejections counts per-region, per-track outcomes that did not attach a record.
	Rejections        map[Reason]int    `json:"rejections"`
	Spawned           int               `json:"spawned"`
	Abandoned         int               `json:"abandoned"`
	Cleared           int               `json:"cleared"`
	Skipped           bool              `json:"skipped"`
	ActiveTracks      int               `json:"active_tracks"`
	CooldownRemaining int               `json:"cooldown_remaining"`
	Completed         []CompletionEvent `json:"completed,omitempty"`
}

func (r *FrameResult) reject(reason Reason) {
	r.Rejections[reason]++
}

// Option configures an Engine.
type Option func(*Engine)

// WithOrphanPolicy sets the orphan spawning policy. The default is OrphanLatest.
func WithOrphanPolicy(p OrphanPolicy) Option {
	return func(e *Engine) { e.orphans = p }
}

// WithStreamFPS sets the frame rate used to size the post-completion cooldown.
func WithStreamFPS(fps float64) Option {
	return func(e *Engine) { e.fps = fps }
}

// Engine owns the active track set. It is not safe for concurrent use; a single
// caller feeds it frames in timestamp order.
type Engine struct {
	th      Thresholds
	conv    Conversion
	orphans OrphanPolicy
	fps     float64

	tracks   []*Track
	nextID   uint64
	cooldown int
}

// NewEngine validates the thresholds and conversion and returns an idle engine.
func NewEngine(th Thresholds, conv Conversion, opts ...Option) (*Engine, error) {
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if conv.L2R <= 0 || conv.R2L <= 0 {
		return nil, errors.New("speed conversion factors must be positive")
	}
	e := &Engine{th: th, conv: conv}
	for _, opt := range opts {
		opt(e)
	}
	if e.fps < 0 {
		return nil, fmt.Errorf("stream fps must be non-negative, got %f", e.fps)
	}
	return e, nil
}

// Thresholds returns the engine thresholds.
func (e *Engine) Thresholds() Thresholds { return e.th }

// Conversion returns the speed conversion factors.
func (e *Engine) Conversion() Conversion { return e.conv }

// SetStreamFPS updates the observed frame rate. It affects cooldowns started afterwards.
func (e *Engine) SetStreamFPS(fps float64) {
	if fps >= 0 {
		e.fps = fps
	}
}

func (e *Engine) StreamFPS() float64 { return e.fps }

// Cooldown returns the number of frames still to be skipped.
func (e *Engine) Cooldown() int { return e.cooldown }

// Tracks returns a view of the live tracks.
func (e *Engine) Tracks() []TrackInfo {
	out := make([]TrackInfo, 0, len(e.tracks))
	for _, t := range e.tracks {
		out = append(out, t.info())
	}
	return out
}

// Reset drops every track and any pending cooldown.
func (e *Engine) Reset() {
	for _, t := range e.tracks {
		t.abandon()
	}
	e.tracks = nil
	e.cooldown = 0
}

// cooldownFrames is ceil(TrackTimeout * fps), tolerant of float rounding.
func (e *Engine) cooldownFrames() int {
	n := e.th.TrackTimeout * e.fps
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(n - 1e-9))
}

// outcome is the result of offering a gated region to one track.
type outcome uint8

const (
	// outcomeRejected lets the region try the next track.
	outcomeRejected outcome = iota
	outcomeAttached
	// outcomeIgnored consumed the region without changing the track.
	outcomeIgnored
	outcomeRestarted
	outcomeCompleted
)

// Process runs one frame through validation, association and the lifecycle rules.
func (e *Engine) Process(ts float64, regions []Region) (res FrameResult) {
	res = FrameResult{
		Timestamp:  ts,
		Regions:    len(regions),
		Rejections: make(map[Reason]int),
	}
	defer func() {
		res.ActiveTracks = len(e.tracks)
		res.CooldownRemaining = e.cooldown
	}()

	if e.cooldown > 0 {
		e.cooldown--
		res.Skipped = true
		if len(regions) > 0 {
			res.Rejections[ReasonCooldown] += len(regions)
		}
		return res
	}

	e.expire(ts, &res)

	valid := make([]Region, 0, len(regions))
	for _, r := range regions {
		if reason := ValidateRegion(r, e.th.MinArea); reason != ReasonNone {
			res.reject(reason)
			continue
		}
		valid = append(valid, r)
	}
	res.Valid = len(valid)

	if len(valid) == 0 {
		e.clear(&res)
		return res
	}

	if len(e.tracks) == 0 {
		e.spawnOrphans(valid, ts, &res)
		return res
	}

	live := make([]*Track, len(e.tracks))
	copy(live, e.tracks)

	var orphans []Region
	matchedAny := false
	completed := false

	for _, r := range valid {
		matched, farFromSome := false, false
		for _, t := range live {
			if t.terminal() {
				continue
			}
			reason := e.gate(t, r)
			switch reason {
			case ReasonXShiftTooSmall:
				res.reject(reason)
				matched = true
			case ReasonXShiftTooLarge, ReasonYShiftTooLarge, ReasonOutOfRange:
				res.reject(reason)
				farFromSome = true
			case ReasonNone:
				switch e.associate(t, r, ts, &res) {
				case outcomeRejected:
					continue
				case outcomeCompleted:
					completed = true
				case outcomeAttached, outcomeIgnored, outcomeRestarted:
				}
				matched = true
			default:
				res.reject(reason)
			}
			if matched && reason == ReasonNone {
				break
			}
		}
		if matched {
			matchedAny = true
		} else if farFromSome {
			orphans = append(orphans, r)
		}
		if completed {
			break
		}
	}

	e.prune()

	if completed {
		return res
	}
	if !matchedAny {
		e.clear(&res)
	}
	e.spawnOrphans(orphans, ts, &res)
	return res
}

// gate checks the centroid distance between a region and a track's newest record.
func (e *Engine) gate(t *Track, r Region) Reason {
	if t == nil || t.Len() == 0 {
		return ReasonOutOfRange
	}
	last := t.Last().Centroid
	dx := abs(r.Centroid.X - last.X)
	dy := abs(r.Centroid.Y - last.Y)
	switch {
	case dx < e.th.XDiffMin:
		return ReasonXShiftTooSmall
	case dx > e.th.XDiffMax:
		return ReasonXShiftTooLarge
	case dy > e.th.YDiffMax:
		return ReasonYShiftTooLarge
	}
	return ReasonNone
}

// associate offers a gated region to t and applies the lifecycle rules to the result.
func (e *Engine) associate(t *Track, r Region, ts float64, res *FrameResult) outcome {
	dir := ResolveDirection(t, r.Centroid)
	if dir == Unknown {
		res.reject(ReasonDirectionUnknown)
		return outcomeRejected
	}
	if !CheckDirection(t, r.Centroid) {
		res.reject(ReasonDirectionMismatch)
		return outcomeRejected
	}
	if !t.Active() {
		res.reject(ReasonTrackInactive)
		return outcomeRejected
	}
	if e.atEdge(r, dir) {
		res.reject(ReasonEdgeReached)
		return outcomeRejected
	}

	last := t.Last()
	if ts == last.Timestamp {
		res.reject(ReasonDuplicateTimestamp)
		return outcomeIgnored
	}
	rec := newRecord(r, dir, ts)
	rec.PrevX = referenceX(last.Left, last.Width, dir)

	speed, reason := sampleSpeed(rec, last.Timestamp, e.th, e.conv)
	switch reason {
	case ReasonNone:
		t.append(rec, speed)
		res.Attached++
		if len(t.speedSamples) >= e.th.TrackCounter {
			res.Completed = append(res.Completed, e.complete(t, ts))
			return outcomeCompleted
		}
		return outcomeAttached
	case ReasonXShiftTooLarge:
		res.reject(reason)
		if float64(len(t.speedSamples)) < float64(e.th.TrackCounter)/2 {
			e.restart(t, r, ts, res)
			return outcomeRestarted
		}
		res.reject(ReasonHeld)
		return outcomeIgnored
	case ReasonXShiftTooSmall:
		res.reject(reason)
		if t.State() == StatePending {
			e.restart(t, r, ts, res)
			return outcomeRestarted
		}
		return outcomeIgnored
	default:
		res.reject(reason)
		return outcomeIgnored
	}
}

// atEdge reports whether accepting r would carry the reference edge out of the zone.
func (e *Engine) atEdge(r Region, dir Direction) bool {
	switch dir {
	case LeftToRight:
		return e.th.ZoneWidth > 0 && r.X+r.Width >= e.th.ZoneWidth
	case RightToLeft:
		return r.X <= 0
	case Unknown:
		return false
	default:
		return false
	}
}

func (e *Engine) complete(t *Track, ts float64) CompletionEvent {
	speed, stddev := finalize(t.speedSamples)
	t.complete(speed, stddev)
	e.cooldown = e.cooldownFrames()

	first, last := t.First(), t.Last()
	return CompletionEvent{
		TrackID:         t.ID,
		Timestamp:       ts,
		Direction:       last.Direction,
		FinalSpeed:      speed,
		FinalStdDev:     stddev,
		History:         t.History(),
		SpeedSamples:    t.SpeedSamples(),
		TotalDistancePx: abs(last.X - referenceX(first.Left, first.Width, last.Direction)),
		TotalTimeS:      math.Abs(last.Timestamp - first.Timestamp),
		GatedForCapture: e.th.MaxSpeedOver < speed && speed < e.th.MaxSpeedCount,
	}
}

// restart abandons t and starts a new track anchored at r.
func (e *Engine) restart(t *Track, r Region, ts float64, res *FrameResult) {
	t.abandon()
	res.Abandoned++
	e.spawn(r, ts, res)
}

func (e *Engine) spawn(r Region, ts float64, res *FrameResult) {
	e.nextID++
	e.tracks = append(e.tracks, newTrack(e.nextID, r, ts))
	res.Spawned++
}

func (e *Engine) spawnOrphans(orphans []Region, ts float64, res *FrameResult) {
	if len(orphans) == 0 {
		return
	}
	switch e.orphans {
	case OrphanAll:
		for _, r := range orphans {
			e.spawn(r, ts, res)
		}
	case OrphanLatest:
		e.spawn(orphans[len(orphans)-1], ts, res)
	default:
		e.spawn(orphans[len(orphans)-1], ts, res)
	}
}

// expire abandons tracks whose newest record is older than EventTimeout.
func (e *Engine) expire(ts float64, res *FrameResult) {
	if e.th.EventTimeout <= 0 {
		return
	}
	for _, t := range e.tracks {
		if ts-t.Last().Timestamp > e.th.EventTimeout {
			t.abandon()
			res.Abandoned++
		}
	}
	e.prune()
}

// clear removes every track from the set.
func (e *Engine) clear(res *FrameResult) {
	for _, t := range e.tracks {
		t.abandon()
	}
	res.Cleared += len(e.tracks)
	e.tracks = nil
}

// prune drops terminal tracks from the set.
func (e *Engine) prune() {
	kept := e.tracks[:0]
	for _, t := range e.tracks {
		if !t.terminal() {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(e.tracks); i++ {
		e.tracks[i] = nil
	}
	e.tracks = kept
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
