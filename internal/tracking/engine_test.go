package tracking

import (
	"image"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// box returns a 20x10 region centred on (cx, cy).
func box(cx, cy int) Region {
	return NewRegion(cx-10, cy-5, 20, 10, 2000)
}

func testThresholds() Thresholds {
	th := DefaultThresholds()
	th.TrackCounter = 3
	th.ZoneWidth = 0
	return th
}

func newTestEngine(t *testing.T, th Thresholds, conv Conversion, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(th, conv, opts...)
	require.NoError(t, err)
	return e
}

func feed(e *Engine, start, step float64, regions ...Region) []FrameResult {
	out := make([]FrameResult, 0, len(regions))
	for i, r := range regions {
		out = append(out, e.Process(start+float64(i)*step, []Region{r}))
	}
	return out
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(DefaultThresholds(), Conversion{L2R: 1, R2L: 1})
	require.NoError(t, err)

	bad := DefaultThresholds()
	bad.XDiffMax = 0
	_, err = NewEngine(bad, Conversion{L2R: 1, R2L: 1})
	assert.Error(t, err)

	_, err = NewEngine(DefaultThresholds(), Conversion{L2R: 0, R2L: 1})
	assert.Error(t, err)

	_, err = NewEngine(DefaultThresholds(), Conversion{L2R: 1, R2L: 1}, WithStreamFPS(-1))
	assert.Error(t, err)
}

func TestProcess_SmallRegionsNeverReachTracks(t *testing.T) {
	e := newTestEngine(t, DefaultThresholds(), Conversion{L2R: 1, R2L: 1})

	small := NewRegion(10, 10, 20, 50, 1000)
	res := e.Process(0, []Region{small, NewRegion(40, 10, 5, 5, 25)})

	assert.Equal(t, 2, res.Regions)
	assert.Equal(t, 0, res.Valid)
	assert.Equal(t, 2, res.Rejections[ReasonAreaTooSmall])
	assert.Equal(t, 0, res.Spawned)
	assert.Empty(t, e.Tracks())
}

func TestProcess_WorkedExample(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 2.0, R2L: 2.0})

	results := feed(e, 0, 1, box(50, 80), box(55, 80), box(60, 80), box(65, 80))

	assert.Equal(t, 1, results[0].Spawned)
	assert.Equal(t, 1, results[1].Attached)
	assert.Equal(t, 1, results[2].Attached)
	require.Len(t, results[3].Completed, 1)

	ev := results[3].Completed[0]
	// The factor scales the raw px/s step rate once: 5 px/s * 2.0 = 10.
	var raw []float64
	for i := 1; i < len(ev.History); i++ {
		cur, prev := ev.History[i], ev.History[i-1]
		raw = append(raw, math.Abs(float64(cur.X-cur.PrevX))/(cur.Timestamp-prev.Timestamp))
	}
	assert.Equal(t, []float64{5, 5, 5}, raw)
	assert.Equal(t, []float64{10, 10, 10}, ev.SpeedSamples)
	assert.Equal(t, 10.0, ev.FinalSpeed)
	assert.Equal(t, 0.0, ev.FinalStdDev)
	assert.Equal(t, LeftToRight, ev.Direction)
	assert.Equal(t, 15, ev.TotalDistancePx)
	assert.Equal(t, 3.0, ev.TotalTimeS)
	assert.True(t, ev.GatedForCapture)
	assert.Len(t, ev.History, 4)
	assert.Empty(t, e.Tracks(), "completed track leaves the active set")
}

func TestProcess_RightToLeftUsesItsOwnFactor(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1.0, R2L: 3.0})

	results := feed(e, 0, 0.5, box(150, 80), box(145, 80), box(140, 80), box(135, 80))

	require.Len(t, results[3].Completed, 1)
	ev := results[3].Completed[0]
	assert.Equal(t, RightToLeft, ev.Direction)
	assert.Equal(t, []float64{30, 30, 30}, ev.SpeedSamples)
	assert.Equal(t, 30.0, ev.FinalSpeed)

	want := []int{140, 135, 130, 125}
	got := make([]int, len(ev.History))
	for i, rec := range ev.History {
		got[i] = rec.X
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tracked x mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_FirstRecordIsUnknownAndLaterRecordsAgree(t *testing.T) {
	th := testThresholds()
	th.TrackCounter = 5
	e := newTestEngine(t, th, Conversion{L2R: 1, R2L: 1})

	feed(e, 0, 1, box(50, 80), box(56, 80), box(62, 80))
	require.Len(t, e.tracks, 1)

	h := e.tracks[0].History()
	assert.Equal(t, Unknown, h[0].Direction)
	for _, rec := range h[1:] {
		assert.Equal(t, LeftToRight, rec.Direction)
	}
	assert.LessOrEqual(t, len(e.tracks[0].SpeedSamples()), len(h))
}

func TestProcess_LeftEdgeEntryTracksTrailingEdge(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1})

	e.Process(0, []Region{NewRegion(0, 10, 30, 10, 2000)})
	require.Len(t, e.tracks, 1)
	assert.Equal(t, 30, e.tracks[0].First().X)
}

func TestProcess_SubPixelShiftDoesNotAdvance(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1})

	e.Process(0, []Region{NewRegion(40, 75, 20, 10, 2000)})
	// One pixel wider moves the box centre by half a pixel.
	res := e.Process(1, []Region{NewRegion(40, 75, 21, 10, 2000)})

	assert.Equal(t, 1, res.Rejections[ReasonXShiftTooSmall])
	assert.Equal(t, 0, res.Attached)
	assert.Equal(t, 0, res.Cleared)
	require.Len(t, e.tracks, 1)
	assert.Equal(t, 1, e.tracks[0].Len())
}

func TestProcess_DirectionReversalRejectedForTrack(t *testing.T) {
	th := testThresholds()
	th.TrackCounter = 10
	e := newTestEngine(t, th, Conversion{L2R: 1, R2L: 1})

	feed(e, 0, 1, box(50, 80), box(60, 80))
	require.Len(t, e.tracks, 1)
	id := e.tracks[0].ID

	res := e.Process(2, []Region{box(55, 80), box(70, 80)})

	assert.Equal(t, 1, res.Rejections[ReasonDirectionMismatch])
	assert.Equal(t, 1, res.Attached)
	require.Len(t, e.tracks, 1)
	assert.Equal(t, id, e.tracks[0].ID)
	assert.Equal(t, 3, e.tracks[0].Len())
}

func TestProcess_ClearsAllTracksWhenNothingMatches(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1}, WithOrphanPolicy(OrphanAll))

	res := e.Process(0, []Region{box(50, 40), box(150, 40)})
	require.Equal(t, 2, res.Spawned)
	before := e.Tracks()
	require.Len(t, before, 2)

	// Far below both tracks: an orphan, but no match.
	res = e.Process(1, []Region{box(100, 120)})
	assert.Equal(t, 2, res.Cleared)
	assert.Equal(t, 1, res.Spawned)

	after := e.Tracks()
	require.Len(t, after, 1)
	for _, old := range before {
		assert.NotEqual(t, old.ID, after[0].ID)
	}
}

func TestProcess_EmptyFrameClearsTracks(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1})

	e.Process(0, []Region{box(50, 40)})
	tr := e.tracks[0]

	res := e.Process(1, nil)
	assert.Equal(t, 1, res.Cleared)
	assert.Empty(t, e.Tracks())
	assert.Equal(t, StateAbandoned, tr.State())
}

func TestProcess_CooldownSkipsExactFrameCount(t *testing.T) {
	th := testThresholds()
	th.TrackTimeout = 2
	e := newTestEngine(t, th, Conversion{L2R: 1, R2L: 1}, WithStreamFPS(10))

	results := feed(e, 0, 0.1, box(50, 80), box(55, 80), box(60, 80), box(65, 80))
	require.Len(t, results[3].Completed, 1)
	assert.Equal(t, 20, e.Cooldown())
	assert.Equal(t, 20, results[3].CooldownRemaining)
	assert.Zero(t, results[3].ActiveTracks)
	assert.Equal(t, 1, results[2].ActiveTracks)

	ts := 0.4
	for i := 0; i < 20; i++ {
		res := e.Process(ts, []Region{box(70+i, 80)})
		assert.True(t, res.Skipped, "frame %d", i)
		assert.Zero(t, res.Spawned, "frame %d", i)
		assert.Zero(t, res.Attached, "frame %d", i)
		assert.Equal(t, 1, res.Rejections[ReasonCooldown])
		ts += 0.1
	}
	assert.Zero(t, e.Cooldown())

	res := e.Process(ts, []Region{box(95, 80)})
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Spawned)
}

func TestProcess_NoCooldownWithoutFPS(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1})

	results := feed(e, 0, 1, box(50, 80), box(55, 80), box(60, 80), box(65, 80))
	require.Len(t, results[3].Completed, 1)
	assert.Zero(t, e.Cooldown())
}

func TestProcess_CompletionOutsideGateStillEmitted(t *testing.T) {
	th := testThresholds()
	th.MaxSpeedOver = 8
	th.MaxSpeedCount = 65
	e := newTestEngine(t, th, Conversion{L2R: 100, R2L: 100})

	results := feed(e, 0, 1, box(50, 80), box(55, 80), box(60, 80), box(65, 80))
	require.Len(t, results[3].Completed, 1)
	ev := results[3].Completed[0]
	assert.Equal(t, 500.0, ev.FinalSpeed)
	assert.False(t, ev.GatedForCapture)
}

func TestProcess_OrphanPolicy(t *testing.T) {
	regions := []Region{box(30, 40), box(130, 40), box(230, 40)}

	latest := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1})
	res := latest.Process(0, regions)
	assert.Equal(t, 1, res.Spawned)
	require.Len(t, latest.tracks, 1)
	assert.Equal(t, image.Pt(230, 40), latest.tracks[0].First().Centroid)

	all := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1}, WithOrphanPolicy(OrphanAll))
	res = all.Process(0, regions)
	assert.Equal(t, 3, res.Spawned)
	assert.Len(t, all.tracks, 3)
}

func TestProcess_TooLargeEarlyRestarts(t *testing.T) {
	th := testThresholds()
	th.TrackCounter = 10
	e := newTestEngine(t, th, Conversion{L2R: 1, R2L: 1})

	e.Process(0, []Region{NewRegion(40, 75, 20, 10, 2000)})
	first := e.tracks[0]

	// The centre moves 30 px but the leading edge moves 60 px.
	res := e.Process(1, []Region{NewRegion(40, 75, 80, 10, 4000)})

	assert.Equal(t, 1, res.Rejections[ReasonXShiftTooLarge])
	assert.Equal(t, 1, res.Abandoned)
	assert.Equal(t, 1, res.Spawned)
	assert.Equal(t, StateAbandoned, first.State())
	require.Len(t, e.tracks, 1)
	assert.NotEqual(t, first.ID, e.tracks[0].ID)
	assert.Equal(t, 1, e.tracks[0].Len())
	assert.Equal(t, 1.0, e.tracks[0].First().Timestamp)
}

func TestProcess_TooLargeLateHolds(t *testing.T) {
	th := testThresholds()
	th.TrackCounter = 10
	e := newTestEngine(t, th, Conversion{L2R: 1, R2L: 1})

	feed(e, 0, 1, box(50, 80), box(55, 80), box(60, 80), box(65, 80), box(70, 80), box(75, 80))
	require.Len(t, e.tracks, 1)
	tr := e.tracks[0]
	require.Len(t, tr.SpeedSamples(), 5)

	res := e.Process(6, []Region{NewRegion(65, 75, 80, 10, 4000)})

	assert.Equal(t, 1, res.Rejections[ReasonHeld])
	assert.Zero(t, res.Abandoned)
	assert.Equal(t, 6, tr.Len())
	assert.Equal(t, StateAccumulating, tr.State())
	require.Len(t, e.tracks, 1)
	assert.Same(t, tr, e.tracks[0])
}

func TestProcess_PendingTrackReanchorsOnSmallDisplacement(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1})

	e.Process(0, []Region{NewRegion(40, 75, 20, 10, 2000)})
	first := e.tracks[0]

	// Shrinking from the left moves the centre right but leaves the leading edge put.
	res := e.Process(1, []Region{NewRegion(44, 75, 16, 10, 2000)})

	assert.Equal(t, 1, res.Rejections[ReasonXShiftTooSmall])
	assert.Equal(t, StateAbandoned, first.State())
	require.Len(t, e.tracks, 1)
	assert.Equal(t, StatePending, e.tracks[0].State())
}

func TestProcess_EdgeClamp(t *testing.T) {
	th := testThresholds()
	th.ZoneWidth = 100
	e := newTestEngine(t, th, Conversion{L2R: 1, R2L: 1})

	e.Process(0, []Region{NewRegion(60, 75, 20, 10, 2000)})
	res := e.Process(1, []Region{NewRegion(80, 75, 20, 10, 2000)})
	assert.Equal(t, 1, res.Rejections[ReasonEdgeReached])
	assert.Zero(t, res.Attached)

	e.Reset()
	e.Process(2, []Region{NewRegion(20, 75, 20, 10, 2000)})
	res = e.Process(3, []Region{NewRegion(0, 75, 20, 10, 2000)})
	assert.Equal(t, 1, res.Rejections[ReasonEdgeReached])
	assert.Zero(t, res.Attached)
}

func TestProcess_DuplicateTimestamp(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1})

	e.Process(5, []Region{box(50, 80)})
	res := e.Process(5, []Region{box(55, 80)})

	assert.Equal(t, 1, res.Rejections[ReasonDuplicateTimestamp])
	require.Len(t, e.tracks, 1)
	assert.Equal(t, 1, e.tracks[0].Len())
}

func TestProcess_EventTimeoutAbandonsStaleTracks(t *testing.T) {
	th := testThresholds()
	th.EventTimeout = 1
	e := newTestEngine(t, th, Conversion{L2R: 1, R2L: 1})

	e.Process(0, []Region{box(50, 80)})
	stale := e.tracks[0]

	res := e.Process(5, []Region{box(55, 80)})
	assert.Equal(t, 1, res.Abandoned)
	assert.Equal(t, 1, res.Spawned)
	assert.Equal(t, StateAbandoned, stale.State())
	require.Len(t, e.tracks, 1)
	assert.NotEqual(t, stale.ID, e.tracks[0].ID)
}

func TestProcess_HistoryNeverShrinks(t *testing.T) {
	th := testThresholds()
	th.TrackCounter = 12
	e := newTestEngine(t, th, Conversion{L2R: 1, R2L: 1})

	xs := []int{50, 53, 53, 58, 57, 64, 70, 70, 76, 83, 88, 95, 99}
	seen := map[uint64]int{}
	for i, x := range xs {
		y := 80 + i%3
		e.Process(float64(i)*0.2, []Region{box(x, y)})
		for _, info := range e.Tracks() {
			assert.GreaterOrEqual(t, info.Records, seen[info.ID], "track %d shrank", info.ID)
			assert.LessOrEqual(t, info.Samples, info.Records)
			seen[info.ID] = info.Records
		}
	}
}

func TestEngine_ResetDropsCooldown(t *testing.T) {
	e := newTestEngine(t, testThresholds(), Conversion{L2R: 1, R2L: 1}, WithStreamFPS(30))

	feed(e, 0, 1, box(50, 80), box(55, 80), box(60, 80), box(65, 80))
	require.Equal(t, 30, e.Cooldown())

	e.Reset()
	assert.Zero(t, e.Cooldown())
	assert.Empty(t, e.Tracks())
}

func TestParseOrphanPolicy(t *testing.T) {
	p, err := ParseOrphanPolicy("all")
	require.NoError(t, err)
	assert.Equal(t, OrphanAll, p)

	p, err = ParseOrphanPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OrphanLatest, p)

	_, err = ParseOrphanPolicy("first")
	assert.Error(t, err)
}
