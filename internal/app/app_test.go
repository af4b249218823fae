package app

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/speedcam/internal/capture"
	"github.com/ayusman/speedcam/internal/config"
	"github.com/ayusman/speedcam/internal/detector"
	"github.com/ayusman/speedcam/internal/store"
	"github.com/ayusman/speedcam/internal/tracking"
)

func ptr[T any](v T) *T { return &v }

// fakeImages records saved measurements without encoding anything.
type fakeImages struct {
	mu    sync.Mutex
	saved []tracking.CompletionEvent
	err   error
}

func (f *fakeImages) Save(_ gocv.Mat, ev tracking.CompletionEvent, _ time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, ev)
	return filepath.Join("media", "images", "speed_test.jpg"), nil
}

func (f *fakeImages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Empty()
	cfg.Name = ptr("Test")
	cfg.Motion.TrackCounter = ptr(3)
	cfg.Storage.CSVDir = ptr(filepath.Join(dir, "csv"))
	cfg.Image.Path = ptr(filepath.Join(dir, "images"))
	cfg.Graphs.Dir = ptr(filepath.Join(dir, "graphs"))
	cfg.Plugins.Enabled = ptr(false)
	cfg.Camera.Location = ptr("Main St")
	return cfg
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	if cfg.Settings == nil {
		cfg.Settings = testSettings(t)
	}
	if cfg.Camera == nil {
		cfg.Camera = capture.NewMockCamera(nil, false)
	}
	if cfg.Detector == nil {
		cfg.Detector = detector.NewMockDetector()
	}
	if cfg.Images == nil {
		cfg.Images = &fakeImages{}
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func TestNew_InvalidSettings(t *testing.T) {
	cfg := testSettings(t)
	cfg.Motion.SpeedUnits = ptr("furlongs")
	_, err := New(Config{Settings: cfg, Camera: capture.NewMockCamera(nil, false), Detector: detector.NewMockDetector()})
	assert.Error(t, err)

	cfg = testSettings(t)
	cfg.Calibration.PxL2R = ptr(0.0)
	_, err = New(Config{Settings: cfg, Camera: capture.NewMockCamera(nil, false), Detector: detector.NewMockDetector()})
	assert.ErrorContains(t, err, "calibration")

	cfg = testSettings(t)
	cfg.Motion.OrphanPolicy = ptr("some")
	_, err = New(Config{Settings: cfg, Camera: capture.NewMockCamera(nil, false), Detector: detector.NewMockDetector()})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	a := newTestApp(t, Config{})

	assert.True(t, a.IsEnabled())
	assert.Nil(t, a.Graphs(), "graphs need a store")
	assert.Nil(t, a.dispatcher)
	assert.NotNil(t, a.csv)
	assert.Nil(t, a.keeper)
	assert.Equal(t, 3, a.Engine().Thresholds().TrackCounter)
	assert.Equal(t, 22.0, a.Engine().StreamFPS())

	st := a.Status()
	assert.Equal(t, "mph", st.Units)
	assert.False(t, st.Running)
	assert.Zero(t, st.Frames)

	data, seq := a.Preview()
	assert.Nil(t, data)
	assert.Zero(t, seq)
}

func TestNew_OptionalComponents(t *testing.T) {
	cfg := testSettings(t)
	cfg.Storage.LogToCSV = ptr(false)
	cfg.Files.SpaceTimerHours = ptr(1.0)
	cfg.Plugins.Enabled = ptr(true)
	cfg.Plugins.Dir = ptr(t.TempDir())

	a := newTestApp(t, Config{Settings: cfg, Store: newTestStore(t)})

	assert.Nil(t, a.csv)
	require.NotNil(t, a.keeper)
	assert.Equal(t, 1.0, a.keeper.TimerHours)
	assert.NotNil(t, a.Graphs())
	assert.Nil(t, a.dispatcher, "no plugins installed")
}

func TestSetEnabled_Persists(t *testing.T) {
	s := newTestStore(t)
	a := newTestApp(t, Config{Store: s})
	require.True(t, a.IsEnabled())

	require.NoError(t, a.SetEnabled(false))
	assert.False(t, a.IsEnabled())
	assert.False(t, a.Status().Enabled)

	// A new app over the same store starts disabled.
	b := newTestApp(t, Config{Store: s})
	assert.False(t, b.IsEnabled())

	require.NoError(t, b.SetEnabled(true))
	assert.True(t, s.Settings().GetBool(SettingEnabled, false))
}

func TestSetEnabled_WithoutStore(t *testing.T) {
	a := newTestApp(t, Config{})
	require.NoError(t, a.SetEnabled(false))
	assert.False(t, a.IsEnabled())
}

func TestSetEnabled_ResumeClearsTracking(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	det := detector.NewMockDetector(detector.PassingVehicle(20, 10, 4, 80, 40, 60)...)
	a := newTestApp(t, Config{Detector: det})

	step := func(ts float64, idx int64) {
		f := &capture.Frame{Image: gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3), Timestamp: ts, Index: idx}
		defer f.Close()
		a.process(f)
	}

	step(0, 1)
	step(1.0/22, 2)
	before := a.engine.Tracks()
	require.Len(t, before, 1)
	require.Equal(t, 1, before[0].Samples)

	require.NoError(t, a.SetEnabled(false))
	step(2.0/22, 3)
	assert.Equal(t, 2, det.Calls())

	require.NoError(t, a.SetEnabled(true))
	step(100, 4)

	after := a.engine.Tracks()
	require.Len(t, after, 1, "the detection after the pause starts its own track")
	assert.NotEqual(t, before[0].ID, after[0].ID)
	assert.Zero(t, after[0].Samples)
	assert.Equal(t, 1, det.Resets())

	// Enabling while already enabled keeps the live track.
	require.NoError(t, a.SetEnabled(true))
	step(100+1.0/22, 5)
	assert.Equal(t, 1, det.Resets())
	tracks := a.engine.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, after[0].ID, tracks[0].ID)
	assert.Equal(t, 1, tracks[0].Samples)
}

func TestRecord(t *testing.T) {
	a := newTestApp(t, Config{})
	now := time.Date(2024, 6, 1, 8, 15, 0, 0, time.Local)

	ev := tracking.CompletionEvent{
		TrackID:         4,
		Direction:       tracking.RightToLeft,
		FinalSpeed:      27.456,
		FinalStdDev:     1.234,
		SpeedSamples:    []float64{27, 28, 27.4},
		TotalDistancePx: 60,
		TotalTimeS:      0.136,
		History: []tracking.TrackRecord{
			{X: 100, Y: 40, Left: 100, Width: 80, Height: 40, Centroid: tracking.NewRegion(100, 40, 80, 40, 3200).Centroid, Area: 3200},
			{X: 40, Y: 40, Left: 40, Width: 80, Height: 40, Centroid: tracking.NewRegion(40, 40, 80, 40, 3200).Centroid, Area: 3200, Direction: tracking.RightToLeft},
		},
	}

	rec := a.record(ev, "img.jpg", now, 640, 480)

	assert.Equal(t, now, rec.LogTimestamp)
	assert.Equal(t, 27.46, rec.AveSpeed)
	assert.Equal(t, 1.23, rec.StdDev)
	assert.Equal(t, "mph", rec.SpeedUnits)
	assert.Equal(t, "R2L", rec.Direction)
	assert.Equal(t, "Test", rec.OverlayName)
	assert.Equal(t, "Main St", rec.Location)
	assert.Equal(t, "img.jpg", rec.ImagePath)
	assert.Equal(t, 1920, rec.ImageW)
	assert.Equal(t, 1440, rec.ImageH)
	// Centroid (80, 60) offset by the field of view origin (220, 20).
	assert.Equal(t, 300, rec.CX)
	assert.Equal(t, 80, rec.CY)
	assert.Equal(t, 3200, rec.MArea)
	assert.Equal(t, 220, rec.XLeft)
	assert.Equal(t, 430, rec.XRight)
	assert.Equal(t, 100, rec.CalObjPx, "R2L reference")
	assert.Equal(t, 4700, rec.CalObjMM)
	assert.Equal(t, uint64(4), rec.TrackID)
	assert.Equal(t, 3, rec.Samples)
	assert.Equal(t, 60, rec.DistancePx)
	assert.Equal(t, 0.14, rec.DurationS)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.24, round2(1.236))
	assert.Equal(t, -1.24, round2(-1.236))
	assert.Equal(t, 0.0, round2(0))
}

func TestRunMaintenance_GraphTimer(t *testing.T) {
	cfg := testSettings(t)
	cfg.Graphs.RunTimerHours = ptr(1.0)
	a := newTestApp(t, Config{Settings: cfg, Store: newTestStore(t)})

	start := time.Now()
	last := start
	a.runMaintenance(start.Add(30*time.Minute), &last)
	assert.Equal(t, start, last, "timer not elapsed")

	a.runMaintenance(start.Add(61*time.Minute), &last)
	assert.Equal(t, start.Add(61*time.Minute), last)
}
