// Package app wires capture, detection, tracking and recording into the speed camera
// pipeline.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/speedcam/internal/capture"
	"github.com/ayusman/speedcam/internal/config"
	"github.com/ayusman/speedcam/internal/detector"
	"github.com/ayusman/speedcam/internal/plugin"
	"github.com/ayusman/speedcam/internal/recorder"
	"github.com/ayusman/speedcam/internal/report"
	"github.com/ayusman/speedcam/internal/store"
	"github.com/ayusman/speedcam/internal/tracking"
)

// SettingEnabled is the settings key persisting the detection toggle.
const SettingEnabled = "detection_enabled"

// ErrAcquisitionTimeout is returned by Run when no frame could be read for the
// configured acquisition timeout.
var ErrAcquisitionTimeout = errors.New("no frame acquired within timeout")

// ImageSaver writes the image for a completed measurement.
type ImageSaver interface {
	Save(frame gocv.Mat, ev tracking.CompletionEvent, ts time.Time) (string, error)
}

// Measurement is published for every completed track that passes the speed gate.
type Measurement struct {
	Record *store.SpeedRecord       `json:"record"`
	Event  tracking.CompletionEvent `json:"event"`
}

// Config holds the application dependencies. Nil components are built from
// Settings.
type Config struct {
	Settings *config.Config
	// Store is optional. Without it nothing is logged to the database and the
	// enabled flag is not persisted.
	Store    *store.Store
	Camera   capture.Camera
	Detector detector.Detector
	Images   ImageSaver
	// Notify receives every measurement, e.g. for websocket broadcast.
	Notify func(Measurement)
	// Now supplies wall clock time for records. It defaults to time.Now.
	Now func() time.Time
}

// Status is a snapshot of the running pipeline.
type Status struct {
	Enabled           bool                 `json:"enabled"`
	Running           bool                 `json:"running"`
	FPS               float64              `json:"fps"`
	Frames            int64                `json:"frames"`
	Dropped           int64                `json:"dropped"`
	Measurements      int64                `json:"measurements"`
	CooldownRemaining int                  `json:"cooldown_remaining"`
	Tracks            []tracking.TrackInfo `json:"tracks"`
	LastSpeed         float64              `json:"last_speed"`
	LastDirection     string               `json:"last_direction,omitempty"`
	LastTime          *time.Time           `json:"last_time,omitempty"`
	Units             string               `json:"units"`
}

// App is the speed camera pipeline.
type App struct {
	settings   *config.Config
	store      *store.Store
	camera     capture.Camera
	detector   detector.Detector
	engine     *tracking.Engine
	calib      tracking.Calibration
	images     ImageSaver
	csv        *recorder.CSVLog
	dispatcher *plugin.Dispatcher
	keeper     *recorder.Housekeeper
	graphs     *report.Generator
	notify     func(Measurement)
	now        func() time.Time
	meter      *capture.RateMeter

	enabled atomic.Bool
	running atomic.Bool
	// rearm is set when detection is turned back on. process clears it and
	// starts the detector and engine from scratch.
	rearm atomic.Bool

	frames       atomic.Int64
	dropped      atomic.Int64
	measurements atomic.Int64

	mu          sync.RWMutex
	status      Status
	preview     []byte
	seq         uint64
	lastPreview time.Time
}

// New creates an App from cfg.
func New(cfg Config) (*App, error) {
	s := cfg.Settings
	if s == nil {
		s = config.Empty()
	}

	calib, err := s.TrackingCalibration()
	if err != nil {
		return nil, err
	}
	conv, err := calib.Conversion()
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	policy, err := tracking.ParseOrphanPolicy(s.Motion.GetOrphanPolicy())
	if err != nil {
		return nil, err
	}
	engine, err := tracking.NewEngine(s.Thresholds(), conv,
		tracking.WithOrphanPolicy(policy),
		tracking.WithStreamFPS(s.Camera.GetFPS()))
	if err != nil {
		return nil, err
	}

	a := &App{
		settings: s,
		store:    cfg.Store,
		camera:   cfg.Camera,
		detector: cfg.Detector,
		engine:   engine,
		calib:    calib,
		images:   cfg.Images,
		notify:   cfg.Notify,
		now:      cfg.Now,
		meter:    capture.NewRateMeter(100),
	}
	if a.now == nil {
		a.now = time.Now
	}

	if a.camera == nil {
		cam := s.Camera
		a.camera = capture.NewCamera(capture.Options{
			Source: cam.GetSource(),
			Width:  cam.GetWidth(),
			Height: cam.GetHeight(),
			FPS:    cam.GetFPS(),
			HFlip:  cam.GetHFlip(),
			VFlip:  cam.GetVFlip(),
			Loop:   cam.GetFileLoop(),
		})
	}
	if a.detector == nil {
		a.detector = detector.NewContourDetector(detector.DefaultConfig(s.FieldOfView()))
	}
	if a.images == nil {
		a.images = recorder.NewImageWriter(imageOptions(s, calib))
	}

	if s.Storage.GetLogToCSV() {
		a.csv = recorder.NewCSVLog(s.Storage.GetCSVDir(), s.GetName())
	}
	if hours := s.Files.GetSpaceTimerHours(); hours > 0 {
		a.keeper = &recorder.Housekeeper{
			TimerHours: hours,
			FreeMB:     s.Files.GetSpaceFreeMB(),
			MediaDir:   s.Files.GetSpaceMediaDir(),
			Ext:        s.Files.GetSpaceFileExt(),
			Free:       recorder.StatfsFree,
		}
	}
	if a.store != nil {
		a.graphs = report.NewGenerator(a.store.Speeds(), s.Graphs.GetDir(),
			s.Motion.GetSpeedUnits(), s.Graphs.GetAddDateToFilename())
		a.enabled.Store(a.store.Settings().GetBool(SettingEnabled, true))
	} else {
		a.enabled.Store(true)
	}
	if s.Plugins.GetEnabled() {
		a.dispatcher = a.newDispatcher()
	}

	a.status.Units = s.Motion.GetSpeedUnits()
	return a, nil
}

func (a *App) newDispatcher() *plugin.Dispatcher {
	mgr := plugin.NewManager(a.settings.Plugins.GetDir())
	if err := mgr.Discover(); err != nil {
		log.Printf("Plugin discovery failed: %v", err)
		return nil
	}
	if len(mgr.List()) == 0 {
		return nil
	}
	log.Printf("Loaded %d plugins from %s", len(mgr.List()), mgr.PluginDir())

	var onStatus plugin.StatusFunc
	if a.store != nil {
		speeds := a.store.Speeds()
		onStatus = func(id, name, status string) error {
			return speeds.UpdateStatus(id, status)
		}
	}
	return plugin.NewDispatcher(mgr, plugin.NewExecutor(a.settings.Plugins.GetTimeout()), 16, onStatus)
}

func imageOptions(s *config.Config, calib tracking.Calibration) recorder.ImageOptions {
	img := s.Image
	return recorder.ImageOptions{
		Dir:            img.GetPath(),
		Prefix:         img.GetPrefix(),
		JPEGQuality:    img.GetJPEGQuality(),
		Bigger:         img.GetBigger(),
		ShowMotionArea: img.GetShowMotionArea(),
		FilenameSpeed:  img.GetFilenameSpeed(),
		TextOn:         img.GetTextOn(),
		TextBottom:     img.GetTextBottom(),
		FontScale:      img.GetFontScale(),
		FontThickness:  img.GetFontThickness(),
		MaxFiles:       img.GetMaxFiles(),
		RecentMax:      img.GetRecentMax(),
		RecentDir:      img.GetRecentDir(),
		SubDirMaxFiles: img.GetSubDirMaxFiles(),
		SubDirMaxHours: img.GetSubDirMaxHours(),
		Calibrate:      s.Calibration.GetCalibrate(),
		FieldOfView:    s.FieldOfView(),
		Units:          s.Motion.GetSpeedUnits(),
		Calibration:    calib,
	}
}

// SetEnabled enables or disables detection. The choice is persisted when a store
// is configured. Turning detection back on drops tracks and the previous frame
// held from before the pause.
func (a *App) SetEnabled(enabled bool) error {
	if was := a.enabled.Swap(enabled); enabled && !was {
		a.rearm.Store(true)
	}
	if a.store == nil {
		return nil
	}
	return a.store.Settings().SetBool(SettingEnabled, enabled)
}

// IsEnabled returns whether detection is currently enabled.
func (a *App) IsEnabled() bool {
	return a.enabled.Load()
}

// Status returns a snapshot of the pipeline state.
func (a *App) Status() Status {
	a.mu.RLock()
	st := a.status
	st.Tracks = append([]tracking.TrackInfo(nil), a.status.Tracks...)
	a.mu.RUnlock()

	st.Enabled = a.IsEnabled()
	st.Running = a.running.Load()
	st.Frames = a.frames.Load()
	st.Dropped = a.dropped.Load()
	st.Measurements = a.measurements.Load()
	return st
}

// Preview returns the latest annotated JPEG frame and its sequence number. The
// sequence is zero until the first frame was encoded.
func (a *App) Preview() ([]byte, uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.preview, a.seq
}

// Camera returns the frame source.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Detector returns the motion detector.
func (a *App) Detector() detector.Detector {
	return a.detector
}

// Engine returns the tracking engine. It must only be used while Run is not active.
func (a *App) Engine() *tracking.Engine {
	return a.engine
}

// Graphs returns the graph generator, or nil without a store.
func (a *App) Graphs() *report.Generator {
	return a.graphs
}
