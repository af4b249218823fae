// Package config loads the speedcam JSON configuration.
//
// Every field is a pointer so that a file only needs to name the values it changes:
// the Get* accessors supply the defaults for anything left out. LoadConfig applies
// a base file and then any overlay files on top of it, in order.
package config

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/ayusman/speedcam/internal/tracking"
	"github.com/ayusman/speedcam/internal/units"
)

// maxFileSize bounds configuration files (1MB).
const maxFileSize = 1 * 1024 * 1024

// Config is the root configuration.
type Config struct {
	// Name identifies the camera site. It names the CSV log and is stored with
	// every speed record.
	Name *string `json:"name,omitempty"`

	Calibration CalibrationConfig `json:"calibration"`
	Motion      MotionConfig      `json:"motion"`
	Camera      CameraConfig      `json:"camera"`
	Image       ImageConfig       `json:"image"`
	Storage     StorageConfig     `json:"storage"`
	Files       FilesConfig       `json:"files"`
	Server      ServerConfig      `json:"server"`
	Logging     LoggingConfig     `json:"logging"`
	Graphs      GraphsConfig      `json:"graphs"`
	Plugins     PluginsConfig     `json:"plugins"`
}

// CalibrationConfig holds the reference object sizes per direction.
type CalibrationConfig struct {
	// Calibrate saves every completed track with hash marks for measuring.
	Calibrate *bool    `json:"calibrate,omitempty"`
	PxL2R     *float64 `json:"cal_obj_px_l2r,omitempty"`
	MmL2R     *float64 `json:"cal_obj_mm_l2r,omitempty"`
	PxR2L     *float64 `json:"cal_obj_px_r2l,omitempty"`
	MmR2L     *float64 `json:"cal_obj_mm_r2l,omitempty"`
}

// MotionConfig holds the tracking thresholds and the field of view.
type MotionConfig struct {
	SpeedUnits    *string  `json:"speed_units,omitempty"`
	TrackCounter  *int     `json:"track_counter,omitempty"`
	MinArea       *int     `json:"min_area,omitempty"`
	XDiffMin      *int     `json:"x_diff_min,omitempty"`
	XDiffMax      *int     `json:"x_diff_max,omitempty"`
	YDiffMax      *int     `json:"y_diff_max,omitempty"`
	TrackTimeout  *float64 `json:"track_timeout,omitempty"`
	EventTimeout  *float64 `json:"event_timeout,omitempty"`
	MaxSpeedOver  *float64 `json:"max_speed_over,omitempty"`
	MaxSpeedCount *float64 `json:"max_speed_count,omitempty"`
	OrphanPolicy  *string  `json:"orphan_policy,omitempty"`

	XLeft  *int `json:"x_left,omitempty"`
	XRight *int `json:"x_right,omitempty"`
	YUpper *int `json:"y_upper,omitempty"`
	YLower *int `json:"y_lower,omitempty"`
}

// CameraConfig describes the video source.
type CameraConfig struct {
	// Source is a device index ("0"), a stream URL or a video file path.
	Source   *string  `json:"source,omitempty"`
	Location *string  `json:"location,omitempty"`
	Width    *int     `json:"width,omitempty"`
	Height   *int     `json:"height,omitempty"`
	FPS      *float64 `json:"fps,omitempty"`
	HFlip    *bool    `json:"hflip,omitempty"`
	VFlip    *bool    `json:"vflip,omitempty"`
	FileLoop *bool    `json:"file_loop,omitempty"`

	QueueSize          *int    `json:"queue_size,omitempty"`
	AcquisitionTimeout *string `json:"acquisition_timeout,omitempty"` // duration string like "60s"
}

// ImageConfig controls the saved speed images.
type ImageConfig struct {
	Path           *string  `json:"path,omitempty"`
	Prefix         *string  `json:"prefix,omitempty"`
	JPEGQuality    *int     `json:"jpeg_quality,omitempty"`
	Bigger         *float64 `json:"bigger,omitempty"`
	ShowMotionArea *bool    `json:"show_motion_area,omitempty"`
	FilenameSpeed  *bool    `json:"filename_speed,omitempty"`
	TextOn         *bool    `json:"text_on,omitempty"`
	TextBottom     *bool    `json:"text_bottom,omitempty"`
	FontScale      *float64 `json:"font_scale,omitempty"`
	FontThickness  *int     `json:"font_thickness,omitempty"`
	MaxFiles       *int     `json:"max_files,omitempty"`
	RecentMax      *int     `json:"recent_max,omitempty"`
	RecentDir      *string  `json:"recent_dir,omitempty"`
	SubDirMaxFiles *int     `json:"subdir_max_files,omitempty"`
	SubDirMaxHours *float64 `json:"subdir_max_hours,omitempty"`
}

// StorageConfig selects where completed tracks are logged.
type StorageConfig struct {
	DBPath   *string `json:"db_path,omitempty"`
	LogToDB  *bool   `json:"log_to_db,omitempty"`
	LogToCSV *bool   `json:"log_to_csv,omitempty"`
	CSVDir   *string `json:"csv_dir,omitempty"`
}

// FilesConfig controls free-space housekeeping.
type FilesConfig struct {
	SpaceTimerHours *float64 `json:"space_timer_hours,omitempty"`
	SpaceFreeMB     *float64 `json:"space_free_mb,omitempty"`
	SpaceMediaDir   *string  `json:"space_media_dir,omitempty"`
	SpaceFileExt    *string  `json:"space_file_ext,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled   *bool   `json:"enabled,omitempty"`
	Listen    *string `json:"listen,omitempty"`
	StaticDir *string `json:"static_dir,omitempty"`
}

// LoggingConfig toggles diagnostic output.
type LoggingConfig struct {
	Verbose *bool `json:"verbose,omitempty"`
	LogFPS  *bool `json:"log_fps,omitempty"`
}

// GraphRun is one graph: speeds above MinSpeed over the last Days, grouped by
// "hour", "day" or "month".
type GraphRun struct {
	Group    string  `json:"group"`
	Days     int     `json:"days"`
	MinSpeed float64 `json:"min_speed"`
}

// GraphsConfig controls the speed graphs.
type GraphsConfig struct {
	Dir               *string    `json:"dir,omitempty"`
	AddDateToFilename *bool      `json:"add_date_to_filename,omitempty"`
	RunTimerHours     *float64   `json:"run_timer_hours,omitempty"`
	Runs              []GraphRun `json:"runs,omitempty"`
}

// PluginsConfig controls the post-capture hooks.
type PluginsConfig struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Dir     *string `json:"dir,omitempty"`
	Timeout *string `json:"timeout,omitempty"` // duration string like "5s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// LoadConfig reads base and then applies each overlay on top of it. Only the fields
// present in an overlay replace earlier values.
func LoadConfig(base string, overlays ...string) (*Config, error) {
	cfg := Empty()
	for _, path := range append([]string{base}, overlays...) {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// OverlayPath returns the path of a named overlay in dir, accepting the name with or
// without its extension.
func OverlayPath(dir, name string) string {
	if filepath.Ext(name) != ".json" {
		name += ".json"
	}
	return filepath.Join(dir, name)
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if _, err := units.Parse(c.Motion.GetSpeedUnits()); err != nil {
		return err
	}
	if c.Motion.GetXRight() <= c.Motion.GetXLeft() {
		return fmt.Errorf("x_right (%d) must be greater than x_left (%d)", c.Motion.GetXRight(), c.Motion.GetXLeft())
	}
	if c.Motion.GetYLower() <= c.Motion.GetYUpper() {
		return fmt.Errorf("y_lower (%d) must be greater than y_upper (%d)", c.Motion.GetYLower(), c.Motion.GetYUpper())
	}
	if c.Motion.GetXLeft() < 0 || c.Motion.GetYUpper() < 0 {
		return fmt.Errorf("field of view must not start at a negative position")
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if _, err := tracking.ParseOrphanPolicy(c.Motion.GetOrphanPolicy()); err != nil {
		return err
	}
	if _, err := c.Calibration.Calibration(units.MPH).Conversion(); err != nil {
		return err
	}

	if c.Camera.FPS != nil && *c.Camera.FPS <= 0 {
		return fmt.Errorf("camera fps must be positive, got %f", *c.Camera.FPS)
	}
	if c.Camera.QueueSize != nil && *c.Camera.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", *c.Camera.QueueSize)
	}
	if c.Camera.AcquisitionTimeout != nil && *c.Camera.AcquisitionTimeout != "" {
		if _, err := time.ParseDuration(*c.Camera.AcquisitionTimeout); err != nil {
			return fmt.Errorf("invalid acquisition_timeout '%s': %w", *c.Camera.AcquisitionTimeout, err)
		}
	}

	if q := c.Image.GetJPEGQuality(); q < 1 || q > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", q)
	}
	if b := c.Image.GetBigger(); b < 0.1 {
		return fmt.Errorf("image bigger must be at least 0.1, got %f", b)
	}

	if c.Plugins.Timeout != nil && *c.Plugins.Timeout != "" {
		if _, err := time.ParseDuration(*c.Plugins.Timeout); err != nil {
			return fmt.Errorf("invalid plugins timeout '%s': %w", *c.Plugins.Timeout, err)
		}
	}

	for i, run := range c.Graphs.GetRuns() {
		switch run.Group {
		case "hour", "day", "month":
		default:
			return fmt.Errorf("graph run %d: invalid group %q", i, run.Group)
		}
		if run.Days <= 0 {
			return fmt.Errorf("graph run %d: days must be positive, got %d", i, run.Days)
		}
	}
	return nil
}

// GetName returns the site name or the default.
func (c *Config) GetName() string {
	if c.Name == nil || *c.Name == "" {
		return "Default"
	}
	return *c.Name
}

// Thresholds assembles the engine thresholds. The zone width is the field of view
// width.
func (c *Config) Thresholds() tracking.Thresholds {
	m := c.Motion
	return tracking.Thresholds{
		MinArea:       m.GetMinArea(),
		XDiffMin:      m.GetXDiffMin(),
		XDiffMax:      m.GetXDiffMax(),
		YDiffMax:      m.GetYDiffMax(),
		TrackCounter:  m.GetTrackCounter(),
		TrackTimeout:  m.GetTrackTimeout(),
		MaxSpeedOver:  m.GetMaxSpeedOver(),
		MaxSpeedCount: m.GetMaxSpeedCount(),
		ZoneWidth:     m.GetXRight() - m.GetXLeft(),
		EventTimeout:  m.GetEventTimeout(),
	}
}

// TrackingCalibration returns the calibration in the configured unit.
func (c *Config) TrackingCalibration() (tracking.Calibration, error) {
	u, err := units.Parse(c.Motion.GetSpeedUnits())
	if err != nil {
		return tracking.Calibration{}, err
	}
	return c.Calibration.Calibration(u), nil
}

// FieldOfView returns the motion detection rectangle in frame coordinates.
func (c *Config) FieldOfView() image.Rectangle {
	m := c.Motion
	return image.Rect(m.GetXLeft(), m.GetYUpper(), m.GetXRight(), m.GetYLower())
}

// Calibration returns the calibration values in unit u.
func (c CalibrationConfig) Calibration(u units.Unit) tracking.Calibration {
	return tracking.Calibration{
		PxL2R: c.GetPxL2R(),
		MmL2R: c.GetMmL2R(),
		PxR2L: c.GetPxR2L(),
		MmR2L: c.GetMmR2L(),
		Units: u,
	}
}

// GetCalibrate returns the calibrate value or the default.
func (c CalibrationConfig) GetCalibrate() bool {
	if c.Calibrate == nil {
		return false
	}
	return *c.Calibrate
}

func (c CalibrationConfig) GetPxL2R() float64 { return float64Or(c.PxL2R, 80) }
func (c CalibrationConfig) GetMmL2R() float64 { return float64Or(c.MmL2R, 4700) }
func (c CalibrationConfig) GetPxR2L() float64 { return float64Or(c.PxR2L, 100) }
func (c CalibrationConfig) GetMmR2L() float64 { return float64Or(c.MmR2L, 4700) }

// GetSpeedUnits returns the speed unit or the default (mph).
func (m MotionConfig) GetSpeedUnits() string {
	if m.SpeedUnits == nil || *m.SpeedUnits == "" {
		return string(units.MPH)
	}
	return *m.SpeedUnits
}

func (m MotionConfig) GetTrackCounter() int      { return intOr(m.TrackCounter, 10) }
func (m MotionConfig) GetMinArea() int           { return intOr(m.MinArea, 1000) }
func (m MotionConfig) GetXDiffMin() int          { return intOr(m.XDiffMin, 1) }
func (m MotionConfig) GetXDiffMax() int          { return intOr(m.XDiffMax, 40) }
func (m MotionConfig) GetYDiffMax() int          { return intOr(m.YDiffMax, 10) }
func (m MotionConfig) GetTrackTimeout() float64  { return float64Or(m.TrackTimeout, 1) }
func (m MotionConfig) GetEventTimeout() float64  { return float64Or(m.EventTimeout, 0) }
func (m MotionConfig) GetMaxSpeedOver() float64  { return float64Or(m.MaxSpeedOver, 8) }
func (m MotionConfig) GetMaxSpeedCount() float64 { return float64Or(m.MaxSpeedCount, 65) }
func (m MotionConfig) GetXLeft() int             { return intOr(m.XLeft, 220) }
func (m MotionConfig) GetXRight() int            { return intOr(m.XRight, 430) }
func (m MotionConfig) GetYUpper() int            { return intOr(m.YUpper, 20) }
func (m MotionConfig) GetYLower() int            { return intOr(m.YLower, 160) }

// GetOrphanPolicy returns "latest" unless "all" is configured.
func (m MotionConfig) GetOrphanPolicy() string {
	if m.OrphanPolicy == nil || *m.OrphanPolicy == "" {
		return "latest"
	}
	return *m.OrphanPolicy
}

// GetSource returns the video source or the first camera device.
func (c CameraConfig) GetSource() string {
	if c.Source == nil || *c.Source == "" {
		return "0"
	}
	return *c.Source
}

func (c CameraConfig) GetLocation() string { return stringOr(c.Location, "Location1") }
func (c CameraConfig) GetWidth() int       { return intOr(c.Width, 640) }
func (c CameraConfig) GetHeight() int      { return intOr(c.Height, 480) }
func (c CameraConfig) GetFPS() float64     { return float64Or(c.FPS, 22) }
func (c CameraConfig) GetHFlip() bool      { return boolOr(c.HFlip, false) }
func (c CameraConfig) GetVFlip() bool      { return boolOr(c.VFlip, false) }
func (c CameraConfig) GetFileLoop() bool   { return boolOr(c.FileLoop, true) }
func (c CameraConfig) GetQueueSize() int   { return intOr(c.QueueSize, 8) }

// GetAcquisitionTimeout returns how long the pipeline may go without a frame.
func (c CameraConfig) GetAcquisitionTimeout() time.Duration {
	return durationOr(c.AcquisitionTimeout, 60*time.Second)
}

func (i ImageConfig) GetPath() string            { return stringOr(i.Path, "media/images") }
func (i ImageConfig) GetPrefix() string          { return stringOr(i.Prefix, "speed_") }
func (i ImageConfig) GetJPEGQuality() int        { return intOr(i.JPEGQuality, 95) }
func (i ImageConfig) GetBigger() float64         { return float64Or(i.Bigger, 3.0) }
func (i ImageConfig) GetShowMotionArea() bool    { return boolOr(i.ShowMotionArea, true) }
func (i ImageConfig) GetFilenameSpeed() bool     { return boolOr(i.FilenameSpeed, false) }
func (i ImageConfig) GetTextOn() bool            { return boolOr(i.TextOn, true) }
func (i ImageConfig) GetTextBottom() bool        { return boolOr(i.TextBottom, true) }
func (i ImageConfig) GetFontScale() float64      { return float64Or(i.FontScale, 0.5) }
func (i ImageConfig) GetFontThickness() int      { return intOr(i.FontThickness, 2) }
func (i ImageConfig) GetMaxFiles() int           { return intOr(i.MaxFiles, 0) }
func (i ImageConfig) GetRecentMax() int          { return intOr(i.RecentMax, 0) }
func (i ImageConfig) GetRecentDir() string       { return stringOr(i.RecentDir, "media/recent") }
func (i ImageConfig) GetSubDirMaxFiles() int     { return intOr(i.SubDirMaxFiles, 2000) }
func (i ImageConfig) GetSubDirMaxHours() float64 { return float64Or(i.SubDirMaxHours, 0) }

func (s StorageConfig) GetDBPath() string { return stringOr(s.DBPath, "data/speed_cam.db") }
func (s StorageConfig) GetLogToDB() bool  { return boolOr(s.LogToDB, true) }
func (s StorageConfig) GetLogToCSV() bool { return boolOr(s.LogToCSV, true) }
func (s StorageConfig) GetCSVDir() string { return stringOr(s.CSVDir, "data") }

func (f FilesConfig) GetSpaceTimerHours() float64 { return float64Or(f.SpaceTimerHours, 0) }
func (f FilesConfig) GetSpaceFreeMB() float64     { return float64Or(f.SpaceFreeMB, 500) }
func (f FilesConfig) GetSpaceMediaDir() string    { return stringOr(f.SpaceMediaDir, "media/images") }
func (f FilesConfig) GetSpaceFileExt() string     { return stringOr(f.SpaceFileExt, "jpg") }

func (s ServerConfig) GetEnabled() bool     { return boolOr(s.Enabled, true) }
func (s ServerConfig) GetListen() string    { return stringOr(s.Listen, ":8080") }
func (s ServerConfig) GetStaticDir() string { return stringOr(s.StaticDir, "") }

func (l LoggingConfig) GetVerbose() bool { return boolOr(l.Verbose, false) }
func (l LoggingConfig) GetLogFPS() bool  { return boolOr(l.LogFPS, false) }

func (g GraphsConfig) GetDir() string             { return stringOr(g.Dir, "media/graphs") }
func (g GraphsConfig) GetAddDateToFilename() bool { return boolOr(g.AddDateToFilename, false) }
func (g GraphsConfig) GetRunTimerHours() float64  { return float64Or(g.RunTimerHours, 0.5) }

// GetRuns returns the configured graph runs or the default set.
func (g GraphsConfig) GetRuns() []GraphRun {
	if len(g.Runs) == 0 {
		return []GraphRun{
			{Group: "day", Days: 28, MinSpeed: 10},
			{Group: "hour", Days: 28, MinSpeed: 10},
			{Group: "hour", Days: 7, MinSpeed: 0},
			{Group: "hour", Days: 2, MinSpeed: 0},
		}
	}
	return g.Runs
}

func (p PluginsConfig) GetEnabled() bool { return boolOr(p.Enabled, true) }
func (p PluginsConfig) GetDir() string   { return stringOr(p.Dir, "plugins") }

// GetTimeout returns the per-hook execution timeout.
func (p PluginsConfig) GetTimeout() time.Duration {
	return durationOr(p.Timeout, 5*time.Second)
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func float64Or(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}
