package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/speedcam/internal/capture"
	"github.com/ayusman/speedcam/internal/monitoring"
	"github.com/ayusman/speedcam/internal/plugin"
	"github.com/ayusman/speedcam/internal/recorder"
	"github.com/ayusman/speedcam/internal/tracking"
)

// Pipeline timing constants.
const (
	// readRetryDelay is the pause after a failed frame read.
	readRetryDelay = 10 * time.Millisecond
	// previewInterval limits how often the preview JPEG is re-encoded.
	previewInterval = 100 * time.Millisecond
	// maintenanceInterval is how often housekeeping and graph timers are checked.
	maintenanceInterval = time.Minute
	// fpsLogInterval is how often the measured rate is logged when enabled.
	fpsLogInterval = 10 * time.Second
)

var trackColor = color.RGBA{G: 255, A: 255}

// live is implemented by sources that run in real time.
type live interface {
	IsLive() bool
}

// Run opens the camera and processes frames until ctx is cancelled or the source
// ends. It returns nil on cancellation and at the end of a non-looping file, and
// ErrAcquisitionTimeout when the source stops delivering frames.
//
// Pipeline:
//  1. A producer goroutine reads frames into a bounded queue. Live sources drop
//     the oldest queued frame when the queue is full; files wait.
//  2. The consumer runs the detector and the tracking engine on each frame.
//  3. Completed tracks that pass the speed gate are saved as an image, a database
//     record and a CSV row, and are handed to plugins and Notify.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("pipeline already running")
	}
	defer a.running.Store(false)

	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer func() {
		if err := a.camera.Close(); err != nil {
			log.Printf("Error closing camera: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan *capture.Frame, a.settings.Camera.GetQueueSize())
	produced := make(chan error, 1)
	go func() {
		produced <- a.produce(ctx, queue)
		close(queue)
	}()

	if a.dispatcher != nil {
		go a.dispatcher.Run(ctx)
	}
	go a.maintain(ctx)

	log.Println("Detection pipeline started")
	for frame := range queue {
		a.process(frame)
		frame.Close()
	}
	log.Println("Detection pipeline stopped")

	err := <-produced
	switch {
	case errors.Is(err, capture.ErrEndOfStream):
		log.Println("End of video stream")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// produce reads frames into queue until ctx ends or the source fails.
func (a *App) produce(ctx context.Context, queue chan *capture.Frame) error {
	drop := false
	if l, ok := a.camera.(live); ok {
		drop = l.IsLive()
	}
	timeout := a.settings.Camera.GetAcquisitionTimeout()
	lastFrame := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := a.camera.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrEndOfStream) || errors.Is(err, capture.ErrCameraNotOpen) {
				return err
			}
			if timeout > 0 && time.Since(lastFrame) > timeout {
				return fmt.Errorf("%w: %s: %v", ErrAcquisitionTimeout, timeout, err)
			}
			monitoring.Logf("frame read failed: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readRetryDelay):
			}
			continue
		}
		lastFrame = time.Now()

		if !drop {
			select {
			case queue <- frame:
			case <-ctx.Done():
				frame.Close()
				return ctx.Err()
			}
			continue
		}

		select {
		case queue <- frame:
		default:
			// Only this goroutine sends, so after removing one frame there is room.
			select {
			case old := <-queue:
				old.Close()
				a.dropped.Add(1)
			default:
			}
			queue <- frame
		}
	}
}

// process runs detection and tracking on one frame.
func (a *App) process(frame *capture.Frame) {
	a.frames.Add(1)
	a.meter.Tick(frame.Timestamp)
	if rate, ok := a.meter.Rate(); ok {
		a.engine.SetStreamFPS(rate)
	}

	if !a.IsEnabled() {
		a.updatePreview(frame.Image, nil)
		return
	}
	if a.rearm.Swap(false) {
		a.detector.Reset()
		a.engine.Reset()
		monitoring.Logf("frame %d: detection resumed, tracking state cleared", frame.Index)
	}

	regions, err := a.detector.Detect(&frame.Image)
	if err != nil {
		log.Printf("Error detecting motion: %v", err)
		return
	}

	res := a.engine.Process(frame.Timestamp, regions)
	if len(res.Rejections) > 0 {
		monitoring.Logf("frame %d: %d regions, %d valid, rejections %v",
			frame.Index, res.Regions, res.Valid, res.Rejections)
	}

	tracks := a.engine.Tracks()
	fps, _ := a.meter.Rate()
	a.mu.Lock()
	a.status.Tracks = tracks
	a.status.CooldownRemaining = res.CooldownRemaining
	a.status.FPS = fps
	a.mu.Unlock()

	for _, ev := range res.Completed {
		a.complete(frame, ev)
	}
	a.updatePreview(frame.Image, tracks)
}

// complete records a finished track.
func (a *App) complete(frame *capture.Frame, ev tracking.CompletionEvent) {
	last := ev.Last()
	units := a.settings.Motion.GetSpeedUnits()
	log.Printf("Track %d complete: %.1f %s %s (stddev %.2f, %d samples, %d px in %.2fs) at x=%d y=%d",
		ev.TrackID, ev.FinalSpeed, units, ev.Direction, ev.FinalStdDev,
		len(ev.SpeedSamples), ev.TotalDistancePx, ev.TotalTimeS, last.X, last.Y)

	calibrating := a.settings.Calibration.GetCalibrate()
	if !ev.GatedForCapture && !calibrating {
		monitoring.Logf("track %d speed %.1f outside capture range", ev.TrackID, ev.FinalSpeed)
		return
	}

	now := a.now()
	path, err := a.images.Save(frame.Image, ev, now)
	if err != nil {
		log.Printf("Error saving image for track %d: %v", ev.TrackID, err)
	}

	rec := a.record(ev, path, now, frame.Image.Cols(), frame.Image.Rows())
	if a.store != nil && a.settings.Storage.GetLogToDB() && !calibrating {
		if err := a.store.Speeds().Create(rec); err != nil {
			log.Printf("Error storing speed record: %v", err)
			rec.ID = ""
		}
	}
	if a.csv != nil && !calibrating {
		if err := a.csv.Append(recorder.CSVRow{
			Time:      now,
			Speed:     ev.FinalSpeed,
			Units:     units,
			StdDev:    ev.FinalStdDev,
			ImagePath: path,
			Area:      last.Area,
			Direction: ev.Direction.String(),
			Location:  a.settings.Camera.GetLocation(),
		}); err != nil {
			log.Printf("Error writing CSV log: %v", err)
		}
	}

	a.measurements.Add(1)
	a.mu.Lock()
	a.status.LastSpeed = ev.FinalSpeed
	a.status.LastDirection = ev.Direction.String()
	a.status.LastTime = &now
	a.mu.Unlock()

	if a.dispatcher != nil {
		event := plugin.EventSpeed
		if calibrating {
			event = plugin.EventCalibration
		}
		if !a.dispatcher.Submit(plugin.Job{Event: event, RecordID: rec.ID, Record: rec}) {
			log.Printf("Plugin queue full, dropped track %d", ev.TrackID)
		}
	}
	if a.notify != nil {
		a.notify(Measurement{Record: rec, Event: ev})
	}
}

// updatePreview encodes an annotated copy of img for streaming.
func (a *App) updatePreview(img gocv.Mat, tracks []tracking.TrackInfo) {
	a.mu.RLock()
	stale := a.seq == 0 || time.Since(a.lastPreview) >= previewInterval
	a.mu.RUnlock()
	if !stale || img.Empty() {
		return
	}

	annotated := img.Clone()
	defer annotated.Close()

	fov := a.settings.FieldOfView()
	recorder.DrawFieldOfView(&annotated, fov, recorder.MotionAreaColor)
	for _, t := range tracks {
		gocv.Circle(&annotated, image.Pt(t.X, t.Y).Add(fov.Min), 4, trackColor, 2)
	}

	buf, err := gocv.IMEncode(".jpg", annotated)
	if err != nil {
		monitoring.Logf("preview encode failed: %v", err)
		return
	}
	data := bytes.Clone(buf.GetBytes())
	buf.Close()

	a.mu.Lock()
	a.preview = data
	a.seq++
	a.lastPreview = time.Now()
	a.mu.Unlock()
}

// maintain runs the free space check, periodic graphs and rate logging.
func (a *App) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	fpsTicker := time.NewTicker(fpsLogInterval)
	defer fpsTicker.Stop()

	lastGraphs := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-fpsTicker.C:
			if a.settings.Logging.GetLogFPS() {
				st := a.Status()
				log.Printf("Processing %.1f fps, %d frames, %d dropped", st.FPS, st.Frames, st.Dropped)
			}
		case now := <-ticker.C:
			a.runMaintenance(now, &lastGraphs)
		}
	}
}

func (a *App) runMaintenance(now time.Time, lastGraphs *time.Time) {
	if a.keeper != nil {
		if _, err := a.keeper.Check(now); err != nil {
			log.Printf("Free space check failed: %v", err)
		}
	}

	hours := a.settings.Graphs.GetRunTimerHours()
	if a.graphs == nil || hours <= 0 {
		return
	}
	if now.Sub(*lastGraphs) < time.Duration(hours*float64(time.Hour)) {
		return
	}
	*lastGraphs = now
	if _, err := a.graphs.RunAll(a.settings.Graphs.GetRuns()); err != nil {
		log.Printf("Graph update failed: %v", err)
	}
}
