package recorder

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/speedcam/internal/tracking"
)

// Colours used on saved images.
var (
	MotionAreaColor = color.RGBA{R: 255, A: 255}
	TrackBoxColor   = color.RGBA{G: 255, A: 255}
	HashColor       = color.RGBA{R: 255, A: 255}
	TextColor       = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// CalibrationPrefix names calibration images, which never go into sub-directories.
const CalibrationPrefix = "calib-"

// ErrImageWrite is returned when the encoder fails to write an image file.
var ErrImageWrite = errors.New("failed to write image")

// ImageOptions controls how completed measurements are rendered and stored.
type ImageOptions struct {
	Dir            string
	Prefix         string
	JPEGQuality    int
	Bigger         float64
	ShowMotionArea bool
	FilenameSpeed  bool
	TextOn         bool
	TextBottom     bool
	FontScale      float64
	FontThickness  int
	MaxFiles       int
	RecentMax      int
	RecentDir      string
	SubDirMaxFiles int
	SubDirMaxHours float64
	Calibrate      bool
	FieldOfView    image.Rectangle
	Units          string
	Calibration    tracking.Calibration
}

// ImageWriter saves annotated speed images.
type ImageWriter struct {
	opts ImageOptions
	mu   sync.Mutex
}

// NewImageWriter creates an ImageWriter.
func NewImageWriter(opts ImageOptions) *ImageWriter {
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 95
	}
	if opts.Bigger <= 0 {
		opts.Bigger = 1
	}
	if opts.FontScale <= 0 {
		opts.FontScale = 0.5
	}
	if opts.FontThickness <= 0 {
		opts.FontThickness = 1
	}
	return &ImageWriter{opts: opts}
}

// ImageFilename returns dir/prefix + YYYYMMDD_HHMMSS + tenths of a second + ".jpg".
func ImageFilename(dir, prefix string, ts time.Time) string {
	name := fmt.Sprintf("%s%s%d.jpg", prefix, ts.Format("20060102_150405"), ts.Nanosecond()/100_000_000)
	return filepath.Join(dir, name)
}

// SpeedText formats the caption written on speed images.
func SpeedText(speed float64, units string, ts time.Time) string {
	return fmt.Sprintf("SPEED %.1f %s - %s", speed, units, ts.Format("2006/01/02, 15:04:05"))
}

// target returns the directory and file prefix for a new image.
func (w *ImageWriter) target(speed float64, ts time.Time) (string, string, error) {
	if w.opts.Calibrate {
		return w.opts.Dir, CalibrationPrefix, nil
	}
	dir, err := SubDir(w.opts.Dir, w.opts.Prefix, w.opts.SubDirMaxHours, w.opts.SubDirMaxFiles, ts)
	if err != nil {
		return "", "", err
	}
	prefix := w.opts.Prefix
	if w.opts.FilenameSpeed {
		prefix += strconv.Itoa(int(speed+0.5)) + "-"
	}
	return dir, prefix, nil
}

// Save renders frame with the measurement of ev and writes it as a JPEG. It returns
// the written path.
func (w *ImageWriter) Save(frame gocv.Mat, ev tracking.CompletionEvent, ts time.Time) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if frame.Empty() {
		return "", errors.New("empty frame")
	}

	dir, prefix, err := w.target(ev.FinalSpeed, ts)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	if w.opts.MaxFiles > 0 && !w.opts.Calibrate {
		if _, err := DeleteOldFiles(w.opts.MaxFiles, dir, w.opts.Prefix); err != nil {
			log.Printf("Image retention in %s failed: %v", dir, err)
		}
	}
	path := ImageFilename(dir, prefix, ts)

	img := frame.Clone()
	defer img.Close()

	if w.opts.Calibrate {
		DrawHashMarks(&img)
		DrawFieldOfView(&img, w.opts.FieldOfView, MotionAreaColor)
		w.logCalibration(ev.FinalSpeed, path)
	}
	if w.opts.ShowMotionArea {
		DrawFieldOfView(&img, w.opts.FieldOfView, MotionAreaColor)
		if len(ev.History) > 0 {
			last := ev.Last()
			box := image.Rect(last.Left, last.Y, last.Left+last.Width, last.Y+last.Height).
				Add(w.opts.FieldOfView.Min)
			gocv.Rectangle(&img, box, TrackBoxColor, 2)
		}
	}

	big := gocv.NewMat()
	defer big.Close()
	size := image.Pt(int(float64(img.Cols())*w.opts.Bigger), int(float64(img.Rows())*w.opts.Bigger))
	gocv.Resize(img, &big, size, 0, 0, gocv.InterpolationLinear)
	if big.Empty() {
		return "", fmt.Errorf("resize to %v failed", size)
	}

	if w.opts.TextOn {
		w.drawText(&big, SpeedText(ev.FinalSpeed, w.opts.Units, ts))
	}

	if !gocv.IMWriteWithParams(path, big, []int{gocv.IMWriteJpegQuality, w.opts.JPEGQuality}) {
		return "", fmt.Errorf("%w: %s", ErrImageWrite, path)
	}
	log.Printf("Saved %s", path)

	if w.opts.RecentMax > 0 && !w.opts.Calibrate {
		if err := SaveRecent(w.opts.RecentMax, w.opts.RecentDir, path, w.opts.Prefix); err != nil {
			log.Printf("Save recent %s failed: %v", path, err)
		}
	}
	return path, nil
}

func (w *ImageWriter) drawText(img *gocv.Mat, text string) {
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, w.opts.FontScale, w.opts.FontThickness)
	x := (img.Cols() - size.X) / 2
	if x < 2 {
		x = 2
	}
	y := 10 + size.Y
	if w.opts.TextBottom {
		y = img.Rows() - 50
	}
	gocv.PutText(img, text, image.Pt(x, y), gocv.FontHersheySimplex, w.opts.FontScale, TextColor, w.opts.FontThickness)
}

func (w *ImageWriter) logCalibration(speed float64, path string) {
	cal := w.opts.Calibration
	log.Println("----------------------------- Create Calibration Image -----------------------------")
	log.Printf("  Instructions for using %s image for camera calibration", path)
	log.Println("  Note: If there is only one lane then L2R and R2L settings will be the same")
	log.Println("  1 - Use the same size reference object for both directions, e.g. the same vehicle")
	log.Printf("  2 - For objects moving L2R record cal_obj_px_l2r using the hash marks every 10 px. Current setting is %.0f px", cal.PxL2R)
	log.Printf("  3 - Record cal_obj_mm_l2r, the real length of the object. Current setting is %.0f mm", cal.MmL2R)
	log.Printf("      If the recorded speed %.1f %s is too low, increase cal_obj_mm_l2r or vice versa", speed, w.opts.Units)
	log.Printf("  Repeat with an object moving R2L and update cal_obj_px_r2l (%.0f px) and cal_obj_mm_r2l (%.0f mm)", cal.PxR2L, cal.MmR2L)
	log.Println("  4 - Do a speed test to confirm the settings, then set calibration.calibrate to false")
}

// DrawFieldOfView outlines the motion tracking area.
func DrawFieldOfView(img *gocv.Mat, fov image.Rectangle, c color.RGBA) {
	if fov.Empty() {
		return
	}
	gocv.Line(img, image.Pt(fov.Min.X, fov.Min.Y), image.Pt(fov.Max.X, fov.Min.Y), c, 1)
	gocv.Line(img, image.Pt(fov.Min.X, fov.Max.Y), image.Pt(fov.Max.X, fov.Max.Y), c, 1)
	gocv.Line(img, image.Pt(fov.Min.X, fov.Min.Y), image.Pt(fov.Min.X, fov.Max.Y), c, 1)
	gocv.Line(img, image.Pt(fov.Max.X, fov.Min.Y), image.Pt(fov.Max.X, fov.Max.Y), c, 1)
}

// HashMarks returns the x positions of the calibration hash marks for an image width.
func HashMarks(width int) []int {
	var xs []int
	for x := 10; x < width-9; x += 10 {
		xs = append(xs, x)
	}
	return xs
}

// DrawHashMarks draws 30 px vertical marks every 10 px across the middle of the image.
func DrawHashMarks(img *gocv.Mat) {
	mid := img.Rows() / 2
	for _, x := range HashMarks(img.Cols()) {
		gocv.Line(img, image.Pt(x, mid), image.Pt(x, mid+30), HashColor, 1)
	}
}
