// Package testdata builds synthetic camera frames for pipeline tests.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// FrameWidth and FrameHeight match the default camera resolution.
const (
	FrameWidth  = 640
	FrameHeight = 480
)

// BlankFrames returns n black frames. The caller closes them.
func BlankFrames(n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		m := gocv.NewMatWithSize(FrameHeight, FrameWidth, gocv.MatTypeCV8UC3)
		frames[i] = &m
	}
	return frames
}

// MovingBlock returns n black frames with a filled white w x h block whose left
// edge starts at x0 and advances step pixels per frame, centred vertically on cy.
func MovingBlock(n, x0, step, w, h, cy int) []*gocv.Mat {
	white := color.RGBA{R: 255, G: 255, B: 255}
	frames := BlankFrames(n)
	for i, m := range frames {
		x := x0 + i*step
		gocv.Rectangle(m, image.Rect(x, cy-h/2, x+w, cy+h/2), white, -1)
	}
	return frames
}

// CloseAll releases frames.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
