package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera replays a fixed list of frames. Timestamps advance by 1/fps from
// zero and keep growing across loops, so the tracker sees a steady clock.
type MockCamera struct {
	mu     sync.Mutex
	frames []*gocv.Mat
	loop   bool
	fps    float64
	open   bool
	next   int   // position in frames
	served int64 // frames handed out since Open
}

func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{frames: frames, loop: loop, fps: DefaultFPS}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	c.open, c.next, c.served = true, 0, 0
	c.mu.Unlock()
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	return nil
}

// ReadFrame returns a clone of the next frame. An empty list behaves like an
// exhausted one.
func (c *MockCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrCameraNotOpen
	}
	if c.next == len(c.frames) && c.loop && len(c.frames) > 0 {
		c.next = 0
	}
	if c.next >= len(c.frames) {
		return nil, ErrEndOfStream
	}

	f := &Frame{
		Image:     c.frames[c.next].Clone(),
		Timestamp: float64(c.served) / c.fps,
		Index:     c.served + 1,
	}
	c.next++
	c.served++
	return f, nil
}

func (c *MockCamera) SetFPS(fps float64) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	c.fps = fps
	c.mu.Unlock()
}

func (c *MockCamera) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
