package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/speedcam/internal/tracking"
)

// MockDetector is a test implementation of the Detector interface.
// It returns a queued sequence of region sets, one per Detect call.
type MockDetector struct {
	mu     sync.Mutex
	frames [][]tracking.Region
	next   int
	calls  int
	resets int
	err    error
}

// NewMockDetector creates a new MockDetector that plays back frames in order and
// then reports no motion.
func NewMockDetector(frames ...[]tracking.Region) *MockDetector {
	return &MockDetector{frames: frames}
}

// Queue appends region sets to the playback sequence.
func (m *MockDetector) Queue(frames ...[]tracking.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frames...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of Detect calls so far.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Resets returns the number of Reset calls so far.
func (m *MockDetector) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Reset is counted but keeps the playback position.
func (m *MockDetector) Reset() {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
}

// Detect returns the next queued regions or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]tracking.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.next >= len(m.frames) {
		return nil, nil
	}
	regions := m.frames[m.next]
	m.next++
	return regions, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// PassingVehicle returns the region sets of a box of width w and height h moving
// step px per frame from x0, with centre height cy.
func PassingVehicle(x0, step, frames, w, h, cy int) [][]tracking.Region {
	out := make([][]tracking.Region, frames)
	for i := range out {
		x := x0 + i*step
		out[i] = []tracking.Region{tracking.NewRegion(x, cy-h/2, w, h, w*h)}
	}
	return out
}
