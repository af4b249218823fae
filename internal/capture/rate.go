package capture

// RateMeter measures a frame rate from frame timestamps over a sliding window.
// It is not safe for concurrent use.
type RateMeter struct {
	window int
	stamps []float64
	next   int
	filled bool
}

// NewRateMeter returns a meter averaging over the last window frames.
func NewRateMeter(window int) *RateMeter {
	if window < 2 {
		window = 2
	}
	return &RateMeter{window: window, stamps: make([]float64, window)}
}

// Tick records a frame timestamp in seconds.
func (m *RateMeter) Tick(ts float64) {
	m.stamps[m.next] = ts
	m.next = (m.next + 1) % m.window
	if m.next == 0 {
		m.filled = true
	}
}

// Rate returns frames per second over the window. It reports false until the
// window has filled once.
func (m *RateMeter) Rate() (float64, bool) {
	if !m.filled {
		return 0, false
	}
	newest := m.stamps[(m.next+m.window-1)%m.window]
	oldest := m.stamps[m.next]
	span := newest - oldest
	if span <= 0 {
		return 0, false
	}
	return float64(m.window-1) / span, true
}

// Reset discards all recorded timestamps.
func (m *RateMeter) Reset() {
	m.next = 0
	m.filled = false
}
