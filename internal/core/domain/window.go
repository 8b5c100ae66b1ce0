package domain

// HeartRateWindow is a fixed-capacity FIFO ring of the most recent samples.
// Pushing into a full window evicts the oldest value.
type HeartRateWindow struct {
	buf   []int
	start int
	size  int
}

// NewHeartRateWindow creates a window holding up to capacity samples.
func NewHeartRateWindow(capacity int) *HeartRateWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &HeartRateWindow{buf: make([]int, capacity)}
}

// Push appends hr, evicting the oldest sample when full.
func (w *HeartRateWindow) Push(hr int) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = hr
		w.size++
		return
	}
	w.buf[w.start] = hr
	w.start = (w.start + 1) % len(w.buf)
}

// Len reports the number of samples held.
func (w *HeartRateWindow) Len() int { return w.size }

// Cap reports the window capacity.
func (w *HeartRateWindow) Cap() int { return len(w.buf) }

// Last returns the newest sample.
func (w *HeartRateWindow) Last() (int, bool) {
	if w.size == 0 {
		return 0, false
	}
	return w.buf[(w.start+w.size-1)%len(w.buf)], true
}

// Values copies the samples oldest first.
func (w *HeartRateWindow) Values() []int {
	out := make([]int, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}
