package realtime

// latencyWindow is a fixed-size ring of heartbeat round-trip samples in
// milliseconds. Owned by the Manager and accessed under its lock.
type latencyWindow struct {
	samples []float64
	next    int
	filled  bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 1
	}
	return &latencyWindow{samples: make([]float64, size)}
}

// push records a round-trip sample, displacing the oldest once full.
func (w *latencyWindow) push(ms float64) {
	w.samples[w.next] = ms
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

// average returns the rolling mean, or 0 with ok=false before any sample.
func (w *latencyWindow) average() (float64, bool) {
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += w.samples[i]
	}
	return sum / float64(n), true
}

// pingPayload is the heartbeat request body; the broker echoes it back in
// the pong so the round trip can be timed without server clocks.
type pingPayload struct {
	SentAt int64 `json:"sent_at"` // unix milliseconds
}
