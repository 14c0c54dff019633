package advisor

// HistoryCapacity is the number of samples kept in a SampleHistory.
const HistoryCapacity = 10

// ring is a fixed capacity FIFO. Pushing onto a full ring overwrites the oldest entry.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// last returns a copy of the newest k entries, oldest first.
func (r *ring[T]) last(k int) []T {
	if k > r.n {
		k = r.n
	}
	if k < 0 {
		k = 0
	}
	out := make([]T, k)
	offset := r.n - k
	for i := 0; i < k; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}

func (r *ring[T]) len() int {
	return r.n
}

func (r *ring[T]) reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start, r.n = 0, 0
}

// SampleHistory is the rolling window of the most recent samples.
// Samples are kept in insertion order. Out of order timestamps are stored as given and
// left for the RateEstimator to discard.
type SampleHistory struct {
	samples *ring[Sample]
}

func NewSampleHistory() *SampleHistory {
	return &SampleHistory{samples: newRing[Sample](HistoryCapacity)}
}

// Push appends a sample, evicting the oldest one once the history is full.
func (h *SampleHistory) Push(s Sample) {
	h.samples.push(s)
}

// Recent returns up to the last k samples in chronological order.
func (h *SampleHistory) Recent(k int) []Sample {
	return h.samples.last(k)
}

// All returns every sample in the window.
func (h *SampleHistory) All() []Sample {
	return h.samples.last(h.samples.len())
}

func (h *SampleHistory) Len() int {
	return h.samples.len()
}

// Latest returns the newest sample, false if the history is empty.
func (h *SampleHistory) Latest() (Sample, bool) {
	recent := h.samples.last(1)
	if len(recent) == 0 {
		return Sample{}, false
	}
	return recent[0], true
}

// Clear drops all samples.
func (h *SampleHistory) Clear() {
	h.samples.reset()
}
