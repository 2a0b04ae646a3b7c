package dsp

// errorHistory is a fixed-capacity ring of past quantization errors used by
// the noise shaping filter. Index 0 is the most recent error. It is only
// touched from the audio callback, so no locking.
type errorHistory struct {
	buf      []float64
	position int
}

func newErrorHistory(n int) *errorHistory {
	return &errorHistory{buf: make([]float64, n)}
}

func (h *errorHistory) push(v float64) {
	h.buf[h.position] = v
	h.position = (h.position + 1) % len(h.buf)
}

func (h *errorHistory) get(i int) float64 {
	n := len(h.buf)
	return h.buf[(h.position+n-1-i)%n]
}

func (h *errorHistory) reset() {
	for i := range h.buf {
		h.buf[i] = 0
	}
	h.position = 0
}
