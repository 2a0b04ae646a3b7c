package dsp

import (
	"math"
	"testing"
)

// constStreamer yields the same value on both channels forever.
type constStreamer struct {
	value float64
}

func (c constStreamer) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i][0] = c.value
		samples[i][1] = c.value
	}
	return len(samples), true
}

func (c constStreamer) Err() error { return nil }

// sliceStreamer plays back a fixed sequence once.
type sliceStreamer struct {
	frames [][2]float64
	pos    int
}

func (s *sliceStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *sliceStreamer) Err() error { return nil }

func TestRatioToDBRoundTrip(t *testing.T) {
	for _, ratio := range []float64{0.001, 0.1, 0.5, 1.0, 2.0} {
		back := DBToRatio(RatioToDB(ratio))
		if math.Abs(back-ratio) > 1e-9*ratio {
			t.Errorf("round trip of %v gave %v", ratio, back)
		}
	}
	if RatioToDB(1.0) != ZeroDB {
		t.Errorf("RatioToDB(1) = %v, want 0", RatioToDB(1.0))
	}
	if math.Abs(RatioToDB(0.5)+6.0206) > 0.001 {
		t.Errorf("RatioToDB(0.5) = %v, want about -6.02", RatioToDB(0.5))
	}
}

func TestErrorHistoryOrder(t *testing.T) {
	h := newErrorHistory(3)
	h.push(1)
	h.push(2)
	h.push(3)
	// get(0) is the most recent.
	for i, want := range []float64{3, 2, 1} {
		if got := h.get(i); got != want {
			t.Errorf("get(%d) = %v, want %v", i, got, want)
		}
	}

	h.push(4) // overwrites 1
	for i, want := range []float64{4, 3, 2} {
		if got := h.get(i); got != want {
			t.Errorf("after wrap, get(%d) = %v, want %v", i, got, want)
		}
	}

	h.reset()
	for i := 0; i < 3; i++ {
		if got := h.get(i); got != 0 {
			t.Errorf("after reset, get(%d) = %v, want 0", i, got)
		}
	}
}
