package dsp

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
)

// FadeDuration is how long transitions take. Long enough to avoid clicks,
// short enough to feel immediate.
const FadeDuration = 50 * time.Millisecond

// Ramp is a gain envelope that moves linearly toward its target over
// FadeDuration. Play, pause, stop and track changes fade through it so
// level steps never hit the device as discontinuities.
type Ramp struct {
	s      beep.Streamer
	step   float64
	target atomic.Uint64
	cur    float64
}

// NewRamp wraps s with a fade envelope starting at the initial gain.
func NewRamp(s beep.Streamer, sampleRate beep.SampleRate, initial float64) *Ramp {
	r := &Ramp{
		s:    s,
		step: 1.0 / (FadeDuration.Seconds() * float64(sampleRate)),
		cur:  initial,
	}
	r.target.Store(math.Float64bits(initial))
	return r
}

// SetTarget sets the gain the envelope fades toward. Safe to call from any
// goroutine.
func (r *Ramp) SetTarget(gain float64) {
	r.target.Store(math.Float64bits(gain))
}

// Target returns the gain the envelope is fading toward.
func (r *Ramp) Target() float64 {
	return math.Float64frombits(r.target.Load())
}

// Settled reports whether the envelope has reached its target.
func (r *Ramp) Settled() bool {
	return r.cur == r.Target()
}

func (r *Ramp) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = r.s.Stream(samples)
	target := r.Target()
	for i := range samples[:n] {
		if r.cur < target {
			r.cur = math.Min(r.cur+r.step, target)
		} else if r.cur > target {
			r.cur = math.Max(r.cur-r.step, target)
		}
		samples[i][0] *= r.cur
		samples[i][1] *= r.cur
	}
	return n, ok
}

func (r *Ramp) Err() error {
	return r.s.Err()
}
