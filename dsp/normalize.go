package dsp

import (
	"math"
	"time"

	"github.com/gopxl/beep"
)

// Limiter defaults, chosen for transparent limiting of normalized material.
const (
	LimiterThresholdDB = -1.0
	LimiterKneeDB      = 4.0
	LimiterAttack      = 5 * time.Millisecond
	LimiterRelease     = 100 * time.Millisecond
)

// Normalize is a feedforward limiter in the log domain, after Giannoulis,
// Massberg & Reiss, "Digital Dynamic Range Compressor Design, A Tutorial
// and Analysis" (JAES 2012).
//
// Peak detection runs per channel but gain reduction uses the louder
// channel, so the stereo image does not wander during limiting.
type Normalize struct {
	s beep.Streamer

	ratio     float64
	threshold float64
	kneeWidth float64
	attack    float64
	release   float64

	integrators [2]float64
	peaks       [2]float64
}

// NewNormalize wraps s with a limiter. ratio is the gain stage applied
// before limiting (the normalization target over the track gain);
// threshold and kneeWidth are in dB; attack and release shape how fast the
// limiter follows level changes.
func NewNormalize(s beep.Streamer, sampleRate beep.SampleRate, ratio, threshold, kneeWidth float64, attack, release time.Duration) *Normalize {
	return &Normalize{
		s:         s,
		ratio:     ratio,
		threshold: threshold,
		kneeWidth: kneeWidth,
		attack:    durationToCoefficient(attack, sampleRate),
		release:   durationToCoefficient(release, sampleRate),
	}
}

// Reset clears the envelope state. Call after seeking.
func (nz *Normalize) Reset() {
	nz.integrators = [2]float64{}
	nz.peaks = [2]float64{}
}

func (nz *Normalize) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = nz.s.Stream(samples)
	for i := range samples[:n] {
		for c := 0; c < 2; c++ {
			sample := samples[i][c] * nz.ratio
			limiterDB := gainReductionDB(sample, nz.threshold, nz.kneeWidth)

			// Smooth, decoupled peak detector.
			nz.integrators[c] = math.Max(
				limiterDB,
				nz.release*nz.integrators[c]+(1.0-nz.release)*limiterDB,
			)
			nz.peaks[c] = nz.attack*nz.peaks[c] + (1.0-nz.attack)*nz.integrators[c]
			samples[i][c] = sample
		}

		// Couple the gain on the louder channel to keep the image stable.
		maxPeak := math.Max(nz.peaks[0], nz.peaks[1])
		gain := DBToRatio(-maxPeak)
		samples[i][0] *= gain
		samples[i][1] *= gain
	}
	return n, ok
}

func (nz *Normalize) Err() error {
	return nz.s.Err()
}

// gainReductionDB computes the reduction for one sample with a soft knee.
// The common case is a sample below the knee, which costs one comparison.
func gainReductionDB(sample, threshold, kneeWidth float64) float64 {
	// Slight DC offset: silence is -Inf dB and would wedge the limiter.
	biasDB := RatioToDB(math.Abs(sample)+math.SmallestNonzeroFloat64) - threshold
	kneeBoundaryDB := biasDB * 2.0

	switch {
	case kneeBoundaryDB < -kneeWidth:
		return ZeroDB
	case math.Abs(kneeBoundaryDB) <= kneeWidth:
		d := kneeBoundaryDB + kneeWidth
		return d * d / (8.0 * kneeWidth)
	default:
		return biasDB
	}
}

// durationToCoefficient converts a response time to a one-pole smoothing
// coefficient. Longer times give higher coefficients and slower response.
func durationToCoefficient(d time.Duration, sampleRate beep.SampleRate) float64 {
	return math.Exp(-1.0 / (d.Seconds() * float64(sampleRate)))
}
