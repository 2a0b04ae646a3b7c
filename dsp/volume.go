package dsp

import (
	"math"
	"sync/atomic"
)

// DefaultBitsPerSample is assumed when a track does not report its depth.
const DefaultBitsPerSample = 16

// DCCompensation shifts truncation toward rounding during quantization.
const DCCompensation = 0.5

// logVolumeGrowthRate is ln(1000), mapping the 0..1 control scale onto a
// 60 dB dynamic range.
const logVolumeGrowthRate = 6.907755278982137

// LogVolume maps a linear control value (0.0..1.0) onto a logarithmic
// amplitude curve spanning 60 dB. Below 0.1 the curve is blended with a
// linear taper so the output reaches true silence instead of -60 dB.
func LogVolume(v float64) float64 {
	if v <= 0 {
		return 0
	}
	if v >= UnityGain {
		return UnityGain
	}
	gain := math.Exp(logVolumeGrowthRate*v) / 1000.0
	if v < 0.1 {
		gain *= v * 10.0
	}
	return gain
}

// Volume is the shared volume control of the playback chain. The audio
// callback reads it for every sample, so the level and quantization step
// are kept as atomic bit patterns instead of behind a mutex.
//
// When constructed with a DAC bit depth it also tracks the quantization
// step the dither stage needs. The step follows the volume: attenuating
// the signal costs effective bits, and the dither amplitude follows suit.
type Volume struct {
	volume atomic.Uint64

	// dacBits <= 0 disables dithering entirely.
	dacBits          float64
	trackBits        atomic.Uint32
	quantizationStep atomic.Uint64
}

// NewVolume creates a volume control at the given initial level. dacBits is
// the output device word length; pass 0 to disable dithering.
func NewVolume(volume float64, dacBits float64) *Volume {
	v := &Volume{dacBits: dacBits}
	v.trackBits.Store(DefaultBitsPerSample)
	if dacBits > 0 {
		step := quantizationStep(dacBits, DefaultBitsPerSample, volume)
		v.quantizationStep.Store(math.Float64bits(step))
	}
	v.volume.Store(math.Float64bits(volume))
	return v
}

// Volume returns the current level (0.0 to 1.0).
func (v *Volume) Volume() float64 {
	return math.Float64frombits(v.volume.Load())
}

// SetVolume stores a new level and recomputes the quantization step.
// Returns the previous level.
//
// The step is stored before the volume: if the old volume was low, dither
// was sized for few significant bits, and raising the volume first would
// make that audible for a moment.
func (v *Volume) SetVolume(volume float64) float64 {
	next := volume
	if v.dacBits > 0 {
		step := quantizationStep(v.dacBits, v.TrackBitDepth(), volume)
		v.quantizationStep.Store(math.Float64bits(step))

		// Headroom for the dither and DC compensation at full scale.
		next = math.Min(next, UnityGain-(1.0+DCCompensation)*step)
	}
	prev := v.volume.Swap(math.Float64bits(next))
	return math.Float64frombits(prev)
}

// TrackBitDepth returns the bit depth of the source material.
func (v *Volume) TrackBitDepth() uint32 {
	return v.trackBits.Load()
}

// SetTrackBitDepth records the source material depth and recomputes the
// quantization step. Zero selects the default depth. No effect when
// dithering is disabled.
func (v *Volume) SetTrackBitDepth(bits uint32) {
	if v.dacBits <= 0 {
		return
	}
	if bits == 0 {
		bits = DefaultBitsPerSample
	}
	step := quantizationStep(v.dacBits, bits, v.Volume())
	v.trackBits.Store(bits)
	v.quantizationStep.Store(math.Float64bits(step))
}

// QuantizationStep returns the current dither step size, or false when
// dithering is disabled.
func (v *Volume) QuantizationStep() (float64, bool) {
	if v.dacBits <= 0 {
		return 0, false
	}
	return math.Float64frombits(v.quantizationStep.Load()), true
}

// EffectiveBitDepth returns the output resolution after volume scaling,
// or false when dithering is disabled.
func (v *Volume) EffectiveBitDepth() (float64, bool) {
	if v.dacBits <= 0 {
		return 0, false
	}
	return effectiveBitDepth(v.dacBits, v.TrackBitDepth(), v.Volume()), true
}

// effectiveBitDepth scales the DAC resolution by the volume attenuation,
// capped at the track depth. The 6-bit floor keeps dither steps below the
// just noticeable difference during fade-outs and avoids -Inf at zero
// volume.
func effectiveBitDepth(dacBits float64, trackBits uint32, volume float64) float64 {
	return math.Max(math.Min(float64(trackBits), dacBits+math.Log2(volume)), 6.0)
}

// quantizationStep returns the dither step size for the effective
// resolution.
func quantizationStep(dacBits float64, trackBits uint32, volume float64) float64 {
	return 1.0 / math.Pow(2.0, effectiveBitDepth(dacBits, trackBits, volume)-1.0)
}
