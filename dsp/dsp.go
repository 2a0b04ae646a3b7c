// Package dsp implements the audio processing chain that sits between the
// decoder and the output device: fade ramps, a feedforward limiter,
// equal-loudness compensation and logarithmic volume with TPDF dither and
// optional noise shaping. Everything operates on beep's [][2]float64 frames.
package dsp

import "math"

// UnityGain is no amplification or attenuation.
const UnityGain = 1.0

// ZeroDB is the reference level.
const ZeroDB = 0.0

// RatioToDB converts a linear amplitude ratio to decibels.
func RatioToDB(ratio float64) float64 {
	return 20.0 * math.Log10(ratio)
}

// DBToRatio converts decibels to a linear amplitude ratio.
func DBToRatio(db float64) float64 {
	return math.Pow(10.0, db/20.0)
}
