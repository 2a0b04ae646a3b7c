package dsp

import (
	"math"

	"github.com/gopxl/beep"
)

// ReferenceSPL is the playback calibration level in dB SPL. 83 dB matches
// the K-20 metering standard.
const ReferenceSPL = 83.0

// ISO 226:2013 equal-loudness contour parameters.
const (
	refSPL        = 94.0
	loudnessScale = 4.47e-3
)

var iso226Frequencies = []float64{
	20.0, 25.0, 31.5, 40.0, 50.0, 63.0, 80.0, 100.0, 125.0, 160.0,
	200.0, 250.0, 315.0, 400.0, 500.0, 630.0, 800.0, 1000.0, 1250.0,
	1600.0, 2000.0, 2500.0, 3150.0, 4000.0, 5000.0, 6300.0, 8000.0,
	10000.0, 12500.0,
}

// Acoustic transfer function exponents (alpha_f).
var iso226AlphaF = []float64{
	0.532, 0.506, 0.480, 0.455, 0.432, 0.409, 0.387, 0.367, 0.349,
	0.330, 0.315, 0.301, 0.288, 0.276, 0.267, 0.259, 0.253, 0.250,
	0.246, 0.244, 0.243, 0.243, 0.243, 0.242, 0.242, 0.245, 0.254,
	0.271, 0.301,
}

// Magnitude of linear transfer function (L_U).
var iso226LU = []float64{
	-31.6, -27.2, -23.0, -19.1, -15.9, -13.0, -10.3, -8.1, -6.2,
	-4.5, -3.1, -2.0, -1.1, -0.4, 0.0, 0.3, 0.5, 0.0, -2.7, -4.1,
	-1.0, 1.7, 2.5, 1.2, -2.1, -7.1, -11.2, -10.7, -3.1,
}

// Threshold of hearing (T_f).
var iso226TF = []float64{
	78.5, 68.7, 59.5, 51.1, 44.0, 37.5, 31.5, 26.5, 22.1, 17.9,
	14.4, 11.4, 8.6, 6.2, 4.4, 3.0, 2.2, 2.4, 3.5, 1.7, -1.3, -4.2,
	-6.0, -5.4, -1.5, 6.0, 12.6, 13.9, 12.3,
}

const numBands = 6

// Filter bank layout: low shelf, four peaks, high shelf.
var bandFrequencies = [numBands]float64{30.0, 100.0, 500.0, 2000.0, 6000.0, 12000.0}
var bandQ = [numBands]float64{math.Sqrt2 / 2, 1.0, math.Sqrt2, 1.2, 1.5, math.Sqrt2 / 2}

// EqualLoudness compensates for the ear's frequency response at low
// listening levels per ISO 226:2013. A six-band biquad bank boosts the
// bands the ear loses first; the gains follow the current volume, since
// the compensation needed depends on how loud playback actually is.
type EqualLoudness struct {
	s beep.Streamer

	filters    [numBands][2]biquad
	volume     float64
	sampleRate beep.SampleRate
	lufsTarget float64
}

// NewEqualLoudness wraps s with loudness compensation. lufsTarget is the
// normalization target the rest of the chain aims for (typically -15).
func NewEqualLoudness(s beep.Streamer, sampleRate beep.SampleRate, lufsTarget, volume float64) *EqualLoudness {
	eq := &EqualLoudness{
		s:          s,
		volume:     volume,
		sampleRate: sampleRate,
		lufsTarget: lufsTarget,
	}
	eq.rebuild(volume)
	return eq
}

// SetVolume recomputes the band gains for a new volume level.
func (eq *EqualLoudness) SetVolume(volume float64) {
	if 2.0*math.Abs(volume-eq.volume) > 1e-9*(math.Abs(volume)+math.Abs(eq.volume)) {
		eq.rebuild(volume)
		eq.volume = volume
	}
}

// Reset clears the filter states while keeping the coefficients. Call
// after seeking, stale state smears across the jump.
func (eq *EqualLoudness) Reset() {
	eq.rebuild(eq.volume)
}

func (eq *EqualLoudness) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = eq.s.Stream(samples)
	for i := range samples[:n] {
		for c := 0; c < 2; c++ {
			out := samples[i][c]
			for b := range eq.filters {
				out = eq.filters[b][c].run(out)
			}
			samples[i][c] = out
		}
	}
	return n, ok
}

func (eq *EqualLoudness) Err() error {
	return eq.s.Err()
}

func (eq *EqualLoudness) rebuild(volume float64) {
	listeningLevel := ReferenceSPL + eq.lufsTarget
	phon := RatioToDB(volume) + listeningLevel

	for b := 0; b < numBands; b++ {
		freq := bandFrequencies[b]
		gainDB := targetSPL(freq, phon) - targetSPL(freq, listeningLevel)

		var coeffs biquadCoeffs
		switch b {
		case 0:
			coeffs = lowShelf(float64(eq.sampleRate), freq, bandQ[b], gainDB)
		case numBands - 1:
			coeffs = highShelf(float64(eq.sampleRate), freq, bandQ[b], gainDB)
		default:
			coeffs = peakingEQ(float64(eq.sampleRate), freq, bandQ[b], gainDB)
		}
		eq.filters[b][0] = biquad{coeffs: coeffs}
		eq.filters[b][1] = biquad{coeffs: coeffs}
	}
}

// VolumeToPhon converts a linear volume ratio to phons at the calibrated
// listening level.
func VolumeToPhon(volume, lufsTarget float64) float64 {
	return RatioToDB(volume) + ReferenceSPL + lufsTarget
}

// targetSPL returns the SPL needed to reach the given loudness (phon) at a
// frequency, interpolated from the ISO 226:2013 tables.
func targetSPL(frequency, phon float64) float64 {
	idx := len(iso226Frequencies) - 1
	for i, f := range iso226Frequencies {
		if f >= frequency {
			idx = i
			break
		}
	}
	idxLow := idx
	if idx > 0 {
		idxLow = idx - 1
	}

	f1 := iso226Frequencies[idxLow]
	f2 := iso226Frequencies[idx]
	var t float64
	if 2.0*math.Abs(f1-f2) > 1e-9*(math.Abs(f1)+math.Abs(f2)) {
		t = (frequency - f1) / (f2 - f1)
	}

	alphaF := iso226AlphaF[idxLow] + t*(iso226AlphaF[idx]-iso226AlphaF[idxLow])
	luF := iso226LU[idxLow] + t*(iso226LU[idx]-iso226LU[idxLow])
	tfF := iso226TF[idxLow] + t*(iso226TF[idx]-iso226TF[idxLow])

	// Inverse of the ISO 226:2013 loudness equation.
	aF := loudnessScale*(math.Pow(10.0, 0.025*phon)-1.15) +
		math.Pow(0.4*math.Pow(10.0, (tfF+luF)/10.0-9.0), alphaF)

	return (10.0/alphaF)*math.Log10(aF) - luF + refSPL
}

// biquad is a direct form 1 IIR filter section.
type biquad struct {
	coeffs biquadCoeffs
	x1, x2 float64
	y1, y2 float64
}

type biquadCoeffs struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func (f *biquad) run(x float64) float64 {
	y := f.coeffs.b0*x + f.coeffs.b1*f.x1 + f.coeffs.b2*f.x2 -
		f.coeffs.a1*f.y1 - f.coeffs.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Audio EQ Cookbook (Robert Bristow-Johnson) coefficient formulas,
// normalized by a0.

func peakingEQ(fs, f0, q, gainDB float64) biquadCoeffs {
	a := math.Pow(10.0, gainDB/40.0)
	w0 := 2.0 * math.Pi * f0 / fs
	alpha := math.Sin(w0) / (2.0 * q)
	cosw0 := math.Cos(w0)

	a0 := 1.0 + alpha/a
	return biquadCoeffs{
		b0: (1.0 + alpha*a) / a0,
		b1: (-2.0 * cosw0) / a0,
		b2: (1.0 - alpha*a) / a0,
		a1: (-2.0 * cosw0) / a0,
		a2: (1.0 - alpha/a) / a0,
	}
}

func lowShelf(fs, f0, q, gainDB float64) biquadCoeffs {
	a := math.Pow(10.0, gainDB/40.0)
	w0 := 2.0 * math.Pi * f0 / fs
	alpha := math.Sin(w0) / (2.0 * q)
	cosw0 := math.Cos(w0)
	sqrtA := math.Sqrt(a)

	a0 := (a + 1.0) + (a-1.0)*cosw0 + 2.0*sqrtA*alpha
	return biquadCoeffs{
		b0: a * ((a + 1.0) - (a-1.0)*cosw0 + 2.0*sqrtA*alpha) / a0,
		b1: 2.0 * a * ((a - 1.0) - (a+1.0)*cosw0) / a0,
		b2: a * ((a + 1.0) - (a-1.0)*cosw0 - 2.0*sqrtA*alpha) / a0,
		a1: -2.0 * ((a - 1.0) + (a+1.0)*cosw0) / a0,
		a2: ((a + 1.0) + (a-1.0)*cosw0 - 2.0*sqrtA*alpha) / a0,
	}
}

func highShelf(fs, f0, q, gainDB float64) biquadCoeffs {
	a := math.Pow(10.0, gainDB/40.0)
	w0 := 2.0 * math.Pi * f0 / fs
	alpha := math.Sin(w0) / (2.0 * q)
	cosw0 := math.Cos(w0)
	sqrtA := math.Sqrt(a)

	a0 := (a + 1.0) - (a-1.0)*cosw0 + 2.0*sqrtA*alpha
	return biquadCoeffs{
		b0: a * ((a + 1.0) + (a-1.0)*cosw0 + 2.0*sqrtA*alpha) / a0,
		b1: -2.0 * a * ((a - 1.0) + (a+1.0)*cosw0) / a0,
		b2: a * ((a + 1.0) + (a-1.0)*cosw0 - 2.0*sqrtA*alpha) / a0,
		a1: 2.0 * ((a - 1.0) - (a+1.0)*cosw0) / a0,
		a2: ((a + 1.0) - (a-1.0)*cosw0 - 2.0*sqrtA*alpha) / a0,
	}
}
