package dsp

import (
	"math"
	"testing"
)

func TestDitheredVolumeNoDitherScalesOnly(t *testing.T) {
	v := NewVolume(0.5, 0)
	d := NewDitheredVolume(constStreamer{value: 0.8}, v, 44100, 0)

	buf := make([][2]float64, 256)
	d.Stream(buf)

	for i := range buf {
		if buf[i][0] != 0.4 || buf[i][1] != 0.4 {
			t.Fatalf("frame %d = %v, want exactly [0.4 0.4]", i, buf[i])
		}
	}
}

func TestDitheredVolumeNoiseBounded(t *testing.T) {
	v := NewVolume(1.0, 16)
	d := NewDitheredVolume(constStreamer{value: 0.25}, v, 44100, 0)

	step, ok := v.QuantizationStep()
	if !ok {
		t.Fatal("expected dithering enabled")
	}

	buf := make([][2]float64, 4096)
	d.Stream(buf)

	// TPDF spans two steps, DC compensation adds half a step, and
	// everything is scaled by the (clamped) volume afterwards.
	vol := math.Min(v.Volume(), UnityGain-step)
	bound := (2.0 + DCCompensation) * step * vol
	for i := range buf {
		for c := 0; c < 2; c++ {
			if diff := math.Abs(buf[i][c] - 0.25*vol); diff > bound {
				t.Fatalf("frame %d ch %d deviates %v, bound %v", i, c, diff, bound)
			}
		}
	}
}

func TestDitheredVolumeNoiseShaped(t *testing.T) {
	v := NewVolume(1.0, 16)
	d := NewDitheredVolume(constStreamer{value: 0.25}, v, 44100, 2)
	if len(d.coeffs) != 12 {
		t.Fatalf("profile 2 at 44.1 kHz should use 12 taps, got %d", len(d.coeffs))
	}

	buf := make([][2]float64, 8192)
	d.Stream(buf)

	// Shaped error feedback amplifies the short-term noise, but the mean
	// must stay on the signal.
	var sum float64
	for i := range buf {
		sum += buf[i][0]
	}
	mean := sum / float64(len(buf))
	step, _ := v.QuantizationStep()
	if math.Abs(mean-0.25*v.Volume()) > 4*step {
		t.Errorf("mean %v wandered from signal %v", mean, 0.25*v.Volume())
	}
}

func TestDitheredVolumeResetClearsHistory(t *testing.T) {
	v := NewVolume(1.0, 16)
	d := NewDitheredVolume(constStreamer{value: 0.9}, v, 48000, 3)

	buf := make([][2]float64, 1024)
	d.Stream(buf)

	d.Reset()
	for c := 0; c < 2; c++ {
		for i := range d.hist[c].buf {
			if d.hist[c].buf[i] != 0 {
				t.Fatalf("channel %d history not cleared at %d", c, i)
			}
		}
	}
}

func TestShibataCoeffSelection(t *testing.T) {
	tests := []struct {
		rate    int
		profile int
		taps    int
	}{
		{44100, 1, 12},
		{44100, 2, 12},
		{44100, 3, 24},
		{44100, 4, 16},
		{44100, 5, 20},
		{44100, 6, 16},
		{44100, 7, 20},
		{48000, 1, 16},
		{48000, 2, 16},
		{48000, 3, 16},
		{48000, 4, 19},
		{48000, 5, 28},
		{48000, 6, 20},
		{48000, 7, 28},
		{96000, 3, 0},
		{22050, 1, 0},
	}
	for _, tt := range tests {
		got := shibataCoeffs(tt.rate, tt.profile)
		if len(got) != tt.taps {
			t.Errorf("shibataCoeffs(%d, %d) has %d taps, want %d",
				tt.rate, tt.profile, len(got), tt.taps)
		}
	}
}
