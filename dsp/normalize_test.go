package dsp

import (
	"math"
	"testing"
)

func TestNormalizeQuietSignalPassesThrough(t *testing.T) {
	// -20 dB signal, well below the knee: the limiter should not touch it.
	in := DBToRatio(-20.0)
	nz := NewNormalize(constStreamer{value: in}, 44100, 1.0,
		LimiterThresholdDB, LimiterKneeDB, LimiterAttack, LimiterRelease)

	buf := make([][2]float64, 4096)
	nz.Stream(buf)

	last := buf[len(buf)-1][0]
	if math.Abs(last-in) > 1e-6 {
		t.Errorf("quiet signal altered: got %v, want %v", last, in)
	}
}

func TestNormalizeLimitsLoudSignal(t *testing.T) {
	// A full-scale signal boosted 6 dB must come back down near the
	// threshold once the envelope settles.
	nz := NewNormalize(constStreamer{value: 1.0}, 44100, DBToRatio(6.0),
		LimiterThresholdDB, LimiterKneeDB, LimiterAttack, LimiterRelease)

	buf := make([][2]float64, 44100) // one second, plenty to settle
	nz.Stream(buf)

	settled := math.Abs(buf[len(buf)-1][0])
	settledDB := RatioToDB(settled)
	if settledDB > LimiterThresholdDB+1.0 {
		t.Errorf("settled level %v dB, want near threshold %v dB", settledDB, LimiterThresholdDB)
	}
	// But it must not pump the signal far below the threshold either.
	if settledDB < LimiterThresholdDB-3.0 {
		t.Errorf("settled level %v dB, limited too hard", settledDB)
	}
}

func TestNormalizeGainCoupledAcrossChannels(t *testing.T) {
	// Loud left, quiet right: both channels must get the same reduction so
	// the stereo image holds.
	frames := make([][2]float64, 44100)
	for i := range frames {
		frames[i][0] = 1.5
		frames[i][1] = 0.01
	}
	nz := NewNormalize(&sliceStreamer{frames: frames}, 44100, 1.0,
		LimiterThresholdDB, LimiterKneeDB, LimiterAttack, LimiterRelease)

	buf := make([][2]float64, len(frames))
	nz.Stream(buf)

	last := buf[len(buf)-1]
	gainL := last[0] / 1.5
	gainR := last[1] / 0.01
	if math.Abs(gainL-gainR) > 1e-9 {
		t.Errorf("per-channel gains diverged: L %v, R %v", gainL, gainR)
	}
	if gainL >= 1.0 {
		t.Errorf("loud channel not reduced: gain %v", gainL)
	}
}

func TestGainReductionDB(t *testing.T) {
	tests := []struct {
		name       string
		sample     float64
		wantZero   bool
		wantAtMost float64
	}{
		{"silence", 0.0, true, 0},
		{"well below threshold", 0.1, true, 0},
		{"above threshold", 1.5, false, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gainReductionDB(tt.sample, LimiterThresholdDB, LimiterKneeDB)
			if tt.wantZero && got != ZeroDB {
				t.Errorf("gainReductionDB(%v) = %v, want 0", tt.sample, got)
			}
			if !tt.wantZero {
				if got <= 0 || got > tt.wantAtMost {
					t.Errorf("gainReductionDB(%v) = %v, want within (0, %v]", tt.sample, got, tt.wantAtMost)
				}
			}
		})
	}
}

func TestGainReductionMonotonic(t *testing.T) {
	prev := -1.0
	for s := 0.5; s < 4.0; s += 0.05 {
		got := gainReductionDB(s, LimiterThresholdDB, LimiterKneeDB)
		if got < prev {
			t.Fatalf("reduction decreased at sample %v: %v < %v", s, got, prev)
		}
		prev = got
	}
}

func TestNormalizeReset(t *testing.T) {
	nz := NewNormalize(constStreamer{value: 1.5}, 44100, 1.0,
		LimiterThresholdDB, LimiterKneeDB, LimiterAttack, LimiterRelease)

	buf := make([][2]float64, 4096)
	nz.Stream(buf)
	if nz.peaks[0] == 0 {
		t.Fatal("expected envelope to charge")
	}

	nz.Reset()
	if nz.peaks[0] != 0 || nz.integrators[0] != 0 {
		t.Error("Reset left envelope state behind")
	}
}
