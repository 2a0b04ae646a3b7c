package dsp

import (
	"math"
	"testing"
)

func TestLogVolumeEndpoints(t *testing.T) {
	if got := LogVolume(0); got != 0 {
		t.Errorf("LogVolume(0) = %v, want 0", got)
	}
	if got := LogVolume(1); got != 1 {
		t.Errorf("LogVolume(1) = %v, want 1", got)
	}
	if got := LogVolume(-0.5); got != 0 {
		t.Errorf("LogVolume(-0.5) = %v, want 0", got)
	}
	if got := LogVolume(1.5); got != 1 {
		t.Errorf("LogVolume(1.5) = %v, want 1", got)
	}
}

func TestLogVolumeCurve(t *testing.T) {
	// Halfway on the control scale should sit at -30 dB, not -6 dB.
	got := LogVolume(0.5)
	want := math.Exp(logVolumeGrowthRate*0.5) / 1000.0
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("LogVolume(0.5) = %v, want %v", got, want)
	}

	// Strictly increasing over the whole control range.
	prev := 0.0
	for v := 0.01; v < 1.0; v += 0.01 {
		cur := LogVolume(v)
		if cur <= prev {
			t.Fatalf("LogVolume not monotonic at %v: %v <= %v", v, cur, prev)
		}
		prev = cur
	}
}

func TestEffectiveBitDepth(t *testing.T) {
	tests := []struct {
		name      string
		dacBits   float64
		trackBits uint32
		volume    float64
		want      float64
	}{
		{"full volume capped by track", 24, 16, 1.0, 16},
		{"full volume capped by dac", 16, 24, 1.0, 16},
		{"half volume costs one bit", 16, 24, 0.5, 15},
		{"quarter volume costs two bits", 16, 24, 0.25, 14},
		{"floor at six bits", 16, 16, 1e-6, 6},
		{"zero volume floors instead of -inf", 16, 16, 0, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := effectiveBitDepth(tt.dacBits, tt.trackBits, tt.volume)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("effectiveBitDepth(%v, %v, %v) = %v, want %v",
					tt.dacBits, tt.trackBits, tt.volume, got, tt.want)
			}
		})
	}
}

func TestQuantizationStepHalvesPerBit(t *testing.T) {
	step16 := quantizationStep(16, 24, 1.0)
	step15 := quantizationStep(16, 24, 0.5)
	if math.Abs(step15/step16-2.0) > 1e-9 {
		t.Errorf("one bit of attenuation should double the step: %v vs %v", step15, step16)
	}
	want := 1.0 / math.Pow(2.0, 15.0)
	if math.Abs(step16-want) > 1e-12 {
		t.Errorf("step at 16 effective bits = %v, want %v", step16, want)
	}
}

func TestVolumeSetReturnsPrevious(t *testing.T) {
	v := NewVolume(1.0, 0)
	if prev := v.SetVolume(0.3); prev != 1.0 {
		t.Errorf("SetVolume returned %v, want 1.0", prev)
	}
	if got := v.Volume(); got != 0.3 {
		t.Errorf("Volume() = %v, want 0.3", got)
	}
}

func TestVolumeDitherClampsBelowUnity(t *testing.T) {
	v := NewVolume(1.0, 16)
	v.SetVolume(1.0)
	if got := v.Volume(); got >= UnityGain {
		t.Errorf("dithered volume at full scale = %v, want < 1 for headroom", got)
	}

	// Without dithering no clamp applies.
	plain := NewVolume(1.0, 0)
	plain.SetVolume(1.0)
	if got := plain.Volume(); got != UnityGain {
		t.Errorf("plain volume = %v, want 1", got)
	}
}

func TestVolumeTrackBitDepth(t *testing.T) {
	v := NewVolume(1.0, 24)
	if got := v.TrackBitDepth(); got != DefaultBitsPerSample {
		t.Errorf("default track depth = %v, want %v", got, DefaultBitsPerSample)
	}

	v.SetTrackBitDepth(24)
	step, ok := v.QuantizationStep()
	if !ok {
		t.Fatal("expected quantization step with dithering enabled")
	}
	// 24-bit track through a 24-bit DAC at the clamped full-scale volume
	// stays within a bit of 24.
	if step > 1.0/math.Pow(2.0, 22.0) {
		t.Errorf("step %v too coarse for 24-bit chain", step)
	}

	v.SetTrackBitDepth(0)
	if got := v.TrackBitDepth(); got != DefaultBitsPerSample {
		t.Errorf("zero should restore default depth, got %v", got)
	}
}

func TestVolumeWithoutDither(t *testing.T) {
	v := NewVolume(0.8, 0)
	if _, ok := v.QuantizationStep(); ok {
		t.Error("QuantizationStep should report disabled")
	}
	if _, ok := v.EffectiveBitDepth(); ok {
		t.Error("EffectiveBitDepth should report disabled")
	}
}
