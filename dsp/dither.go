package dsp

import (
	"math"
	"math/rand/v2"

	"github.com/gopxl/beep"
)

// DitheredVolume applies the final volume stage with TPDF dither and
// optional noise shaping. Dither converts quantization truncation into
// rounding; noise shaping pushes the resulting noise into less audible
// frequency bands using error feedback.
//
// The dither is sized before the volume is applied, so attenuation scales
// signal and dither together and the noise lands at the right level
// relative to the DAC's quantization grid.
type DitheredVolume struct {
	s      beep.Streamer
	volume *Volume
	coeffs []float64
	hist   [2]*errorHistory
}

// NewDitheredVolume wraps s with dithered volume control. profile selects
// the noise shaping aggressiveness: 0 is plain TPDF, 1-7 select Shibata
// filters of increasing strength. Shaping filters exist for 44.1 and
// 48 kHz; other rates silently fall back to plain TPDF.
func NewDitheredVolume(s beep.Streamer, v *Volume, sampleRate beep.SampleRate, profile int) *DitheredVolume {
	if profile > 7 {
		profile = 7
	}
	d := &DitheredVolume{s: s, volume: v}
	if profile > 0 {
		d.coeffs = shibataCoeffs(int(sampleRate), profile)
	}
	if len(d.coeffs) > 0 {
		d.hist[0] = newErrorHistory(len(d.coeffs))
		d.hist[1] = newErrorHistory(len(d.coeffs))
	}
	return d
}

// Reset clears the noise shaping error history. Call after seeking, the
// accumulated errors belong to the old position.
func (d *DitheredVolume) Reset() {
	if d.hist[0] != nil {
		d.hist[0].reset()
		d.hist[1].reset()
	}
}

func (d *DitheredVolume) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = d.s.Stream(samples)

	vol := d.volume.Volume()
	step, dither := d.volume.QuantizationStep()
	if !dither {
		for i := range samples[:n] {
			samples[i][0] *= vol
			samples[i][1] *= vol
		}
		return n, ok
	}

	// Attenuate just below full scale so dither cannot clip.
	vol = math.Min(vol, UnityGain-step)

	for i := range samples[:n] {
		for c := 0; c < 2; c++ {
			sample := samples[i][c]
			noise := (rand.Float64() - rand.Float64()) * step

			var out float64
			if d.hist[c] != nil {
				// Error feedback from previous samples pre-compensates
				// the quantization about to happen.
				var filtered float64
				for j, coeff := range d.coeffs {
					filtered += coeff * d.hist[c].get(j)
				}
				shaped := sample + filtered + noise

				// Quantize as if writing the output sample format.
				quantized := math.Trunc(shaped/step+DCCompensation) * step
				d.hist[c].push(quantized - shaped)
				out = quantized
			} else {
				out = sample + noise
			}
			samples[i][c] = (out + DCCompensation*step) * vol
		}
	}
	return n, ok
}

func (d *DitheredVolume) Err() error {
	return d.s.Err()
}

// shibataCoeffs returns the noise shaping filter for the sample rate and
// profile, or nil when no filter exists for that rate.
func shibataCoeffs(sampleRate, profile int) []float64 {
	switch sampleRate {
	case 44100:
		return shibata441[profile-1]
	case 48000:
		return shibata48[profile-1]
	}
	return nil
}

// Shibata noise shaping filter coefficients from SSRC, a fast and high
// quality sampling rate converter by Naoki Shibata, licensed under the
// LGPL version 2.1. Original homepage: <http://shibatch.sourceforge.net/>
//
// Indexed by profile-1; each filter is tuned to the absolute threshold of
// hearing at its sample rate.
var shibata441 = [7][]float64{
	{
		-0.5954378, 0.002507873, 0.18518059, 0.0010374293,
		0.10366343, 0.05324863, 8.403005e-5, 3.8569933e-8,
		0.02641301, 0.00068438397, -3.1580505e-6, -0.03173963,
	},
	{
		-0.998202, 0.5995154, -0.081278324, -9.2977396e-5,
		0.20252061, 0.024194805, -0.00090227433, 0.045577545,
		0.044477824, 0.0030681777, 0.0001693645, 6.8561036e-7,
	},
	{
		-1.3568639, 1.2252935, -0.62355506, 0.22562094,
		0.23557976, -0.13536362, 0.091538146, 0.05644564,
		-3.9614424e-5, 0.02356192, 0.010756319, 0.00031949132,
		-0.001433762, 0.008455124, 0.0002131818, -7.617592e-5,
		-0.0010102331, -4.5030276e-5, -0.0013433822, -0.0013937242,
		-0.000433067, -0.00046949787, -0.00014775842, 4.1060175e-5,
	},
	{
		-1.7714835, 2.1603813, -1.8512212, 1.3459417,
		-0.5235646, 0.15980114, 0.0795634, -0.017584056,
		0.03974552, 0.021822928, 0.0072338963, 0.0008387931,
		0.009479233, 0.0068564494, -0.00039525484, 0.0040870165,
	},
	{
		-2.155173, 3.1482027, -3.4208806, 3.1343656,
		-2.1552324, 1.269854, -0.50336593, 0.1646447,
		0.013838038, 0.0062505743, -0.0041691507, 0.013679159,
		0.002451622, -0.00024407465, 0.00524524, 0.00042019927,
		-0.00041352015, -0.00016322936, 0.00047321102, -0.00093277986,
	},
	{
		-2.5096076, 4.251982, -5.4792314, 5.972496,
		-5.2947083, 4.066418, -2.5247133, 1.3039399,
		-0.44613662, 0.09704402, 0.016150594, 0.006091615,
		-0.013266252, 0.01741496, -0.00079903466, -7.11416e-7,
	},
	{
		-2.8263266, 5.353436, -7.804206, 9.679369,
		-10.157135, 9.439996, -7.6146126, 5.4245176,
		-3.2478282, 1.6301852, -0.5853802, 0.11710002,
		0.03354367, -0.008884147, -0.017314358, 0.03326273,
		-0.01816822, 0.006801503, 0.0009691195, -0.00096489344,
	},
}

var shibata48 = [7][]float64{
	{
		-0.6481544, 0.00013292329, 0.1528444, 0.024795081,
		0.028879294, 0.097741306, -3.7233345e-5, -3.0361816e-6,
		2.6851518e-5, 0.015118856, 0.00011908156, -4.0203918e-6,
		-0.032142308, -1.2108692e-6, 0.0, -2.413082e-9,
	},
	{
		-1.0375015, 0.55585253, 6.2009254e-5, -0.05427678,
		0.14064074, 0.10734067, -6.741447e-6, -0.00090507785,
		0.07196676, 0.01871775, 0.0038517464, 0.0057432847,
		0.0011602795, 0.00023562647, 6.177044e-5, 0.0016767865,
	},
	{
		-1.4919578, 1.3089179, -0.5405163, 0.0003611375,
		0.36303195, -0.10911128, -0.007310638, 0.115459144,
		-0.0037722855, 0.012545259, 0.029272487, 0.0050022,
		0.00020218852, 0.0049057347, 0.005127976, 0.002505671,
	},
	{
		-1.9601592, 2.4060547, -1.948885, 1.1626639,
		-0.25297922, -0.031299483, 0.11234972, 0.028672902,
		-0.008408587, 0.0403433, 0.014730193, 0.008152652,
		0.0007811016, 0.010703167, 0.007504583, -6.7899375e-5,
		0.0045952727, 0.0015685435, 8.033391e-5,
	},
	{
		-2.4219728, 3.6378045, -3.8756568, 3.2019908,
		-1.8469272, 0.761118, -0.08376263, -0.06411765,
		0.066511706, 0.011620322, 0.00089677016, -0.0038908864,
		0.011067332, 0.0016393635, -0.0021009922, 0.003973741,
		0.00064989843, -0.0006429798, -0.0010019573, 0.00024940295,
		-0.00020461704, -0.0014896913, 3.6964306e-5, -5.559246e-5,
		-0.00022196055, -0.00011919181, 0.00021784782, 5.855179e-5,
	},
	{
		-2.8460333, 5.035543, -6.492711, 6.668969,
		-5.3422427, 3.433106, -1.5913538, 0.48210138,
		0.008463773, -0.035323333, 0.005527129, 0.021560267,
		0.006101152, -0.009066052, 0.010759642, 0.004644123,
		-0.0028851281, 0.002711836, 0.0008332781, -6.372233e-5,
	},
	{
		-3.2601516, 6.5575695, -9.748665, 11.713089,
		-11.504628, 9.485963, -6.404273, 3.477282,
		-1.3327383, 0.26464576, 0.081823304, -0.04464341,
		-0.021642473, 0.04283212, -0.003383262, -0.016050559,
		0.019443769, -0.0020140456, -0.0051018465, 0.0049441443,
		0.0013996939, -0.003581012, 0.0022099197, 0.00010120005,
		-0.00077120867, 4.772755e-5, 0.00047057876, -0.00053522014,
	},
}
