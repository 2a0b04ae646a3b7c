package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"cryogon/pleezer/track"
)

// wavBytes builds a 16-bit stereo PCM WAV file from frames.
func wavBytes(sampleRate int, frames [][2]float64) []byte {
	var data bytes.Buffer
	for _, frame := range frames {
		for ch := 0; ch < 2; ch++ {
			v := int16(frame[ch] * math.MaxInt16)
			binary.Write(&data, binary.LittleEndian, v)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+data.Len()))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*4))
	binary.Write(&buf, binary.LittleEndian, uint16(4))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(data.Len()))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

func TestDecodeWAV(t *testing.T) {
	frames := make([][2]float64, 4410)
	for i := range frames {
		frames[i] = [2]float64{0.25, -0.25}
	}
	tr := &track.Track{Type: track.TypeEpisode, Codec: track.CodecWAV,
		Duration: time.Second}

	d, err := New(tr, bytes.NewReader(wavBytes(44100, frames)))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if d.Format().SampleRate != 44100 || d.Format().NumChannels != 2 {
		t.Errorf("format %+v", d.Format())
	}
	if d.BitsPerSample() != 16 {
		t.Errorf("bits %d", d.BitsPerSample())
	}
	if d.Duration() != 100*time.Millisecond {
		t.Errorf("duration %v", d.Duration())
	}

	out := make([][2]float64, 100)
	n, ok := d.Stream(out)
	if !ok || n != 100 {
		t.Fatalf("Stream = %d, %v", n, ok)
	}
	if math.Abs(out[0][0]-0.25) > 0.001 || math.Abs(out[0][1]+0.25) > 0.001 {
		t.Errorf("first frame %v", out[0])
	}
}

func TestDecodeWAVBySniffing(t *testing.T) {
	frames := make([][2]float64, 441)
	tr := &track.Track{Type: track.TypeEpisode} // no codec known

	d, err := New(tr, bytes.NewReader(wavBytes(44100, frames)))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if d.Format().SampleRate != 44100 {
		t.Errorf("format %+v", d.Format())
	}
}

func TestSniffCodec(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   track.Codec
	}{
		{"flac", []byte("fLaC aaaaaaaa"), track.CodecFLAC},
		{"riff", []byte("RIFFxxxxWAVEfmt "), track.CodecWAV},
		{"mp4", []byte("\x00\x00\x00\x20ftypM4A "), track.CodecMP4},
		{"id3 means mp3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00\x00\x00"), track.CodecMP3},
		{"adts sync", []byte{0xff, 0xf1, 0x50, 0x80, 0x00, 0x1f, 0xfc, 0, 0, 0, 0, 0}, track.CodecADTS},
		{"mp3 sync", []byte{0xff, 0xfb, 0x90, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}, track.CodecMP3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sniffCodec(bytes.NewReader(tt.header))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("sniffed %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := sniffCodec(bytes.NewReader([]byte("OggS\x00\x00\x00\x00\x00\x00\x00\x00"))); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ogg err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParseADTSHeader(t *testing.T) {
	// AAC-LC, 44100 Hz (index 4), stereo, frame length 1024+7.
	raw := []byte{
		0xff, 0xf1, // sync, MPEG-4, no CRC
		0x50,       // profile 01 (LC), rate index 0100, chan high bit 0
		0x80,       // chan 10 (stereo)
		0x80, 0xe0, // frame length bits: 1031 = 0b10000000111
		0xfc,
	}
	raw[3] = 0x80 | byte(1031>>11)
	raw[4] = byte(1031 >> 3)
	raw[5] = byte(1031&0x07)<<5 | 0x1f

	h, err := parseADTSHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	if h.profile != 1 {
		t.Errorf("profile %d", h.profile)
	}
	if adtsSampleRates[h.rateIndex] != 44100 {
		t.Errorf("rate index %d", h.rateIndex)
	}
	if h.channels != 2 {
		t.Errorf("channels %d", h.channels)
	}
	if h.frameLen != 1031 || h.headerLen != 7 {
		t.Errorf("frame %d header %d", h.frameLen, h.headerLen)
	}

	asc := h.asc()
	// AOT 2 (LC) << 3 | rate index 4 >> 1 = 0x12; (4&1)<<7 | 2<<3 = 0x10.
	if asc[0] != 0x12 || asc[1] != 0x10 {
		t.Errorf("asc % x", asc)
	}
}

func TestParseADTSHeaderRejects(t *testing.T) {
	if _, err := parseADTSHeader([]byte{0x00, 0x00, 0, 0, 0, 0, 0}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("bad sync err = %v", err)
	}
	if _, err := parseADTSHeader([]byte{0xff}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short header err = %v", err)
	}
}

func TestInterleave(t *testing.T) {
	// Mono duplicates into both channels.
	out := interleave([]float32{0.5, -0.5}, 1)
	if len(out) != 2 || out[0] != [2]float64{0.5, 0.5} || out[1] != [2]float64{-0.5, -0.5} {
		t.Errorf("mono %v", out)
	}

	// Stereo maps pairwise.
	out = interleave([]float32{0.1, 0.2, 0.3, 0.4}, 2)
	if len(out) != 2 || out[1][0] != float64(float32(0.3)) {
		t.Errorf("stereo %v", out)
	}

	// 5.1 keeps the front pair.
	out = interleave(make([]float32, 12), 6)
	if len(out) != 2 {
		t.Errorf("5.1 gave %d frames", len(out))
	}
}
