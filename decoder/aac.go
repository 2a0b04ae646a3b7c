package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
	"github.com/gopxl/beep"
	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"
)

// aacFrameSamples is how many PCM samples one AAC frame decodes to, per
// channel.
const aacFrameSamples = 1024

// adtsSampleRates is the sampling frequency index table of the ADTS
// header.
var adtsSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// adtsHeader is one parsed ADTS frame header.
type adtsHeader struct {
	profile   int // audio object type - 1
	rateIndex int
	channels  int
	headerLen int
	frameLen  int // header + payload
}

func parseADTSHeader(b []byte) (adtsHeader, error) {
	if len(b) < 7 {
		return adtsHeader{}, io.ErrUnexpectedEOF
	}
	if b[0] != 0xff || b[1]&0xf6 != 0xf0 {
		return adtsHeader{}, fmt.Errorf("%w: bad adts sync", ErrUnsupportedFormat)
	}
	h := adtsHeader{
		profile:   int(b[2] >> 6),
		rateIndex: int(b[2] >> 2 & 0x0f),
		channels:  int(b[2]&0x01)<<2 | int(b[3]>>6),
		frameLen:  int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5),
		headerLen: 7,
	}
	if b[1]&0x01 == 0 { // CRC present
		h.headerLen = 9
	}
	if h.rateIndex >= len(adtsSampleRates) || h.frameLen < h.headerLen {
		return adtsHeader{}, fmt.Errorf("%w: bad adts header", ErrUnsupportedFormat)
	}
	return h, nil
}

// asc builds the two-byte AudioSpecificConfig the decoder needs.
func (h adtsHeader) asc() []byte {
	aot := h.profile + 1
	return []byte{
		byte(aot<<3 | h.rateIndex>>1),
		byte(h.rateIndex<<7 | h.channels<<3),
	}
}

// aacStreamer decodes AAC frames into beep samples. The frame source
// abstracts over ADTS streams and MP4 sample tables.
type aacStreamer struct {
	dec       *aacdecoder.Decoder
	nextFrame func() ([]byte, error)
	seekFrame func(n int) error // nil when the source cannot seek
	channels  int

	pending  [][2]float64
	position int
	length   int // total samples, 0 when unknown
	err      error
	drained  bool
}

func (s *aacStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil || s.drained {
		return 0, false
	}
	filled := 0
	for filled < len(samples) {
		if len(s.pending) == 0 {
			if !s.decodeNext() {
				break
			}
		}
		n := copy(samples[filled:], s.pending)
		s.pending = s.pending[n:]
		filled += n
		s.position += n
	}
	return filled, filled > 0
}

// decodeNext pulls frames until one decodes. Corrupt frames are skipped
// the way hardware decoders do.
func (s *aacStreamer) decodeNext() bool {
	for {
		raw, err := s.nextFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			s.drained = true
			return false
		}
		pcm, err := s.dec.DecodeFrame(raw)
		if err != nil || len(pcm) == 0 {
			continue
		}
		s.pending = interleave(pcm, s.channels)
		return true
	}
}

func (s *aacStreamer) Err() error { return s.err }

func (s *aacStreamer) Len() int { return s.length }

func (s *aacStreamer) Position() int { return s.position }

func (s *aacStreamer) Seek(p int) error {
	if s.seekFrame == nil {
		return fmt.Errorf("decoder: this stream cannot seek")
	}
	if err := s.seekFrame(p / aacFrameSamples); err != nil {
		return err
	}
	s.pending = nil
	s.drained = false
	s.position = p / aacFrameSamples * aacFrameSamples
	return nil
}

func (s *aacStreamer) Close() error { return nil }

// interleave converts the decoder's interleaved float32 PCM into beep
// frames: mono duplicates into both channels, extra channels beyond two
// are dropped.
func interleave(pcm []float32, channels int) [][2]float64 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / channels
	out := make([][2]float64, frames)
	for i := 0; i < frames; i++ {
		left := float64(pcm[i*channels])
		right := left
		if channels > 1 {
			right = float64(pcm[i*channels+1])
		}
		out[i] = [2]float64{left, right}
	}
	return out
}

// newADTSStreamer decodes a raw ADTS stream, as served by livestreams
// and some podcast hosts. ADTS has no index, so the stream does not
// seek.
func newADTSStreamer(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) {
	br := bufio.NewReaderSize(r, 16*1024)

	head, err := br.Peek(9)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decoder: adts: %w", err)
	}
	header, err := parseADTSHeader(head)
	if err != nil {
		return nil, beep.Format{}, err
	}

	dec := aacdecoder.New()
	if err := dec.SetASC(header.asc()); err != nil {
		return nil, beep.Format{}, fmt.Errorf("decoder: adts: set asc: %w", err)
	}

	sampleRate := adtsSampleRates[header.rateIndex]
	if dec.Config.SampleRate > 0 {
		sampleRate = dec.Config.SampleRate
	}
	channels := header.channels
	if dec.Config.ChanConfig > 0 {
		channels = dec.Config.ChanConfig
	}

	s := &aacStreamer{
		dec:      dec,
		channels: channels,
		nextFrame: func() ([]byte, error) {
			head, err := br.Peek(9)
			if err != nil {
				if len(head) == 0 || errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, err
			}
			h, err := parseADTSHeader(head)
			if err != nil {
				return nil, err
			}
			if _, err := br.Discard(h.headerLen); err != nil {
				return nil, err
			}
			raw := make([]byte, h.frameLen-h.headerLen)
			if _, err := io.ReadFull(br, raw); err != nil {
				return nil, err
			}
			return raw, nil
		},
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: min(channels, 2),
		Precision:   2,
	}
	return s, format, nil
}

// newMP4Streamer decodes AAC inside an MP4 container using the sample
// table, which also makes the stream seekable.
func newMP4Streamer(rs io.ReadSeeker) (beep.StreamSeekCloser, beep.Format, error) {
	info, err := gomp4.Probe(rs)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decoder: mp4 probe: %w", err)
	}
	audio, err := findAudioTrack(info)
	if err != nil {
		return nil, beep.Format{}, err
	}
	asc, err := audioSpecificConfig(rs)
	if err != nil {
		return nil, beep.Format{}, err
	}

	dec := aacdecoder.New()
	if err := dec.SetASC(asc); err != nil {
		return nil, beep.Format{}, fmt.Errorf("decoder: mp4: set asc: %w", err)
	}
	sampleRate := int(audio.Timescale)
	if dec.Config.SampleRate > 0 {
		sampleRate = dec.Config.SampleRate
	}
	channels := dec.Config.ChanConfig
	if channels < 1 {
		channels = 1
	}

	locations := sampleLocations(audio)
	index := 0

	s := &aacStreamer{
		dec:      dec,
		channels: channels,
		length:   len(locations) * aacFrameSamples,
		nextFrame: func() ([]byte, error) {
			if index >= len(locations) {
				return nil, io.EOF
			}
			loc := locations[index]
			index++
			if _, err := rs.Seek(int64(loc.offset), io.SeekStart); err != nil {
				return nil, err
			}
			raw := make([]byte, loc.size)
			if _, err := io.ReadFull(rs, raw); err != nil {
				return nil, err
			}
			return raw, nil
		},
		seekFrame: func(n int) error {
			if n < 0 || n > len(locations) {
				return fmt.Errorf("decoder: seek out of range")
			}
			index = n
			return nil
		},
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: min(channels, 2),
		Precision:   2,
	}
	return s, format, nil
}

type sampleLoc struct {
	offset uint64
	size   uint32
}

// sampleLocations flattens the chunk table into per-sample file
// positions.
func sampleLocations(t *gomp4.Track) []sampleLoc {
	result := make([]sampleLoc, 0, len(t.Samples))
	sampleIdx := 0
	for _, chunk := range t.Chunks {
		off := chunk.DataOffset
		for j := uint32(0); j < chunk.SamplesPerChunk; j++ {
			if sampleIdx >= len(t.Samples) {
				return result
			}
			size := t.Samples[sampleIdx].Size
			result = append(result, sampleLoc{offset: off, size: size})
			off += uint64(size)
			sampleIdx++
		}
	}
	return result
}

// findAudioTrack picks the AAC track, falling back to any track whose
// timescale looks like an audio sample rate.
func findAudioTrack(info *gomp4.ProbeInfo) (*gomp4.Track, error) {
	for _, t := range info.Tracks {
		if t.Codec == gomp4.CodecMP4A {
			return t, nil
		}
	}
	for _, t := range info.Tracks {
		if t.Codec == gomp4.CodecAVC1 || len(t.Samples) == 0 || len(t.Chunks) == 0 {
			continue
		}
		if isAudioTimescale(t.Timescale) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: no audio track in mp4", ErrUnsupportedFormat)
}

func isAudioTimescale(ts uint32) bool {
	switch ts {
	case 8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000:
		return true
	}
	return false
}

// audioSpecificConfig digs the AudioSpecificConfig out of the esds
// descriptor.
func audioSpecificConfig(rs io.ReadSeeker) ([]byte, error) {
	paths := []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(),
			gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(),
			gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeWave(), gomp4.BoxTypeEsds()},
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	boxes, err := gomp4.ExtractBoxesWithPayload(rs, nil, paths)
	if err != nil {
		return nil, fmt.Errorf("decoder: extract esds: %w", err)
	}
	for _, bip := range boxes {
		esds, ok := bip.Payload.(*gomp4.Esds)
		if !ok {
			continue
		}
		for _, desc := range esds.Descriptors {
			if desc.Tag == gomp4.DecSpecificInfoTag && len(desc.Data) >= 2 {
				return desc.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no AudioSpecificConfig in esds", ErrUnsupportedFormat)
}
