// Package decoder turns a track's byte stream into beep samples. Songs
// from the catalogue are MP3 or FLAC; podcasts add WAV and AAC in ADTS
// or MP4 containers; livestreams are ADTS or MP3, sometimes behind an
// HLS playlist.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"

	"cryogon/pleezer/track"
)

// ErrUnsupportedFormat means no decoder could handle the stream.
var ErrUnsupportedFormat = errors.New("decoder: unsupported format")

// Decoder decodes one track. It is a beep.StreamSeekCloser plus the
// stream parameters the DSP chain needs.
type Decoder struct {
	beep.StreamSeekCloser

	format        beep.Format
	bitsPerSample int
	duration      time.Duration
}

// New selects a decoder for the track's codec. When the codec is
// unknown (podcasts served without an extension) the stream header is
// sniffed. The reader must sit at the start of the stream.
func New(t *track.Track, r io.ReadSeeker) (*Decoder, error) {
	codec := t.Codec
	if codec == "" {
		sniffed, err := sniffCodec(r)
		if err != nil {
			return nil, err
		}
		codec = sniffed
	}

	switch codec {
	case track.CodecMP3:
		s, format, err := mp3.Decode(io.NopCloser(r))
		if err != nil {
			return nil, fmt.Errorf("decoder: mp3: %w", err)
		}
		return newDecoder(t, s, format, track.DefaultBitsPerSample), nil

	case track.CodecFLAC:
		s, format, err := flac.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("decoder: flac: %w", err)
		}
		return newDecoder(t, s, format, format.Precision*8), nil

	case track.CodecWAV:
		s, format, err := wav.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("decoder: wav: %w", err)
		}
		return newDecoder(t, s, format, format.Precision*8), nil

	case track.CodecADTS:
		s, format, err := newADTSStreamer(r)
		if err != nil {
			return nil, err
		}
		return newDecoder(t, s, format, track.DefaultBitsPerSample), nil

	case track.CodecMP4:
		s, format, err := newMP4Streamer(r)
		if err != nil {
			return nil, err
		}
		return newDecoder(t, s, format, track.DefaultBitsPerSample), nil

	default:
		return nil, fmt.Errorf("%w: codec %q", ErrUnsupportedFormat, codec)
	}
}

// NewStream decodes a non-seekable byte stream, as produced by
// livestreams and HLS playlists. Only the streaming codecs are
// supported here.
func NewStream(t *track.Track, r io.Reader) (*Decoder, error) {
	switch t.Codec {
	case track.CodecMP3:
		s, format, err := mp3.Decode(io.NopCloser(r))
		if err != nil {
			return nil, fmt.Errorf("decoder: mp3: %w", err)
		}
		return newDecoder(t, s, format, track.DefaultBitsPerSample), nil

	case track.CodecADTS:
		s, format, err := newADTSStreamer(r)
		if err != nil {
			return nil, err
		}
		return newDecoder(t, s, format, track.DefaultBitsPerSample), nil

	default:
		return nil, fmt.Errorf("%w: codec %q cannot stream", ErrUnsupportedFormat, t.Codec)
	}
}

func newDecoder(t *track.Track, s beep.StreamSeekCloser, format beep.Format, bits int) *Decoder {
	d := &Decoder{
		StreamSeekCloser: s,
		format:           format,
		bitsPerSample:    bits,
		duration:         t.Duration,
	}
	// Prefer the decoder's own length over the metadata duration; the
	// metadata is rounded to whole seconds.
	if n := s.Len(); n > 0 && format.SampleRate > 0 {
		d.duration = format.SampleRate.D(n)
	}
	return d
}

// Format returns the sample rate and channel layout of the stream.
func (d *Decoder) Format() beep.Format { return d.format }

// BitsPerSample returns the source bit depth, which bounds how much
// dither the volume stage applies.
func (d *Decoder) BitsPerSample() int { return d.bitsPerSample }

// Duration returns the decoded length. Zero for livestreams.
func (d *Decoder) Duration() time.Duration { return d.duration }

// SeekTo seeks to a playback position.
func (d *Decoder) SeekTo(pos time.Duration) error {
	return d.Seek(d.format.SampleRate.N(pos))
}

// Position returns the playback position as a duration.
func (d *Decoder) PositionDuration() time.Duration {
	return d.format.SampleRate.D(d.Position())
}

// sniffCodec inspects the stream header. Podcast hosts frequently serve
// audio from extensionless URLs.
func sniffCodec(r io.ReadSeeker) (track.Codec, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", fmt.Errorf("decoder: sniff: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	switch {
	case bytes.HasPrefix(header[:], []byte("fLaC")):
		return track.CodecFLAC, nil
	case bytes.HasPrefix(header[:], []byte("RIFF")):
		return track.CodecWAV, nil
	case bytes.Equal(header[4:8], []byte("ftyp")):
		return track.CodecMP4, nil
	case bytes.HasPrefix(header[:], []byte("ID3")):
		// An ID3 block precedes MP3 audio; ADTS streams carry none.
		return track.CodecMP3, nil
	case header[0] == 0xff && header[1]&0xf6 == 0xf0:
		return track.CodecADTS, nil
	case header[0] == 0xff && header[1]&0xe0 == 0xe0:
		return track.CodecMP3, nil
	default:
		return "", fmt.Errorf("%w: unrecognized header % x", ErrUnsupportedFormat, header)
	}
}
