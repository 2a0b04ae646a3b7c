// Package track models Deezer content: songs from the catalogue, user
// uploads, podcast episodes and livestreams. It resolves media sources
// with quality fallback and starts the buffered, optionally decrypted
// download that the decoder reads from.
package track

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cryogon/pleezer/audiofile"
	"cryogon/pleezer/gateway"
)

// ErrTrackUnavailable means no playable media source exists for the
// track: region locked, expired, or withdrawn.
var ErrTrackUnavailable = errors.New("track: unavailable")

const (
	// DefaultSampleRate is assumed until the decoder reports one.
	DefaultSampleRate = 44100

	// DefaultBitsPerSample is assumed for lossy codecs.
	DefaultBitsPerSample = 16
)

// Type distinguishes the content kinds, which stream and decode
// differently.
type Type int

const (
	TypeSong Type = iota
	TypeEpisode
	TypeLivestream
)

func (t Type) String() string {
	switch t {
	case TypeSong:
		return "song"
	case TypeEpisode:
		return "episode"
	case TypeLivestream:
		return "livestream"
	default:
		return "unknown"
	}
}

// DefaultChannels returns the channel count assumed before decoding:
// podcasts default to mono, everything else to stereo.
func (t Type) DefaultChannels() int {
	if t == TypeEpisode {
		return 1
	}
	return 2
}

// Codec identifies the audio container/encoding of a stream.
type Codec string

const (
	CodecMP3  Codec = "mp3"
	CodecFLAC Codec = "flac"
	CodecADTS Codec = "adts" // raw AAC frames
	CodecMP4  Codec = "mp4"  // AAC in an MP4 container
	CodecWAV  Codec = "wav"
)

// codecFromExtension infers the codec of an external stream from its
// URL path.
func codecFromExtension(path string) (Codec, bool) {
	ext := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = path[i+1:]
	}
	switch strings.ToLower(ext) {
	case "mp3":
		return CodecMP3, true
	case "flac":
		return CodecFLAC, true
	case "aac":
		return CodecADTS, true
	case "mp4", "m4a":
		return CodecMP4, true
	case "wav":
		return CodecWAV, true
	default:
		return "", false
	}
}

// maxBitrate caps size-derived bitrate estimates per codec, so tag data
// and cover art in the file do not inflate the estimate.
func maxBitrate(c Codec) int {
	switch c {
	case CodecADTS, CodecMP4:
		return 576
	case CodecMP3:
		return 320
	case CodecFLAC:
		return 1411
	case CodecWAV:
		return 3072
	default:
		return 0
	}
}

// Track is one piece of playable content plus its download state.
type Track struct {
	Type       Type
	ID         int64
	Token      string
	Title      string
	Artist     string
	AlbumTitle string
	CoverID    string
	Duration   time.Duration
	Gain       *float64 // album gain in dB
	Expiry     time.Time
	Available  bool

	// External content streams straight from its host, unencrypted.
	External       bool
	ExternalURL    string
	LivestreamURLs gateway.LivestreamURLs

	// Fallback is the replacement Deezer offers when this track is not
	// streamable for the user.
	Fallback *Track

	// Set when a medium is resolved and the download starts.
	Quality  gateway.AudioQuality
	Cipher   Cipher
	Codec    Codec
	Bitrate  int // kbps, 0 when unknown
	FileSize int64

	// Decoded output properties, set when the decoder opens. Zero
	// until then; the Default* constants apply instead.
	SampleRate    int // Hz
	Channels      int
	BitsPerSample int

	download *audiofile.Download
}

// FromSong builds a Track from a song.getListData entry.
func FromSong(s gateway.Song) (*Track, error) {
	id, err := s.ID.Int64()
	if err != nil {
		return nil, fmt.Errorf("track: song id %q: %w", s.ID, err)
	}
	t := &Track{
		Type:       TypeSong,
		ID:         id,
		Token:      s.TrackToken,
		Title:      s.Title,
		Artist:     s.Artist,
		AlbumTitle: s.AlbumTitle,
		CoverID:    s.CoverID,
		Duration:   secondsOf(s.Duration),
		Available:  true,
		Cipher:     CipherBlowfishStripe,
	}
	if gain, err := s.Gain.Float64(); err == nil && s.Gain != "" {
		t.Gain = &gain
	}
	if s.TrackTokenExpiry > 0 {
		t.Expiry = time.Unix(s.TrackTokenExpiry, 0)
	}
	if s.Fallback != nil {
		fallback, err := FromSong(*s.Fallback)
		if err == nil {
			t.Fallback = fallback
		}
	}
	return t, nil
}

// FromEpisode builds a Track from an episode.getData entry. Episodes
// stream externally and never decrypt.
func FromEpisode(e gateway.Episode) (*Track, error) {
	id, err := e.ID.Int64()
	if err != nil {
		return nil, fmt.Errorf("track: episode id %q: %w", e.ID, err)
	}
	return &Track{
		Type:        TypeEpisode,
		ID:          id,
		Title:       e.Title,
		Artist:      e.ShowName,
		CoverID:     e.CoverID,
		Duration:    secondsOf(e.Duration),
		Available:   e.Available,
		External:    e.StreamURL != "",
		ExternalURL: e.StreamURL,
		Cipher:      CipherNone,
	}, nil
}

// FromLivestream builds a Track from a livestream.getData entry.
func FromLivestream(l gateway.Livestream) (*Track, error) {
	id, err := l.ID.Int64()
	if err != nil {
		return nil, fmt.Errorf("track: livestream id %q: %w", l.ID, err)
	}
	return &Track{
		Type:           TypeLivestream,
		ID:             id,
		Artist:         l.Title,
		CoverID:        l.CoverID,
		Available:      l.Available,
		External:       true,
		LivestreamURLs: l.URLs,
		Cipher:         CipherNone,
	}, nil
}

func secondsOf(n interface{ Int64() (int64, error) }) time.Duration {
	secs, err := n.Int64()
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// TokenExpired reports whether the track token lapsed and needs a
// refresh before media can be resolved. External content carries no
// token.
func (t *Track) TokenExpired() bool {
	return !t.External && !t.Expiry.IsZero() && !t.Expiry.After(time.Now())
}

// RefreshToken replaces the track token with a freshly fetched one.
func (t *Track) RefreshToken(s gateway.Song) error {
	id, err := s.ID.Int64()
	if err != nil || id != t.ID {
		return fmt.Errorf("track: token refresh for %d answered for %q", t.ID, s.ID)
	}
	if s.TrackToken == "" {
		return fmt.Errorf("%w: %s %s: no fresh token", ErrTrackUnavailable, t.Type, t)
	}
	t.Token = s.TrackToken
	t.Expiry = time.Time{}
	if s.TrackTokenExpiry > 0 {
		t.Expiry = time.Unix(s.TrackTokenExpiry, 0)
	}
	return nil
}

// IsUserUploaded reports whether this is a user upload. Uploads carry
// negative ids and only exist as songs.
func (t *Track) IsUserUploaded() bool { return t.ID < 0 }

// IsDeezer reports whether the track comes from the Deezer catalogue.
func (t *Track) IsDeezer() bool { return t.Type == TypeSong && !t.IsUserUploaded() }

// IsEncrypted reports whether the stream needs stripe decryption.
func (t *Track) IsEncrypted() bool { return t.Cipher != CipherNone }

// IsLossless reports whether the resolved medium is FLAC.
func (t *Track) IsLossless() bool { return t.Codec == CodecFLAC }

// IsPodcast reports whether this is a podcast episode.
func (t *Track) IsPodcast() bool { return t.Type == TypeEpisode }

// IsLivestream reports whether this is a continuous stream without a
// fixed duration.
func (t *Track) IsLivestream() bool { return t.Type == TypeLivestream }

// IsCBR reports whether the stream has a constant bitrate, which makes
// time-to-byte seeking exact.
func (t *Track) IsCBR() bool { return t.IsDeezer() && !t.IsLossless() }

// String renders as `id: "artist - title"`, or `id: "station"` for
// livestreams.
func (t *Track) String() string {
	if t.Title != "" {
		return fmt.Sprintf("%d: %q", t.ID, t.Artist+" - "+t.Title)
	}
	return fmt.Sprintf("%d: %q", t.ID, t.Artist)
}

// applyFallback swaps the track's identity with its fallback before the
// replacement content is downloaded, so what plays matches what is
// reported. The original metadata stays in Fallback.
func (t *Track) applyFallback() {
	f := t.Fallback
	if f == nil {
		return
	}
	t.ID, f.ID = f.ID, t.ID
	t.Token, f.Token = f.Token, t.Token
	t.Title, f.Title = f.Title, t.Title
	t.Artist, f.Artist = f.Artist, t.Artist
	t.AlbumTitle, f.AlbumTitle = f.AlbumTitle, t.AlbumTitle
	t.CoverID, f.CoverID = f.CoverID, t.CoverID
	t.Duration, f.Duration = f.Duration, t.Duration
	t.Gain, f.Gain = f.Gain, t.Gain
	t.Expiry, f.Expiry = f.Expiry, t.Expiry
}
