package track

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bogem/id3v2"

	"cryogon/pleezer/audiofile"
	"cryogon/pleezer/gateway"
)

// PrefetchDuration is how much audio should be buffered before
// playback of a track starts.
const PrefetchDuration = 3 * time.Second

// prefetchDefault is the prefetch size when the bitrate is unknown.
const prefetchDefault = 60 * 1024

// StartDownload begins streaming the medium into a buffered download.
// Sources are tried in order; a source outside its validity window or
// failing to connect is skipped. When the medium belongs to the track's
// fallback, the track identity is swapped first so what plays is what
// gets reported.
func (t *Track) StartDownload(ctx context.Context, client *http.Client, medium Medium, budget *audiofile.Budget) error {
	if medium.fallback && t.Fallback != nil {
		log.Printf("[Track] falling back %s %d to %s", t.Type, t.ID, t.Fallback)
		t.applyFallback()
	}

	now := time.Now()
	var download *audiofile.Download
	var sourceURL string
	for _, source := range medium.Sources {
		parsed, err := url.Parse(source.URL)
		if err != nil || parsed.Host == "" {
			log.Printf("[Track] skipping source with invalid host for %s %s", t.Type, t)
			continue
		}
		if medium.NotBefore > 0 && time.Unix(medium.NotBefore, 0).After(now) {
			log.Printf("[Track] %s %s not available until %s from %s",
				t.Type, t, time.Unix(medium.NotBefore, 0), parsed.Host)
			continue
		}
		if medium.Expiry > 0 && !time.Unix(medium.Expiry, 0).After(now) {
			log.Printf("[Track] %s %s no longer available since %s from %s",
				t.Type, t, time.Unix(medium.Expiry, 0), parsed.Host)
			continue
		}

		download, err = audiofile.Start(ctx, client, source.URL, budget)
		if err != nil {
			log.Printf("[Track] failed to start download of %s %s from %s: %v",
				t.Type, t, parsed.Host, err)
			continue
		}
		sourceURL = source.URL
		break
	}
	if download == nil {
		return fmt.Errorf("%w: no valid sources for %s %s", ErrTrackUnavailable, t.Type, t)
	}

	t.download = download
	t.Cipher = medium.Cipher.Type
	if quality, known := medium.Format.Quality(); known {
		t.Quality = quality
	}
	if size, known := download.Size(); known {
		if size == 0 {
			download.Close()
			t.download = nil
			return fmt.Errorf("%w: %s %s is 0 bytes", audiofile.ErrDownloadFailed, t.Type, t)
		}
		t.FileSize = size
	}

	t.initDownload(sourceURL)
	return nil
}

// initDownload fills in codec and bitrate now that the actual source is
// known.
func (t *Track) initDownload(sourceURL string) {
	switch {
	case t.IsLivestream():
		t.Codec, t.Bitrate = t.LivestreamVariant(sourceURL)
		return
	case t.External:
		// Episodes: the codec rides on the URL path.
		if parsed, err := url.Parse(sourceURL); err == nil {
			if codec, ok := codecFromExtension(parsed.Path); ok {
				t.Codec = codec
			}
		}
	case t.IsUserUploaded():
		t.Codec = CodecMP3
	default:
		if t.Quality == gateway.QualityLossless {
			t.Codec = CodecFLAC
		} else {
			t.Codec = CodecMP3
		}
	}

	if kbps := qualityBitrate(t.Quality); kbps > 0 && t.IsDeezer() {
		t.Bitrate = kbps
		return
	}

	// Variable bitrate: estimate from size and duration, net of any
	// tag block, capped per codec so cover art cannot inflate it.
	t.Bitrate = t.estimateBitrate()
}

// LivestreamVariant looks a chosen URL back up in the variant table to
// learn its codec and bitrate.
func (t *Track) LivestreamVariant(sourceURL string) (Codec, int) {
	for label, urls := range t.LivestreamURLs.Data {
		kbps, err := strconv.Atoi(label)
		if err != nil {
			continue
		}
		switch sourceURL {
		case urls.AAC:
			return CodecADTS, kbps
		case urls.MP3:
			return CodecMP3, kbps
		}
	}
	return "", 0
}

// estimateBitrate derives kbps from file size over duration. For user
// uploads the leading tag block is subtracted first; its size comes
// from the tag header, which sits inside the prefetched bytes.
func (t *Track) estimateBitrate() int {
	seconds := int64(t.Duration / time.Second)
	if t.FileSize <= 0 || seconds <= 0 {
		return 0
	}
	audioBytes := t.FileSize
	if t.IsUserUploaded() && t.download != nil {
		audioBytes -= t.tagOverhead()
	}
	kbps := int(audioBytes * 8 / 1000 / seconds)
	if ceiling := maxBitrate(t.Codec); ceiling > 0 && kbps > ceiling {
		kbps = ceiling
	}
	if kbps < 0 {
		kbps = 0
	}
	return kbps
}

// tagOverhead reads the declared size of a leading ID3v2 block, leaving
// the download position where it was.
func (t *Track) tagOverhead() int64 {
	pos, err := t.download.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	defer t.download.Seek(pos, io.SeekStart)

	if _, err := t.download.Seek(0, io.SeekStart); err != nil {
		return 0
	}
	tag, err := id3v2.ParseReader(t.download, id3v2.Options{Parse: false})
	if err != nil || tag == nil {
		return 0
	}
	return int64(tag.Size())
}

// Reader returns the stream to decode: the raw download, or a stripe
// decryptor over it when the content is encrypted.
func (t *Track) Reader(bfSecret []byte) (io.ReadSeeker, error) {
	if t.download == nil {
		return nil, fmt.Errorf("track: %s has no active download", t)
	}
	if !t.IsEncrypted() {
		return t.download, nil
	}
	if t.Cipher != CipherBlowfishStripe {
		return nil, fmt.Errorf("track: unsupported cipher %q for %s", t.Cipher, t)
	}
	key, err := audiofile.TrackKey(bfSecret, t.ID)
	if err != nil {
		return nil, err
	}
	return audiofile.NewDecryptor(t.download, key)
}

// Buffered returns how much of the track is safe to seek into. The
// prefetch duration is held back so a seek near the buffer edge does
// not immediately block on the network.
func (t *Track) Buffered() time.Duration {
	if t.download == nil {
		return 0
	}
	if t.download.Complete() {
		return t.Duration
	}
	size, known := t.download.Size()
	if !known || size <= 0 || t.Duration <= 0 {
		return 0
	}
	progress := float64(t.download.Buffered()) / float64(size)
	buffered := time.Duration(float64(t.Duration) * progress)
	if buffered < PrefetchDuration {
		return 0
	}
	return buffered - PrefetchDuration
}

// IsComplete reports whether the whole track is on local storage.
// Livestreams never complete.
func (t *Track) IsComplete() bool {
	if t.IsLivestream() {
		return false
	}
	return t.download != nil && t.download.Complete()
}

// PrefetchSize returns how many bytes cover PrefetchDuration at the
// track's bitrate, or a default when the bitrate is unknown.
func (t *Track) PrefetchSize() int {
	if t.Bitrate > 0 {
		return t.Bitrate * 1000 / 8 * int(PrefetchDuration/time.Second)
	}
	return prefetchDefault
}

// ResetDownload drops the download state so the track can be resolved
// and downloaded again, after a network failure or token refresh.
func (t *Track) ResetDownload() {
	if t.download != nil {
		t.download.Close()
		t.download = nil
	}
	t.FileSize = 0
	t.Bitrate = 0
}
