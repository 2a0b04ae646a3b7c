package track

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"cryogon/pleezer/gateway"
)

// mediaEndpoint is joined onto the gateway's media URL.
const mediaEndpoint = "v1/get_url"

// Cipher names the encryption applied to a stream.
type Cipher string

const (
	CipherNone           Cipher = "NONE"
	CipherBlowfishStripe Cipher = "BF_CBC_STRIPE"
)

// Format is the media format label of the get_url API.
type Format string

const (
	FormatFLAC     Format = "FLAC"
	FormatMP3320   Format = "MP3_320"
	FormatMP3128   Format = "MP3_128"
	FormatMP364    Format = "MP3_64"
	FormatMP3Misc  Format = "MP3_MISC" // user uploads, bitrate unknown
	FormatExternal Format = "EXTERNAL"
)

// Quality maps a format back to the quality ladder. Misc and external
// formats have no defined quality.
func (f Format) Quality() (gateway.AudioQuality, bool) {
	switch f {
	case FormatFLAC:
		return gateway.QualityLossless, true
	case FormatMP3320:
		return gateway.QualityHigh, true
	case FormatMP3128:
		return gateway.QualityStandard, true
	case FormatMP364:
		return gateway.QualityBasic, true
	default:
		return gateway.QualityStandard, false
	}
}

// CipherFormat pairs a format with the cipher it is served under.
type CipherFormat struct {
	Cipher Cipher `json:"cipher"`
	Format Format `json:"format"`
}

// cipherFormats returns the fallback ladder for a quality: the
// preferred format first, then every lower one down to MP3_MISC.
func cipherFormats(quality gateway.AudioQuality) []CipherFormat {
	ladder := []CipherFormat{
		{CipherBlowfishStripe, FormatFLAC},
		{CipherBlowfishStripe, FormatMP3320},
		{CipherBlowfishStripe, FormatMP3128},
		{CipherBlowfishStripe, FormatMP364},
		{CipherBlowfishStripe, FormatMP3Misc},
	}
	switch quality {
	case gateway.QualityLossless:
		return ladder
	case gateway.QualityHigh:
		return ladder[1:]
	case gateway.QualityStandard:
		return ladder[2:]
	default:
		return ladder[3:]
	}
}

// qualityBitrate returns the constant bitrate of a quality in kbps, or
// 0 for lossless where the bitrate is variable.
func qualityBitrate(q gateway.AudioQuality) int {
	switch q {
	case gateway.QualityBasic:
		return 64
	case gateway.QualityStandard:
		return 128
	case gateway.QualityHigh:
		return 320
	default:
		return 0
	}
}

type mediaRequest struct {
	LicenseToken string      `json:"license_token"`
	TrackTokens  []string    `json:"track_tokens"`
	Media        []mediaSpec `json:"media"`
}

type mediaSpec struct {
	Type          string         `json:"type"`
	CipherFormats []CipherFormat `json:"cipher_formats"`
}

const mediaTypeFull = "FULL"

type mediaResponse struct {
	Data []mediaData `json:"data"`
}

// mediaData is the answer for one track token: either media or errors.
type mediaData struct {
	Media  []Medium     `json:"media"`
	Errors []mediaError `json:"errors"`
}

type mediaError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Medium is one downloadable rendition of a track.
type Medium struct {
	MediaType string     `json:"media_type"`
	Format    Format     `json:"format"`
	Cipher    cipherType `json:"cipher"`
	Sources   []Source   `json:"sources"`
	NotBefore int64      `json:"nbf,omitempty"`
	Expiry    int64      `json:"exp,omitempty"`

	// fallback is set when the medium belongs to the track's fallback
	// rather than the track itself.
	fallback bool
}

type cipherType struct {
	Type Cipher `json:"type"`
}

// Source is one CDN location serving a medium.
type Source struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

// GetMedium resolves a downloadable source for the track at the given
// quality, falling back through lower qualities and finally through the
// track's fallback when the primary has no media.
func (t *Track) GetMedium(ctx context.Context, client *http.Client, mediaURL string, quality gateway.AudioQuality, licenseToken string) (Medium, error) {
	if !t.Available {
		return Medium{}, fmt.Errorf("%w: %s %s", ErrTrackUnavailable, t.Type, t)
	}
	if !t.Expiry.IsZero() && !t.Expiry.After(time.Now()) {
		return Medium{}, fmt.Errorf("%w: %s %s expired at %s", ErrTrackUnavailable, t.Type, t, t.Expiry)
	}
	if t.External {
		return t.externalMedium(quality)
	}

	if t.Token == "" {
		return Medium{}, fmt.Errorf("%w: %s %s has no track token", ErrTrackUnavailable, t.Type, t)
	}
	tokens := []string{t.Token}
	if t.Fallback != nil && t.Fallback.Token != "" {
		tokens = append(tokens, t.Fallback.Token)
	}

	body, err := json.Marshal(mediaRequest{
		LicenseToken: licenseToken,
		TrackTokens:  tokens,
		Media: []mediaSpec{{
			Type:          mediaTypeFull,
			CipherFormats: cipherFormats(quality),
		}},
	})
	if err != nil {
		return Medium{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		mediaURL+"/"+mediaEndpoint, bytes.NewReader(body))
	if err != nil {
		return Medium{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Medium{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Medium{}, fmt.Errorf("track: get_url: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Medium{}, err
	}
	var items mediaResponse
	if err := json.Unmarshal(raw, &items); err != nil {
		return Medium{}, fmt.Errorf("track: get_url: decode: %w", err)
	}

	// One data entry per track token; the first with media wins.
	for i, data := range items.Data {
		if len(data.Media) == 0 {
			continue
		}
		medium := data.Media[0]
		medium.fallback = i > 0

		if got, known := medium.Format.Quality(); known && !t.IsUserUploaded() && got != quality {
			log.Printf("[Track] requested %s %s in %s, but got %s", t.Type, t, quality, got)
		}
		return medium, nil
	}
	return Medium{}, fmt.Errorf("%w: no media data for %s %s", ErrTrackUnavailable, t.Type, t)
}

// externalMedium builds a medium for content that streams from its own
// host: podcast episodes and livestreams.
func (t *Track) externalMedium(quality gateway.AudioQuality) (Medium, error) {
	var sources []Source
	switch {
	case t.ExternalURL != "":
		sources = []Source{{URL: t.ExternalURL}}
	case len(t.LivestreamURLs.Data) > 0:
		sources = livestreamSources(t.LivestreamURLs, quality)
	}
	if len(sources) == 0 {
		return Medium{}, fmt.Errorf("%w: no sources for external %s %s", ErrTrackUnavailable, t.Type, t)
	}
	return Medium{
		MediaType: mediaTypeFull,
		Format:    FormatExternal,
		Cipher:    cipherType{Type: CipherNone},
		Sources:   sources,
	}, nil
}

// livestreamSources orders the livestream variants best-first: highest
// bitrate not above the quality's cap, AAC preferred over MP3 at equal
// bitrate.
func livestreamSources(urls gateway.LivestreamURLs, quality gateway.AudioQuality) []Source {
	type variant struct {
		kbps int
		urls gateway.CodecURLs
	}
	variants := make([]variant, 0, len(urls.Data))
	for label, codecURLs := range urls.Data {
		kbps, err := strconv.Atoi(label)
		if err != nil {
			continue
		}
		variants = append(variants, variant{kbps, codecURLs})
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i].kbps > variants[j].kbps })

	maxKbps := qualityBitrate(quality)
	var sources []Source
	for _, v := range variants {
		if maxKbps > 0 && v.kbps > maxKbps {
			continue
		}
		if v.urls.AAC != "" {
			sources = append(sources, Source{URL: v.urls.AAC})
		} else if v.urls.MP3 != "" {
			sources = append(sources, Source{URL: v.urls.MP3})
		}
	}
	return sources
}
