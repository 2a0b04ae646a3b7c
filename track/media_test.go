package track

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryogon/pleezer/gateway"
)

func TestCipherFormatLadders(t *testing.T) {
	tests := []struct {
		quality gateway.AudioQuality
		first   Format
		count   int
	}{
		{gateway.QualityLossless, FormatFLAC, 5},
		{gateway.QualityHigh, FormatMP3320, 4},
		{gateway.QualityStandard, FormatMP3128, 3},
		{gateway.QualityBasic, FormatMP364, 2},
	}
	for _, tt := range tests {
		formats := cipherFormats(tt.quality)
		if len(formats) != tt.count {
			t.Errorf("%v: %d formats, want %d", tt.quality, len(formats), tt.count)
		}
		if formats[0].Format != tt.first {
			t.Errorf("%v: first format %s, want %s", tt.quality, formats[0].Format, tt.first)
		}
		if last := formats[len(formats)-1].Format; last != FormatMP3Misc {
			t.Errorf("%v: ladder should end at MP3_MISC, got %s", tt.quality, last)
		}
		for _, cf := range formats {
			if cf.Cipher != CipherBlowfishStripe {
				t.Errorf("%v: cipher %s", tt.quality, cf.Cipher)
			}
		}
	}
}

func TestGetMedium(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/get_url" {
			t.Errorf("path %s", r.URL.Path)
		}
		var req mediaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.LicenseToken != "license-xyz" {
			t.Errorf("license token %q", req.LicenseToken)
		}
		if len(req.TrackTokens) != 2 || req.TrackTokens[0] != "tok-primary" {
			t.Errorf("track tokens %v", req.TrackTokens)
		}
		if len(req.Media) != 1 || req.Media[0].Type != "FULL" {
			t.Errorf("media spec %+v", req.Media)
		}

		io.WriteString(w, `{"data":[{"media":[{"media_type":"FULL","format":"MP3_128",`+
			`"cipher":{"type":"BF_CBC_STRIPE"},`+
			`"sources":[{"url":"https://cdn.example/a","provider":"ak"}]}]}]}`)
	}))
	defer srv.Close()

	tr, _ := FromSong(gateway.Song{
		ID: json.Number("1"), Artist: "A", TrackToken: "tok-primary",
		Duration: json.Number("100"),
		Fallback: &gateway.Song{ID: json.Number("2"), Artist: "A", TrackToken: "tok-fallback"},
	})

	medium, err := tr.GetMedium(context.Background(), srv.Client(), srv.URL,
		gateway.QualityStandard, "license-xyz")
	if err != nil {
		t.Fatal(err)
	}
	if medium.Format != FormatMP3128 || medium.Cipher.Type != CipherBlowfishStripe {
		t.Errorf("medium %+v", medium)
	}
	if medium.fallback {
		t.Error("first data entry should be the primary")
	}
}

func TestGetMediumFallbackEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First token: region locked. Second token: playable.
		io.WriteString(w, `{"data":[`+
			`{"errors":[{"code":2002,"message":"not available in your country"}]},`+
			`{"media":[{"media_type":"FULL","format":"MP3_128",`+
			`"cipher":{"type":"BF_CBC_STRIPE"},"sources":[{"url":"https://cdn.example/b"}]}]}`+
			`]}`)
	}))
	defer srv.Close()

	tr, _ := FromSong(gateway.Song{
		ID: json.Number("1"), Artist: "A", TrackToken: "tok-primary",
		Fallback: &gateway.Song{ID: json.Number("2"), Artist: "A", TrackToken: "tok-fallback"},
	})

	medium, err := tr.GetMedium(context.Background(), srv.Client(), srv.URL,
		gateway.QualityStandard, "license")
	if err != nil {
		t.Fatal(err)
	}
	if !medium.fallback {
		t.Error("second data entry should be flagged as fallback")
	}
}

func TestGetMediumUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"errors":[{"code":2002,"message":"nope"}]}]}`)
	}))
	defer srv.Close()

	tr, _ := FromSong(gateway.Song{ID: json.Number("1"), Artist: "A", TrackToken: "tok"})
	_, err := tr.GetMedium(context.Background(), srv.Client(), srv.URL,
		gateway.QualityStandard, "license")
	if !errors.Is(err, ErrTrackUnavailable) {
		t.Errorf("err = %v, want ErrTrackUnavailable", err)
	}
}

func TestGetMediumExpiredTrack(t *testing.T) {
	tr := &Track{Type: TypeSong, ID: 1, Artist: "A", Available: true,
		Token: "tok", Expiry: time.Now().Add(-time.Minute)}
	_, err := tr.GetMedium(context.Background(), http.DefaultClient, "http://unused",
		gateway.QualityStandard, "license")
	if !errors.Is(err, ErrTrackUnavailable) {
		t.Errorf("err = %v, want ErrTrackUnavailable", err)
	}
}

func TestExternalMediumEpisode(t *testing.T) {
	tr := &Track{
		Type: TypeEpisode, ID: 1001, Artist: "Show", Available: true,
		External: true, ExternalURL: "https://cdn.example/ep1.mp3",
		Cipher: CipherNone,
	}
	medium, err := tr.GetMedium(context.Background(), http.DefaultClient, "http://unused",
		gateway.QualityStandard, "")
	if err != nil {
		t.Fatal(err)
	}
	if medium.Format != FormatExternal || medium.Cipher.Type != CipherNone {
		t.Errorf("medium %+v", medium)
	}
	if len(medium.Sources) != 1 || medium.Sources[0].URL != tr.ExternalURL {
		t.Errorf("sources %+v", medium.Sources)
	}
}

func TestLivestreamSourceSelection(t *testing.T) {
	urls := gateway.LivestreamURLs{Data: map[string]gateway.CodecURLs{
		"64":  {AAC: "http://s/aac-64", MP3: "http://s/mp3-64"},
		"128": {AAC: "http://s/aac-128", MP3: "http://s/mp3-128"},
		"320": {MP3: "http://s/mp3-320"},
	}}

	// Standard quality caps at 128 kbps; AAC preferred at equal bitrate.
	sources := livestreamSources(urls, gateway.QualityStandard)
	if len(sources) != 2 {
		t.Fatalf("got %d sources: %+v", len(sources), sources)
	}
	if sources[0].URL != "http://s/aac-128" || sources[1].URL != "http://s/aac-64" {
		t.Errorf("sources %+v", sources)
	}

	// Lossless has no cap: the 320 kbps MP3 variant leads.
	sources = livestreamSources(urls, gateway.QualityLossless)
	if sources[0].URL != "http://s/mp3-320" {
		t.Errorf("sources %+v", sources)
	}
}

func TestLivestreamVariant(t *testing.T) {
	tr := &Track{
		Type: TypeLivestream,
		LivestreamURLs: gateway.LivestreamURLs{Data: map[string]gateway.CodecURLs{
			"128": {AAC: "http://s/aac-128", MP3: "http://s/mp3-128"},
		}},
	}
	codec, kbps := tr.LivestreamVariant("http://s/aac-128")
	if codec != CodecADTS || kbps != 128 {
		t.Errorf("variant = %q, %d", codec, kbps)
	}
	codec, kbps = tr.LivestreamVariant("http://elsewhere")
	if codec != "" || kbps != 0 {
		t.Errorf("unknown url matched: %q, %d", codec, kbps)
	}
}

func TestStartDownloadSetsState(t *testing.T) {
	payload := make([]byte, 40*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	tr := &Track{
		Type: TypeSong, ID: 1, Artist: "A", Available: true,
		Duration: 10 * time.Second, Quality: gateway.QualityStandard,
	}
	medium := Medium{
		MediaType: "FULL",
		Format:    FormatMP3128,
		Cipher:    cipherType{Type: CipherBlowfishStripe},
		Sources: []Source{
			{URL: "not a url"},
			{URL: srv.URL + "/track.mp3"},
		},
	}
	if err := tr.StartDownload(context.Background(), srv.Client(), medium, nil); err != nil {
		t.Fatal(err)
	}
	defer tr.ResetDownload()

	if tr.FileSize != int64(len(payload)) {
		t.Errorf("file size %d", tr.FileSize)
	}
	if tr.Codec != CodecMP3 || tr.Bitrate != 128 {
		t.Errorf("codec %q bitrate %d", tr.Codec, tr.Bitrate)
	}
	if !tr.IsEncrypted() {
		t.Error("cipher lost")
	}

	r, err := tr.Reader([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal(err)
	}
}
