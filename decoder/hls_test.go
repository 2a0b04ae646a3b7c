package decoder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestIsHLS(t *testing.T) {
	if !IsHLS("http://streams.example/radio/playlist.m3u8") {
		t.Error("m3u8 not recognized")
	}
	if !IsHLS("http://streams.example/radio/PLAYLIST.M3U8?token=x") {
		t.Error("uppercase m3u8 not recognized")
	}
	if IsHLS("http://streams.example/radio.mp3") {
		t.Error("mp3 misrecognized as hls")
	}
}

func TestParseMasterPlaylist(t *testing.T) {
	base, _ := url.Parse("http://s.example/radio/master.m3u8")
	data := []byte(`#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=64000,CODECS="mp4a.40.2"
low/playlist.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=128000
high/playlist.m3u8
`)
	variants := parseMasterPlaylist(base, data)
	if len(variants) != 2 {
		t.Fatalf("got %d variants", len(variants))
	}
	if variants[0].bandwidth != 64000 || variants[0].url != "http://s.example/radio/low/playlist.m3u8" {
		t.Errorf("variant %+v", variants[0])
	}

	v, ok := selectVariant(variants, 100_000)
	if !ok || v.bandwidth != 64000 {
		t.Errorf("capped selection %+v", v)
	}
	v, _ = selectVariant(variants, 0)
	if v.bandwidth != 128000 {
		t.Errorf("uncapped selection %+v", v)
	}
	v, _ = selectVariant(variants, 1000)
	if v.bandwidth != 64000 {
		t.Errorf("below-all cap should pick smallest, got %+v", v)
	}
}

func TestParseMediaPlaylist(t *testing.T) {
	data := []byte(`#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:17
#EXTINF:4.0,
seg17.aac
#EXTINF:4.0,
seg18.aac
#EXT-X-ENDLIST
`)
	pl := parseMediaPlaylist(nil, data)
	if pl.sequence != 17 || !pl.ended {
		t.Errorf("playlist %+v", pl)
	}
	if len(pl.segments) != 2 || pl.segments[1] != "seg18.aac" {
		t.Errorf("segments %v", pl.segments)
	}
}

func TestOpenHLSEndedStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=64000\nmedia.m3u8\n")
	})
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:1.0,\ns0.bin\n#EXTINF:1.0,\ns1.bin\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/s0.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("AAAA"))
	})
	mux.HandleFunc("/s1.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("BBBB"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, err := OpenHLS(context.Background(), srv.Client(), srv.URL+"/master.m3u8", 100_000)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	all, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(all) != "AAAABBBB" {
		t.Errorf("stream %q", all)
	}
}

func TestOpenHLSLiveReload(t *testing.T) {
	var loads int
	mux := http.NewServeMux()
	mux.HandleFunc("/live.m3u8", func(w http.ResponseWriter, r *http.Request) {
		loads++
		switch {
		case loads == 1:
			io.WriteString(w, "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:5\n#EXTINF:1.0,\ns5.bin\n")
		default:
			// Window slid by one; a new segment appeared, then the stream ended.
			io.WriteString(w, "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXT-X-MEDIA-SEQUENCE:6\n#EXTINF:1.0,\ns6.bin\n#EXT-X-ENDLIST\n")
		}
	})
	mux.HandleFunc("/s5.bin", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("55")) })
	mux.HandleFunc("/s6.bin", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("66")) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, err := OpenHLS(context.Background(), srv.Client(), srv.URL+"/live.m3u8", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	all, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(all) != "5566" {
		t.Errorf("stream %q", all)
	}
	if loads < 2 {
		t.Errorf("playlist loaded %d times, want a live reload", loads)
	}
}
