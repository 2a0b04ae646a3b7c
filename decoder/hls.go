package decoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IsHLS reports whether a stream URL points at an HLS playlist rather
// than a raw audio stream.
func IsHLS(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(parsed.Path), ".m3u8")
}

// hlsVariant is one entry of a master playlist.
type hlsVariant struct {
	bandwidth int // bits per second
	url       string
}

// parseMasterPlaylist extracts the variant streams of a master
// playlist. Returns nil when the playlist is already a media playlist.
func parseMasterPlaylist(base *url.URL, data []byte) []hlsVariant {
	var variants []hlsVariant
	var bandwidth int
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			bandwidth = 0
			for _, attr := range strings.Split(line[len("#EXT-X-STREAM-INF:"):], ",") {
				if v, ok := strings.CutPrefix(attr, "BANDWIDTH="); ok {
					bandwidth, _ = strconv.Atoi(strings.TrimSpace(v))
				}
			}
		case line == "" || strings.HasPrefix(line, "#"):
			// Other tags are not interesting here.
		default:
			if bandwidth > 0 {
				variants = append(variants, hlsVariant{bandwidth, resolveRef(base, line)})
				bandwidth = 0
			}
		}
	}
	return variants
}

// mediaPlaylist is a parsed media playlist window.
type mediaPlaylist struct {
	sequence       int // media sequence number of the first segment
	segments       []string
	ended          bool
	targetDuration time.Duration
}

func parseMediaPlaylist(base *url.URL, data []byte) mediaPlaylist {
	pl := mediaPlaylist{targetDuration: 2 * time.Second}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			pl.sequence, _ = strconv.Atoi(line[len("#EXT-X-MEDIA-SEQUENCE:"):])
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if secs, err := strconv.Atoi(line[len("#EXT-X-TARGETDURATION:"):]); err == nil && secs > 0 {
				pl.targetDuration = time.Duration(secs) * time.Second
			}
		case line == "#EXT-X-ENDLIST":
			pl.ended = true
		case line == "" || strings.HasPrefix(line, "#"):
		default:
			pl.segments = append(pl.segments, resolveRef(base, line))
		}
	}
	return pl
}

func resolveRef(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}

// selectVariant picks the highest-bandwidth variant not exceeding the
// cap; with no cap, the highest overall.
func selectVariant(variants []hlsVariant, maxBandwidth int) (hlsVariant, bool) {
	if len(variants) == 0 {
		return hlsVariant{}, false
	}
	sorted := make([]hlsVariant, len(variants))
	copy(sorted, variants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].bandwidth > sorted[j].bandwidth })
	if maxBandwidth > 0 {
		for _, v := range sorted {
			if v.bandwidth <= maxBandwidth {
				return v, true
			}
		}
		// Everything is above the cap; take the smallest.
		return sorted[len(sorted)-1], true
	}
	return sorted[0], true
}

// hlsReader streams the segments of a media playlist as one continuous
// byte stream, reloading the playlist for live streams.
type hlsReader struct {
	ctx      context.Context
	client   *http.Client
	playlist string

	current  io.ReadCloser
	queue    []string
	nextSeq  int
	ended    bool
	interval time.Duration
}

// OpenHLS opens an HLS URL as a continuous stream. A master playlist is
// resolved to the best variant within maxBandwidth bits per second.
func OpenHLS(ctx context.Context, client *http.Client, playlistURL string, maxBandwidth int) (io.ReadCloser, error) {
	base, data, err := fetch(ctx, client, playlistURL)
	if err != nil {
		return nil, err
	}

	if variants := parseMasterPlaylist(base, data); len(variants) > 0 {
		variant, _ := selectVariant(variants, maxBandwidth)
		playlistURL = variant.url
		base, data, err = fetch(ctx, client, playlistURL)
		if err != nil {
			return nil, err
		}
	}

	pl := parseMediaPlaylist(base, data)
	if len(pl.segments) == 0 && pl.ended {
		return nil, fmt.Errorf("%w: empty hls playlist", ErrUnsupportedFormat)
	}
	return &hlsReader{
		ctx:      ctx,
		client:   client,
		playlist: playlistURL,
		queue:    pl.segments,
		nextSeq:  pl.sequence + len(pl.segments),
		ended:    pl.ended,
		interval: pl.targetDuration,
	}, nil
}

func (h *hlsReader) Read(p []byte) (int, error) {
	for {
		if h.current == nil {
			if err := h.openNext(); err != nil {
				return 0, err
			}
		}
		n, err := h.current.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			h.current.Close()
			h.current = nil
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

// openNext starts the next segment download, reloading the playlist
// when the window is exhausted on a live stream.
func (h *hlsReader) openNext() error {
	for len(h.queue) == 0 {
		if h.ended {
			return io.EOF
		}
		select {
		case <-h.ctx.Done():
			return h.ctx.Err()
		case <-time.After(h.interval):
		}
		base, data, err := fetch(h.ctx, h.client, h.playlist)
		if err != nil {
			return err
		}
		pl := parseMediaPlaylist(base, data)
		fresh := pl.sequence + len(pl.segments) - h.nextSeq
		if fresh > len(pl.segments) {
			// The window moved past us; resume at the live edge.
			fresh = len(pl.segments)
		}
		if fresh > 0 {
			h.queue = append(h.queue, pl.segments[len(pl.segments)-fresh:]...)
			h.nextSeq += fresh
		}
		h.ended = pl.ended
	}

	segment := h.queue[0]
	h.queue = h.queue[1:]

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, segment, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("decoder: hls segment: status %d", resp.StatusCode)
	}
	h.current = resp.Body
	return nil
}

func (h *hlsReader) Close() error {
	if h.current != nil {
		return h.current.Close()
	}
	return nil
}

func fetch(ctx context.Context, client *http.Client, rawURL string) (*url.URL, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("decoder: hls playlist: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return req.URL, data, nil
}
