package player

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"

	"cryogon/pleezer/connect"
	"cryogon/pleezer/decoder"
	"cryogon/pleezer/dsp"
	"cryogon/pleezer/track"
)

// maxLoadAttempts is how often a failing track is tried before it is
// marked unavailable and skipped.
const maxLoadAttempts = 2

// slot is one loaded track: its decoder and the DSP chain built on top
// of it.
type slot struct {
	track   *track.Track
	decoder *decoder.Decoder
	ramp    *dsp.Ramp
	eq      *dsp.EqualLoudness
	dither  *dsp.DitheredVolume
	ctrl    *beep.Ctrl
	cancel  context.CancelFunc // stops a livestream fetch
}

func (s *slot) loaded() bool {
	return s != nil && s.decoder != nil
}

// ctrlPause toggles the stream under the device lock.
func (s *slot) ctrlPause(out output, paused bool) {
	if s.ctrl == nil {
		return
	}
	out.lock()
	s.ctrl.Paused = paused
	out.unlock()
}

// seekTo seeks the decoder and clears DSP state that belongs to the
// old position.
func (s *slot) seekTo(pos time.Duration) error {
	if err := s.decoder.SeekTo(pos); err != nil {
		return err
	}
	s.dither.Reset()
	if s.eq != nil {
		s.eq.Reset()
	}
	return nil
}

func (s *slot) close() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
	if s.track != nil {
		s.track.ResetDownload()
	}
}

// housekeep is the periodic pass of the command loop: it loads the
// current track when none is playing and preloads the next one near
// the end of the current.
func (p *Player) housekeep() {
	if p.deviceFailed {
		return
	}

	if p.current == nil {
		t := p.trackLocked()
		if t == nil || !p.playing {
			return
		}
		if p.unavailable(t.ID) {
			p.goNext()
			return
		}
		p.loadCurrent(t)
		return
	}

	p.maybePreload()
}

// maybePreload starts the next track's download once the current one
// is fully local and close enough to its end.
func (p *Player) maybePreload() {
	if !p.playing || p.preload != nil || p.repeat == connect.RepeatOne {
		return
	}
	t := p.current.track
	if !p.current.loaded() || !t.IsComplete() {
		return
	}
	threshold := max(t.Duration-preloadLead, 0)
	if p.positionLocked() < threshold {
		return
	}

	next, _ := p.nextTrackLocked()
	if next == nil || next == t || p.unavailable(next.ID) {
		return
	}
	s, err := p.loadSlot(next)
	if err != nil {
		log.Printf("[Player] failed to preload %s %s: %v", next.Type, next, err)
		p.markFailed(next.ID)
		return
	}
	p.preload = s
}

// loadCurrent resolves and starts the track at the queue position.
func (p *Player) loadCurrent(t *track.Track) {
	s, err := p.loadSlot(t)
	if err != nil {
		log.Printf("[Player] failed to load %s %s: %v", t.Type, t, err)
		p.markFailed(t.ID)
		return
	}
	p.current = s
	p.vol.SetTrackBitDepth(uint32(s.decoder.BitsPerSample()))

	if p.hasDeferred {
		if p.deferredSeek > 0 {
			if err := p.seekLocked(float64(p.deferredSeek) / float64(max(t.Duration, 1))); err != nil {
				log.Printf("[Player] deferred seek failed: %v", err)
			}
		}
		p.hasDeferred = false
	}

	if !p.playSlot(s) {
		return
	}
	p.notify(EventTrackChanged)
	if p.playing {
		s.ramp.SetTarget(dsp.UnityGain)
		p.notify(EventPlay)
	} else {
		s.ctrlPause(p.out, true)
	}
}

// playSlot opens the device if needed and hands the stream to it.
// Reports false when the device cannot be opened; the player then
// stays stopped until the session intervenes.
func (p *Player) playSlot(s *slot) bool {
	rate := s.decoder.Format().SampleRate
	if !p.deviceOpen {
		if err := p.out.init(rate); err != nil {
			log.Printf("[Player] failed to open audio device: %v", err)
			p.deviceFailed = true
			p.playing = false
			p.notify(EventStopped)
			return false
		}
		p.deviceOpen = true
		p.deviceRate = rate
	}

	p.playbackID++
	id := p.playbackID

	var stream beep.Streamer = s.dither
	if rate != p.deviceRate {
		stream = beep.Resample(4, rate, p.deviceRate, stream)
	}
	s.ctrl = &beep.Ctrl{
		Streamer: beep.Seq(stream, beep.Callback(func() {
			p.do(func() { p.onTrackEnd(id) })
		})),
	}
	p.out.play(s.ctrl)
	return true
}

// onTrackEnd runs when the device drained a track. A stale playback id
// means the queue changed while the callback was in flight.
func (p *Player) onTrackEnd(id int) {
	if id != p.playbackID || p.current == nil {
		return
	}

	if p.repeat == connect.RepeatOne {
		if err := p.current.seekTo(0); err != nil {
			log.Printf("[Player] failed to restart %s: %v", p.current.track, err)
			p.current.close()
			p.current = nil
			return
		}
		p.playSlot(p.current)
		p.notify(EventPlay)
		return
	}

	next, idx := p.nextTrackLocked()
	p.current.close()
	p.current = nil

	if next == nil {
		p.position = len(p.queue)
		p.playing = false
		p.notify(EventStopped)
		return
	}
	p.position = idx

	// Gapless: promote the preloaded track without touching the
	// device.
	if p.preload != nil && p.preload.track == next {
		p.current = p.preload
		p.preload = nil
		p.vol.SetTrackBitDepth(uint32(p.current.decoder.BitsPerSample()))
		if p.current.eq != nil {
			p.current.eq.SetVolume(p.volume)
		}
		if p.playSlot(p.current) {
			p.current.ramp.SetTarget(dsp.UnityGain)
			p.notify(EventTrackChanged)
			p.notify(EventPlay)
		}
		return
	}
	if p.preload != nil {
		p.preload.close()
		p.preload = nil
	}
	// The housekeeping pass loads the next track.
}

// goNext advances past an unavailable track.
func (p *Player) goNext() {
	_, idx := p.nextTrackLocked()
	if idx < 0 {
		p.position = len(p.queue)
		if p.playing {
			p.playing = false
			p.notify(EventStopped)
		}
		return
	}
	p.position = idx
}

func (p *Player) markFailed(id int64) {
	p.failures[id]++
	if p.failures[id] == maxLoadAttempts {
		log.Printf("[Player] marking track %d as unavailable", id)
	}
}

func (p *Player) unavailable(id int64) bool {
	return p.failures[id] >= maxLoadAttempts
}

// loadSlot resolves a track to media, starts its download and builds
// the DSP chain on its decoder.
func (p *Player) loadSlot(t *track.Track) (*slot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	p.refreshToken(ctx, t)
	medium, err := t.GetMedium(ctx, p.client, p.mediaURL, p.quality, p.licenseToken)
	if err != nil {
		cancel()
		return nil, err
	}

	// HLS livestreams bypass the download buffer: the playlist reader
	// fetches segments on demand, for as long as the slot lives.
	if t.IsLivestream() && len(medium.Sources) > 0 && decoder.IsHLS(medium.Sources[0].URL) {
		cancel()
		return p.loadHLS(t, medium.Sources[0].URL)
	}
	defer cancel()

	if err := t.StartDownload(ctx, p.client, medium, p.budget); err != nil {
		return nil, err
	}
	r, err := t.Reader(p.cfg.BFSecret)
	if err != nil {
		t.ResetDownload()
		return nil, err
	}
	dec, err := decoder.New(t, r)
	if err != nil {
		t.ResetDownload()
		return nil, err
	}
	s := p.buildSlot(t, dec)
	log.Printf("[Player] loaded %s %s; codec: %s; %d kbps; %d Hz",
		t.Type, t, t.Codec, t.Bitrate, dec.Format().SampleRate)
	return s, nil
}

// refreshToken trades an expired track token for a fresh one before
// the medium is resolved. Queued tracks outlive their tokens on long
// sessions.
func (p *Player) refreshToken(ctx context.Context, t *track.Track) {
	if p.cfg.RefreshTokens == nil || !t.TokenExpired() {
		return
	}
	songs, err := p.cfg.RefreshTokens(ctx, []int64{t.ID})
	if err != nil || len(songs) == 0 {
		log.Printf("[Player] failed to refresh token for %s: %v", t, err)
		return
	}
	if err := t.RefreshToken(songs[0]); err != nil {
		log.Printf("[Player] failed to refresh token for %s: %v", t, err)
	}
}

// loadHLS opens a livestream served through an HLS playlist.
func (p *Player) loadHLS(t *track.Track, playlistURL string) (*slot, error) {
	codec, kbps := t.LivestreamVariant(playlistURL)
	if codec != "" {
		t.Codec, t.Bitrate = codec, kbps
	} else {
		t.Codec = track.CodecADTS
	}

	ctx, cancel := context.WithCancel(context.Background())
	body, err := decoder.OpenHLS(ctx, p.client, playlistURL, t.Bitrate*1000)
	if err != nil {
		cancel()
		return nil, err
	}
	dec, err := decoder.NewStream(t, body)
	if err != nil {
		body.Close()
		cancel()
		return nil, fmt.Errorf("livestream %s: %w", t, err)
	}
	s := p.buildSlot(t, dec)
	s.cancel = func() {
		cancel()
		body.Close()
	}
	log.Printf("[Player] tuned into livestream %s; codec: %s; %d kbps", t, t.Codec, t.Bitrate)
	return s, nil
}

// buildSlot assembles the DSP chain: fade ramp, normalization, equal
// loudness, then the dithered volume stage the device pulls from.
func (p *Player) buildSlot(t *track.Track, dec *decoder.Decoder) *slot {
	format := dec.Format()
	rate := format.SampleRate
	t.SampleRate = int(rate)
	t.Channels = format.NumChannels
	t.BitsPerSample = dec.BitsPerSample()
	s := &slot{track: t, decoder: dec}

	s.ramp = dsp.NewRamp(dec, rate, 0)
	var stream beep.Streamer = s.ramp

	if p.cfg.Normalize {
		stream = p.normalized(stream, t, rate)
	}
	if p.cfg.Loudness {
		s.eq = dsp.NewEqualLoudness(stream, rate, p.cfg.GainTargetDB, p.volume)
		stream = s.eq
	}
	s.dither = dsp.NewDitheredVolume(stream, p.vol, rate, p.cfg.NoiseShaping)
	return s
}

// normalized applies gain normalization toward the target level. Small
// corrections are a flat gain; boosts of a decibel or more get a
// limiter so the extra gain cannot clip.
func (p *Player) normalized(stream beep.Streamer, t *track.Track, rate beep.SampleRate) beep.Streamer {
	if t.Gain == nil {
		log.Printf("[Player] %s %s has no gain information, skipping normalization", t.Type, t)
		return stream
	}
	difference := p.cfg.GainTargetDB - *t.Gain
	if difference == 0 {
		return stream
	}
	ratio := dsp.DBToRatio(difference)
	if difference < 1.0 {
		log.Printf("[Player] normalizing %s %s by %.1f dB by attenuation", t.Type, t, difference)
		return &effects.Gain{Streamer: stream, Gain: ratio - 1}
	}
	log.Printf("[Player] normalizing %s %s by %.1f dB with dynamic limiting", t.Type, t, difference)
	return dsp.NewNormalize(stream, rate, ratio,
		dsp.LimiterThresholdDB, dsp.LimiterKneeDB, dsp.LimiterAttack, dsp.LimiterRelease)
}
