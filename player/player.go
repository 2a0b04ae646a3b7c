// Package player drives playback of the queue: it resolves tracks to
// media, feeds them through the DSP chain into the audio device, and
// keeps the queue position, repeat mode and volume. All state lives on
// a single goroutine; the public methods post commands to it and wait
// for replies, so callers never race the audio callback.
package player

import (
	"context"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/gopxl/beep"

	"cryogon/pleezer/audiofile"
	"cryogon/pleezer/connect"
	"cryogon/pleezer/dsp"
	"cryogon/pleezer/gateway"
	"cryogon/pleezer/track"
)

// networkTimeout bounds how long a track load may block the command
// loop.
const networkTimeout = 2 * time.Second

// preloadLead is how long before the end of the current track the next
// one starts downloading.
const preloadLead = 5 * time.Second

// tickInterval paces the housekeeping pass of the command loop.
const tickInterval = 500 * time.Millisecond

// EventKind identifies a playback transition.
type EventKind int

const (
	EventPlay EventKind = iota
	EventPause
	EventTrackChanged
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventPlay:
		return "playing"
	case EventPause:
		return "paused"
	case EventTrackChanged:
		return "track_changed"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is a playback transition with the track it concerns.
type Event struct {
	Kind  EventKind
	Track *track.Track
}

// Config carries the fixed settings of a Player.
type Config struct {
	// Client performs all media requests.
	Client *http.Client

	// BFSecret is the stripe decryption secret.
	BFSecret []byte

	// Normalize enables volume normalization toward GainTargetDB.
	Normalize    bool
	GainTargetDB float64

	// Loudness enables the equal-loudness compensation filter.
	Loudness bool

	// DitherBits is the output device word length; zero disables
	// dithering. NoiseShaping selects the shaping profile (0-7).
	DitherBits   float64
	NoiseShaping int

	// MaxRAM bounds in-memory download buffering; zero means
	// downloads always go to temporary files.
	MaxRAM int64

	// RefreshTokens fetches fresh track tokens for songs whose
	// tokens expired while queued. Nil disables refreshing.
	RefreshTokens func(ctx context.Context, ids []int64) ([]gateway.Song, error)

	// OnEvent is called on playback transitions from the player
	// goroutine; it must not block.
	OnEvent func(Event)
}

// Player is the playback engine. Create one with New, then Start it.
type Player struct {
	cfg    Config
	client *http.Client
	budget *audiofile.Budget
	out    output

	commands chan func()
	closed   chan struct{}
	finished chan struct{}

	// Media access parameters, set by the session as they refresh.
	licenseToken string
	mediaURL     string
	quality      gateway.AudioQuality

	// Queue state.
	queue    []*track.Track
	position int
	repeat   connect.RepeatMode
	shuffled bool
	failures map[int64]int

	// Playback state.
	current      *slot
	preload      *slot
	playbackID   int
	playing      bool
	deviceOpen   bool
	deviceRate   beep.SampleRate
	deviceFailed bool
	deferredSeek time.Duration
	hasDeferred  bool

	// volume is the raw control value (0..1); vol holds the
	// log-scaled amplitude the audio callback applies.
	volume float64
	vol    *dsp.Volume
}

// New creates a stopped player. Volume starts at full scale; the
// session applies the configured initial volume when a controller
// binds.
func New(cfg Config) *Player {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Player{
		cfg:      cfg,
		client:   client,
		budget:   audiofile.NewBudget(cfg.MaxRAM),
		out:      openOutput(),
		commands: make(chan func(), 16),
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
		quality:  gateway.QualityStandard,
		failures: make(map[int64]int),
		volume:   dsp.UnityGain,
		vol:      dsp.NewVolume(dsp.UnityGain, cfg.DitherBits),
	}
}

// Start launches the command loop.
func (p *Player) Start() {
	go p.run()
}

// Close stops playback, closes the audio device and ends the command
// loop.
func (p *Player) Close() {
	select {
	case <-p.closed:
		return
	default:
	}
	close(p.closed)
	<-p.finished
}

func (p *Player) run() {
	defer close(p.finished)
	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	for {
		select {
		case fn := <-p.commands:
			fn()
		case <-tick.C:
			p.housekeep()
		case <-p.closed:
			p.stopLocked()
			return
		}
	}
}

// do posts a command to the player goroutine.
func (p *Player) do(fn func()) {
	select {
	case p.commands <- fn:
	case <-p.closed:
	}
}

// sync posts a command and waits until it ran.
func (p *Player) sync(fn func()) {
	done := make(chan struct{})
	p.do(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-p.closed:
	}
}

// SetLicenseToken updates the token sent with media requests. The
// session calls this after every gateway refresh.
func (p *Player) SetLicenseToken(token string) {
	p.do(func() { p.licenseToken = token })
}

// SetMediaURL updates the media service base URL.
func (p *Player) SetMediaURL(url string) {
	p.do(func() { p.mediaURL = url })
}

// SetAudioQuality sets the preferred quality for new loads.
func (p *Player) SetAudioQuality(q gateway.AudioQuality) {
	p.do(func() { p.quality = q })
}

// Play starts or resumes playback. The audio device opens lazily on
// the first play; a failed device leaves the player stopped until the
// session decides what to do.
func (p *Player) Play() {
	p.sync(func() {
		if p.playing {
			return
		}
		p.playing = true
		if p.current != nil && p.current.loaded() {
			p.current.ctrlPause(p.out, false)
			p.current.ramp.SetTarget(dsp.UnityGain)
			p.notify(EventPlay)
		}
	})
}

// Pause fades out and suspends playback.
func (p *Player) Pause() {
	p.sync(func() {
		if !p.playing {
			return
		}
		p.playing = false
		if p.current != nil && p.current.loaded() {
			p.current.ramp.SetTarget(0)
			p.pauseAfterFade(p.playbackID)
			p.notify(EventPause)
		}
	})
}

// SetPlaying sets the play/pause state.
func (p *Player) SetPlaying(playing bool) {
	if playing {
		p.Play()
	} else {
		p.Pause()
	}
}

// IsPlaying reports whether playback is active.
func (p *Player) IsPlaying() bool {
	var v bool
	p.sync(func() { v = p.playing })
	return v
}

// pauseAfterFade parks the stream once the fade-out has passed through
// the device buffer. The playback id guards against the track having
// changed in the meantime.
func (p *Player) pauseAfterFade(id int) {
	time.AfterFunc(dsp.FadeDuration, func() {
		p.do(func() {
			if p.playbackID != id || p.playing || p.current == nil {
				return
			}
			p.current.ctrlPause(p.out, true)
		})
	})
}

// Stop ends playback and closes the audio device. The session calls
// this when the controller disconnects.
func (p *Player) Stop() {
	p.sync(p.stopLocked)
}

func (p *Player) stopLocked() {
	p.rampVolume(0)
	p.dropSlots()
	if p.deviceOpen {
		p.out.close()
		p.deviceOpen = false
	}
	p.playing = false
	p.vol.SetVolume(dsp.LogVolume(p.volume))
}

// dropSlots closes the current and preloaded tracks and their
// downloads.
func (p *Player) dropSlots() {
	p.playbackID++
	if p.deviceOpen {
		p.out.clear()
	}
	if p.current != nil {
		p.current.close()
		p.current = nil
	}
	if p.preload != nil {
		p.preload.close()
		p.preload = nil
	}
}

// Volume returns the raw volume control value, before log scaling.
func (p *Player) Volume() float64 {
	var v float64
	p.sync(func() { v = p.volume })
	return v
}

// SetVolume fades to a new volume and returns the previous setting.
// Deezer resends the volume on every status update, so an unchanged
// value is a no-op.
func (p *Player) SetVolume(target float64) float64 {
	target = math.Min(math.Max(target, 0), dsp.UnityGain)
	var old float64
	p.sync(func() {
		old = p.volume
		if connect.PercentageEqual(target, old) {
			return
		}
		log.Printf("[Player] setting volume to %.0f%%", target*100)
		p.rampVolume(target)
		p.volume = target
		if p.current != nil && p.current.eq != nil {
			p.current.eq.SetVolume(target)
		}
		if bits, ok := p.vol.EffectiveBitDepth(); ok && target > 0 {
			log.Printf("[Player] volume control dither: %.1f bits", bits)
		}
	})
	return old
}

// rampVolume walks the shared amplitude from the present level to the
// target over the fade duration, stepping once per millisecond. The
// blocking sleep is deliberate: it keeps the transition exact and the
// command loop quiet while fading.
func (p *Player) rampVolume(target float64) {
	from := p.volume
	if p.current == nil || !p.current.loaded() {
		p.vol.SetVolume(dsp.LogVolume(target))
		return
	}
	steps := int(dsp.FadeDuration / time.Millisecond)
	for i := 1; i < steps; i++ {
		frac := float64(i) / float64(steps)
		p.vol.SetVolume(dsp.LogVolume(from*(1-frac) + target*frac))
		time.Sleep(time.Millisecond)
	}
	p.vol.SetVolume(dsp.LogVolume(target))
}

// Progress returns playback progress as a ratio of the track duration.
// Livestreams always report complete; an unloaded track reports zero.
func (p *Player) Progress() float64 {
	var v float64
	p.sync(func() { v = p.progressLocked() })
	return v
}

func (p *Player) progressLocked() float64 {
	t := p.trackLocked()
	if t == nil {
		return 0
	}
	if t.IsLivestream() {
		return 1
	}
	if p.current == nil || !p.current.loaded() || t.Duration <= 0 {
		return 0
	}
	return math.Min(float64(p.positionLocked())/float64(t.Duration), 1)
}

// positionLocked reads the decode position under the device lock; the
// audio callback advances it concurrently.
func (p *Player) positionLocked() time.Duration {
	p.out.lock()
	pos := p.current.decoder.PositionDuration()
	p.out.unlock()
	return pos
}

// Duration returns the current track duration. For livestreams this is
// the time played so far.
func (p *Player) Duration() time.Duration {
	var v time.Duration
	p.sync(func() {
		t := p.trackLocked()
		switch {
		case t == nil:
			return
		case t.IsLivestream():
			if p.current != nil && p.current.loaded() {
				v = p.positionLocked()
			}
		default:
			v = t.Duration
		}
	})
	return v
}

// SetProgress seeks within the current track. Seeks past the buffered
// region are clamped so playback never stalls on the network; seeks on
// a track that has not loaded yet are deferred until it has.
func (p *Player) SetProgress(progress float64) error {
	var err error
	p.sync(func() { err = p.seekLocked(progress) })
	return err
}

func (p *Player) seekLocked(progress float64) error {
	t := p.trackLocked()
	if t == nil || t.IsLivestream() {
		return nil
	}
	progress = math.Min(math.Max(progress, 0), 1)
	target := time.Duration(float64(t.Duration) * progress)

	if p.current == nil || !p.current.loaded() {
		p.deferredSeek, p.hasDeferred = target, true
		return nil
	}

	if !t.IsComplete() {
		if buffered := t.Buffered(); target > buffered {
			log.Printf("[Player] limiting seek of %s %s to %s due to buffering", t.Type, t, buffered)
			target = buffered
		}
	}
	log.Printf("[Player] seeking %s %s to %02d:%02d", t.Type, t,
		int(target.Minutes()), int(target.Seconds())%60)

	prev := p.volume
	p.rampVolume(0)
	p.out.lock()
	err := p.current.seekTo(target)
	p.out.unlock()
	p.rampVolume(prev)
	return err
}

// Status is a consistent snapshot of the playback state.
type Status struct {
	Track    *track.Track
	Position int
	Playing  bool
	Loaded   bool
	Progress float64
	Duration time.Duration
	Volume   float64
	Repeat   connect.RepeatMode
	Shuffled bool
}

// Status returns a snapshot for reporting.
func (p *Player) Status() Status {
	var s Status
	p.sync(func() {
		s = Status{
			Track:    p.trackLocked(),
			Position: p.position,
			Playing:  p.playing,
			Loaded:   p.current != nil && p.current.loaded(),
			Progress: p.progressLocked(),
			Volume:   p.volume,
			Repeat:   p.repeat,
			Shuffled: p.shuffled,
		}
		if s.Track != nil && !s.Track.IsLivestream() {
			s.Duration = s.Track.Duration
		}
	})
	return s
}

// Track returns the track at the current queue position, or nil.
func (p *Player) Track() *track.Track {
	var t *track.Track
	p.sync(func() { t = p.trackLocked() })
	return t
}

func (p *Player) trackLocked() *track.Track {
	if p.position < 0 || p.position >= len(p.queue) {
		return nil
	}
	return p.queue[p.position]
}

func (p *Player) nextTrackLocked() (*track.Track, int) {
	next := p.position + 1
	if next < len(p.queue) {
		return p.queue[next], next
	}
	if p.repeat == connect.RepeatAll && len(p.queue) > 0 {
		return p.queue[0], 0
	}
	return nil, -1
}

// notify reports a playback transition.
func (p *Player) notify(kind EventKind) {
	if p.cfg.OnEvent == nil {
		return
	}
	p.cfg.OnEvent(Event{Kind: kind, Track: p.trackLocked()})
}
