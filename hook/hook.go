// Package hook runs a user-provided script on playback and connection
// events. Scripts run detached from the process group and are reaped in
// the background, so a hung script never blocks playback and never
// leaves a zombie behind.
package hook

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"cryogon/pleezer/track"
)

// Event names passed to the script in the EVENT variable.
const (
	EventPlaying      = "playing"
	EventPaused       = "paused"
	EventTrackChanged = "track_changed"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// Runner invokes the configured script. A zero Runner does nothing.
type Runner struct {
	// Script is the path of the executable to run, empty disables.
	Script string
}

// Fire spawns the script with EVENT plus the given variables appended
// to the process environment. It returns immediately; the script runs
// on its own.
func (r *Runner) Fire(event string, fields map[string]string) {
	if r.Script == "" {
		return
	}

	cmd := exec.Command(r.Script)
	env := append(os.Environ(), "EVENT="+event)
	for k, v := range fields {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	detach(cmd)

	if err := cmd.Start(); err != nil {
		log.Printf("[Hook] error running %s: %v", r.Script, err)
		return
	}
	// Reap in the background so the child never turns into a zombie.
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("[Hook] %s for %s: %v", r.Script, event, err)
		}
	}()
}

// TrackFields builds the variables describing a track.
func TrackFields(t *track.Track) map[string]string {
	if t == nil {
		return nil
	}
	fields := map[string]string{
		"TRACK_TYPE": t.Type.String(),
		"TRACK_ID":   strconv.FormatInt(t.ID, 10),
		"TITLE":      t.Title,
		"ARTIST":     t.Artist,
		"DURATION":   strconv.FormatInt(int64(t.Duration.Seconds()), 10),
	}
	if t.AlbumTitle != "" {
		fields["ALBUM_TITLE"] = t.AlbumTitle
	}
	if t.CoverID != "" {
		fields["COVER_ID"] = t.CoverID
	}
	if t.Codec != "" {
		fields["FORMAT"] = formatDescription(t)
		fields["DECODER"] = decoderDescription(t)
	}
	return fields
}

// formatDescription renders the source format, like "MP3 320K". The
// bitrate is omitted when unknown.
func formatDescription(t *track.Track) string {
	name := strings.ToUpper(string(t.Codec))
	if t.Bitrate > 0 {
		return fmt.Sprintf("%s %dK", name, t.Bitrate)
	}
	return name
}

// decoderDescription renders the decoded output, like
// "PCM 16 bit 44.1 kHz, Stereo". Tracks not decoded yet fall back to
// the format defaults.
func decoderDescription(t *track.Track) string {
	bits := t.BitsPerSample
	if bits == 0 {
		bits = track.DefaultBitsPerSample
	}
	rate := t.SampleRate
	if rate == 0 {
		rate = track.DefaultSampleRate
	}
	channels := t.Channels
	if channels == 0 {
		channels = t.Type.DefaultChannels()
	}
	var layout string
	switch channels {
	case 1:
		layout = "Mono"
	case 2:
		layout = "Stereo"
	default:
		layout = fmt.Sprintf("%d channels", channels)
	}
	kHz := strconv.FormatFloat(float64(rate)/1000, 'f', -1, 64)
	return fmt.Sprintf("PCM %d bit %s kHz, %s", bits, kHz, layout)
}

// UserFields builds the variables describing the connected account.
func UserFields(userID uint64, userName string) map[string]string {
	return map[string]string{
		"USER_ID":   strconv.FormatUint(userID, 10),
		"USER_NAME": userName,
	}
}
