package player

import (
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// deviceBuffer is the audio device buffer length. Short enough that
// pause and volume changes feel immediate, long enough to survive
// scheduling hiccups.
const deviceBuffer = 100 * time.Millisecond

// output is the audio device surface the player drives. The speaker
// package keeps global state, so tests swap in a silent fake.
type output interface {
	init(rate beep.SampleRate) error
	play(s beep.Streamer)
	clear()
	lock()
	unlock()
	close()
}

// openOutput creates the device binding. Overridden in tests.
var openOutput = func() output { return &systemOutput{} }

// systemOutput plays through the default audio device.
type systemOutput struct{}

func (systemOutput) init(rate beep.SampleRate) error {
	return speaker.Init(rate, rate.N(deviceBuffer))
}

func (systemOutput) play(s beep.Streamer) { speaker.Play(s) }
func (systemOutput) clear()               { speaker.Clear() }
func (systemOutput) lock()                { speaker.Lock() }
func (systemOutput) unlock()              { speaker.Unlock() }
func (systemOutput) close()               { speaker.Close() }

// Devices lists the audio outputs the backend can open. The device
// layer always plays through the system default.
func Devices() []string {
	return []string{"default"}
}
