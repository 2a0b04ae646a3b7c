package player

import (
	"log"
	"math/rand/v2"

	"cryogon/pleezer/connect"
	"cryogon/pleezer/track"
)

// SetQueue replaces the queue. Playback restarts from the first track;
// availability marks from the old queue are dropped.
func (p *Player) SetQueue(tracks []*track.Track) {
	p.sync(func() {
		p.dropSlots()
		p.queue = tracks
		p.position = 0
		p.shuffled = false
		p.failures = make(map[int64]int)
	})
}

// ExtendQueue appends tracks, preserving position and state. Flow
// queues grow this way as the mix is extended.
func (p *Player) ExtendQueue(tracks []*track.Track) {
	p.sync(func() {
		p.queue = append(p.queue, tracks...)
	})
}

// Queue returns a snapshot of the queued tracks.
func (p *Player) Queue() []*track.Track {
	var q []*track.Track
	p.sync(func() {
		q = make([]*track.Track, len(p.queue))
		copy(q, p.queue)
	})
	return q
}

// Position returns the current queue position.
func (p *Player) Position() int {
	var v int
	p.sync(func() { v = p.position })
	return v
}

// SetPosition moves playback to a queue position. Deezer resends the
// current position when seeking, so an unchanged value is ignored. A
// move to the already-preloaded next track promotes it directly and
// stays gapless.
func (p *Player) SetPosition(target int) {
	p.sync(func() {
		if target == p.position {
			return
		}
		log.Printf("[Player] setting queue position to %d", target)

		if target == p.position+1 && p.preload != nil && p.playing {
			p.promotePreload(target)
			return
		}
		p.dropSlots()
		p.position = target
	})
}

// promotePreload makes the preloaded track current without waiting for
// the current one to drain.
func (p *Player) promotePreload(target int) {
	if p.current != nil {
		p.current.close()
	}
	p.current = p.preload
	p.preload = nil
	p.position = target
	if p.deviceOpen {
		p.out.clear()
	}
	p.vol.SetTrackBitDepth(uint32(p.current.decoder.BitsPerSample()))
	if p.current.eq != nil {
		p.current.eq.SetVolume(p.volume)
	}
	if p.playSlot(p.current) {
		p.current.ramp.SetTarget(1)
		p.notify(EventTrackChanged)
		p.notify(EventPlay)
	}
}

// ReorderQueue rearranges the queue to match the given track id order.
// The playing track keeps playing; tracks that left the current or
// next position drop their downloads.
func (p *Player) ReorderQueue(ids []int64) {
	p.sync(func() {
		current := p.trackLocked()
		next, _ := p.nextTrackLocked()

		remaining := make([]*track.Track, len(p.queue))
		copy(remaining, p.queue)
		reordered := make([]*track.Track, 0, len(ids))
		for _, id := range ids {
			for i, t := range remaining {
				if t != nil && t.ID == id {
					if t != current && t != next {
						t.ResetDownload()
					}
					reordered = append(reordered, t)
					remaining[i] = nil
					break
				}
			}
		}

		p.queue = reordered
		p.position = 0
		for i, t := range reordered {
			if t == current {
				p.position = i
				break
			}
		}
		// The preload may no longer be the next track.
		if p.preload != nil {
			if n, _ := p.nextTrackLocked(); p.preload.track != n {
				p.preload.close()
				p.preload = nil
			}
		}
	})
}

// Shuffle randomizes the queue order, keeping the current track in
// place at the front. Turning shuffle off keeps the shuffled order;
// the controller publishes a fresh queue to restore it.
func (p *Player) Shuffle(on bool) {
	p.sync(func() {
		if on == p.shuffled {
			return
		}
		p.shuffled = on
		if !on || len(p.queue) < 2 {
			return
		}
		log.Printf("[Player] shuffling %d tracks", len(p.queue))

		current := p.trackLocked()
		rest := make([]*track.Track, 0, len(p.queue))
		for _, t := range p.queue {
			if t != current {
				rest = append(rest, t)
			}
		}
		rand.Shuffle(len(rest), func(i, j int) {
			rest[i], rest[j] = rest[j], rest[i]
		})
		queue := make([]*track.Track, 0, len(p.queue))
		if current != nil {
			queue = append(queue, current)
		}
		p.queue = append(queue, rest...)
		p.position = 0
		if p.preload != nil {
			p.preload.close()
			p.preload = nil
		}
	})
}

// RepeatMode returns the repeat setting.
func (p *Player) RepeatMode() connect.RepeatMode {
	var v connect.RepeatMode
	p.sync(func() { v = p.repeat })
	return v
}

// SetRepeatMode sets the repeat behavior. Repeat-one drops the
// preloaded next track, which will not play next anymore.
func (p *Player) SetRepeatMode(mode connect.RepeatMode) {
	p.sync(func() {
		if mode == p.repeat {
			return
		}
		log.Printf("[Player] setting repeat mode to %s", mode)
		p.repeat = mode
		if mode == connect.RepeatOne && p.preload != nil {
			p.preload.close()
			p.preload = nil
		}
	})
}
