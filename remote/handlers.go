package remote

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"cryogon/pleezer/connect"
	"cryogon/pleezer/player"
	"cryogon/pleezer/track"
)

// flowRefillThreshold extends a dynamic queue when this few tracks
// remain after the current one.
const flowRefillThreshold = 2

// handleRaw routes one frame. Parse failures are logged and dropped so
// one bad frame never tears the connection down.
func (s *Session) handleRaw(ctx context.Context, data []byte) {
	msg, err := connect.UnmarshalMessage(data)
	if err != nil {
		log.Printf("[Remote] dropping message: %v", err)
		return
	}
	if msg.Type != connect.MessageSend {
		return
	}

	switch msg.Channel.Event {
	case connect.EventRemoteDiscover:
		// Discovery requests are protobuf; connection bodies on the
		// same channel are JSON.
		if isJSONBody(msg.Body) {
			s.dispatchBody(ctx, msg.Body)
			return
		}
		req, err := connect.UnmarshalDiscoveryRequest(msg.Body)
		if err != nil {
			log.Printf("[Remote] dropping discovery request: %v", err)
			return
		}
		s.handleDiscoveryRequest(req)

	case connect.EventRemoteQueue:
		if isJSONBody(msg.Body) {
			s.dispatchBody(ctx, msg.Body)
			return
		}
		list, err := connect.UnmarshalQueueList(msg.Body)
		if err != nil {
			log.Printf("[Remote] dropping queue publication: %v", err)
			return
		}
		s.handlePublishQueue(ctx, list)

	case connect.EventStream:
		s.handleStream(msg.Body)

	case connect.EventRemoteCommand:
		s.dispatchBody(ctx, msg.Body)
	}
}

// isJSONBody distinguishes the JSON envelopes from protobuf bodies that
// share a channel.
func isJSONBody(data []byte) bool {
	return len(data) > 0 && data[0] == '{'
}

// dispatchBody handles one JSON command body.
func (s *Session) dispatchBody(ctx context.Context, data []byte) {
	body, err := connect.ParseBody(data)
	if err != nil {
		log.Printf("[Remote] dropping body: %v", err)
		return
	}

	// The server echoes our own sends back to us.
	if body.From == s.opts.DeviceID {
		return
	}

	if body.Destination != "" && body.Destination != s.opts.DeviceID {
		if s.opts.Eavesdrop {
			log.Printf("[Remote] %s from %s to %s", body.MessageType, body.From, body.Destination)
		}
		return
	}
	if s.opts.Eavesdrop {
		log.Printf("[Remote] %s from %s", body.MessageType, body.From)
		return
	}

	if s.state != stateDisconnected && body.From == s.controller {
		resetTimer(s.watchdogRx, watchdogRxTimeout)
	}

	switch body.MessageType {
	case connect.BodyAck:
		// Nothing to do.

	case connect.BodyPing:
		payload := connect.AckPayload{AcknowledgementID: body.MessageID}
		if err := s.sendCommand(body.From, connect.BodyAck, payload); err != nil {
			log.Printf("[Remote] error acknowledging ping: %v", err)
		}

	case connect.BodyConnect:
		s.handleConnect(body)

	case connect.BodyClose:
		if s.state != stateDisconnected && body.From == s.controller {
			s.resetStates()
		}

	case connect.BodyStatus:
		s.handleStatus(body)

	case connect.BodySkip:
		s.handleSkip(ctx, body)

	case connect.BodyStop:
		if s.state == stateConnected && body.From == s.controller {
			s.player.Pause()
		}

	case connect.BodyPublishQueue:
		// The queue content follows as a protobuf publication on the
		// queue channel; this body only announces it.
		var payload connect.QueuePayload
		if err := body.DecodePayload(&payload); err == nil {
			log.Printf("[Remote] controller announced queue %s", payload.QueueID)
		}

	case connect.BodyRefreshQueue:
		// The controller wants a fresh view of our state.
		if s.state == stateConnected && body.From == s.controller {
			if err := s.reportProgress(); err != nil {
				log.Printf("[Remote] error reporting progress: %v", err)
			}
		}

	default:
		log.Printf("[Remote] ignoring unsupported %s from %s", body.MessageType, body.From)
	}
}

// handleDiscoveryRequest answers a controller's search with a
// connection offer.
func (s *Session) handleDiscoveryRequest(req connect.DiscoveryRequest) {
	if s.opts.Eavesdrop {
		log.Printf("[Remote] discovery request for session %s", req.SessionID)
		return
	}
	if req.UserID != 0 && connect.UserID(req.UserID) != s.userID {
		return
	}

	offer := connect.ConnectionOffer{
		OfferID:    newMessageID(),
		DeviceID:   s.opts.DeviceID,
		DeviceName: s.opts.DeviceName,
		DeviceType: s.opts.DeviceType,
	}
	msg := connect.Message{Channel: s.channel(connect.EventRemoteDiscover), Body: offer.Marshal()}
	if err := s.send(msg); err != nil {
		log.Printf("[Remote] error sending connection offer: %v", err)
	}
}

// handleConnect starts the binding handshake: subscribe the session
// channels and tell the controller we are ready.
func (s *Session) handleConnect(body connect.Body) {
	var payload connect.ConnectPayload
	if err := body.DecodePayload(&payload); err != nil {
		log.Printf("[Remote] dropping connect: %v", err)
		return
	}
	controller := payload.ControllerID
	if controller == "" {
		controller = body.From
	}

	if s.taken && controller != s.controller {
		log.Printf("[Remote] not allowing interruption from %s", controller)
		return
	}

	if err := s.subscribe(connect.EventRemoteQueue); err != nil {
		log.Printf("[Remote] error subscribing queue channel: %v", err)
		return
	}
	if err := s.subscribe(connect.EventRemoteCommand); err != nil {
		log.Printf("[Remote] error subscribing command channel: %v", err)
		s.unsubscribe(connect.EventRemoteQueue)
		return
	}

	readyID, err := s.sendCommandID(controller, connect.BodyReady, nil)
	if err != nil {
		log.Printf("[Remote] error sending ready: %v", err)
		return
	}
	s.state = stateConnecting
	s.controller = controller
	s.readyID = readyID
	resetTimer(s.watchdogRx, watchdogRxTimeout)
}

// handleStatus completes the handshake or reports a command failure.
func (s *Session) handleStatus(body connect.Body) {
	var payload connect.StatusPayload
	if err := body.DecodePayload(&payload); err != nil {
		log.Printf("[Remote] dropping status: %v", err)
		return
	}

	if payload.Status != connect.CommandOK {
		log.Printf("[Remote] controller %s reported an error", body.From)
		if body.From == s.controller {
			s.disconnect()
		}
		return
	}

	if s.state == stateConnecting && body.From == s.controller && payload.CommandID == s.readyID {
		s.state = stateConnected
		s.sessionID = newMessageID()
		s.taken = !s.opts.Interruptions
		s.applyPlayerSettings()
		log.Printf("[Remote] connected to %s", s.controller)
		if s.opts.OnConnect != nil {
			s.opts.OnConnect(s.controller)
		}
	}
}

// handleSkip acknowledges, applies the requested state, reports, then
// answers with a command status. The first skip of a session can arrive
// before the queue publication; it fails gracefully.
func (s *Session) handleSkip(ctx context.Context, body connect.Body) {
	if s.state == stateDisconnected || body.From != s.controller {
		return
	}

	ack := connect.AckPayload{AcknowledgementID: body.MessageID}
	if err := s.sendCommand(s.controller, connect.BodyAck, ack); err != nil {
		log.Printf("[Remote] error acknowledging skip: %v", err)
	}

	var payload connect.SkipPayload
	if err := body.DecodePayload(&payload); err != nil {
		log.Printf("[Remote] dropping skip: %v", err)
		return
	}
	s.setPlayerState(ctx, payload)

	status := connect.CommandOK
	if s.player.Track() == nil {
		status = connect.CommandFailed
	}
	result := connect.StatusPayload{CommandID: body.MessageID, Status: status}
	if err := s.sendCommand(s.controller, connect.BodyStatus, result); err != nil {
		log.Printf("[Remote] error sending status: %v", err)
	}
}

// setPlayerState applies a skip payload in a fixed order: position,
// progress, shuffle, repeat, volume, then play state.
func (s *Session) setPlayerState(ctx context.Context, p connect.SkipPayload) {
	if p.Position != nil {
		if p.QueueID != "" && (s.queue == nil || s.queue.ID != p.QueueID) {
			// The queue this position refers to has not arrived yet.
			pos := *p.Position
			s.deferredPosition = &pos
			log.Printf("[Remote] deferring position %d until queue %s arrives", pos, p.QueueID)
		} else {
			s.player.SetPosition(*p.Position)
		}
	}

	if p.Progress != nil {
		if err := s.player.SetProgress(*p.Progress); err != nil {
			log.Printf("[Remote] error seeking: %v", err)
		}
	}

	if p.SetShuffle != nil {
		s.player.Shuffle(*p.SetShuffle)
	}
	if p.SetRepeatMode != nil {
		s.player.SetRepeatMode(*p.SetRepeatMode)
	}

	if p.SetVolume != nil {
		s.setVolume(*p.SetVolume)
	}

	if p.ShouldPlay != nil {
		s.player.SetPlaying(*p.ShouldPlay)
	}

	if s.state == stateConnected {
		if err := s.reportProgress(); err != nil {
			log.Printf("[Remote] error reporting progress: %v", err)
		}
	}
}

// setVolume applies a controller volume, honoring the configured
// initial volume. A controller that sets anything below maximum takes
// over; maximum volume right after connecting means the controller has
// no opinion yet, so the initial volume wins.
func (s *Session) setVolume(v float64) {
	if v < 1.0 {
		s.initialVolumeUsed = true
	} else if s.initialVolumeActive() {
		s.initialVolumeUsed = true
		v = s.initialVolume
		log.Printf("[Remote] applying initial volume")
	}
	s.player.SetVolume(v)
}

func (s *Session) initialVolumeActive() bool {
	return s.initialVolume >= 0 && s.initialVolume < 1.0 && !s.initialVolumeUsed
}

// handlePublishQueue resolves a published queue into tracks and hands
// it to the player.
func (s *Session) handlePublishQueue(ctx context.Context, list connect.QueueList) {
	if s.opts.Eavesdrop {
		log.Printf("[Remote] queue %s with %d items", list.ID, len(list.Items))
		return
	}
	if s.state == stateDisconnected {
		return
	}

	tracks := s.resolveTracks(ctx, list.Items)
	s.queue = &list
	s.player.SetQueue(tracks)
	s.player.SetRepeatMode(list.RepeatMode)
	log.Printf("[Remote] loaded queue %s with %d tracks", list.ID, len(tracks))

	if s.deferredPosition != nil {
		s.player.SetPosition(*s.deferredPosition)
		s.deferredPosition = nil
	}
}

// resolveTracks turns queue items into playable tracks, preserving
// order. Items that cannot be resolved are dropped with a log line.
func (s *Session) resolveTracks(ctx context.Context, items []connect.QueueItem) []*track.Track {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	var songIDs, episodeIDs []int64
	for _, item := range items {
		switch itemKind(item.Context) {
		case track.TypeEpisode:
			episodeIDs = append(episodeIDs, item.TrackID)
		case track.TypeLivestream:
			// Resolved one by one below.
		default:
			songIDs = append(songIDs, item.TrackID)
		}
	}

	byID := make(map[int64]*track.Track, len(items))
	if len(songIDs) > 0 {
		songs, err := s.gw.SongList(ctx, songIDs)
		if err != nil {
			log.Printf("[Remote] error resolving songs: %v", err)
		}
		for _, song := range songs {
			if t, err := track.FromSong(song); err == nil {
				byID[t.ID] = t
			}
		}
	}
	if len(episodeIDs) > 0 {
		episodes, err := s.gw.Episodes(ctx, episodeIDs)
		if err != nil {
			log.Printf("[Remote] error resolving episodes: %v", err)
		}
		for _, episode := range episodes {
			if t, err := track.FromEpisode(episode); err == nil {
				byID[t.ID] = t
			}
		}
	}

	tracks := make([]*track.Track, 0, len(items))
	for _, item := range items {
		if itemKind(item.Context) == track.TypeLivestream {
			data, err := s.gw.LivestreamData(ctx, item.TrackID, nil)
			if err != nil {
				log.Printf("[Remote] error resolving livestream %d: %v", item.TrackID, err)
				continue
			}
			if t, err := track.FromLivestream(data); err == nil {
				tracks = append(tracks, t)
			}
			continue
		}
		t, ok := byID[item.TrackID]
		if !ok && itemKind(item.Context) == track.TypeSong {
			t = s.resolveSingle(ctx, item.TrackID)
		}
		if t == nil {
			log.Printf("[Remote] dropping unresolved item %d", item.TrackID)
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks
}

// resolveSingle retries one song through song.getData, which also
// resolves songs the list lookup omits by attaching a fallback.
func (s *Session) resolveSingle(ctx context.Context, id int64) *track.Track {
	song, err := s.gw.SongData(ctx, id)
	if err != nil {
		log.Printf("[Remote] error resolving song %d: %v", id, err)
		return nil
	}
	t, err := track.FromSong(song)
	if err != nil {
		return nil
	}
	return t
}

// itemKind classifies a queue item by its list context.
func itemKind(context string) track.Type {
	context = strings.ToLower(context)
	switch {
	case strings.Contains(context, "episode"), strings.Contains(context, "podcast"):
		return track.TypeEpisode
	case strings.Contains(context, "livestream"):
		return track.TypeLivestream
	default:
		return track.TypeSong
	}
}

// handlePlayerEvent turns playback transitions into reports and keeps
// dynamic queues topped up.
func (s *Session) handlePlayerEvent(ctx context.Context, e player.Event) {
	if s.state != stateConnected {
		return
	}

	switch e.Kind {
	case player.EventPlay, player.EventTrackChanged:
		if e.Kind == player.EventPlay && e.Track != nil {
			s.reportPlayback(e.Track.ID)
		}
		if err := s.reportProgress(); err != nil {
			log.Printf("[Remote] error reporting progress: %v", err)
		}
		s.maybeExtendFlow(ctx)

	case player.EventPause, player.EventStopped:
		if err := s.reportProgress(); err != nil {
			log.Printf("[Remote] error reporting progress: %v", err)
		}
	}
}

// maybeExtendFlow appends fresh personal radio tracks when a dynamic
// queue runs low, then tells the controller about the refresh.
func (s *Session) maybeExtendFlow(ctx context.Context) {
	if !s.isFlow() {
		return
	}
	queue := s.player.Queue()
	remaining := len(queue) - s.player.Position() - 1
	if remaining > flowRefillThreshold {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	songs, err := s.gw.UserRadio(ctx, uint64(s.userID))
	if err != nil {
		log.Printf("[Remote] error extending queue: %v", err)
		return
	}

	listContext := s.queue.Items[0].Context
	fresh := make([]*track.Track, 0, len(songs))
	position := uint64(len(s.queue.Items))
	for _, song := range songs {
		t, err := track.FromSong(song)
		if err != nil {
			continue
		}
		fresh = append(fresh, t)
		s.queue.Items = append(s.queue.Items, connect.QueueItem{
			ID:       newMessageID(),
			TrackID:  t.ID,
			Position: position,
			Context:  listContext,
		})
		position++
	}
	if len(fresh) == 0 {
		return
	}

	s.queue.ID = newMessageID()
	s.player.ExtendQueue(fresh)
	log.Printf("[Remote] extended queue with %d tracks", len(fresh))

	// Publish the grown list, then announce the new revision.
	msg := connect.Message{Channel: s.channel(connect.EventRemoteQueue), Body: s.queue.Marshal()}
	if err := s.send(msg); err != nil {
		log.Printf("[Remote] error publishing queue: %v", err)
		return
	}
	payload := connect.QueuePayload{QueueID: s.queue.ID}
	if err := s.sendCommand(s.controller, connect.BodyRefreshQueue, payload); err != nil {
		log.Printf("[Remote] error announcing queue refresh: %v", err)
	}
}

// reportProgress sends the periodic playback report to the controller.
func (s *Session) reportProgress() error {
	if s.state != stateConnected {
		return nil
	}
	status := s.player.Status()
	if status.Track == nil {
		return nil
	}

	payload := connect.PlaybackProgressPayload{
		Element:    strconv.FormatInt(status.Track.ID, 10),
		Duration:   int64(status.Duration.Seconds()),
		Buffered:   int64(status.Track.Buffered().Seconds()),
		Progress:   status.Progress,
		Volume:     status.Volume,
		Quality:    int(status.Track.Quality),
		IsPlaying:  status.Playing,
		IsShuffle:  status.Shuffled,
		RepeatMode: status.Repeat,
	}
	if status.Track.Codec != "" {
		payload.AudioFormat = string(status.Track.Codec)
	}
	if s.queue != nil {
		payload.QueueID = s.queue.ID
		if status.Position < len(s.queue.Items) {
			payload.Element = s.queue.Items[status.Position].ID
		}
	}
	return s.sendCommand(s.controller, connect.BodyPlaybackProgress, payload)
}

// reportPlayback notifies the stream channel that a track started, so
// other sessions of the account pause themselves.
func (s *Session) reportPlayback(trackID int64) {
	contents := connect.NewStreamPlay(s.userID, s.sessionID, strconv.FormatInt(trackID, 10))
	raw, err := json.Marshal(contents)
	if err != nil {
		log.Printf("[Remote] error encoding stream report: %v", err)
		return
	}
	msg := connect.Message{Channel: s.channel(connect.EventStream), Body: raw}
	if err := s.send(msg); err != nil {
		log.Printf("[Remote] error reporting playback: %v", err)
	}
}

// handleStream logs playback activity from other sessions.
func (s *Session) handleStream(data []byte) {
	contents, err := connect.ParseStreamContents(data)
	if err != nil {
		return
	}
	if contents.Value.UniqID == s.sessionID {
		return
	}
	log.Printf("[Remote] user %s is playing %s elsewhere", contents.Value.UserID, contents.Value.TrackID)
}

// sendCommandID sends a command body and returns its message id, so a
// later status can be matched to it.
func (s *Session) sendCommandID(destination string, typ connect.BodyType, payload any) (string, error) {
	body, err := connect.NewBody(typ, s.opts.DeviceID, payload)
	if err != nil {
		return "", err
	}
	body.Destination = destination
	raw, err := body.Encode()
	if err != nil {
		return "", err
	}
	err = s.send(connect.Message{Channel: s.channel(connect.EventRemoteCommand), Body: raw})
	return body.MessageID, err
}
