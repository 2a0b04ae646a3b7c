// Package remote speaks the Deezer Connect remote-control protocol: it
// announces the device on the discovery channel, binds to a controller,
// receives queue publications and playback commands, and reports
// progress back. One Session wraps one websocket connection; Run keeps
// reconnecting with backoff until its context ends.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cryogon/pleezer/connect"
	"cryogon/pleezer/gateway"
	"cryogon/pleezer/player"
)

const (
	// websocketURLFormat is the live endpoint; the path carries the
	// user token, the query the protocol version.
	websocketURLFormat = "wss://live.deezer.com/ws/%s?version=%s"

	// networkTimeout bounds individual sends and lookups.
	networkTimeout = 2 * time.Second

	// reportingInterval paces playback progress reports while playing.
	reportingInterval = 3 * time.Second

	// watchdogRxTimeout disconnects a controller that went silent.
	watchdogRxTimeout = 10 * time.Second

	// watchdogTxTimeout sends a ping when we have been silent.
	watchdogTxTimeout = 5 * time.Second
)

// errTokenExpired restarts the connection so the token gets refreshed.
var errTokenExpired = errors.New("remote: user token expired")

// Backend is the slice of the gateway the session needs. Satisfied by
// *gateway.Client.
type Backend interface {
	UserToken(ctx context.Context) (gateway.UserToken, error)
	FlushUserToken()
	RenewLogin(ctx context.Context) error
	LicenseToken() string
	MediaURL() string
	AudioQuality() gateway.AudioQuality
	SongList(ctx context.Context, ids []int64) ([]gateway.Song, error)
	SongData(ctx context.Context, id int64) (gateway.Song, error)
	Episodes(ctx context.Context, ids []int64) ([]gateway.Episode, error)
	LivestreamData(ctx context.Context, id int64, codecs []string) (gateway.Livestream, error)
	UserRadio(ctx context.Context, userID uint64) ([]gateway.Song, error)
	Cookies() []*http.Cookie
}

// Options configures a Session.
type Options struct {
	Gateway Backend
	Player  *player.Player

	DeviceID   string
	DeviceName string
	DeviceType string
	Version    string

	// Interruptions allows another controller to take over an
	// existing connection.
	Interruptions bool

	// InitialVolume is applied when a controller binds, until it
	// explicitly sets a volume below maximum. Negative disables.
	InitialVolume float64

	// Eavesdrop subscribes and logs but never answers discovery.
	Eavesdrop bool

	// LocalAddr pins the websocket connection to one network
	// interface. Nil uses any.
	LocalAddr *net.TCPAddr

	OnConnect    func(controllerID string)
	OnDisconnect func(controllerID string)
}

type connectionState int

const (
	stateDisconnected connectionState = iota
	stateConnecting
	stateConnected
)

// Session is one device presence on the Connect websocket.
type Session struct {
	opts   Options
	gw     Backend
	player *player.Player

	conn    *websocket.Conn
	dialURL string // overrides the live endpoint in tests
	userID  connect.UserID

	state      connectionState
	controller string
	readyID    string // message id the controller must acknowledge
	sessionID  string // playback reporting session
	taken      bool   // not accepting other controllers
	subs       map[string]bool

	queue            *connect.QueueList
	deferredPosition *int

	initialVolume     float64
	initialVolumeUsed bool

	playerEvents chan player.Event

	watchdogRx *time.Timer
	watchdogTx *time.Timer
	reporting  *time.Timer
}

// New creates a session. Wire the player's OnEvent to
// (*Session).PlayerEvent so transitions reach the controller.
func New(opts Options) (*Session, error) {
	if opts.Gateway == nil || opts.Player == nil {
		return nil, errors.New("remote: gateway and player are required")
	}
	if opts.DeviceID == "" {
		return nil, errors.New("remote: device id is required")
	}
	return &Session{
		opts:          opts,
		gw:            opts.Gateway,
		player:        opts.Player,
		subs:          make(map[string]bool),
		initialVolume: opts.InitialVolume,
		playerEvents:  make(chan player.Event, 16),
	}, nil
}

// PlayerEvent feeds a playback transition into the session loop. Safe
// to call from the player goroutine.
func (s *Session) PlayerEvent(e player.Event) {
	select {
	case s.playerEvents <- e:
	default:
		log.Printf("[Remote] dropping player event %s", e.Kind)
	}
}

// Run connects and serves until the context ends. Connection loss and
// token expiry reconnect with backoff; authentication failures are
// fatal.
func (s *Session) Run(ctx context.Context) error {
	bo := reconnectBackOff()

	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, gateway.ErrAuthFailed) ||
			errors.Is(err, gateway.ErrAccountTierInsufficient) ||
			errors.Is(err, gateway.ErrTooManyDevices) {
			return err
		}
		if errors.Is(err, errTokenExpired) {
			s.renewLogin(ctx)
		}
		wait := bo.NextBackOff()
		log.Printf("[Remote] connection lost: %v; reconnecting in %s", err, wait.Round(time.Millisecond))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reconnectBackOff doubles the reconnect delay per failed attempt,
// with jitter, and never gives up.
func reconnectBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0 // retry forever
	return bo
}

// renewLogin refreshes the auth service session alongside the user
// token. Failure is not fatal; the next refresh tries again.
func (s *Session) renewLogin(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if err := s.gw.RenewLogin(rctx); err != nil {
		log.Printf("[Remote] error renewing login: %v", err)
	}
}

// runOnce performs one full connection: token, dial, subscribe, serve.
func (s *Session) runOnce(ctx context.Context) error {
	token, err := s.gw.UserToken(ctx)
	if err != nil {
		return err
	}
	s.userID = connect.UserID(token.UserID)
	s.applyPlayerSettings()

	url := s.dialURL
	if url == "" {
		url = fmt.Sprintf(websocketURLFormat, token.Token, s.opts.Version)
	}
	header := http.Header{}
	for _, c := range s.gw.Cookies() {
		header.Add("Cookie", c.Name+"="+c.Value)
	}

	conn, resp, err := s.dialer().DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("remote: dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("remote: dial: %w", err)
	}
	// Enforce the protocol frame cap at the transport, before a frame
	// is buffered.
	conn.SetReadLimit(connect.MaxMessageSize)
	s.conn = conn
	defer s.teardown()

	if err := s.subscribe(connect.EventStream); err != nil {
		return err
	}
	if err := s.subscribe(connect.EventRemoteDiscover); err != nil {
		return err
	}
	if s.opts.Eavesdrop {
		log.Printf("[Remote] not discoverable: eavesdropping on websocket")
	} else {
		log.Printf("[Remote] ready for discovery as %q", s.opts.DeviceName)
	}

	incoming := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		defer close(incoming)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case incoming <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	s.watchdogRx = time.NewTimer(watchdogRxTimeout)
	s.watchdogTx = time.NewTimer(watchdogTxTimeout)
	s.reporting = time.NewTimer(reportingInterval)
	defer s.watchdogRx.Stop()
	defer s.watchdogTx.Stop()
	defer s.reporting.Stop()

	expiry := time.NewTimer(time.Until(token.ExpiresAt))
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("remote: read: %w", err)

		case data, ok := <-incoming:
			if !ok {
				return errors.New("remote: connection closed")
			}
			s.handleRaw(ctx, data)

		case <-expiry.C:
			return errTokenExpired

		case <-s.watchdogTx.C:
			s.watchdogTx.Reset(watchdogTxTimeout)
			if s.state == stateConnected {
				if err := s.sendPing(); err != nil {
					log.Printf("[Remote] error sending ping: %v", err)
				}
			}

		case <-s.watchdogRx.C:
			s.watchdogRx.Reset(watchdogRxTimeout)
			if s.state == stateConnected {
				log.Printf("[Remote] controller %s is not responding", s.controller)
				s.disconnect()
			}

		case <-s.reporting.C:
			s.reporting.Reset(reportingInterval)
			if s.state == stateConnected && s.player.IsPlaying() {
				if err := s.reportProgress(); err != nil {
					log.Printf("[Remote] error reporting progress: %v", err)
				}
			}

		case e := <-s.playerEvents:
			s.handlePlayerEvent(ctx, e)
		}
	}
}

// dialer builds the websocket dialer, bound to the configured local
// interface when one is set.
func (s *Session) dialer() *websocket.Dialer {
	if s.opts.LocalAddr == nil {
		return websocket.DefaultDialer
	}
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		NetDialContext:   (&net.Dialer{LocalAddr: s.opts.LocalAddr}).DialContext,
	}
}

// teardown closes the socket and resets connection state between
// attempts.
func (s *Session) teardown() {
	s.resetStates()
	s.conn.Close()
	s.conn = nil
	s.subs = make(map[string]bool)
}

// applyPlayerSettings pushes the account's media parameters into the
// player. Called on every (re)connection, after the token refresh.
func (s *Session) applyPlayerSettings() {
	s.player.SetLicenseToken(s.gw.LicenseToken())
	s.player.SetMediaURL(s.gw.MediaURL())
	s.player.SetAudioQuality(s.gw.AudioQuality())
}

// channel builds a channel scoped to the session's user.
func (s *Session) channel(event connect.Event) connect.Channel {
	return connect.Channel{From: s.userID, To: s.userID, Event: event}
}

func (s *Session) subscribe(event connect.Event) error {
	ch := s.channel(event)
	if s.subs[ch.String()] {
		return nil
	}
	if err := s.send(connect.Subscribe(ch)); err != nil {
		return err
	}
	s.subs[ch.String()] = true
	return nil
}

func (s *Session) unsubscribe(event connect.Event) error {
	ch := s.channel(event)
	if !s.subs[ch.String()] {
		return nil
	}
	if err := s.send(connect.Unsubscribe(ch)); err != nil {
		return err
	}
	delete(s.subs, ch.String())
	return nil
}

// send writes one frame, feeding the tx watchdog.
func (s *Session) send(m connect.Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(networkTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("remote: send: %w", err)
	}
	if s.watchdogTx != nil {
		resetTimer(s.watchdogTx, watchdogTxTimeout)
	}
	return nil
}

// sendBody sends a JSON body to a device on an event channel.
func (s *Session) sendBody(event connect.Event, destination string, typ connect.BodyType, payload any) error {
	body, err := connect.NewBody(typ, s.opts.DeviceID, payload)
	if err != nil {
		return err
	}
	body.Destination = destination
	raw, err := body.Encode()
	if err != nil {
		return err
	}
	return s.send(connect.Message{Channel: s.channel(event), Body: raw})
}

// sendCommand sends a JSON body on the command channel.
func (s *Session) sendCommand(destination string, typ connect.BodyType, payload any) error {
	return s.sendBody(connect.EventRemoteCommand, destination, typ, payload)
}

func (s *Session) sendPing() error {
	return s.sendCommand(s.controller, connect.BodyPing, nil)
}

// isFlow reports whether the published queue is a dynamic mix that
// should be extended as it runs low.
func (s *Session) isFlow() bool {
	if s.queue == nil || len(s.queue.Items) == 0 {
		return false
	}
	context := strings.ToLower(s.queue.Items[0].Context)
	return strings.Contains(context, "flow") || strings.Contains(context, "radio")
}

// resetStates drops the controller binding and restores discovery.
func (s *Session) resetStates() {
	if s.controller != "" {
		log.Printf("[Remote] disconnected from %s", s.controller)
		if s.opts.OnDisconnect != nil {
			s.opts.OnDisconnect(s.controller)
		}
	}

	// The player releases the output device until the next bind.
	s.player.Stop()

	// Restore the initial volume for the next connection.
	s.initialVolumeUsed = false

	// Force a token refresh on the next connection.
	s.gw.FlushUserToken()

	s.state = stateDisconnected
	s.controller = ""
	s.readyID = ""
	s.sessionID = ""
	s.taken = false
	s.queue = nil
	s.deferredPosition = nil
}

// disconnect closes the controller binding from our side.
func (s *Session) disconnect() {
	if s.controller != "" {
		if err := s.sendCommand(s.controller, connect.BodyClose, nil); err != nil {
			log.Printf("[Remote] error sending close: %v", err)
		}
	}
	s.resetStates()
}

// resetTimer safely rearms a timer that may have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// newMessageID returns a fresh message identifier.
func newMessageID() string { return uuid.NewString() }
