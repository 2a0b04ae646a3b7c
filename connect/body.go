package connect

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ProtocolVersion is the Deezer Connect revision this device speaks.
const ProtocolVersion = "com.deezer.remote.command.proto1"

// BodyType discriminates the JSON bodies on the command channel.
type BodyType string

const (
	BodyConnect          BodyType = "connect"
	BodyConnectionOffer  BodyType = "connectionOffer"
	BodyReady            BodyType = "ready"
	BodyClose            BodyType = "close"
	BodyPing             BodyType = "ping"
	BodyAck              BodyType = "ack"
	BodyStatus           BodyType = "status"
	BodySkip             BodyType = "skip"
	BodyPublishQueue     BodyType = "publishQueue"
	BodyRefreshQueue     BodyType = "refreshQueue"
	BodyPlaybackProgress BodyType = "playbackProgress"
	BodyStop             BodyType = "stop"
)

// Body is the JSON envelope on the command channel. From and
// Destination carry device or controller identities, not user ids; a
// missing destination means the body addresses anyone listening.
type Body struct {
	MessageID       string          `json:"messageId"`
	MessageType     BodyType        `json:"messageType"`
	ProtocolVersion string          `json:"protocolVersion"`
	From            string          `json:"from"`
	Destination     string          `json:"destination,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// NewBody builds an envelope with a fresh message ID. payload may be nil
// for bodies without one (ping, close, stop).
func NewBody(t BodyType, from string, payload any) (Body, error) {
	b := Body{
		MessageID:       uuid.NewString(),
		MessageType:     t,
		ProtocolVersion: ProtocolVersion,
		From:            from,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Body{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		b.Payload = raw
	}
	return b, nil
}

// Encode serializes the body for a message frame.
func (b Body) Encode() ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", b.MessageType, err)
	}
	return raw, nil
}

// ParseBody decodes a command channel body.
func ParseBody(data []byte) (Body, error) {
	var b Body
	if err := json.Unmarshal(data, &b); err != nil {
		return Body{}, fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}
	if b.MessageType == "" {
		return Body{}, fmt.Errorf("%w: body without message type", ErrMalformed)
	}
	return b, nil
}

// DecodePayload unmarshals the payload into dst.
func (b Body) DecodePayload(dst any) error {
	if len(b.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformed, b.MessageType)
	}
	if err := json.Unmarshal(b.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, b.MessageType, err)
	}
	return nil
}

// RepeatMode is the queue repeat setting.
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "none"
	}
}

// CommandStatus reports the outcome of a controller command.
type CommandStatus int

const (
	CommandOK CommandStatus = iota
	CommandFailed
)

// percentageEpsilon is the relative tolerance for comparing wire
// percentages. Floats arrive through JSON, never compare them with ==.
const percentageEpsilon = 1e-6

// PercentageEqual compares two fractional values with relative epsilon.
func PercentageEqual(a, b float64) bool {
	if a == b {
		return true
	}
	return 2.0*math.Abs(a-b) <= percentageEpsilon*(math.Abs(a)+math.Abs(b))
}

// ConnectPayload asks a device to bind to a controller. The offer ID
// echoes a previous connection offer but is deliberately not validated:
// controllers echo stale offers more often than they replay attacks.
type ConnectPayload struct {
	ControllerID string `json:"controllerId"`
	OfferID      string `json:"offerId,omitempty"`
}

// AckPayload confirms receipt of a message.
type AckPayload struct {
	AcknowledgementID string `json:"acknowledgementId"`
}

// StatusPayload reports command execution back to the controller.
type StatusPayload struct {
	CommandID string        `json:"commandId"`
	Status    CommandStatus `json:"status"`
}

// SkipPayload changes playback position and settings. All fields are
// optional; a skip that only sets volume carries nothing else.
type SkipPayload struct {
	QueueID       string      `json:"queueId,omitempty"`
	TrackID       string      `json:"trackId,omitempty"`
	Position      *int        `json:"position,omitempty"`
	Progress      *float64    `json:"progress,omitempty"`
	ShouldPlay    *bool       `json:"shouldPlay,omitempty"`
	SetRepeatMode *RepeatMode `json:"setRepeatMode,omitempty"`
	SetShuffle    *bool       `json:"setShuffle,omitempty"`
	SetVolume     *float64    `json:"setVolume,omitempty"`
}

// QueuePayload announces that a queue was published or must be refreshed.
type QueuePayload struct {
	QueueID string `json:"queueId"`
}

// PlaybackProgressPayload is the periodic status report. Progress and
// volume are fractions in [0, 1].
type PlaybackProgressPayload struct {
	QueueID     string     `json:"queueId"`
	Element     string     `json:"element"`
	Duration    int64      `json:"duration"`
	Buffered    int64      `json:"buffered"`
	Progress    float64    `json:"progress"`
	Volume      float64    `json:"volume"`
	Quality     int        `json:"quality"`
	IsPlaying   bool       `json:"isPlaying"`
	IsShuffle   bool       `json:"isShuffle"`
	RepeatMode  RepeatMode `json:"repeatMode"`
	AudioFormat string     `json:"audioFormat,omitempty"`
}
