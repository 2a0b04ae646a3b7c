package connect

import (
	"encoding/json"
	"fmt"
)

// StreamAction is the verb of a STREAM channel notification.
type StreamAction string

// StreamPlay reports that playback of a track started.
const StreamPlay StreamAction = "PLAY"

// streamApp identifies the reporting subsystem. Only limitation
// accounting is known to use this channel.
const streamApp = "LIMITATION"

// StreamContents is a playback notification on the STREAM channel. The
// uppercase field names are the wire format.
type StreamContents struct {
	Action StreamAction `json:"ACTION"`
	App    string       `json:"APP"`
	Value  StreamValue  `json:"VALUE"`
}

// StreamValue carries which user played which track in which session.
type StreamValue struct {
	UserID  string `json:"USER_ID"`
	UniqID  string `json:"UNIQID"`
	TrackID string `json:"SNG_ID"`
}

// NewStreamPlay builds the notification sent when a track starts.
// sessionID groups the plays of one listening session.
func NewStreamPlay(userID UserID, sessionID string, trackID string) StreamContents {
	return StreamContents{
		Action: StreamPlay,
		App:    streamApp,
		Value: StreamValue{
			UserID:  userID.String(),
			UniqID:  sessionID,
			TrackID: trackID,
		},
	}
}

// ParseStreamContents decodes a STREAM channel body.
func ParseStreamContents(data []byte) (StreamContents, error) {
	var c StreamContents
	if err := json.Unmarshal(data, &c); err != nil {
		return StreamContents{}, fmt.Errorf("%w: stream contents: %v", ErrMalformed, err)
	}
	if c.Action != StreamPlay {
		return StreamContents{}, fmt.Errorf("%w: stream action %q", ErrUnsupported, c.Action)
	}
	return c, nil
}
