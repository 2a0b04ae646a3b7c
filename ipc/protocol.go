// Package ipc exposes local playback control over a unix socket, so
// shell scripts and desktop bindings can drive the device without
// going through a Deezer controller. Newline-delimited JSON both ways.
package ipc

import "encoding/json"

type CommandType string

// What a local client can send.
const (
	CmdPlay   CommandType = "play"
	CmdPause  CommandType = "pause"
	CmdNext   CommandType = "next"
	CmdPrev   CommandType = "prev"
	CmdVolume CommandType = "volume"
	CmdSeek   CommandType = "seek"
)

type Command struct {
	Type CommandType `json:"type"`
	// Value carries the volume fraction for CmdVolume and the progress
	// fraction for CmdSeek, both in [0, 1].
	Value float64 `json:"value,omitempty"`
}

type PlayerState struct {
	Playing  bool    `json:"playing"`
	TrackID  int64   `json:"track_id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Progress float64 `json:"progress"`
	Duration int64   `json:"duration"`
	Volume   float64 `json:"volume"`
}

type Message struct {
	Type string          `json:"type"` // "cmd", "player_state"
	Data json.RawMessage `json:"data"`
}

func NewMessage(payload any, msgType string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg := Message{Type: msgType, Data: data}
	return json.Marshal(msg)
}
