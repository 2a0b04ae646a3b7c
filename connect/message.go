package connect

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MessageType is the frame class on the websocket.
type MessageType string

const (
	// MessageSend carries a channel body in either direction.
	MessageSend MessageType = "msg"
	// MessageSubscribe asks the server to deliver a channel.
	MessageSubscribe MessageType = "sub"
	// MessageUnsubscribe stops delivery of a channel.
	MessageUnsubscribe MessageType = "unsub"
)

// Message is one websocket frame: a channel name plus a body. JSON bodies
// travel as-is; protobuf bodies (discovery, queue publication) travel
// base64-encoded in the same envelope. Subscription frames carry no body.
type Message struct {
	Type    MessageType
	Channel Channel
	Body    []byte
}

// Subscribe builds a subscription frame for a channel.
func Subscribe(c Channel) Message {
	return Message{Type: MessageSubscribe, Channel: c}
}

// Unsubscribe builds an unsubscription frame for a channel.
func Unsubscribe(c Channel) Message {
	return Message{Type: MessageUnsubscribe, Channel: c}
}

// wireMessage is the JSON envelope on the socket.
type wireMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Payload string `json:"payload,omitempty"`
}

// Marshal encodes a message for sending.
func (m Message) Marshal() ([]byte, error) {
	typ := m.Type
	if typ == "" {
		typ = MessageSend
	}
	w := wireMessage{
		Type:    string(typ),
		Channel: m.Channel.String(),
	}
	if len(m.Body) > 0 {
		w.Payload = base64.StdEncoding.EncodeToString(m.Body)
	}
	return json.Marshal(w)
}

// UnmarshalMessage decodes a received frame, enforcing the size cap.
func UnmarshalMessage(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	channel, err := ParseChannel(w.Channel)
	if err != nil {
		return Message{}, err
	}
	body, err := base64.StdEncoding.DecodeString(w.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	typ := MessageType(w.Type)
	if typ == "" {
		typ = MessageSend
	}
	return Message{Type: typ, Channel: channel, Body: body}, nil
}
