// Package connect implements the Deezer Connect wire protocol: channel
// naming, the JSON message bodies exchanged on the command channel, the
// STREAM playback notifications, and the protobuf bodies used for device
// discovery and queue publication.
package connect

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxMessageSize caps incoming websocket messages. Anything larger is a
// protocol violation and gets the connection closed.
const MaxMessageSize = 8192

// UserID identifies a side of a channel. Zero is invalid on the wire;
// Unspecified ("-1") means "anyone" and is used as the from side of feeds.
type UserID uint64

// UnspecifiedUserID is the wire value -1: an unspecified sender or
// receiver.
const UnspecifiedUserID UserID = 0

func (u UserID) String() string {
	if u == UnspecifiedUserID {
		return "-1"
	}
	return strconv.FormatUint(uint64(u), 10)
}

// ParseUserID parses a wire user representation. "-1" maps to
// UnspecifiedUserID; zero is rejected.
func ParseUserID(s string) (UserID, error) {
	if s == "-1" {
		return UnspecifiedUserID, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: user id %q", ErrMalformed, s)
	}
	if id == 0 {
		return 0, fmt.Errorf("%w: user id must not be zero", ErrMalformed)
	}
	return UserID(id), nil
}

// Event is the message class of a channel.
type Event struct {
	kind string
	feed UserID // only for user feeds
}

// Channel event wire names.
const (
	eventRemoteCommand  = "REMOTECOMMAND"
	eventRemoteDiscover = "REMOTEDISCOVER"
	eventRemoteQueue    = "REMOTEQUEUE"
	eventStream         = "STREAM"
	eventUserFeed       = "USERFEED"
)

var (
	// EventRemoteCommand carries playback control and status.
	EventRemoteCommand = Event{kind: eventRemoteCommand}
	// EventRemoteDiscover carries discovery and connection offers.
	EventRemoteDiscover = Event{kind: eventRemoteDiscover}
	// EventRemoteQueue carries queue publications from the controller.
	EventRemoteQueue = Event{kind: eventRemoteQueue}
	// EventStream carries playback notifications from devices.
	EventStream = Event{kind: eventStream}
)

// EventUserFeed is the social feed of a user. Carried for completeness.
func EventUserFeed(id UserID) Event {
	return Event{kind: eventUserFeed, feed: id}
}

func (e Event) String() string {
	if e.kind == eventUserFeed {
		return e.kind + separator + e.feed.String()
	}
	return e.kind
}

func parseEvent(s string) (Event, error) {
	name, id, hasID := strings.Cut(s, separator)
	upper := strings.ToUpper(name)
	if hasID && upper != eventUserFeed {
		return Event{}, fmt.Errorf("%w: trailing parts in event %q", ErrUnsupported, s)
	}
	switch upper {
	case eventRemoteCommand:
		return EventRemoteCommand, nil
	case eventRemoteDiscover:
		return EventRemoteDiscover, nil
	case eventRemoteQueue:
		return EventRemoteQueue, nil
	case eventStream:
		return EventStream, nil
	case eventUserFeed:
		if !hasID {
			return Event{}, fmt.Errorf("%w: user feed without id", ErrMalformed)
		}
		feed, err := ParseUserID(id)
		if err != nil {
			return Event{}, err
		}
		return EventUserFeed(feed), nil
	}
	return Event{}, fmt.Errorf("%w: event %q", ErrUnsupported, s)
}

// separator joins the channel parts on the wire.
const separator = "_"

// Channel is one logical channel multiplexed over the websocket, written
// on the wire as "from_to_EVENT".
type Channel struct {
	From  UserID
	To    UserID
	Event Event
}

func (c Channel) String() string {
	return c.From.String() + separator + c.To.String() + separator + c.Event.String()
}

// ParseChannel parses a channel wire string.
func ParseChannel(s string) (Channel, error) {
	parts := strings.SplitN(s, separator, 3)
	if len(parts) < 3 {
		return Channel{}, fmt.Errorf("%w: channel %q", ErrMalformed, s)
	}

	from, err := ParseUserID(parts[0])
	if err != nil {
		return Channel{}, err
	}
	to, err := ParseUserID(parts[1])
	if err != nil {
		return Channel{}, err
	}
	event, err := parseEvent(parts[2])
	if err != nil {
		return Channel{}, err
	}
	return Channel{From: from, To: to, Event: event}, nil
}
