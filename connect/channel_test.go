package connect

import (
	"errors"
	"testing"
)

func TestChannelWireString(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		wire    string
	}{
		{
			"command channel",
			Channel{From: 3515766, To: 3515766, Event: EventRemoteCommand},
			"3515766_3515766_REMOTECOMMAND",
		},
		{
			"discovery from anyone",
			Channel{From: UnspecifiedUserID, To: 3515766, Event: EventRemoteDiscover},
			"-1_3515766_REMOTEDISCOVER",
		},
		{
			"queue channel",
			Channel{From: 3515766, To: UnspecifiedUserID, Event: EventRemoteQueue},
			"3515766_-1_REMOTEQUEUE",
		},
		{
			"stream channel",
			Channel{From: 3515766, To: 3515766, Event: EventStream},
			"3515766_3515766_STREAM",
		},
		{
			"user feed",
			Channel{From: UnspecifiedUserID, To: 3515766, Event: EventUserFeed(3515766)},
			"-1_3515766_USERFEED_3515766",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.channel.String(); got != tt.wire {
				t.Errorf("String() = %q, want %q", got, tt.wire)
			}
			back, err := ParseChannel(tt.wire)
			if err != nil {
				t.Fatalf("ParseChannel(%q): %v", tt.wire, err)
			}
			if back != tt.channel {
				t.Errorf("ParseChannel(%q) = %+v, want %+v", tt.wire, back, tt.channel)
			}
		})
	}
}

func TestParseChannelRejects(t *testing.T) {
	tests := []struct {
		name string
		wire string
		want error
	}{
		{"empty", "", ErrMalformed},
		{"missing event", "123_456", ErrMalformed},
		{"zero user", "0_456_REMOTECOMMAND", ErrMalformed},
		{"unknown event", "123_456_TELEPORT", ErrUnsupported},
		{"trailing junk", "123_456_REMOTECOMMAND_x", ErrUnsupported},
		{"feed without id", "123_456_USERFEED", ErrMalformed},
		{"non-numeric user", "abc_456_REMOTECOMMAND", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChannel(tt.wire)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseChannel(%q) err = %v, want %v", tt.wire, err, tt.want)
			}
		})
	}
}

func TestParseEventCaseInsensitive(t *testing.T) {
	got, err := ParseChannel("123_456_remotecommand")
	if err != nil {
		t.Fatal(err)
	}
	if got.Event != EventRemoteCommand {
		t.Errorf("lowercase event parsed as %v", got.Event)
	}
}

func TestUserIDRoundTrip(t *testing.T) {
	for _, s := range []string{"-1", "1", "18446744073709551615"} {
		id, err := ParseUserID(s)
		if err != nil {
			t.Fatalf("ParseUserID(%q): %v", s, err)
		}
		if id.String() != s {
			t.Errorf("round trip of %q gave %q", s, id.String())
		}
	}
}
