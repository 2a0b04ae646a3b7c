package connect

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestBodyRoundTrip(t *testing.T) {
	payload := SkipPayload{QueueID: "q-1", TrackID: "3135556"}
	b, err := NewBody(BodySkip, "controller-1", payload)
	if err != nil {
		t.Fatal(err)
	}
	if b.MessageID == "" {
		t.Error("NewBody should assign a message id")
	}
	if b.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version %q", b.ProtocolVersion)
	}

	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseBody(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.MessageType != BodySkip || back.From != "controller-1" {
		t.Errorf("parsed %+v", back)
	}

	var got SkipPayload
	if err := back.DecodePayload(&got); err != nil {
		t.Fatal(err)
	}
	if got.QueueID != "q-1" || got.TrackID != "3135556" {
		t.Errorf("payload %+v", got)
	}
}

func TestParseBodyRejects(t *testing.T) {
	if _, err := ParseBody([]byte("{not json")); !errors.Is(err, ErrMalformed) {
		t.Errorf("bad json err = %v, want ErrMalformed", err)
	}
	if _, err := ParseBody([]byte(`{"messageId":"x"}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing type err = %v, want ErrMalformed", err)
	}
}

func TestDecodePayloadWithoutPayload(t *testing.T) {
	b, err := NewBody(BodyPing, "dev", nil)
	if err != nil {
		t.Fatal(err)
	}
	var p SkipPayload
	if err := b.DecodePayload(&p); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestSkipPayloadOptionalFields(t *testing.T) {
	// A volume-only skip carries nothing else on the wire.
	vol := 0.5
	raw, err := json.Marshal(SkipPayload{SetVolume: &vol})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"setVolume":0.5}` {
		t.Errorf("wire form %s", raw)
	}

	var back SkipPayload
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.SetVolume == nil || *back.SetVolume != 0.5 {
		t.Error("volume lost in round trip")
	}
	if back.ShouldPlay != nil || back.Progress != nil {
		t.Error("absent fields should stay nil")
	}
}

func TestPercentageEqual(t *testing.T) {
	tests := []struct {
		a, b float64
		want bool
	}{
		{0.5, 0.5, true},
		{0.0, 0.0, true},
		{0.5, 0.5 + 1e-9, true},
		{0.5, 0.6, false},
		{1.0, 0.9999999999, true},
		{0.1, 0.2, false},
	}
	for _, tt := range tests {
		if got := PercentageEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("PercentageEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := Message{
		Channel: Channel{From: 123, To: 123, Event: EventRemoteCommand},
		Body:    []byte(`{"messageType":"ping"}`),
	}
	raw, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back.Channel != m.Channel {
		t.Errorf("channel %+v, want %+v", back.Channel, m.Channel)
	}
	if string(back.Body) != string(m.Body) {
		t.Errorf("body %q, want %q", back.Body, m.Body)
	}
}

func TestUnmarshalMessageSizeCap(t *testing.T) {
	big := make([]byte, MaxMessageSize+1)
	for i := range big {
		big[i] = 'a'
	}
	if _, err := UnmarshalMessage(big); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversize err = %v, want ErrTooLarge", err)
	}
}

func TestStreamContentsRoundTrip(t *testing.T) {
	c := NewStreamPlay(3515766, "session-uuid", "3135556")
	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseStreamContents(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back != c {
		t.Errorf("round trip %+v, want %+v", back, c)
	}

	if _, err := ParseStreamContents([]byte(`{"ACTION":"DANCE"}`)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown action err = %v, want ErrUnsupported", err)
	}
}
