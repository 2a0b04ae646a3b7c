package connect

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestQueueListRoundTrip(t *testing.T) {
	q := QueueList{
		ID:         "9f61c14e-6b2a-4b3c-8e1f-000000000001",
		Shuffled:   true,
		RepeatMode: RepeatAll,
		Items: []QueueItem{
			{ID: "item-0", TrackID: 3135556, Position: 0, Context: "album"},
			{ID: "item-1", TrackID: -42, Position: 1, Context: "user_upload"},
			{ID: "item-2", TrackID: 92719900, Position: 2, Context: "flow"},
		},
	}

	got, err := UnmarshalQueueList(q.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != q.ID || got.Shuffled != q.Shuffled || got.RepeatMode != q.RepeatMode {
		t.Errorf("queue header mismatch: %+v", got)
	}
	if len(got.Items) != len(q.Items) {
		t.Fatalf("got %d items, want %d", len(got.Items), len(q.Items))
	}
	for i := range q.Items {
		if got.Items[i] != q.Items[i] {
			t.Errorf("item %d = %+v, want %+v", i, got.Items[i], q.Items[i])
		}
	}
}

func TestQueueItemNegativeTrackID(t *testing.T) {
	// User uploads carry negative IDs; zigzag must bring them back intact.
	q := QueueList{ID: "q", Items: []QueueItem{{ID: "i", TrackID: -9007199254740993}}}
	got, err := UnmarshalQueueList(q.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got.Items[0].TrackID != -9007199254740993 {
		t.Errorf("track id = %d, want -9007199254740993", got.Items[0].TrackID)
	}
}

func TestConnectionOfferRoundTrip(t *testing.T) {
	o := ConnectionOffer{
		OfferID:    "offer-123",
		DeviceID:   "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		DeviceName: "Living Room",
		DeviceType: "web",
	}
	got, err := UnmarshalConnectionOffer(o.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got != o {
		t.Errorf("round trip = %+v, want %+v", got, o)
	}
}

func TestDiscoveryRequestDecode(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldDiscoveryUserID, protowire.VarintType)
	b = protowire.AppendVarint(b, 3515766)
	b = protowire.AppendTag(b, fieldDiscoverySession, protowire.BytesType)
	b = protowire.AppendString(b, "session-1")
	// Unknown field from a newer controller must be skipped.
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	d, err := UnmarshalDiscoveryRequest(b)
	if err != nil {
		t.Fatal(err)
	}
	if d.UserID != 3515766 || d.SessionID != "session-1" {
		t.Errorf("decoded %+v", d)
	}
}

// deeplyNested builds a message with a bytes field wrapping another
// message, n levels deep.
func deeplyNested(n int) []byte {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	for i := 0; i < n; i++ {
		inner := b
		b = protowire.AppendTag(nil, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

func TestNestingDepthGuard(t *testing.T) {
	// Within the limit: fine.
	if err := checkNesting(deeplyNested(MaxNestingDepth-1), 0); err != nil {
		t.Errorf("depth %d rejected: %v", MaxNestingDepth-1, err)
	}

	// Beyond the limit: a Protocol error, not a crash.
	err := checkNesting(deeplyNested(MaxNestingDepth+10), 0)
	if !errors.Is(err, ErrTooDeep) {
		t.Errorf("deep nesting err = %v, want ErrTooDeep", err)
	}

	// The public decoders apply the same guard.
	_, err = UnmarshalQueueList(deeplyNested(MaxNestingDepth + 10))
	if !errors.Is(err, ErrTooDeep) {
		t.Errorf("UnmarshalQueueList err = %v, want ErrTooDeep", err)
	}
}

func TestWalkFieldsRejectsGroups(t *testing.T) {
	b := protowire.AppendTag(nil, 1, protowire.StartGroupType)
	err := walkFields(b, func(protowire.Number, protowire.Type, value) error { return nil })
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("group wire type err = %v, want ErrUnsupported", err)
	}
}

func TestUnmarshalQueueListMalformed(t *testing.T) {
	_, err := UnmarshalQueueList([]byte{0xff, 0xff, 0xff})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("garbage err = %v, want ErrMalformed", err)
	}
}
