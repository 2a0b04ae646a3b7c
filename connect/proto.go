package connect

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxNestingDepth bounds embedded-message recursion while decoding. A
// crafted body nesting deeper gets a Protocol error instead of a stack
// overflow.
const MaxNestingDepth = 100

// DiscoveryRequest is the protobuf body a controller broadcasts on the
// discover channel when looking for devices.
type DiscoveryRequest struct {
	UserID    uint64
	SessionID string
}

// ConnectionOffer is the protobuf body a device answers discovery with,
// advertising its identity.
type ConnectionOffer struct {
	OfferID    string
	DeviceID   string
	DeviceName string
	DeviceType string
}

// QueueItem is one entry of a published queue. Track IDs are signed:
// user uploads are negative.
type QueueItem struct {
	ID       string
	TrackID  int64
	Position uint64
	Context  string
}

// QueueList is the protobuf body on the queue channel.
type QueueList struct {
	ID         string
	Shuffled   bool
	RepeatMode RepeatMode
	Items      []QueueItem
}

// Field numbers. Shared numbering across bodies where the field means
// the same thing keeps the codec small.
const (
	fieldDiscoveryUserID  = 1
	fieldDiscoverySession = 2

	fieldOfferID    = 1
	fieldDeviceID   = 2
	fieldDeviceName = 3
	fieldDeviceType = 4

	fieldQueueID       = 1
	fieldQueueShuffled = 2
	fieldQueueRepeat   = 3
	fieldQueueItems    = 4

	fieldItemID       = 1
	fieldItemTrackID  = 2
	fieldItemPosition = 3
	fieldItemContext  = 4
)

// Marshal encodes the offer.
func (o ConnectionOffer) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOfferID, protowire.BytesType)
	b = protowire.AppendString(b, o.OfferID)
	b = protowire.AppendTag(b, fieldDeviceID, protowire.BytesType)
	b = protowire.AppendString(b, o.DeviceID)
	b = protowire.AppendTag(b, fieldDeviceName, protowire.BytesType)
	b = protowire.AppendString(b, o.DeviceName)
	b = protowire.AppendTag(b, fieldDeviceType, protowire.BytesType)
	b = protowire.AppendString(b, o.DeviceType)
	return b
}

// UnmarshalConnectionOffer decodes an offer, as seen in eavesdrop mode.
func UnmarshalConnectionOffer(data []byte) (ConnectionOffer, error) {
	var o ConnectionOffer
	if err := checkNesting(data, 0); err != nil {
		return o, err
	}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch num {
		case fieldOfferID:
			o.OfferID = string(v.bytes)
		case fieldDeviceID:
			o.DeviceID = string(v.bytes)
		case fieldDeviceName:
			o.DeviceName = string(v.bytes)
		case fieldDeviceType:
			o.DeviceType = string(v.bytes)
		}
		return nil
	})
	return o, err
}

// UnmarshalDiscoveryRequest decodes a discovery broadcast.
func UnmarshalDiscoveryRequest(data []byte) (DiscoveryRequest, error) {
	var d DiscoveryRequest
	if err := checkNesting(data, 0); err != nil {
		return d, err
	}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch num {
		case fieldDiscoveryUserID:
			if typ != protowire.VarintType {
				return fmt.Errorf("%w: discovery user id wire type", ErrMalformed)
			}
			d.UserID = v.varint
		case fieldDiscoverySession:
			d.SessionID = string(v.bytes)
		}
		return nil
	})
	return d, err
}

// Marshal encodes a queue publication.
func (q QueueList) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldQueueID, protowire.BytesType)
	b = protowire.AppendString(b, q.ID)
	b = protowire.AppendTag(b, fieldQueueShuffled, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(q.Shuffled))
	b = protowire.AppendTag(b, fieldQueueRepeat, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(q.RepeatMode))
	for _, item := range q.Items {
		b = protowire.AppendTag(b, fieldQueueItems, protowire.BytesType)
		b = protowire.AppendBytes(b, item.marshal())
	}
	return b
}

func (i QueueItem) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldItemID, protowire.BytesType)
	b = protowire.AppendString(b, i.ID)
	b = protowire.AppendTag(b, fieldItemTrackID, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(i.TrackID))
	b = protowire.AppendTag(b, fieldItemPosition, protowire.VarintType)
	b = protowire.AppendVarint(b, i.Position)
	b = protowire.AppendTag(b, fieldItemContext, protowire.BytesType)
	b = protowire.AppendString(b, i.Context)
	return b
}

// UnmarshalQueueList decodes a queue publication from a controller.
func UnmarshalQueueList(data []byte) (QueueList, error) {
	if err := checkNesting(data, 0); err != nil {
		return QueueList{}, err
	}

	var q QueueList
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch num {
		case fieldQueueID:
			q.ID = string(v.bytes)
		case fieldQueueShuffled:
			q.Shuffled = protowire.DecodeBool(v.varint)
		case fieldQueueRepeat:
			q.RepeatMode = RepeatMode(v.varint)
		case fieldQueueItems:
			item, err := unmarshalQueueItem(v.bytes)
			if err != nil {
				return err
			}
			q.Items = append(q.Items, item)
		}
		return nil
	})
	return q, err
}

func unmarshalQueueItem(data []byte) (QueueItem, error) {
	var i QueueItem
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v value) error {
		switch num {
		case fieldItemID:
			i.ID = string(v.bytes)
		case fieldItemTrackID:
			i.TrackID = protowire.DecodeZigZag(v.varint)
		case fieldItemPosition:
			i.Position = v.varint
		case fieldItemContext:
			i.Context = string(v.bytes)
		}
		return nil
	})
	return i, err
}

// value holds a decoded field value; which member is set depends on the
// wire type.
type value struct {
	varint uint64
	bytes  []byte
}

// walkFields iterates the fields of one message level. Unknown fields are
// skipped, which keeps the codec forward-compatible with controller
// updates.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v value) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var v value
		switch typ {
		case protowire.VarintType:
			v.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var f uint32
			f, n = protowire.ConsumeFixed32(b)
			v.varint = uint64(f)
		case protowire.Fixed64Type:
			v.varint, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v.bytes, n = protowire.ConsumeBytes(b)
		default:
			// Groups are long dead and nobody legitimate sends them.
			return fmt.Errorf("%w: wire type %d", ErrUnsupported, typ)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

// checkNesting walks a message and rejects embedded messages nested
// beyond MaxNestingDepth. Length-delimited fields that parse as valid
// messages are treated as nested; plain strings fail that parse and stay
// leaves.
func checkNesting(b []byte, depth int) error {
	if depth > MaxNestingDepth {
		return ErrTooDeep
	}
	for len(b) > 0 {
		_, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			_, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 && looksLikeMessage(v) {
				if err := checkNesting(v, depth+1); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: wire type %d", ErrUnsupported, typ)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

// looksLikeMessage reports whether b wire-parses as a message. One level
// only; recursion happens in checkNesting where the depth is counted.
func looksLikeMessage(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for len(b) > 0 {
		_, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return false
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			_, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			_, n = protowire.ConsumeBytes(b)
		default:
			return false
		}
		if n < 0 {
			return false
		}
		b = b[n:]
	}
	return true
}
