package protocol

import "strconv"

// MessageType identifies the type of a top-level message.
type MessageType uint8

const (
	MessageSync           MessageType = 0x00 // Document synchronization
	MessageAwareness      MessageType = 0x01 // Presence metadata
	MessageAuth           MessageType = 0x02 // Reserved
	MessageQueryAwareness MessageType = 0x03 // Reserved
	MessageRoomList       MessageType = 0x04 // Reserved
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageSync:
		return "Sync"
	case MessageAwareness:
		return "Awareness"
	case MessageAuth:
		return "Auth"
	case MessageQueryAwareness:
		return "QueryAwareness"
	case MessageRoomList:
		return "RoomList"
	default:
		return "Unknown"
	}
}

// Valid reports whether mt is a known message type.
func (mt MessageType) Valid() bool {
	return mt <= MessageRoomList
}

// Reserved reports whether the message type is accepted but carries no
// protocol action.
func (mt MessageType) Reserved() bool {
	return mt == MessageAuth || mt == MessageQueryAwareness || mt == MessageRoomList
}

// Message is a single protocol message.
//
// Wire format:
//
//	┌─────────────┬───────────────────────────────┐
//	│ Type        │ Payload                       │
//	│ (1 byte)    │ (rest of frame)               │
//	└─────────────┴───────────────────────────────┘
type Message struct {
	Type    MessageType
	Payload []byte
}

// NewMessage creates a message holding a copy of payload.
func NewMessage(mt MessageType, payload []byte) *Message {
	return &Message{Type: mt, Payload: clone(payload)}
}

// Encode encodes the message to bytes including the type tag.
func (m *Message) Encode() []byte {
	buf := make([]byte, 1+len(m.Payload))
	buf[0] = byte(m.Type)
	copy(buf[1:], m.Payload)
	return buf
}

// String returns a short description without the payload bytes.
func (m *Message) String() string {
	return "Message{type=" + m.Type.String() + ", payload=" + strconv.Itoa(len(m.Payload)) + "B}"
}

// EncodeMessage encodes m to bytes. It always succeeds.
func EncodeMessage(m *Message) []byte {
	return m.Encode()
}

// DecodeMessage decodes a message from bytes.
// It fails with a *DecodeError when data is empty or the type tag is unknown.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Layer: LayerMessage, Err: ErrEmptyMessage}
	}
	mt := MessageType(data[0])
	if !mt.Valid() {
		return nil, &DecodeError{Layer: LayerMessage, Tag: data[0], Err: ErrUnknownType}
	}
	return &Message{Type: mt, Payload: clone(data[1:])}, nil
}

// NewAwareness creates an awareness message carrying blob verbatim.
func NewAwareness(blob []byte) *Message {
	return NewMessage(MessageAwareness, blob)
}

// clone returns an independent copy of b. A nil or empty input yields an
// empty, non-nil slice.
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
