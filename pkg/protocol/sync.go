package protocol

// SyncType identifies the step of the document sync exchange carried in a
// MessageSync payload.
type SyncType uint8

const (
	SyncRequest  SyncType = 0x00 // Data is a state vector
	SyncResponse SyncType = 0x01 // Data is a diff against a state vector
	SyncUpdate   SyncType = 0x02 // Data is an incremental update
)

// String returns the string representation of the sync type.
func (st SyncType) String() string {
	switch st {
	case SyncRequest:
		return "SyncRequest"
	case SyncResponse:
		return "SyncResponse"
	case SyncUpdate:
		return "Update"
	default:
		return "Unknown"
	}
}

// Valid reports whether st is a known sync type.
func (st SyncType) Valid() bool {
	return st <= SyncUpdate
}

// SyncMessage is the decoded payload of a MessageSync.
type SyncMessage struct {
	Type SyncType
	Data []byte
}

// EncodeSync encodes a sync payload: one tag byte followed by data.
func EncodeSync(st SyncType, data []byte) []byte {
	buf := make([]byte, 1+len(data))
	buf[0] = byte(st)
	copy(buf[1:], data)
	return buf
}

// DecodeSync decodes a MessageSync payload.
// It fails with a *DecodeError when payload is empty or the tag is unknown.
func DecodeSync(payload []byte) (*SyncMessage, error) {
	if len(payload) == 0 {
		return nil, &DecodeError{Layer: LayerSync, Err: ErrEmptyMessage}
	}
	st := SyncType(payload[0])
	if !st.Valid() {
		return nil, &DecodeError{Layer: LayerSync, Tag: payload[0], Err: ErrUnknownType}
	}
	return &SyncMessage{Type: st, Data: clone(payload[1:])}, nil
}

// NewSync wraps a sync step into a top-level message.
func NewSync(st SyncType, data []byte) *Message {
	return &Message{Type: MessageSync, Payload: EncodeSync(st, data)}
}

// NewSyncRequest creates a sync request carrying a state vector.
func NewSyncRequest(stateVector []byte) *Message {
	return NewSync(SyncRequest, stateVector)
}

// NewSyncResponse creates a sync response carrying a diff.
func NewSyncResponse(update []byte) *Message {
	return NewSync(SyncResponse, update)
}

// NewUpdate creates an update message.
func NewUpdate(update []byte) *Message {
	return NewSync(SyncUpdate, update)
}
