// Package protocol implements the binary wire protocol spoken between yrelay
// clients and the relay server.
//
// The protocol rides on a transport that already delivers discrete, ordered
// binary frames (a WebSocket connection). Each frame carries exactly one
// message; there is no length prefix because the transport preserves message
// boundaries.
//
// # Wire Format
//
// Every message starts with a one-byte type tag followed by the payload,
// which consumes the rest of the frame:
//
//	┌─────────────┬───────────────────────────────┐
//	│ Type        │ Payload                       │
//	│ (1 byte)    │ (rest of frame)               │
//	└─────────────┴───────────────────────────────┘
//
// # Message Types
//
//   - MessageSync (0x00): document synchronization, carries a sync message
//   - MessageAwareness (0x01): opaque per-client presence blob
//   - MessageAuth (0x02): reserved
//   - MessageQueryAwareness (0x03): reserved
//   - MessageRoomList (0x04): reserved
//
// # Sync Messages
//
// The payload of a MessageSync is itself tagged one level down:
//
//	┌─────────────┬───────────────────────────────┐
//	│ Sync Type   │ Data                          │
//	│ (1 byte)    │ (rest of payload)             │
//	└─────────────┴───────────────────────────────┘
//
//   - SyncRequest (0x00): data is the sender's state vector
//   - SyncResponse (0x01): data is an update computed against a state vector
//   - SyncUpdate (0x02): data is an incremental update
//
// # Usage Example
//
//	// Build and encode a sync request
//	msg := protocol.NewSyncRequest(stateVector)
//	frame := protocol.EncodeMessage(msg)
//
//	// Decode an inbound frame
//	msg, err := protocol.DecodeMessage(frame)
//	if err != nil {
//	    // err is a *DecodeError
//	}
//	if msg.Type == protocol.MessageSync {
//	    sm, err := protocol.DecodeSync(msg.Payload)
//	    ...
//	}
//
// All encode and decode functions return freshly allocated slices; callers
// may retain or mutate them without affecting the input.
package protocol
