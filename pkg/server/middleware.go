package server

import (
	"context"

	"github.com/vango-dev/yrelay/pkg/protocol"
)

// Frame describes one inbound binary frame.
type Frame struct {
	ClientID string
	Room     string // Empty before the client has joined
	Data     []byte

	// Message is nil when the frame failed to decode.
	Message *protocol.Message
}

// Size returns the frame length in bytes.
func (f *Frame) Size() int {
	return len(f.Data)
}

// Kind returns a low-cardinality label for the frame: the sync step for
// SYNC messages, the message type otherwise, "invalid" for undecodable
// frames.
func (f *Frame) Kind() string {
	if f.Message == nil {
		return "invalid"
	}
	switch f.Message.Type {
	case protocol.MessageSync:
		if len(f.Message.Payload) == 0 {
			return "sync"
		}
		switch protocol.SyncType(f.Message.Payload[0]) {
		case protocol.SyncRequest:
			return "sync_request"
		case protocol.SyncResponse:
			return "sync_response"
		case protocol.SyncUpdate:
			return "update"
		default:
			return "sync"
		}
	case protocol.MessageAwareness:
		return "awareness"
	case protocol.MessageAuth:
		return "auth"
	case protocol.MessageQueryAwareness:
		return "query_awareness"
	case protocol.MessageRoomList:
		return "room_list"
	default:
		return "invalid"
	}
}

// FrameMiddleware wraps frame processing. It must call next to continue the
// chain and should return the error next returns.
type FrameMiddleware func(ctx context.Context, f *Frame, next func(context.Context) error) error

// chain composes middleware around final, outermost first.
func chain(mws []FrameMiddleware, f *Frame, final func(context.Context) error) func(context.Context) error {
	next := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		inner := next
		next = func(ctx context.Context) error {
			return mw(ctx, f, inner)
		}
	}
	return next
}
