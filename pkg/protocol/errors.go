package protocol

import (
	"errors"
	"fmt"
)

// Decoding errors.
var (
	ErrEmptyMessage = errors.New("protocol: empty message")
	ErrUnknownType  = errors.New("protocol: unknown type tag")
)

// Layer identifies which level of the protocol failed to decode.
type Layer uint8

const (
	LayerMessage Layer = iota // Outer message
	LayerSync                 // Sync payload nested in a MessageSync
)

// String returns the string representation of the layer.
func (l Layer) String() string {
	switch l {
	case LayerMessage:
		return "message"
	case LayerSync:
		return "sync"
	default:
		return "unknown"
	}
}

// DecodeError reports a malformed frame or sync payload.
type DecodeError struct {
	Layer Layer
	Tag   byte  // Offending tag, zero for empty input
	Err   error // ErrEmptyMessage or ErrUnknownType
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrUnknownType) {
		return fmt.Sprintf("protocol: decode %s: unknown type tag 0x%02x", e.Layer, e.Tag)
	}
	return fmt.Sprintf("protocol: decode %s: %v", e.Layer, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
