package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common connection and routing conditions.
var (
	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrSendQueueFull is returned when a session's outbound queue overflows.
	// The session is closed as a consequence.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrTextFrame is reported when a client sends a text frame. The
	// protocol is binary only.
	ErrTextFrame = errors.New("server: text frames not supported")

	// ErrUnknownClient is returned for a client id with no connection.
	ErrUnknownClient = errors.New("server: unknown client")

	// ErrMaxConnectionsReached is returned when the connection limit is hit.
	ErrMaxConnectionsReached = errors.New("server: max connections reached")

	// ErrMissingRoom is returned when the upgrade URL names no room.
	ErrMissingRoom = errors.New("server: missing room name")
)

// RoutingError reports a frame or call that could not be routed to a
// client or room.
type RoutingError struct {
	ClientID string
	Op       string // Operation that failed
	Err      error  // Underlying error
}

// Error returns the error message with client context.
func (e *RoutingError) Error() string {
	if e.ClientID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: client %s: %s: %v", e.ClientID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *RoutingError) Unwrap() error {
	return e.Err
}

// NewRoutingError creates a new RoutingError.
func NewRoutingError(clientID, op string, err error) *RoutingError {
	return &RoutingError{
		ClientID: clientID,
		Op:       op,
		Err:      err,
	}
}
