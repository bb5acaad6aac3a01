// Package zerr defines the error taxonomy shared by every zonis-go package.
//
// All errors are sentinel values comparable with errors.Is, except
// RequestFailedError which also carries the stringified cause of a remote
// handler failure.
package zerr

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateConnection is returned when a client identifies with an
	// identifier that is already bound and no valid override key is supplied.
	ErrDuplicateConnection = errors.New("zonis: duplicate connection")

	// ErrDuplicateRoute is returned when registering a route name that is
	// already present in a table.
	ErrDuplicateRoute = errors.New("zonis: duplicate route")

	// ErrUnhandledWebsocketType is returned when a frame carries a type value
	// outside of the five known packet types.
	ErrUnhandledWebsocketType = errors.New("zonis: unhandled websocket type")

	// ErrUnknownRoute is returned when a request targets a route absent from
	// the local route table.
	ErrUnknownRoute = errors.New("zonis: unknown route")

	// ErrUnknownClient is returned when a unicast request names a client
	// identifier that isn't connected, or when no identifier is given and
	// the default can't be resolved unambiguously.
	ErrUnknownClient = errors.New("zonis: unknown client")

	// ErrUnknownPacket is returned when a frame is valid JSON but structurally
	// invalid (missing packet_id, type, or data).
	ErrUnknownPacket = errors.New("zonis: unknown packet")

	// ErrMissingReceiveHandler is returned when a session is asked to
	// dispatch an inbound request but has no route table attached.
	ErrMissingReceiveHandler = errors.New("zonis: missing receive handler")

	// ErrTransportClosed is returned to every pending caller when the
	// underlying transport is lost or the session is closed before a
	// response arrives.
	ErrTransportClosed = errors.New("zonis: transport closed")

	// ErrRequestFailed is the sentinel matched by RequestFailedError's Is
	// method, so callers can use errors.Is(err, zerr.ErrRequestFailed)
	// without caring about the carried cause string.
	ErrRequestFailed = errors.New("zonis: request failed")
)

// RequestFailedError wraps the stringified cause of a remote handler error,
// delivered over the wire as a failure_response packet's "exception" field.
type RequestFailedError struct {
	Cause string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("zonis: request failed: %s", e.Cause)
}

// Is reports RequestFailedError as matching ErrRequestFailed so callers can
// branch on the sentinel without a type assertion.
func (e *RequestFailedError) Is(target error) bool {
	return target == ErrRequestFailed
}

// NewRequestFailed builds a RequestFailedError from a remote exception string.
func NewRequestFailed(cause string) error {
	return &RequestFailedError{Cause: cause}
}
