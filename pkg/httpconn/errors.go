package httpconn

import "errors"

// Sentinel errors delivered to streams, the WebSocket, and pool listeners.
//
// These mirror the error kinds of spec.md §7: decode failures and
// unsupported versions fail the whole connection, resets are local unless
// the stream already reached the wire, and closed/already-shutdown guard
// the public entry points.
var (
	// ErrClosed is returned by any operation attempted on a closed connection,
	// and delivered to every pending stream and the WebSocket when the
	// transport closes.
	ErrClosed = errors.New("httpconn: connection closed")

	// ErrAlreadyShutdown is returned by a second call to Connection.Shutdown.
	ErrAlreadyShutdown = errors.New("httpconn: already shutdown")

	// ErrUnsupportedVersion is surfaced as a connection failure when an
	// inbound response advertises neither HTTP/1.0 nor HTTP/1.1.
	ErrUnsupportedVersion = errors.New("httpconn: unsupported HTTP version")

	// ErrInvalidMessage is delivered to every pending stream and the
	// WebSocket by the default invalid-message sink, which fails the
	// connection when a frame arrives outside of a tunnel or WebSocket context.
	ErrInvalidMessage = errors.New("httpconn: invalid message on connection")

	// ErrStreamReset is delivered to a stream's exception handler when the
	// user calls Stream.Reset without a specific cause.
	ErrStreamReset = errors.New("httpconn: stream reset")
)
