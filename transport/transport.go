// Package transport defines the duplex, text-frame message channel the
// protocol core treats as an external collaborator: send one text frame,
// receive one text frame, close.
//
// The core never opens a socket itself — it's handed a Transport and a
// single reader goroutine owns the receive side exclusively (the
// single-reader discipline spec'd for session/hub). Two implementations
// are provided: a gorilla/websocket adapter for production use, and an
// in-memory Pipe for tests and same-process demos.
package transport

import "context"

// Transport is the contract a session or hub needs from the underlying
// connection. Receive must only ever be called from one goroutine at a
// time per Transport instance — that invariant is the caller's (session's)
// responsibility to uphold, not this interface's to enforce.
type Transport interface {
	// Send writes one complete text frame.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks for one complete text frame, or returns an error if the
	// transport is closed or ctx is done. (WSTransport honours only ctx's
	// deadline, not plain cancellation.)
	Receive(ctx context.Context) ([]byte, error)
	// Close closes the underlying connection. Safe to call more than once.
	Close() error
}
