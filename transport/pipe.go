package transport

import (
	"context"
	"errors"
	"sync"
)

// errPipeClosed is returned by Send/Receive once Close has been called on
// either end of the pipe.
var errPipeClosed = errors.New("transport: pipe closed")

// pipeEnd is one side of an in-memory duplex Pipe, used by tests in place of
// a real network connection.
type pipeEnd struct {
	out chan []byte
	in  <-chan []byte

	closeSig  chan struct{} // closed by this end's own Close
	peerClose <-chan struct{} // closed by the peer end's Close

	closeMu sync.Mutex
	closed  bool
}

// NewPipe returns two connected Transports: frames sent on a arrive on b's
// Receive, and vice versa. Closing either end unblocks both ends'
// in-flight Send/Receive calls.
func NewPipe() (a, b Transport) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	closeA := make(chan struct{})
	closeB := make(chan struct{})

	pa := &pipeEnd{out: ab, in: ba, closeSig: closeA, peerClose: closeB}
	pb := &pipeEnd{out: ba, in: ab, closeSig: closeB, peerClose: closeA}
	return pa, pb
}

func (p *pipeEnd) Send(ctx context.Context, frame []byte) error {
	select {
	case p.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closeSig:
		return errPipeClosed
	case <-p.peerClose:
		return errPipeClosed
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closeSig:
		return nil, errPipeClosed
	case <-p.peerClose:
		return nil, errPipeClosed
	}
}

// Close marks this end closed, unblocking any in-flight Send/Receive on
// both ends. Safe to call more than once.
func (p *pipeEnd) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closeSig)
	return nil
}
