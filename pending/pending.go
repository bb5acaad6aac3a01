// Package pending implements the correlation map from packet id to a
// one-shot completion slot awaiting a response.
//
// Grounded directly in the teacher's transport/client_transport.go: a
// sync.Map of in-flight packet ids to buffered response channels, drained
// by LoadAndDelete so a settle is at-most-once and a miss is a silent
// no-op.
package pending

import (
	"context"
	"sync"

	"github.com/Skelmis/zonis-go/packet"
)

// Outcome is what a Slot is settled with: either a value (Err == nil) or a
// failure reason.
type Outcome struct {
	Value any
	Err   error
}

// Slot is a one-shot completion signal. It behaves as a latch, not a plain
// channel: Settle may race ahead of Wait (a response can arrive before the
// caller starts waiting), and the fulfillment is sticky — Wait always
// observes the first Settle, however it's ordered relative to Wait itself.
type Slot struct {
	ch       chan Outcome
	registry *Registry
	id       string
}

// Wait blocks until the slot is settled or ctx is done. If ctx is done
// first, the slot is removed from the registry (so a late response is
// silently discarded) and ctx.Err() is returned.
func (s *Slot) Wait(ctx context.Context) (any, error) {
	select {
	case out := <-s.ch:
		return out.Value, out.Err
	case <-ctx.Done():
		s.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel removes the slot from its registry without settling it, so the
// registry doesn't grow unboundedly for abandoned requests. A late
// response for a cancelled id finds nothing in the map and is dropped.
func (s *Slot) Cancel() {
	s.registry.remove(s.id)
}

// Registry is the correlation map: packet_id -> *Slot.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Slot
}

// New creates an empty pending registry.
func New() *Registry {
	return &Registry{pending: make(map[string]*Slot)}
}

// Open allocates a fresh packet id and a completion slot, stores the slot
// under that id, and returns both.
func (r *Registry) Open() (string, *Slot) {
	id := packet.NewPacketID()
	slot := &Slot{ch: make(chan Outcome, 1), registry: r, id: id}

	r.mu.Lock()
	r.pending[id] = slot
	r.mu.Unlock()

	return id, slot
}

// Settle fulfills the slot stored under packetID with outcome. A miss (no
// such id, or an id already settled/cancelled) is a silent no-op — it may
// correspond to a concurrently cancelled slot or a stale peer reply.
func (r *Registry) Settle(packetID string, outcome Outcome) {
	slot := r.remove(packetID)
	if slot == nil {
		return
	}
	slot.ch <- outcome
}

// CancelAll settles every outstanding slot with reason, used on session
// close or transport loss. The registry is empty once this returns.
func (r *Registry) CancelAll(reason error) {
	r.mu.Lock()
	all := r.pending
	r.pending = make(map[string]*Slot)
	r.mu.Unlock()

	for _, slot := range all {
		slot.ch <- Outcome{Err: reason}
	}
}

// Len reports the number of outstanding slots, for tests asserting the
// registry returns to empty.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) remove(packetID string) *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.pending[packetID]
	if !ok {
		return nil
	}
	delete(r.pending, packetID)
	return slot
}
