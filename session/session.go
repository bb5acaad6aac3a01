// Package session implements the engine shared by a client's connection to
// the hub and the hub's per-client record: one transport, one reader
// goroutine, a route table for inbound requests, and a pending registry
// for outbound requests awaiting a reply.
//
// Grounded in the teacher's transport/client_transport.go (recvLoop +
// pending-map Send) fused with server/server.go's handleConn type-switch
// dispatch loop — here both roles collapse into one Session type because
// spec.md §4.4 describes the client session's reader doing exactly what
// the hub's per-connection ingestion loop does (§4.5): classify the frame
// by type and route it to either the route table or the pending registry.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/glycerine/idem"
	"go.uber.org/zap"

	"github.com/Skelmis/zonis-go/packet"
	"github.com/Skelmis/zonis-go/pending"
	"github.com/Skelmis/zonis-go/route"
	"github.com/Skelmis/zonis-go/transport"
	"github.com/Skelmis/zonis-go/zerr"
)

func unmarshalInto(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// Session owns one transport, one reader goroutine (started by Run), a
// route table for inbound requests, and a pending registry for outbound
// ones. The single-reader rule is enforced structurally: Receive is only
// ever called from inside Run.
type Session struct {
	Identifier string

	transport transport.Transport
	routes    *route.Table
	pending   *pending.Registry
	logger    *zap.Logger
	halt      *idem.Halter
}

// New wires a Session around an already-connected transport. routes may be
// nil — in that case an inbound request yields ErrMissingReceiveHandler.
func New(identifier string, t transport.Transport, routes *route.Table, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		Identifier: identifier,
		transport:  t,
		routes:     routes,
		pending:    pending.New(),
		logger:     logger,
		halt:       idem.NewHalterNamed(fmt.Sprintf("session(%s)", identifier)),
	}
}

// Pending exposes the session's pending registry, e.g. for tests that open
// and settle slots against this specific connection directly.
func (s *Session) Pending() *pending.Registry { return s.pending }

// Halt exposes the session's stop signal, so a hub can ask a session to
// stop its reader without reaching into its internals.
func (s *Session) Halt() *idem.Halter { return s.halt }

// Send serializes v as an envelope of type typ under packetID and writes
// it to the transport.
func (s *Session) Send(ctx context.Context, packetID string, typ packet.Type, v any) error {
	frame, err := packet.Marshal(packetID, typ, v)
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, frame)
}

// Request allocates a pending slot, sends a request frame of the given
// wire type, and blocks until it's settled or ctx is done. typ must be
// either packet.TypeRequest (hub calling down to a client) or
// packet.TypeClientToServer (client calling up to the hub) — the two
// frames dispatch identically on the receiving end (see HandleFrame), but
// the wire still distinguishes who originated the call, matching
// original_source/zonis/client.py's request() sending "CLIENT_REQUEST"
// against the server-push path's plain "REQUEST".
func (s *Session) Request(ctx context.Context, typ packet.Type, routeName string, args map[string]any) (any, error) {
	packetID, slot := s.pending.Open()
	if err := s.Send(ctx, packetID, typ, packet.RequestData{
		Route: routeName, Arguments: args,
	}); err != nil {
		slot.Cancel()
		return nil, err
	}
	return slot.Wait(ctx)
}

// Run is the session's single reader loop. It blocks until the transport
// closes, ctx is done, or Close is called, classifying each inbound frame
// exactly as spec.md §4.4 step 4 describes:
//
//   - request / client_to_server: dispatch through the route table and
//     send back a response or failure_response with the same packet_id.
//   - response / failure_response: settle the matching pending slot.
//   - anything else: log ErrUnhandledWebsocketType and keep going.
//
// Run never returns a non-nil error for a graceful Close; it returns the
// transport error that ended the loop otherwise.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.pending.CancelAll(zerr.ErrTransportClosed)
		s.halt.Done.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.halt.ReqStop.Chan:
			return nil
		default:
		}

		raw, err := s.transport.Receive(ctx)
		if err != nil {
			if s.halt.ReqStop.IsClosed() {
				return nil
			}
			return err
		}

		s.HandleFrame(ctx, raw)
	}
}

// HandleFrame classifies and dispatches a single inbound frame. Run calls
// this in its pull-based reader loop; it's also exported for a hub
// constructed with an externally-driven transport (spec.md §4.5's
// using_external_websockets mode), where the caller's own loop owns
// reading frames off the wire and feeds them in one at a time instead.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) {
	env, err := packet.Decode(raw)
	if err != nil {
		s.logger.Error("failed to decode inbound frame", zap.Error(err))
		return
	}

	switch env.Type {
	case packet.TypeRequest, packet.TypeClientToServer:
		s.handleInboundRequest(ctx, env)
	case packet.TypeResponse:
		s.settleResponse(env)
	case packet.TypeFailureResponse:
		s.settleFailure(env)
	default:
		s.logger.Error("unhandled websocket type",
			zap.String("packet_id", env.PacketID), zap.String("type", string(env.Type)),
			zap.Error(zerr.ErrUnhandledWebsocketType))
	}
}

func (s *Session) handleInboundRequest(ctx context.Context, env packet.Envelope) {
	if s.routes == nil {
		s.logger.Error("no route table attached to session",
			zap.String("packet_id", env.PacketID), zap.Error(zerr.ErrMissingReceiveHandler))
		_ = s.Send(ctx, env.PacketID, packet.TypeFailureResponse, packet.FailureData{
			Exception: zerr.ErrMissingReceiveHandler.Error(),
		})
		return
	}

	rd, err := packet.DecodeRequest(env)
	if err != nil {
		s.logger.Error("malformed request payload", zap.Error(err))
		return
	}

	go func() {
		result, err := s.routes.Dispatch(ctx, rd.Route, rd.Arguments)
		if err != nil {
			_ = s.Send(ctx, env.PacketID, packet.TypeFailureResponse, packet.FailureData{
				Exception: err.Error(),
			})
			return
		}
		_ = s.Send(ctx, env.PacketID, packet.TypeResponse, result)
	}()
}

func (s *Session) settleResponse(env packet.Envelope) {
	var value any
	if err := unmarshalInto(env.Data, &value); err != nil {
		s.logger.Error("malformed response payload", zap.Error(err))
		return
	}
	s.pending.Settle(env.PacketID, pending.Outcome{Value: value})
}

func (s *Session) settleFailure(env packet.Envelope) {
	fd, err := packet.DecodeFailure(env)
	if err != nil {
		s.logger.Error("malformed failure_response payload", zap.Error(err))
		return
	}
	s.pending.Settle(env.PacketID, pending.Outcome{Err: zerr.NewRequestFailed(fd.Exception)})
}

// Close stops the reader (Run returns nil the next time it observes the
// stop signal or the transport unblocks), cancels every outstanding
// pending request with ErrTransportClosed, and closes the transport.
func (s *Session) Close() error {
	s.halt.ReqStop.Close()
	s.pending.CancelAll(zerr.ErrTransportClosed)
	return s.transport.Close()
}

// BlockUntilClosed waits for the reader goroutine started by Run to exit.
func (s *Session) BlockUntilClosed() {
	<-s.halt.Done.Chan
}
