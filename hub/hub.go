// Package hub implements the server side of the fabric: zero or more
// identified client sessions keyed by client identifier, unicast request,
// broadcast request_all, and the admission handshake.
//
// Grounded in the teacher's server/server.go (service map, Register,
// handleConn's Accept-loop-to-per-connection dispatch) generalized from
// "TCP listener + one service map" to "session map keyed by client
// identifier", and in original_source/zonis/server.py's
// parse_identify/request/request_all semantics.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/glycerine/idem"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Skelmis/zonis-go/packet"
	"github.com/Skelmis/zonis-go/route"
	"github.com/Skelmis/zonis-go/secretstore"
	"github.com/Skelmis/zonis-go/session"
	"github.com/Skelmis/zonis-go/transport"
	"github.com/Skelmis/zonis-go/zerr"
)

// Outcome is one client's result from a RequestAll fan-out: either a value
// (Err == nil) or the error that client's slot settled with.
type Outcome struct {
	Value any
	Err   error
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithSecretStore sets the backing store for override-key validation.
// Defaults to an empty secretstore.InMemory.
func WithSecretStore(store secretstore.Store) Option {
	return func(h *Hub) { h.secrets = store }
}

// WithRouteTable attaches a route table used to dispatch client_to_server
// requests (routes the server itself exposes to clients). Optional — a
// hub with no attached table responds to client_to_server requests with
// ErrMissingReceiveHandler.
func WithRouteTable(routes *route.Table) Option {
	return func(h *Hub) { h.routes = routes }
}

// WithLogger sets the zap logger used by the hub and every session it admits.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithDefaultPolicy overrides the DefaultPolicy used to resolve Request
// calls that omit a client identifier. Defaults to SoleClientPolicy.
func WithDefaultPolicy(policy DefaultPolicy) Option {
	return func(h *Hub) { h.defaultPolicy = policy }
}

// UsingExternalWebsockets switches the hub into push mode: ParseIdentify
// does not start a reader goroutine for the admitted session, and the
// caller is responsible for feeding every subsequent inbound frame to
// Ingest, exactly as spec.md §4.5 describes for a hub driven by an
// external web framework endpoint.
func UsingExternalWebsockets(v bool) Option {
	return func(h *Hub) { h.usingExternalWebsockets = v }
}

// Hub holds the session map and dispatches unicast/broadcast requests.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	secrets                 secretstore.Store
	routes                  *route.Table
	logger                  *zap.Logger
	defaultPolicy           DefaultPolicy
	usingExternalWebsockets bool
	halt                    *idem.Halter
}

// New constructs an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		sessions: make(map[string]*session.Session),
		secrets:       secretstore.NewInMemory(nil),
		logger:        zap.NewNop(),
		defaultPolicy: SoleClientPolicy{},
		halt:          idem.NewHalterNamed("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Route registers h under name on the hub's own route table (created
// lazily if WithRouteTable wasn't used), so clients can client_to_server
// call it.
func (hub *Hub) Route(name string, h route.Handler) error {
	if hub.routes == nil {
		hub.routes = route.New(nil, hub.logger)
	}
	return hub.routes.Register(name, h)
}

// ParseIdentify admits a new client connection: decodes the identify
// frame, resolves the claimed identifier (assigning one via uuid if the
// client didn't supply one), validates any override key against an
// existing session, and registers the new session. It replies on t with
// either the admitted identifier (success) or a failure_response
// (DuplicateConnection) before returning.
func (hub *Hub) ParseIdentify(ctx context.Context, raw []byte, t transport.Transport) (string, error) {
	env, err := packet.Decode(raw)
	if err != nil {
		_ = t.Close()
		return "", fmt.Errorf("zonis: malformed identify frame: %w", zerr.ErrUnknownPacket)
	}
	if env.Type != packet.TypeIdentify {
		_ = t.Close()
		return "", fmt.Errorf("zonis: expected identify, got %s: %w", env.Type, zerr.ErrUnhandledWebsocketType)
	}

	data, err := packet.DecodeIdentify(env)
	if err != nil {
		_ = t.Close()
		return "", fmt.Errorf("zonis: malformed identify payload: %w", zerr.ErrUnknownPacket)
	}

	identifier := data.ClientIdentifier
	if identifier == "" {
		identifier = uuid.New().String()
	}

	// Read the current occupant, if any, without holding the lock across
	// validOverride: that call may round-trip to an etcd-backed
	// secretstore.Store, and every other hub operation would otherwise
	// block on it.
	hub.mu.RLock()
	existing, taken := hub.sessions[identifier]
	hub.mu.RUnlock()

	if taken && !hub.validOverride(ctx, identifier, data.OverrideKey) {
		hub.replyFailure(ctx, t, env.PacketID, zerr.ErrDuplicateConnection)
		_ = t.Close()
		return "", zerr.ErrDuplicateConnection
	}

	sess := session.New(identifier, t, hub.routes, hub.logger)

	hub.mu.Lock()
	current, stillTaken := hub.sessions[identifier]
	if taken && (!stillTaken || current != existing) {
		// The occupant we validated the override against is gone — raced
		// with a concurrent admission or disconnect for the same
		// identifier. Reject conservatively rather than evict a session
		// this call never actually observed.
		hub.mu.Unlock()
		hub.replyFailure(ctx, t, env.PacketID, zerr.ErrDuplicateConnection)
		_ = t.Close()
		return "", zerr.ErrDuplicateConnection
	}
	if taken {
		// Valid override: atomically replace the prior session. Its
		// outstanding pending requests fail with ErrTransportClosed rather
		// than completing against the new connection — request identity is
		// tied to the transport, not the identifier.
		existing.Close()
	}
	hub.sessions[identifier] = sess
	hub.mu.Unlock()

	if err := sess.Send(ctx, env.PacketID, packet.TypeResponse, identifier); err != nil {
		hub.Disconnect(identifier)
		return "", err
	}

	if !hub.usingExternalWebsockets {
		go func() {
			if err := sess.Run(context.Background()); err != nil {
				hub.logger.Error("session reader exited", zap.String("identifier", identifier), zap.Error(err))
			}
		}()
	}

	hub.logger.Debug("client admitted", zap.String("identifier", identifier))
	return identifier, nil
}

func (hub *Hub) validOverride(ctx context.Context, identifier string, overrideKey *string) bool {
	if overrideKey == nil {
		return false
	}
	secret, ok, err := hub.secrets.Get(ctx, identifier)
	if err != nil || !ok {
		return false
	}
	return secret == *overrideKey
}

func (hub *Hub) replyFailure(ctx context.Context, t transport.Transport, packetID string, cause error) {
	frame, err := packet.Marshal(packetID, packet.TypeFailureResponse, packet.FailureData{Exception: cause.Error()})
	if err != nil {
		return
	}
	_ = t.Send(ctx, frame)
}

// Ingest feeds one inbound frame to the named session's dispatch logic.
// Used only in UsingExternalWebsockets mode, where no reader goroutine is
// running for the session and an external endpoint owns reading frames
// off the wire.
func (hub *Hub) Ingest(ctx context.Context, identifier string, frame []byte) error {
	hub.mu.RLock()
	sess, ok := hub.sessions[identifier]
	hub.mu.RUnlock()
	if !ok {
		return zerr.ErrUnknownClient
	}
	sess.HandleFrame(ctx, frame)
	return nil
}

// Disconnect removes identifier's session from the hub, cancelling its
// outstanding server-side pending requests with ErrTransportClosed and
// closing its transport. Disconnecting an unknown identifier is a silent
// no-op.
func (hub *Hub) Disconnect(identifier string) {
	hub.mu.Lock()
	sess, ok := hub.sessions[identifier]
	if ok {
		delete(hub.sessions, identifier)
	}
	hub.mu.Unlock()

	if ok {
		sess.Close()
	}
}

// resolveTarget implements spec.md §4.5's default client selection: an
// explicit identifier is looked up directly, an omitted one is resolved
// through the hub's DefaultPolicy.
func (hub *Hub) resolveTarget(identifier string) (*session.Session, error) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if identifier != "" {
		sess, ok := hub.sessions[identifier]
		if !ok {
			return nil, zerr.ErrUnknownClient
		}
		return sess, nil
	}

	return hub.defaultPolicy.Pick(hub.sessions)
}

// RequestOption configures a single Request call.
type RequestOption func(*requestConfig)

type requestConfig struct {
	clientIdentifier string
}

// WithClientIdentifier targets a specific connected client. If omitted,
// the default-client resolution in resolveTarget applies.
func WithClientIdentifier(identifier string) RequestOption {
	return func(c *requestConfig) { c.clientIdentifier = identifier }
}

// Request issues a unicast request to one connected client and blocks for
// its response.
func (hub *Hub) Request(ctx context.Context, routeName string, args map[string]any, opts ...RequestOption) (any, error) {
	cfg := requestConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	sess, err := hub.resolveTarget(cfg.clientIdentifier)
	if err != nil {
		return nil, err
	}
	return sess.Request(ctx, packet.TypeRequest, routeName, args)
}

// RequestAll dispatches route concurrently to every currently connected
// session and aggregates the results. The result keyset equals the set of
// identifiers connected at the moment dispatch began: clients that join
// afterward aren't included, and clients that disconnect mid-flight yield
// an ErrTransportClosed outcome for their slot rather than failing the
// whole call.
func (hub *Hub) RequestAll(ctx context.Context, routeName string, args map[string]any) map[string]Outcome {
	hub.mu.RLock()
	targets := make(map[string]*session.Session, len(hub.sessions))
	for id, sess := range hub.sessions {
		targets[id] = sess
	}
	hub.mu.RUnlock()

	results := make(map[string]Outcome, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for id, sess := range targets {
		wg.Add(1)
		go func(id string, sess *session.Session) {
			defer wg.Done()
			value, err := sess.Request(ctx, packet.TypeRequest, routeName, args)
			mu.Lock()
			results[id] = Outcome{Value: value, Err: err}
			mu.Unlock()
		}(id, sess)
	}
	wg.Wait()

	return results
}

// Connected reports the currently admitted client identifiers.
func (hub *Hub) Connected() []string {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	ids := make([]string, 0, len(hub.sessions))
	for id := range hub.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown disconnects every connected client.
func (hub *Hub) Shutdown() {
	hub.halt.ReqStop.Close()
	hub.mu.Lock()
	sessions := hub.sessions
	hub.sessions = make(map[string]*session.Session)
	hub.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	hub.halt.Done.Close()
}
