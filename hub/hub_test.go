package hub

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Skelmis/zonis-go/packet"
	"github.com/Skelmis/zonis-go/route"
	"github.com/Skelmis/zonis-go/secretstore"
	"github.com/Skelmis/zonis-go/session"
	"github.com/Skelmis/zonis-go/transport"
	"github.com/Skelmis/zonis-go/zerr"
)

func admit(t *testing.T, h *Hub, clientIdentifier string, overrideKey *string) (identifier string, client transport.Transport) {
	t.Helper()
	serverSide, clientSide := transport.NewPipe()

	packetID := packet.NewPacketID()
	frame, err := packet.Marshal(packetID, packet.TypeIdentify, packet.IdentifyData{
		ClientIdentifier: clientIdentifier,
		OverrideKey:      overrideKey,
	})
	if err != nil {
		t.Fatalf("marshal identify: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		_ = clientSide.Send(ctx, frame)
	}()

	identifier, err = h.ParseIdentify(ctx, frame, serverSide)
	if err != nil {
		t.Fatalf("ParseIdentify: %v", err)
	}

	raw, err := clientSide.Receive(ctx)
	if err != nil {
		t.Fatalf("client receive ack: %v", err)
	}
	env, err := packet.Decode(raw)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if env.Type != packet.TypeResponse {
		t.Fatalf("expected response ack, got %s", env.Type)
	}

	return identifier, clientSide
}

func TestParseIdentifyAssignsDefaultIdentifier(t *testing.T) {
	h := New()
	identifier, _ := admit(t, h, "", nil)
	if identifier == "" {
		t.Fatal("expected a non-empty assigned identifier")
	}
}

func TestParseIdentifyDuplicateWithoutOverrideIsRejected(t *testing.T) {
	h := New()
	admit(t, h, "alice", nil)

	serverSide, _ := transport.NewPipe()
	packetID := packet.NewPacketID()
	frame, _ := packet.Marshal(packetID, packet.TypeIdentify, packet.IdentifyData{ClientIdentifier: "alice"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := h.ParseIdentify(ctx, frame, serverSide)
	if !errors.Is(err, zerr.ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
}

func TestParseIdentifyOverrideReplacesPriorSession(t *testing.T) {
	store := secretstore.NewInMemory(map[string]string{"alice": "k3y"})
	h := New(WithSecretStore(store))

	_, firstTransport := admit(t, h, "alice", nil)

	key := "k3y"
	_, secondTransport := admit(t, h, "alice", &key)

	if len(h.Connected()) != 1 {
		t.Fatalf("expected exactly one connected client after override, got %d", len(h.Connected()))
	}

	_ = firstTransport.Close()
	_ = secondTransport.Close()
}

func TestRequestUnicast(t *testing.T) {
	h := New()
	identifier, clientSide := admit(t, h, "alice", nil)
	defer clientSide.Close()

	// Simulate the client replying to whatever request it receives.
	go func() {
		ctx := context.Background()
		raw, err := clientSide.Receive(ctx)
		if err != nil {
			return
		}
		env, err := packet.Decode(raw)
		if err != nil {
			return
		}
		resp, _ := packet.Marshal(env.PacketID, packet.TypeResponse, "pong")
		_ = clientSide.Send(ctx, resp)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := h.Request(ctx, "ping", nil, WithClientIdentifier(identifier))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result != "pong" {
		t.Fatalf("expected pong, got %v", result)
	}
}

func TestRequestAllAggregatesPerClient(t *testing.T) {
	h := New()
	_, aliceTransport := admit(t, h, "alice", nil)
	_, bobTransport := admit(t, h, "bob", nil)
	defer aliceTransport.Close()
	defer bobTransport.Close()

	respond := func(tr transport.Transport, value any) {
		ctx := context.Background()
		raw, err := tr.Receive(ctx)
		if err != nil {
			return
		}
		env, err := packet.Decode(raw)
		if err != nil {
			return
		}
		resp, _ := packet.Marshal(env.PacketID, packet.TypeResponse, value)
		_ = tr.Send(ctx, resp)
	}
	go respond(aliceTransport, "pong-alice")
	go respond(bobTransport, "pong-bob")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results := h.RequestAll(ctx, "ping", nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["alice"].Err != nil || results["alice"].Value != "pong-alice" {
		t.Fatalf("unexpected alice outcome: %+v", results["alice"])
	}
	if results["bob"].Err != nil || results["bob"].Value != "pong-bob" {
		t.Fatalf("unexpected bob outcome: %+v", results["bob"])
	}
}

func TestClientToServerRequestUnknownHubRouteYieldsFailureResponse(t *testing.T) {
	routes := route.New(nil, nil)
	h := New(WithRouteTable(routes))
	identifier, clientSide := admit(t, h, "alice", nil)
	defer clientSide.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Client calls an unregistered hub route over client_to_server and
	// gets a failure_response back.
	packetID := packet.NewPacketID()
	frame, _ := packet.Marshal(packetID, packet.TypeClientToServer, packet.RequestData{Route: "missing"})
	if err := clientSide.Send(ctx, frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	raw, err := clientSide.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	env, err := packet.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != packet.TypeFailureResponse {
		t.Fatalf("expected failure_response for unknown route, got %s", env.Type)
	}

	_ = identifier
}

// admitWithClientSession admits clientIdentifier and wires a real
// session.Session (backed by routes) to the client end, running its
// reader loop, so a hub-initiated request is answered by actual route
// dispatch rather than hand-assembled response bytes.
func admitWithClientSession(t *testing.T, h *Hub, clientIdentifier string, routes *route.Table) (identifier string, sess *session.Session) {
	t.Helper()
	serverSide, clientSide := transport.NewPipe()

	packetID := packet.NewPacketID()
	frame, err := packet.Marshal(packetID, packet.TypeIdentify, packet.IdentifyData{
		ClientIdentifier: clientIdentifier,
	})
	if err != nil {
		t.Fatalf("marshal identify: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	identifier, err = h.ParseIdentify(ctx, frame, serverSide)
	if err != nil {
		t.Fatalf("ParseIdentify: %v", err)
	}

	raw, err := clientSide.Receive(ctx)
	if err != nil {
		t.Fatalf("client receive ack: %v", err)
	}
	if _, err := packet.Decode(raw); err != nil {
		t.Fatalf("decode ack: %v", err)
	}

	sess = session.New(identifier, clientSide, routes, nil)
	go sess.Run(context.Background())
	return identifier, sess
}

func TestRequestRemoteHandlerFailureThenSessionStaysOpen(t *testing.T) {
	routes := route.New(nil, nil)
	if err := routes.Register("boom", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("kaboom")
	}); err != nil {
		t.Fatalf("register boom: %v", err)
	}
	if err := routes.Register("ping", func(ctx context.Context, args map[string]any) (any, error) {
		return "pong", nil
	}); err != nil {
		t.Fatalf("register ping: %v", err)
	}

	h := New()
	identifier, sess := admitWithClientSession(t, h, "alice", routes)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := h.Request(ctx, "boom", nil, WithClientIdentifier(identifier))
	if !errors.Is(err, zerr.ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected cause to mention kaboom, got %v", err)
	}

	// The session must still be alive after the failure: a following
	// request for a different route succeeds.
	result, err := h.Request(ctx, "ping", nil, WithClientIdentifier(identifier))
	if err != nil {
		t.Fatalf("ping after failure: %v", err)
	}
	if result != "pong" {
		t.Fatalf("expected pong, got %v", result)
	}
}

func TestRequestUnknownRouteOnClientYieldsRequestFailed(t *testing.T) {
	routes := route.New(nil, nil) // deliberately no routes registered

	h := New()
	identifier, sess := admitWithClientSession(t, h, "bob", routes)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := h.Request(ctx, "missing", nil, WithClientIdentifier(identifier))
	if !errors.Is(err, zerr.ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "unknown route") {
		t.Fatalf("expected cause to mention unknown route, got %v", err)
	}
}

func TestDisconnectUnknownIsNoop(t *testing.T) {
	h := New()
	h.Disconnect("nobody-here")
}

func TestResolveTargetRequiresExactlyOneDefaultClient(t *testing.T) {
	h := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := h.Request(ctx, "ping", nil); !errors.Is(err, zerr.ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient with zero clients, got %v", err)
	}

	_, t1 := admit(t, h, "alice", nil)
	_, t2 := admit(t, h, "bob", nil)
	defer t1.Close()
	defer t2.Close()

	if _, err := h.Request(ctx, "ping", nil); !errors.Is(err, zerr.ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient with two clients and no target specified, got %v", err)
	}
}
