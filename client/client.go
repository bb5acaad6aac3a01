// Package client implements the public, zonis-flavored facade over a
// session.Session: construction options, route registration, and the
// request/response/close calls a program actually uses.
//
// Grounded in the teacher's client/client.go (NewClient/Call shape) and
// original_source/zonis/client.py's Client.route/Client.request
// keyword-argument API.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Skelmis/zonis-go/packet"
	"github.com/Skelmis/zonis-go/route"
	"github.com/Skelmis/zonis-go/session"
	"github.com/Skelmis/zonis-go/transport"
	"github.com/Skelmis/zonis-go/zerr"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithIdentifier sets the identifier this client presents on identify. If
// omitted, the server assigns one at admission.
func WithIdentifier(identifier string) Option {
	return func(c *Client) { c.identifier = identifier }
}

// WithSecretKey is reserved for future transport-level authentication; the
// current wire protocol only carries an override_key, configured via
// WithOverrideKey.
func WithSecretKey(key string) Option {
	return func(c *Client) { c.secretKey = key }
}

// WithOverrideKey sets the override key presented on identify, letting this
// client reclaim an identifier another connection already holds.
func WithOverrideKey(key string) Option {
	return func(c *Client) { c.overrideKey = &key }
}

// WithLogger sets the zap logger used by this client and its session.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnectAttempts sets how many times in total Connect attempts the
// dial+identify handshake (values below 1 mean one attempt), the Go analogue of the teacher's retry_middleware.go and
// original_source/zonis/router.py's reconnect_attempt_count, moved here to
// wrap the connect-and-identify handshake rather than a single RPC call.
func WithReconnectAttempts(n int) Option {
	return func(c *Client) { c.reconnectAttempts = n }
}

// Client is one logical client process's connection to a zonis-go hub.
type Client struct {
	url               string
	identifier        string
	secretKey         string
	overrideKey       *string
	reconnectAttempts int
	logger            *zap.Logger

	routes *route.Table
	sess   *session.Session
}

// New constructs a Client bound to url (not yet connected — call Connect).
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:               url,
		reconnectAttempts: 1,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.routes = route.New(nil, c.logger)
	return c
}

// Route registers h under name in this client's route table, so the hub
// can call it via request.
func (c *Client) Route(name string, h route.Handler) error {
	return c.routes.Register(name, h)
}

// Connect dials the transport, performs the identify handshake, and starts
// the session's single reader goroutine. It makes up to reconnectAttempts
// attempts at the dial+identify sequence in total before giving up.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	attempts := c.reconnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if err := c.connectOnce(ctx); err != nil {
			lastErr = err
			c.logger.Error("connect attempt failed", zap.Int("attempt", i+1), zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("zonis: failed to connect after %d attempts: %w", attempts, lastErr)
}

func (c *Client) connectOnce(ctx context.Context) error {
	t, err := transport.NewWSClient(ctx, c.url)
	if err != nil {
		return err
	}

	identifier, err := c.identify(ctx, t)
	if err != nil {
		_ = t.Close()
		return err
	}
	c.identifier = identifier

	c.sess = session.New(c.identifier, t, c.routes, c.logger)
	go func() {
		if err := c.sess.Run(context.Background()); err != nil {
			c.logger.Error("session reader exited", zap.String("identifier", c.identifier), zap.Error(err))
		}
	}()
	return nil
}

// identify sends the identify frame and performs the one-off synchronous
// read of its ack, before the session's reader goroutine exists — matching
// spec.md §4.4: identify happens strictly before "enter running state".
func (c *Client) identify(ctx context.Context, t transport.Transport) (string, error) {
	packetID := packet.NewPacketID()
	frame, err := packet.Marshal(packetID, packet.TypeIdentify, packet.IdentifyData{
		OverrideKey:      c.overrideKey,
		ClientIdentifier: c.identifier,
	})
	if err != nil {
		return "", err
	}
	if err := t.Send(ctx, frame); err != nil {
		return "", err
	}

	raw, err := t.Receive(ctx)
	if err != nil {
		return "", err
	}

	env, err := packet.Decode(raw)
	if err != nil {
		return "", err
	}

	if env.Type == packet.TypeFailureResponse {
		fd, ferr := packet.DecodeFailure(env)
		if ferr != nil {
			return "", ferr
		}
		return "", zerr.NewRequestFailed(fd.Exception)
	}

	var admitted string
	if err := json.Unmarshal(env.Data, &admitted); err != nil {
		return "", err
	}
	return admitted, nil
}

// Request issues a client_to_server request to the hub for route, blocking
// until the server's response arrives, ctx is done, or the connection is
// lost.
func (c *Client) Request(ctx context.Context, routeName string, args map[string]any) (any, error) {
	if c.sess == nil {
		return nil, zerr.ErrTransportClosed
	}
	return c.sess.Request(ctx, packet.TypeClientToServer, routeName, args)
}

// BlockUntilClosed waits for the underlying session's reader to exit.
func (c *Client) BlockUntilClosed() {
	if c.sess == nil {
		return
	}
	c.sess.BlockUntilClosed()
}

// Close stops the session's reader, cancels outstanding requests with
// ErrTransportClosed, and closes the transport.
func (c *Client) Close() error {
	if c.sess == nil {
		return nil
	}
	return c.sess.Close()
}

// Identifier returns the identifier this client is admitted under (only
// meaningful after a successful Connect).
func (c *Client) Identifier() string { return c.identifier }
