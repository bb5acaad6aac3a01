package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport adapts a *websocket.Conn to the Transport interface. Writes
// are serialized with a mutex — gorilla/websocket forbids concurrent
// writers on the same connection — the same concern the teacher's
// transport.ClientTransport.sending mutex addresses for its raw net.Conn.
type WSTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewWSServerSide upgrades an inbound HTTP request to a WebSocket and wraps
// it as a Transport. The caller is expected to immediately hand this to
// hub.ParseIdentify.
func NewWSServerSide(w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WSTransport{conn: conn}, nil
}

// NewWSClient dials url and wraps the resulting connection as a Transport.
func NewWSClient(ctx context.Context, url string) (*WSTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WSTransport{conn: conn}, nil
}

func (t *WSTransport) Send(ctx context.Context, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// Receive reads one message. Only ctx's deadline is applied (as a read
// deadline); cancelling a ctx that has no deadline does not interrupt a
// blocked read — Close does.
func (t *WSTransport) Receive(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	}
	_, msg, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (t *WSTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
