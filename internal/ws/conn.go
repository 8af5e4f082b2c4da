package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// presenceConn wraps a WebSocket connection for presence use: broadcasts
// arrive from other connections' goroutines and from the eviction sweep,
// so JSON writes are serialized behind a mutex. Control frames use
// WriteControl, which gorilla allows concurrently.
type presenceConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newPresenceConn(conn *websocket.Conn) *presenceConn {
	return &presenceConn{conn: conn}
}

func (p *presenceConn) WriteJSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(v)
}

// Close sends a close frame with the given code and reason, then tears
// down the underlying connection.
func (p *presenceConn) Close(code int, reason string) error {
	deadline := time.Now().Add(writeWait)
	p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return p.conn.Close()
}

func (p *presenceConn) Ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
