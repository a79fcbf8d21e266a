package hub

import (
	"encoding/json"
	"sync"

	"golang.org/x/net/websocket"
)

// peer serializes outbound writes on one websocket connection. Fan-out and
// the connection's own control-message replies may interleave, so every
// write goes through the mutex.
type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
	conn    *websocket.Conn
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{
		encoder: json.NewEncoder(conn),
		conn:    conn,
	}
}

func (p *peer) Send(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *peer) Close() error {
	return p.conn.Close()
}
