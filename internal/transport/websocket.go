// internal/transport/websocket.go
package transport

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// WebSocket carries one message per text frame.
type WebSocket struct {
	conn   *websocket.Conn
	remote string

	once   sync.Once
	code   websocket.StatusCode
	reason string
	mu     sync.Mutex
}

// NewWebSocket wraps an accepted websocket; remoteAddr is the HTTP peer address.
func NewWebSocket(conn *websocket.Conn, remoteAddr string) *WebSocket {
	conn.SetReadLimit(MaxMessageSize)
	return &WebSocket{
		conn:   conn,
		remote: HostOnly(remoteAddr),
		code:   websocket.StatusNormalClosure,
	}
}

func (w *WebSocket) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (w *WebSocket) WriteMessage(ctx context.Context, msg []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, msg)
}

// SetCloseStatus selects the close frame sent by a later Close.
func (w *WebSocket) SetCloseStatus(code websocket.StatusCode, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.code, w.reason = code, reason
}

func (w *WebSocket) Close() error {
	err := ErrClosed
	w.once.Do(func() {
		w.mu.Lock()
		code, reason := w.code, w.reason
		w.mu.Unlock()
		err = w.conn.Close(code, reason)
	})
	return err
}

func (w *WebSocket) RemoteAddr() string { return w.remote }
