// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"net"
)

// MaxMessageSize bounds a single inbound message; a Map is the largest one.
const MaxMessageSize = 1 << 20

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport is one persistent, message-delimited session connection.
type Transport interface {
	// ReadMessage blocks until the next complete message arrives.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends one message. It is safe to call concurrently with
	// ReadMessage but not with itself.
	WriteMessage(ctx context.Context, msg []byte) error
	Close() error
	// RemoteAddr is the peer host without port; admission tickets are bound to it.
	RemoteAddr() string
}

// HostOnly strips the port from a network address.
func HostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
