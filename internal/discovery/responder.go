// internal/discovery/responder.go
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPort = 42420

	// RequestString is broadcast by clients looking for servers.
	RequestString = "MULTIBOMB_DISCOVER_REQUEST"
	// ResponsePrefix starts every answer; the server name follows after a space.
	ResponsePrefix = "MULTIBOMB_DISCOVER_RESPONSE"

	maxDatagram = 1500
)

// Responder answers discovery broadcasts on a UDP port.
type Responder struct {
	conn       net.PacketConn
	serverName string
	log        *logrus.Entry
}

// Listen binds the responder to addr, e.g. ":42420".
func Listen(addr, serverName string, logger *logrus.Logger) (*Responder, error) {
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen discovery: %w", err)
	}
	return &Responder{
		conn:       conn,
		serverName: serverName,
		log:        logger.WithField("component", "discovery"),
	}, nil
}

func (r *Responder) Addr() net.Addr { return r.conn.LocalAddr() }

// Serve answers requests until ctx is done or the socket fails. Every peer is
// answered from its own goroutine.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()

	r.log.WithField("addr", r.conn.LocalAddr().String()).Info("Answering discovery requests")
	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read discovery request: %w", err)
		}
		if !bytes.Equal(bytes.TrimSpace(buf[:n]), []byte(RequestString)) {
			continue
		}
		go r.respond(peer)
	}
}

func (r *Responder) respond(peer net.Addr) {
	reply := []byte(ResponsePrefix + " " + r.serverName)
	if _, err := r.conn.WriteTo(reply, peer); err != nil {
		r.log.WithError(err).WithField("remote", peer.String()).Debug("discovery reply failed")
		return
	}
	r.log.WithField("remote", peer.String()).Debug("Answered discovery request")
}

func (r *Responder) Close() error {
	return r.conn.Close()
}
