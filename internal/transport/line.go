// internal/transport/line.go
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// Line frames messages as newline-terminated text over a stream connection.
type Line struct {
	conn    net.Conn
	scanner *bufio.Scanner
	remote  string

	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

// NewLine wraps an accepted stream connection.
func NewLine(conn net.Conn) *Line {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxMessageSize)
	return &Line{
		conn:    conn,
		scanner: sc,
		remote:  HostOnly(conn.RemoteAddr().String()),
		closed:  make(chan struct{}),
	}
}

func (l *Line) ReadMessage(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for l.scanner.Scan() {
		line := l.scanner.Bytes()
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			continue
		}
		msg := make([]byte, len(line))
		copy(msg, line)
		return msg, nil
	}
	return nil, l.readErr(ctx, l.scanner.Err())
}

func (l *Line) readErr(ctx context.Context, err error) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	if ctx.Err() != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return ctx.Err()
	}
	if err == nil {
		return io.EOF
	}
	return err
}

func (l *Line) WriteMessage(ctx context.Context, msg []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	select {
	case <-l.closed:
		return ErrClosed
	default:
	}

	deadline, _ := ctx.Deadline()
	l.conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		l.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	_, err := l.conn.Write(buf)
	return err
}

func (l *Line) Close() error {
	err := ErrClosed
	l.once.Do(func() {
		close(l.closed)
		err = l.conn.Close()
	})
	return err
}

func (l *Line) RemoteAddr() string { return l.remote }
