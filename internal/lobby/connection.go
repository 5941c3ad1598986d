// internal/lobby/connection.go
package lobby

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multibomb/arena/internal/protocol"
	"github.com/multibomb/arena/internal/transport"
	"github.com/sirupsen/logrus"
)

// QueueCapacity is the number of outbound messages a connection may have
// pending before it is closed for backpressure.
const QueueCapacity = 1000

// Default I/O bounds of a connection.
const (
	DefaultWriteTimeout = 5 * time.Second
	closeTimeout        = time.Second
)

// Connection status values.
const (
	StatusActive int32 = iota
	StatusClosing
	StatusClosed
)

var closeSentinel = protocol.MustEncode(protocol.CloseConnection{})

// PlayerConnection is one member of a lobby. It owns its transport; a reader
// goroutine dispatches inbound messages and a writer goroutine drains the
// bounded outbound queue.
type PlayerConnection struct {
	Name  string
	Color int

	lobby     *Lobby
	transport transport.Transport
	log       *logrus.Entry

	writeTimeout time.Duration
	outbound     chan []byte

	// lastPosition is written by the reader and read once per tick.
	lastPosition atomic.Pointer[protocol.Position]
	// sentPosition is owned by the tick loop.
	sentPosition *protocol.Position

	actionsMu sync.Mutex
	actions   []*protocol.ItemAction

	status     atomic.Int32
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	reason     error
	done       chan struct{}
	finished   chan struct{}
	started    atomic.Bool
	writerDone chan struct{}
}

func newPlayerConnection(l *Lobby, name string, color int, t transport.Transport, log *logrus.Entry, writeTimeout time.Duration) *PlayerConnection {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PlayerConnection{
		Name:         name,
		Color:        color,
		lobby:        l,
		transport:    t,
		log:          log.WithFields(logrus.Fields{"player": name, "remote": t.RemoteAddr()}),
		writeTimeout: writeTimeout,
		outbound:     make(chan []byte, QueueCapacity),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		finished:     make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
}

// Start launches the reader and writer goroutines.
func (pc *PlayerConnection) Start() {
	if !pc.started.CompareAndSwap(false, true) {
		return
	}
	go pc.writeLoop()
	go pc.readLoop()
}

// Done is closed as soon as the connection starts closing.
func (pc *PlayerConnection) Done() <-chan struct{} { return pc.done }

// Finished is closed once the transport is released and the player has left
// its lobby.
func (pc *PlayerConnection) Finished() <-chan struct{} { return pc.finished }

// Status reports whether the connection is active, closing or closed.
func (pc *PlayerConnection) Status() int32 { return pc.status.Load() }

// Err is the reason the connection was closed, if any.
func (pc *PlayerConnection) Err() error {
	select {
	case <-pc.done:
		return pc.reason
	default:
		return nil
	}
}

// Send enqueues msg without blocking. A full queue closes the connection;
// sends on a closing connection are discarded.
func (pc *PlayerConnection) Send(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		pc.log.WithError(err).Error("Dropping unencodable message")
		return
	}
	pc.sendRaw(data)
}

func (pc *PlayerConnection) sendRaw(data []byte) {
	if pc.status.Load() != StatusActive {
		return
	}
	select {
	case pc.outbound <- data:
	default:
		pc.log.Warn("Outbound queue full, closing connection")
		pc.closeWith(ErrBackpressure)
	}
}

// Close ends the connection. It is idempotent, never blocks, and may be called
// from any goroutine.
func (pc *PlayerConnection) Close() {
	pc.closeWith(nil)
}

func (pc *PlayerConnection) closeWith(reason error) {
	pc.closeOnce.Do(func() {
		pc.reason = reason
		pc.status.Store(StatusClosing)
		close(pc.done)
		go pc.teardown()
	})
}

func (pc *PlayerConnection) teardown() {
	if errors.Is(pc.reason, ErrBackpressure) {
		pc.transport.Close()
	}
	if pc.started.Load() {
		// the writer flushes the queue and the close sentinel
		select {
		case <-pc.writerDone:
		case <-time.After(pc.writeTimeout + closeTimeout):
			pc.log.Warn("Writer did not finish in time")
		}
	}
	pc.transport.Close()
	pc.cancel()
	if pc.lobby != nil {
		pc.lobby.removePlayer(pc)
	}
	pc.status.Store(StatusClosed)
	close(pc.finished)

	entry := pc.log
	if pc.reason != nil {
		entry = entry.WithError(pc.reason)
	}
	entry.Info("Player disconnected")
}

func (pc *PlayerConnection) writeLoop() {
	defer close(pc.writerDone)
	for {
		select {
		case data := <-pc.outbound:
			if err := pc.write(pc.ctx, data); err != nil {
				pc.log.WithError(err).Debug("Write failed")
				pc.closeWith(err)
				return
			}
		case <-pc.done:
			pc.flush()
			return
		}
	}
}

func (pc *PlayerConnection) write(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, pc.writeTimeout)
	defer cancel()
	return pc.transport.WriteMessage(ctx, data)
}

// flush writes what is still queued followed by the close sentinel.
func (pc *PlayerConnection) flush() {
	if errors.Is(pc.reason, ErrBackpressure) {
		return
	}
	ctx, cancel := context.WithTimeout(pc.ctx, closeTimeout)
	defer cancel()
	for {
		select {
		case data := <-pc.outbound:
			if pc.transport.WriteMessage(ctx, data) != nil {
				return
			}
		default:
			pc.transport.WriteMessage(ctx, closeSentinel)
			return
		}
	}
}

func (pc *PlayerConnection) readLoop() {
	for {
		data, err := pc.transport.ReadMessage(pc.ctx)
		if err != nil {
			if pc.status.Load() == StatusActive {
				pc.log.WithError(err).Debug("Read failed")
			}
			pc.closeWith(err)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			pc.log.WithError(err).Warn("Dropping connection after malformed message")
			pc.closeWith(err)
			return
		}
		if pc.dispatch(msg) {
			return
		}
	}
}

// dispatch applies one inbound message and reports whether reading should stop.
func (pc *PlayerConnection) dispatch(msg protocol.Message) bool {
	if _, ok := msg.(*protocol.Position); !ok {
		pc.log.WithField("type", msg.Type()).Debug("Handling message")
	}

	switch m := msg.(type) {
	case *protocol.Position:
		if pc.lobby.State() == InGame {
			p := *m
			p.PlayerID = pc.Name
			pc.lastPosition.Store(&p)
		}
	case *protocol.ItemAction:
		if pc.lobby.State() == InGame {
			a := *m
			a.PlayerID = pc.Name
			pc.actionsMu.Lock()
			pc.actions = append(pc.actions, &a)
			pc.actionsMu.Unlock()
		}
	case *protocol.LobbyState:
		pc.reply(pc.lobby.UpdateLobbyState(pc, m))
	case *protocol.Map:
		pc.reply(pc.lobby.PrepareGame(pc, m))
	case *protocol.GameState:
		if m.Phase == protocol.PhasePreparing {
			pc.lobby.MarkPrepared(pc)
		}
	case *protocol.CloseConnection:
		pc.Close()
		return true
	default:
		pc.log.WithField("type", msg.Type()).Debug("Ignoring message")
	}
	return false
}

func (pc *PlayerConnection) reply(err error) {
	if err == nil {
		return
	}
	pc.log.WithError(err).Info("Rejected request")
	var authErr *AuthorityError
	if errors.As(err, &authErr) {
		err = authErr.Err
	}
	pc.Send(&protocol.ErrorMessage{Error: capitalize(err.Error())})
}

func (pc *PlayerConnection) drainActions() []*protocol.ItemAction {
	pc.actionsMu.Lock()
	defer pc.actionsMu.Unlock()
	actions := pc.actions
	pc.actions = nil
	return actions
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
