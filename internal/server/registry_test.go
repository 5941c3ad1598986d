// internal/server/registry_test.go
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/multibomb/arena/internal/lobby"
	"github.com/multibomb/arena/internal/protocol"
	"github.com/multibomb/arena/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	addr   string
	out    chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{addr: addr, out: make(chan []byte, 256), closed: make(chan struct{})}
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-f.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteMessage(_ context.Context, msg []byte) error {
	select {
	case <-f.closed:
		return transport.ErrClosed
	case f.out <- msg:
		return nil
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return f.addr }

func (f *fakeTransport) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case data := <-f.out:
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no message written")
		return nil
	}
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, *testClock) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	opts.Logger = log
	r := NewRegistry(opts)
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	r.now = clock.Now
	t.Cleanup(r.Shutdown)
	return r, clock
}

// connect admits playerID from addr into lobbyName and returns its connection.
func connect(t *testing.T, r *Registry, addr, lobbyName, playerID string) *lobby.PlayerConnection {
	t.Helper()
	require.NoError(t, r.PrepareAdmission(addr, lobbyName, playerID))
	pc, err := r.AcceptConnection(context.Background(), newFakeTransport(addr))
	require.NoError(t, err)
	return pc
}

func TestCreateLobbyTwice(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	first, err := r.CreateLobby("alpha")
	require.NoError(t, err)
	_, err = r.CreateLobby("alpha")
	assert.ErrorIs(t, err, ErrLobbyExists)
	assert.Equal(t, 409, StatusCode(err))

	first.Close("test")
	second, err := r.CreateLobby("alpha")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	l, ok := r.Lobby("alpha")
	require.True(t, ok)
	assert.Same(t, second, l)

	_, err = r.CreateLobby("")
	assert.ErrorIs(t, err, ErrEmptyLobbyName)
}

func TestCreateLobbyLimit(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxLobbies: 2})

	_, err := r.CreateLobby("a")
	require.NoError(t, err)
	b, err := r.CreateLobby("b")
	require.NoError(t, err)
	_, err = r.CreateLobby("c")
	assert.ErrorIs(t, err, ErrMaxLobbies)
	assert.Equal(t, 503, StatusCode(err))

	b.Close("test")
	_, err = r.CreateLobby("c")
	assert.NoError(t, err)
}

func TestPrepareAdmissionRejections(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, err := r.CreateLobby("alpha")
	require.NoError(t, err)

	assert.ErrorIs(t, r.PrepareAdmission("10.0.0.1", "alpha", ""), ErrEmptyName)
	assert.ErrorIs(t, r.PrepareAdmission("10.0.0.1", "missing", "alice"), ErrLobbyNotFound)

	connect(t, r, "10.0.0.1", "alpha", "alice")
	err = r.PrepareAdmission("10.0.0.2", "alpha", "alice")
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.Equal(t, "Name already taken, please choose a different one!", err.Error())

	// a pending ticket reserves the name too
	require.NoError(t, r.PrepareAdmission("10.0.0.3", "alpha", "bob"))
	assert.ErrorIs(t, r.PrepareAdmission("10.0.0.4", "alpha", "bob"), ErrNameTaken)
	// the same address may replace its own ticket
	require.NoError(t, r.PrepareAdmission("10.0.0.3", "alpha", "bob"))
}

func TestSecondJoinWithSameNameFails(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	l, err := r.CreateLobby("alpha")
	require.NoError(t, err)
	connect(t, r, "10.0.0.1", "alpha", "alice")

	require.NoError(t, r.PrepareAdmission("10.0.0.2", "alpha", "bob"))
	assert.ErrorIs(t, r.PrepareAdmission("10.0.0.3", "alpha", "bob"), ErrNameTaken)
	_, err = r.AcceptConnection(context.Background(), newFakeTransport("10.0.0.2"))
	require.NoError(t, err)

	assert.ErrorIs(t, r.PrepareAdmission("10.0.0.3", "alpha", "bob"), ErrNameTaken)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 1}, l.Players())
}

func TestConcurrentJoinsForSameName(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	for round := 0; round < 200; round++ {
		name := fmt.Sprintf("lobby-%d", round)
		_, err := r.CreateLobby(name)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var granted atomic.Int32
		start := make(chan struct{})
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if r.PrepareAdmission(fmt.Sprintf("10.%d.0.%d", round, j), name, "bob") == nil {
					granted.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, int32(1), granted.Load(), "round %d", round)
		require.NoError(t, r.CloseLobby(name))
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, err := r.CreateLobby("alpha")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var granted atomic.Int32
	start := make(chan struct{})
	for j := 0; j < 3*protocol.MaxPlayers; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if r.PrepareAdmission(fmt.Sprintf("10.0.3.%d", j), "alpha", fmt.Sprintf("p%d", j)) == nil {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(protocol.MaxPlayers), granted.Load())
	assert.Equal(t, protocol.MaxPlayers, r.PendingTickets())
}

func TestPrepareAdmissionFullAndInGame(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, err := r.CreateLobby("alpha")
	require.NoError(t, err)

	connect(t, r, "10.0.0.100", "alpha", "host")
	for i, name := range []string{"b", "c", "d", "e", "f", "g", "h"} {
		connect(t, r, "10.0.1."+string(rune('0'+i)), "alpha", name)
	}
	assert.ErrorIs(t, r.PrepareAdmission("10.0.0.9", "alpha", "late"), ErrLobbyFull)

	other, err := r.CreateLobby("beta")
	require.NoError(t, err)
	betaHost := connect(t, r, "10.0.2.1", "beta", "host")
	m := &protocol.Map{}
	for i := range m.Spawns {
		m.Spawns[i] = &protocol.Position{X: 1, Y: 1}
	}
	require.NoError(t, other.PrepareGame(betaHost, m))
	assert.ErrorIs(t, r.PrepareAdmission("10.0.0.9", "beta", "late"), ErrNotWaiting)
}

func TestTicketExpiry(t *testing.T) {
	r, clock := newTestRegistry(t, Options{})
	_, err := r.CreateLobby("alpha")
	require.NoError(t, err)

	require.NoError(t, r.PrepareAdmission("10.0.0.1", "alpha", "alice"))
	clock.Advance(10*time.Second + time.Millisecond)

	ft := newFakeTransport("10.0.0.1")
	_, err = r.AcceptConnection(context.Background(), ft)
	assert.ErrorIs(t, err, ErrTicketExpired)

	reply, ok := ft.next(t).(*protocol.ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, ErrTicketExpired.Msg, reply.Error)
	assert.IsType(t, &protocol.CloseConnection{}, ft.next(t))

	// the expired ticket was consumed by the attempt
	_, err = r.AcceptConnection(context.Background(), newFakeTransport("10.0.0.1"))
	assert.ErrorIs(t, err, ErrNoTicket)
}

func TestTicketValidUntilDeadline(t *testing.T) {
	r, clock := newTestRegistry(t, Options{})
	_, err := r.CreateLobby("alpha")
	require.NoError(t, err)

	require.NoError(t, r.PrepareAdmission("10.0.0.1", "alpha", "alice"))
	clock.Advance(10 * time.Second)
	_, err = r.AcceptConnection(context.Background(), newFakeTransport("10.0.0.1"))
	assert.NoError(t, err)
}

func TestTicketSingleUse(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	_, err := r.CreateLobby("alpha")
	require.NoError(t, err)

	connect(t, r, "10.0.0.1", "alpha", "alice")
	assert.Equal(t, 0, r.PendingTickets())

	ft := newFakeTransport("10.0.0.1")
	_, err = r.AcceptConnection(context.Background(), ft)
	assert.ErrorIs(t, err, ErrNoTicket)
	assert.Equal(t, ErrNoTicket.Msg, ft.next(t).(*protocol.ErrorMessage).Error)
}

func TestTicketForVanishedLobby(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	l, err := r.CreateLobby("alpha")
	require.NoError(t, err)

	require.NoError(t, r.PrepareAdmission("10.0.0.1", "alpha", "alice"))
	require.NoError(t, r.CloseLobby("alpha"))
	<-l.Done()

	_, err = r.AcceptConnection(context.Background(), newFakeTransport("10.0.0.1"))
	assert.ErrorIs(t, err, ErrLobbyNotFound)
	assert.ErrorIs(t, r.CloseLobby("alpha"), ErrLobbyNotFound)
}

func TestSweep(t *testing.T) {
	r, clock := newTestRegistry(t, Options{Lobby: lobby.Options{Grace: 50 * time.Millisecond}})
	l, err := r.CreateLobby("alpha")
	require.NoError(t, err)
	kept, err := r.CreateLobby("beta")
	require.NoError(t, err)
	connect(t, r, "10.0.0.1", "beta", "alice")

	require.NoError(t, r.PrepareAdmission("10.0.0.2", "beta", "bob"))
	time.Sleep(60 * time.Millisecond)
	clock.Advance(11 * time.Second)
	r.Sweep()

	assert.Equal(t, 0, r.PendingTickets())
	<-l.Done()
	assert.Equal(t, lobby.Closed, l.State())
	assert.Equal(t, lobby.Waiting, kept.State())

	summaries := r.ListOpenLobbies()
	require.Len(t, summaries, 1)
	assert.Equal(t, "beta", summaries[0].Name)
}

func TestListOpenLobbies(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	for _, name := range []string{"gamma", "alpha", "beta"} {
		_, err := r.CreateLobby(name)
		require.NoError(t, err)
	}
	connect(t, r, "10.0.0.1", "beta", "alice")

	summaries := r.ListOpenLobbies()
	require.Len(t, summaries, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, []string{summaries[0].Name, summaries[1].Name, summaries[2].Name})
	assert.Equal(t, protocol.LobbySummary{Name: "beta", Players: 1, GameMode: "Battle Royale", Status: protocol.StatusInLobby}, summaries[1])

	info := r.LobbyInfo()
	assert.Len(t, info.Lobbies, 3)
	assert.Equal(t, 1, info.Lobbies["beta"].Players)
}

func TestServeAdmitsTicketHolder(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	l, err := r.CreateLobby("alpha")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- r.Serve(ctx, ln) }()

	// without a ticket the connection is answered and dropped
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	msg, err := protocol.Decode(line)
	require.NoError(t, err)
	assert.Equal(t, ErrNoTicket.Msg, msg.(*protocol.ErrorMessage).Error)
	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	msg, err = protocol.Decode(line)
	require.NoError(t, err)
	assert.IsType(t, &protocol.CloseConnection{}, msg)
	conn.Close()

	require.NoError(t, r.PrepareAdmission("127.0.0.1", "alpha", "alice"))
	conn, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	line, err = bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	msg, err = protocol.Decode(line)
	require.NoError(t, err)
	state := msg.(*protocol.LobbyState)
	assert.Equal(t, "alice", state.Host)
	assert.Equal(t, map[string]int{"alice": 0}, l.Players())

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Serve did not stop")
	}
}

func TestAdmissionErrorIs(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrLobbyFull)
	assert.ErrorIs(t, wrapped, ErrLobbyFull)
	assert.NotErrorIs(t, ErrLobbyFull, ErrNameTaken)
	assert.Equal(t, 500, StatusCode(errors.New("boom")))
}
