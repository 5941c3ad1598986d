// internal/server/registry.go
package server

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/multibomb/arena/internal/lobby"
	"github.com/multibomb/arena/internal/protocol"
	"github.com/multibomb/arena/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxLobbies = 16
	DefaultTicketTTL  = 10 * time.Second

	rejectTimeout = time.Second
)

// Options configure a Registry.
type Options struct {
	MaxLobbies int
	TicketTTL  time.Duration
	// Lobby is the template for every lobby created by the registry.
	Lobby  lobby.Options
	Logger *logrus.Logger
}

// Ticket authorizes one connection from a remote address to join a lobby.
type Ticket struct {
	LobbyName string
	PlayerID  string
	IssuedAt  time.Time
}

// Registry owns the open lobbies and the pending admission tickets. The two
// maps have separate locks that are never held together, and no registry
// lock is held while calling into a lobby.
type Registry struct {
	opts Options
	log  *logrus.Entry
	now  func() time.Time

	mu      sync.Mutex
	lobbies map[string]*lobby.Lobby

	ticketsMu sync.Mutex
	tickets   map[string]Ticket
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.MaxLobbies <= 0 {
		opts.MaxLobbies = DefaultMaxLobbies
	}
	if opts.TicketTTL <= 0 {
		opts.TicketTTL = DefaultTicketTTL
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Lobby.Logger == nil {
		opts.Lobby.Logger = opts.Logger
	}
	return &Registry{
		opts:    opts,
		log:     opts.Logger.WithField("component", "registry"),
		now:     time.Now,
		lobbies: make(map[string]*lobby.Lobby),
		tickets: make(map[string]Ticket),
	}
}

// CreateLobby opens a new lobby. A closed lobby's name may be reused.
func (r *Registry) CreateLobby(name string) (*lobby.Lobby, error) {
	if name == "" {
		return nil, ErrEmptyLobbyName
	}

	var stale []*lobby.Lobby
	r.mu.Lock()
	if existing, ok := r.lobbies[name]; ok {
		if existing.IsOpen() {
			r.mu.Unlock()
			return nil, ErrLobbyExists
		}
		stale = append(stale, existing)
		delete(r.lobbies, name)
	}
	open := 0
	for _, l := range r.lobbies {
		if l.IsOpen() {
			open++
		}
	}
	if open >= r.opts.MaxLobbies {
		r.mu.Unlock()
		r.closeAll(stale, "replaced")
		return nil, ErrMaxLobbies
	}

	opts := r.opts.Lobby
	userOnClose := opts.OnClose
	opts.OnClose = func(l *lobby.Lobby) {
		r.removeLobby(l)
		if userOnClose != nil {
			userOnClose(l)
		}
	}
	l := lobby.New(name, opts)
	r.lobbies[name] = l
	r.mu.Unlock()

	r.closeAll(stale, "replaced")
	r.log.WithField("lobby", name).Info("Lobby created")
	return l, nil
}

func (r *Registry) closeAll(lobbies []*lobby.Lobby, reason string) {
	for _, l := range lobbies {
		l.Close(reason)
	}
}

// removeLobby forgets l unless its name was already reused.
func (r *Registry) removeLobby(l *lobby.Lobby) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lobbies[l.Name] == l {
		delete(r.lobbies, l.Name)
		r.log.WithField("lobby", l.Name).Info("Lobby removed")
	}
}

// Lobby returns the open lobby called name.
func (r *Registry) Lobby(name string) (*lobby.Lobby, bool) {
	r.mu.Lock()
	l, ok := r.lobbies[name]
	r.mu.Unlock()
	if !ok || !l.IsOpen() {
		return nil, false
	}
	return l, true
}

// PrepareAdmission validates a create or join request and issues a ticket for
// addr, replacing any earlier ticket of that address.
func (r *Registry) PrepareAdmission(addr, lobbyName, playerID string) error {
	if playerID == "" {
		return ErrEmptyName
	}
	l, ok := r.Lobby(lobbyName)
	if !ok {
		return ErrLobbyNotFound
	}

	// check and issue are one step; lock order is ticketsMu, then the lobby
	r.ticketsMu.Lock()
	if err := l.CanAdmit(playerID, r.reservedNamesUnsafe(lobbyName, addr)); err != nil {
		r.ticketsMu.Unlock()
		return admissionError(err)
	}
	r.tickets[addr] = Ticket{LobbyName: lobbyName, PlayerID: playerID, IssuedAt: r.now()}
	r.ticketsMu.Unlock()

	r.log.WithFields(logrus.Fields{"lobby": lobbyName, "player": playerID, "remote": addr}).Info("Admission ticket issued")
	return nil
}

// reservedNamesUnsafe lists the players holding live tickets for lobbyName,
// except the one held by addr which a new ticket would replace. The caller
// holds ticketsMu.
func (r *Registry) reservedNamesUnsafe(lobbyName, addr string) []string {
	now := r.now()
	var names []string
	for a, t := range r.tickets {
		if a != addr && t.LobbyName == lobbyName && !r.expired(t, now) {
			names = append(names, t.PlayerID)
		}
	}
	return names
}

func (r *Registry) expired(t Ticket, now time.Time) bool {
	return now.Sub(t.IssuedAt) > r.opts.TicketTTL
}

// takeTicket removes and returns the ticket of addr.
func (r *Registry) takeTicket(addr string) (Ticket, bool) {
	r.ticketsMu.Lock()
	defer r.ticketsMu.Unlock()
	t, ok := r.tickets[addr]
	delete(r.tickets, addr)
	return t, ok
}

// PendingTickets is the number of tickets not yet consumed or swept.
func (r *Registry) PendingTickets() int {
	r.ticketsMu.Lock()
	defer r.ticketsMu.Unlock()
	return len(r.tickets)
}

// AcceptConnection matches a new session connection against the ticket of its
// remote address and hands it to the ticket's lobby. On failure the peer has
// been sent an ErrorMessage and the close sentinel; the caller closes t.
func (r *Registry) AcceptConnection(ctx context.Context, t transport.Transport) (*lobby.PlayerConnection, error) {
	addr := t.RemoteAddr()
	log := r.log.WithField("remote", addr)

	pc, err := r.admit(t)
	if err != nil {
		log.WithError(err).Info("Connection rejected")
		r.reject(ctx, t, err)
		return nil, err
	}
	pc.Start()
	return pc, nil
}

func (r *Registry) admit(t transport.Transport) (*lobby.PlayerConnection, error) {
	ticket, ok := r.takeTicket(t.RemoteAddr())
	if !ok {
		return nil, ErrNoTicket
	}
	if r.expired(ticket, r.now()) {
		return nil, ErrTicketExpired
	}
	l, ok := r.Lobby(ticket.LobbyName)
	if !ok {
		return nil, ErrLobbyNotFound
	}
	pc, err := l.AddPlayer(ticket.PlayerID, t)
	if err != nil {
		return nil, admissionError(err)
	}
	return pc, nil
}

func (r *Registry) reject(ctx context.Context, t transport.Transport, err error) {
	ctx, cancel := context.WithTimeout(ctx, rejectTimeout)
	defer cancel()
	if werr := t.WriteMessage(ctx, protocol.MustEncode(&protocol.ErrorMessage{Error: err.Error()})); werr != nil {
		return
	}
	t.WriteMessage(ctx, protocol.MustEncode(protocol.CloseConnection{}))
}

// ListOpenLobbies returns the directory entries of all open lobbies, sorted by name.
func (r *Registry) ListOpenLobbies() []protocol.LobbySummary {
	r.mu.Lock()
	lobbies := make([]*lobby.Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		lobbies = append(lobbies, l)
	}
	r.mu.Unlock()

	summaries := make([]protocol.LobbySummary, 0, len(lobbies))
	for _, l := range lobbies {
		if l.IsOpen() {
			summaries = append(summaries, l.Summary())
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// LobbyInfo is the directory message served to clients.
func (r *Registry) LobbyInfo() *protocol.LobbyInfo {
	info := &protocol.LobbyInfo{Lobbies: make(map[string]protocol.LobbySummary)}
	for _, s := range r.ListOpenLobbies() {
		info.Lobbies[s.Name] = s
	}
	return info
}

// CloseLobby closes an open lobby on behalf of an operator.
func (r *Registry) CloseLobby(name string) error {
	l, ok := r.Lobby(name)
	if !ok {
		return ErrLobbyNotFound
	}
	l.Close("closed by operator")
	return nil
}

// Sweep drops expired tickets and closes lobbies that are no longer open.
func (r *Registry) Sweep() {
	now := r.now()
	r.ticketsMu.Lock()
	expired := 0
	for addr, t := range r.tickets {
		if r.expired(t, now) {
			delete(r.tickets, addr)
			expired++
		}
	}
	r.ticketsMu.Unlock()

	var stale []*lobby.Lobby
	r.mu.Lock()
	for _, l := range r.lobbies {
		if !l.IsOpen() {
			stale = append(stale, l)
		}
	}
	r.mu.Unlock()
	r.closeAll(stale, "abandoned")

	if expired > 0 || len(stale) > 0 {
		r.log.WithFields(logrus.Fields{"tickets": expired, "lobbies": len(stale)}).Debug("Swept registry")
	}
}

// RunSweeper sweeps once per ticket lifetime until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.TicketTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Shutdown closes every lobby.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	lobbies := make([]*lobby.Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		lobbies = append(lobbies, l)
	}
	r.mu.Unlock()
	r.closeAll(lobbies, "server shutting down")
}

// Serve runs the session accept loop on ln until ctx is done. Failures of a
// single connection never end the loop.
func (r *Registry) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	r.log.WithField("addr", ln.Addr().String()).Info("Accepting session connections")
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			r.log.WithError(err).Warnf("Accept failed; retrying in %v", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0
		go r.handleConn(ctx, conn)
	}
}

func (r *Registry) handleConn(ctx context.Context, conn net.Conn) {
	t := transport.NewLine(conn)
	if _, err := r.AcceptConnection(ctx, t); err != nil {
		t.Close()
	}
}
