// internal/lobby/lobby.go
package lobby

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/multibomb/arena/internal/game"
	"github.com/multibomb/arena/internal/models"
	"github.com/multibomb/arena/internal/protocol"
	"github.com/multibomb/arena/internal/transport"
	"github.com/sirupsen/logrus"
)

// State of a lobby. Transitions only move forward; Closed is terminal.
type State int32

const (
	Waiting State = iota
	GameStarting
	InGame
	Closed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case GameStarting:
		return "GAME_STARTING"
	case InGame:
		return "IN_GAME"
	case Closed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configure a lobby. Zero values fall back to the defaults below.
type Options struct {
	TicksPerSecond int
	// Grace keeps a new lobby open while nobody has joined yet.
	Grace time.Duration
	// FinishGrace is the delay between the end of a match and closing the lobby.
	FinishGrace  time.Duration
	WriteTimeout time.Duration
	Hazards      *game.HazardEngine
	Recorder     MatchRecorder
	// OnClose is called once after the lobby closed.
	OnClose func(*Lobby)
	Logger  *logrus.Logger
}

const (
	DefaultTicksPerSecond = 64
	DefaultGrace          = 30 * time.Second
	DefaultFinishGrace    = 5 * time.Second

	recordTimeout = 10 * time.Second
)

// Lobby is one game session. Its mutex guards membership, readiness, the map
// and the game mode; the tick loop is the only writer of match state.
type Lobby struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time

	opts Options
	log  *logrus.Entry

	mu        sync.Mutex
	state     State
	host      string
	modeName  string
	gameMap   *protocol.Map
	arena     *game.Arena
	mode      game.Mode
	members   map[string]*PlayerConnection
	joinOrder []string
	ready     map[string]bool
	matchID   uuid.UUID
	startedAt time.Time
	stopTicks chan struct{}
	finishing bool
	// manualTicks disables the ticker so tests can drive tick directly.
	manualTicks bool

	blastMu sync.Mutex
	blasts  []blast

	stateFlag   atomic.Int32
	memberCount atomic.Int32
	closed      atomic.Bool
	closeOnce   sync.Once
	done        chan struct{}
}

// blast is one cell reached by a detonation, queued for the next tick.
type blast struct {
	m, n      int
	owner     string
	destroyed bool
}

// New creates a lobby in the WAITING state.
func New(name string, opts Options) *Lobby {
	if opts.TicksPerSecond <= 0 {
		opts.TicksPerSecond = DefaultTicksPerSecond
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.FinishGrace <= 0 {
		opts.FinishGrace = DefaultFinishGrace
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = LogRecorder{Log: opts.Logger}
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Lobby{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
		opts:      opts,
		log:       opts.Logger.WithField("lobby", name),
		state:     Waiting,
		modeName:  game.BattleRoyaleName,
		members:   make(map[string]*PlayerConnection),
		ready:     make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// State is a lock-free read of the current state.
func (l *Lobby) State() State { return State(l.stateFlag.Load()) }

func (l *Lobby) setStateUnsafe(s State) {
	l.state = s
	l.stateFlag.Store(int32(s))
	l.log.WithField("state", s).Debug("Lobby state changed")
}

// Done is closed when the lobby has closed.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// IsOpen reports whether the lobby is listed and joinable by name: it has not
// been closed and either has members or was created recently.
func (l *Lobby) IsOpen() bool {
	if l.closed.Load() {
		return false
	}
	return l.memberCount.Load() > 0 || time.Since(l.CreatedAt) < l.opts.Grace
}

// Summary is the directory entry of the lobby.
func (l *Lobby) Summary() protocol.LobbySummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	status := protocol.StatusInLobby
	if l.state == InGame {
		status = protocol.StatusInGame
	}
	return protocol.LobbySummary{
		Name:     l.Name,
		Players:  len(l.members),
		GameMode: l.modeName,
		Status:   status,
	}
}

// Host returns the name of the current host.
func (l *Lobby) Host() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.host
}

// Players maps every member to its color.
func (l *Lobby) Players() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.playersUnsafe()
}

func (l *Lobby) playersUnsafe() map[string]int {
	players := make(map[string]int, len(l.members))
	for name, pc := range l.members {
		players[name] = pc.Color
	}
	return players
}

// CanAdmit checks whether name could join now. reserved lists names held by
// pending admissions that have not connected yet.
func (l *Lobby) CanAdmit(name string, reserved []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canAdmitUnsafe(name, reserved)
}

func (l *Lobby) canAdmitUnsafe(name string, reserved []string) error {
	switch {
	case name == "":
		return ErrEmptyName
	case l.state == Closed:
		return ErrClosed
	case l.state != Waiting:
		return ErrInProgress
	case len(l.members)+len(reserved) >= protocol.MaxPlayers:
		return ErrFull
	}
	if _, taken := l.members[name]; taken {
		return ErrNameTaken
	}
	for _, r := range reserved {
		if r == name {
			return ErrNameTaken
		}
	}
	return nil
}

// AddPlayer admits a connected player, assigns the lowest unused color and
// returns its connection. The caller starts the connection.
func (l *Lobby) AddPlayer(name string, t transport.Transport) (*PlayerConnection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.canAdmitUnsafe(name, nil); err != nil {
		return nil, err
	}

	pc := newPlayerConnection(l, name, l.freeColorUnsafe(), t, l.log, l.opts.WriteTimeout)
	l.members[name] = pc
	l.joinOrder = append(l.joinOrder, name)
	l.memberCount.Add(1)
	if l.host == "" {
		l.host = name
	}
	pc.log.WithField("color", pc.Color).Info("Player joined")

	l.broadcastUnsafe(l.snapshotUnsafe())
	return pc, nil
}

func (l *Lobby) freeColorUnsafe() int {
	used := make(map[int]bool, len(l.members))
	for _, pc := range l.members {
		used[pc.Color] = true
	}
	for c := 0; ; c++ {
		if !used[c] {
			return c
		}
	}
}

func (l *Lobby) snapshotUnsafe() *protocol.LobbyState {
	return &protocol.LobbyState{
		Host:     l.host,
		GameMode: l.modeName,
		Players:  l.playersUnsafe(),
	}
}

// removePlayer is called by a connection once its transport is released.
func (l *Lobby) removePlayer(pc *PlayerConnection) {
	l.mu.Lock()
	if l.members[pc.Name] != pc {
		l.mu.Unlock()
		return
	}
	delete(l.members, pc.Name)
	delete(l.ready, pc.Name)
	for i, name := range l.joinOrder {
		if name == pc.Name {
			l.joinOrder = append(l.joinOrder[:i], l.joinOrder[i+1:]...)
			break
		}
	}
	l.memberCount.Add(-1)

	closeLobby := l.state != Closed && (pc.Name == l.host || len(l.members) == 0)
	switch l.state {
	case GameStarting:
		if !closeLobby && l.allReadyUnsafe() {
			l.startGameUnsafe()
		}
	case InGame:
		if l.mode != nil {
			l.mode.RemovePlayer(pc.Name)
		}
	}
	if !closeLobby && l.state != Closed {
		l.broadcastUnsafe(l.snapshotUnsafe())
	}
	l.mu.Unlock()

	if closeLobby {
		l.Close(fmt.Sprintf("%s left", pc.Name))
	}
}

// UpdateLobbyState lets the host hand over the host role or pick a game mode.
func (l *Lobby) UpdateLobbyState(pc *PlayerConnection, req *protocol.LobbyState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkHostUnsafe(pc, "update lobby"); err != nil {
		return err
	}
	if req.Host != "" {
		if _, ok := l.members[req.Host]; !ok {
			return fmt.Errorf("unknown player %q", req.Host)
		}
		l.host = req.Host
	}
	if req.GameMode != "" {
		l.modeName = game.Lookup(req.GameMode).Name()
	}
	l.log.WithFields(logrus.Fields{"host": l.host, "mode": l.modeName}).Info("Lobby updated")
	l.broadcastUnsafe(l.snapshotUnsafe())
	return nil
}

func (l *Lobby) checkHostUnsafe(pc *PlayerConnection, action string) error {
	if l.members[pc.Name] != pc || l.host != pc.Name {
		return &AuthorityError{Player: pc.Name, Action: action, Err: ErrNotHost}
	}
	if l.state != Waiting {
		return &AuthorityError{Player: pc.Name, Action: action, Err: ErrNotWaiting}
	}
	return nil
}

// PrepareGame accepts the host's map and moves the lobby to GAME_STARTING.
func (l *Lobby) PrepareGame(pc *PlayerConnection, m *protocol.Map) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkHostUnsafe(pc, "start game"); err != nil {
		return err
	}
	for i, spawn := range m.Spawns {
		if spawn == nil {
			return fmt.Errorf("%w: spawn %d missing", ErrInvalidMap, i)
		}
		sm, sn := game.Cell(spawn)
		if !game.InBounds(sm, sn) {
			return fmt.Errorf("%w: spawn %d outside the map", ErrInvalidMap, i)
		}
	}

	gameMap := *m
	rand.Shuffle(len(gameMap.Spawns), func(i, j int) {
		gameMap.Spawns[i], gameMap.Spawns[j] = gameMap.Spawns[j], gameMap.Spawns[i]
	})
	l.gameMap = &gameMap
	l.arena = game.NewArena(gameMap.Fields)
	l.ready = make(map[string]bool)
	l.setStateUnsafe(GameStarting)
	l.log.WithField("map", gameMap.Name).Info("Preparing game")

	l.broadcastUnsafe(&gameMap)
	l.broadcastUnsafe(&protocol.GameState{Phase: protocol.PhasePreparing})
	return nil
}

// MarkPrepared records that a member finished loading the map. The match
// starts once every connected member is ready.
func (l *Lobby) MarkPrepared(pc *PlayerConnection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != GameStarting || l.members[pc.Name] != pc || l.ready[pc.Name] {
		return
	}
	l.ready[pc.Name] = true
	if l.allReadyUnsafe() {
		l.startGameUnsafe()
	}
}

func (l *Lobby) allReadyUnsafe() bool {
	if len(l.members) == 0 {
		return false
	}
	for name := range l.members {
		if !l.ready[name] {
			return false
		}
	}
	return true
}

func (l *Lobby) startGameUnsafe() {
	l.mode = game.Lookup(l.modeName)
	for _, name := range l.joinOrder {
		l.mode.AddPlayer(name)
		l.mode.Protect(name, game.StartProtection)
	}
	for _, pc := range l.members {
		pc.lastPosition.Store(nil)
		pc.sentPosition = nil
		pc.drainActions()
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	l.matchID = id
	l.startedAt = time.Now()
	l.stopTicks = make(chan struct{})
	l.setStateUnsafe(InGame)
	l.log.WithFields(logrus.Fields{"match": id, "mode": l.mode.Name(), "players": len(l.members)}).Info("Game started")

	l.broadcastUnsafe(&protocol.GameState{Phase: protocol.PhaseStarted})
	if !l.manualTicks {
		go l.runTicks(l.stopTicks)
	}
}

// Close tears the lobby down: every member receives the close sentinel and
// is disconnected. It is idempotent and safe for concurrent use.
func (l *Lobby) Close(reason string) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.setStateUnsafe(Closed)
		l.closed.Store(true)
		if l.stopTicks != nil {
			close(l.stopTicks)
		}
		members := make([]*PlayerConnection, 0, len(l.members))
		for _, pc := range l.members {
			members = append(members, pc)
		}
		l.mu.Unlock()

		l.log.WithField("reason", reason).Info("Closing lobby")
		for _, pc := range members {
			pc.Close()
		}
		close(l.done)
		if l.opts.OnClose != nil {
			l.opts.OnClose(l)
		}
	})
}

// broadcastUnsafe encodes msg once and queues it for every member. Sending
// never blocks, so it is safe under the lobby lock.
func (l *Lobby) broadcastUnsafe(msg protocol.Message) {
	l.broadcastExceptUnsafe("", msg)
}

func (l *Lobby) broadcastExceptUnsafe(skip string, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		l.log.WithError(err).Error("Dropping unencodable broadcast")
		return
	}
	for name, pc := range l.members {
		if name != skip {
			pc.sendRaw(data)
		}
	}
}

func (l *Lobby) recordMatch(result models.MatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := l.opts.Recorder.RecordMatch(ctx, result); err != nil {
		l.log.WithError(err).WithField("match", result.MatchID).Error("Failed to record match")
	}
}
