// internal/protocol/message.go
package protocol

// MessageType is the discriminator carried in the "type" field of every wire message.
type MessageType string

const (
	TypePosition        MessageType = "Position"
	TypeItemAction      MessageType = "ItemAction"
	TypeLobbyState      MessageType = "LobbyState"
	TypeGameState       MessageType = "GameState"
	TypeMap             MessageType = "Map"
	TypeCreateLobby     MessageType = "CreateLobby"
	TypeJoinLobby       MessageType = "JoinLobby"
	TypeLobbyInfo       MessageType = "LobbyInfo"
	TypeError           MessageType = "ErrorMessage"
	TypeCloseConnection MessageType = "CloseConnection"
	TypeRespawn         MessageType = "Respawn"
	TypePlayerState     MessageType = "PlayerState"
	TypeFieldUpdate     MessageType = "FieldUpdate"
)

// MapSize is the edge length of every arena map.
const MapSize = 19

// MaxPlayers is the number of spawn points on a map and the lobby capacity.
const MaxPlayers = 8

// Message is one variant of the tagged union exchanged with clients.
type Message interface {
	Type() MessageType
}

// Direction a player is facing.
type Direction string

const (
	North Direction = "NORTH"
	South Direction = "SOUTH"
	East  Direction = "EAST"
	West  Direction = "WEST"
)

// Phase values carried by GameState.
type Phase string

const (
	PhasePreparing Phase = "PREPARING"
	PhaseStarted   Phase = "STARTED"
	PhaseFinished  Phase = "FINISHED"
)

// Lobby status strings shown in the directory.
const (
	StatusInLobby = "In Lobby"
	StatusInGame  = "In Game"
)

// Position is the last reported location of a player, in field units.
type Position struct {
	X         float32   `json:"x"`
	Y         float32   `json:"y"`
	Direction Direction `json:"direction,omitempty"`
	Moving    bool      `json:"moving"`
	PlayerID  string    `json:"playerId,omitempty"`
}

// ItemAction is a player using an item on cell (M, N).
type ItemAction struct {
	M        int    `json:"m"`
	N        int    `json:"n"`
	ItemID   byte   `json:"itemId"`
	BombSize int    `json:"bombSize,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
}

// LobbyState is sent by the host to change host or game mode, and broadcast
// by the server as a snapshot of the lobby.
type LobbyState struct {
	Host     string         `json:"host,omitempty"`
	GameMode string         `json:"gameMode,omitempty"`
	Players  map[string]int `json:"players,omitempty"`
}

// GameState reports a match phase transition.
type GameState struct {
	Phase  Phase  `json:"phase"`
	Winner string `json:"winner,omitempty"`
}

// Map is the arena layout submitted by the host to start a game.
type Map struct {
	Name   string                 `json:"name,omitempty"`
	Fields [MapSize][MapSize]byte `json:"fields"`
	Spawns [MaxPlayers]*Position  `json:"spawns"`
	Theme  string                 `json:"theme,omitempty"`
}

// CreateLobby asks the directory to open a lobby and admit the requester into it.
type CreateLobby struct {
	LobbyName string `json:"lobbyName"`
	PlayerID  string `json:"playerId"`
}

// JoinLobby asks the directory to admit the requester into an existing lobby.
type JoinLobby struct {
	LobbyName string `json:"lobbyName"`
	PlayerID  string `json:"playerId"`
}

// LobbySummary is one entry of the lobby directory.
type LobbySummary struct {
	Name     string `json:"name"`
	Players  int    `json:"players"`
	GameMode string `json:"gameMode"`
	Status   string `json:"status"`
}

// LobbyInfo is the directory snapshot served on GET /lobby.
type LobbyInfo struct {
	Lobbies map[string]LobbySummary `json:"lobbies"`
}

// ErrorMessage carries a human readable failure.
type ErrorMessage struct {
	Error string `json:"error"`
}

// CloseConnection tells the peer the connection is about to end.
type CloseConnection struct{}

// Respawn tells clients a player was hit and goes back to its spawn.
type Respawn struct {
	PlayerID string `json:"playerId"`
}

// PlayerState is a player's match statistics.
type PlayerState struct {
	PlayerID string `json:"playerId"`
	Kills    int    `json:"kills"`
	Lives    int    `json:"lives,omitempty"`
	Alive    bool   `json:"alive"`
}

// FieldUpdate announces a changed map field, e.g. a destroyed wall.
type FieldUpdate struct {
	M     int  `json:"m"`
	N     int  `json:"n"`
	Field byte `json:"field"`
}

func (Position) Type() MessageType        { return TypePosition }
func (ItemAction) Type() MessageType      { return TypeItemAction }
func (LobbyState) Type() MessageType      { return TypeLobbyState }
func (GameState) Type() MessageType       { return TypeGameState }
func (Map) Type() MessageType             { return TypeMap }
func (CreateLobby) Type() MessageType     { return TypeCreateLobby }
func (JoinLobby) Type() MessageType       { return TypeJoinLobby }
func (LobbyInfo) Type() MessageType       { return TypeLobbyInfo }
func (ErrorMessage) Type() MessageType    { return TypeError }
func (CloseConnection) Type() MessageType { return TypeCloseConnection }
func (Respawn) Type() MessageType         { return TypeRespawn }
func (PlayerState) Type() MessageType     { return TypePlayerState }
func (FieldUpdate) Type() MessageType     { return TypeFieldUpdate }
