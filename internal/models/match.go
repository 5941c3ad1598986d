// internal/models/match.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchResult is the outcome of one finished match, as queued for the
// historian and stored in the matches table.
type MatchResult struct {
	MatchID   uuid.UUID      `json:"match_id"`
	LobbyID   uuid.UUID      `json:"lobby_id"`
	Lobby     string         `json:"lobby"`
	Mode      string         `json:"mode"`
	Winner    string         `json:"winner"`
	Players   []PlayerResult `json:"players"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// PlayerResult is one row of match_players.
type PlayerResult struct {
	PlayerID string `json:"player_id"`
	Color    int    `json:"color"`
	Kills    int    `json:"kills"`
	Alive    bool   `json:"alive"`
}
