// internal/game/mode.go
package game

import (
	"time"

	"github.com/multibomb/arena/internal/protocol"
)

// Display names of the available modes.
const (
	BattleRoyaleName = "Battle Royale"
	ClassicName      = "Classic"
	KillHuntName     = "Kill Hunt"
)

// Spawn protection windows.
const (
	StartProtection   = 3 * time.Second
	RespawnProtection = 3*time.Second + 1*time.Second
)

// Mode is the rule set of a match. Implementations are not safe for
// concurrent use; the owning lobby serializes access.
type Mode interface {
	Name() string
	Description() string
	// AllowsItem reports whether items of this id may be used in the match.
	AllowsItem(item byte) bool

	// AddPlayer registers a participant; join order is the tie-break order.
	AddPlayer(playerID string)
	// RemovePlayer marks a participant as no longer alive, e.g. after a disconnect.
	RemovePlayer(playerID string)
	SetAlive(playerID string, alive bool)
	Protect(playerID string, d time.Duration)
	Stats() []PlayerStats

	// CalculateWinner returns the winning player, if the match is decided.
	CalculateWinner() (string, bool)
	// HandleHit resolves victim being hit by attacker's explosion and returns
	// the messages to broadcast.
	HandleHit(victim, attacker string) []protocol.Message
}

// Lookup returns a fresh mode for a display name. Unknown names fall back to
// Battle Royale.
func Lookup(name string) Mode {
	switch name {
	case ClassicName:
		return NewClassic()
	case KillHuntName:
		return NewKillHunt()
	default:
		return NewBattleRoyale()
	}
}

// Modes lists one fresh instance of every mode.
func Modes() []Mode {
	return []Mode{NewBattleRoyale(), NewClassic(), NewKillHunt()}
}

// PlayerStats are the per-player match statistics kept by a mode.
type PlayerStats struct {
	PlayerID       string
	Kills          int
	Lives          int
	Alive          bool
	ProtectedUntil time.Time
}

func (s *PlayerStats) message() *protocol.PlayerState {
	return &protocol.PlayerState{PlayerID: s.PlayerID, Kills: s.Kills, Lives: s.Lives, Alive: s.Alive}
}

// roster holds the players of a match in join order.
type roster struct {
	players map[string]*PlayerStats
	order   []string
	lives   int
	items   []byte
	now     func() time.Time
}

func newRoster(lives int, items []byte) roster {
	return roster{
		players: make(map[string]*PlayerStats),
		lives:   lives,
		items:   items,
		now:     time.Now,
	}
}

func (r *roster) AllowsItem(item byte) bool {
	for _, it := range r.items {
		if it == item {
			return true
		}
	}
	return false
}

func (r *roster) AddPlayer(playerID string) {
	if _, ok := r.players[playerID]; ok {
		return
	}
	r.players[playerID] = &PlayerStats{PlayerID: playerID, Lives: r.lives, Alive: true}
	r.order = append(r.order, playerID)
}

func (r *roster) RemovePlayer(playerID string) {
	r.SetAlive(playerID, false)
}

func (r *roster) SetAlive(playerID string, alive bool) {
	if p, ok := r.players[playerID]; ok {
		p.Alive = alive
	}
}

func (r *roster) Protect(playerID string, d time.Duration) {
	if p, ok := r.players[playerID]; ok {
		p.ProtectedUntil = r.now().Add(d)
	}
}

func (r *roster) protected(p *PlayerStats) bool {
	return r.now().Before(p.ProtectedUntil)
}

func (r *roster) Stats() []PlayerStats {
	out := make([]PlayerStats, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.players[id])
	}
	return out
}

// alive returns the alive players in join order.
func (r *roster) alive() []*PlayerStats {
	var out []*PlayerStats
	for _, id := range r.order {
		if p := r.players[id]; p.Alive {
			out = append(out, p)
		}
	}
	return out
}

// lastAlive is the winner rule shared by the elimination modes.
func (r *roster) lastAlive() (string, bool) {
	alive := r.alive()
	if len(alive) == 1 {
		return alive[0].PlayerID, true
	}
	return "", false
}
