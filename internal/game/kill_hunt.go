// internal/game/kill_hunt.go
package game

import "github.com/multibomb/arena/internal/protocol"

// KillsToWin is the kill count that decides a Kill Hunt match.
const KillsToWin = 10

// KillHunt is won by the first player to reach KillsToWin kills, or by the
// last player left alive.
type KillHunt struct {
	roster
}

func NewKillHunt() *KillHunt {
	return &KillHunt{roster: newRoster(0, AllItems)}
}

func (*KillHunt) Name() string { return KillHuntName }

func (*KillHunt) Description() string {
	return "The first one to get 10 kills is the winner!"
}

func (k *KillHunt) CalculateWinner() (string, bool) {
	if id, ok := k.lastAlive(); ok {
		return id, true
	}
	for _, p := range k.alive() {
		if p.Kills >= KillsToWin {
			return p.PlayerID, true
		}
	}
	return "", false
}

// HandleHit respawns an unprotected victim. The attacker gains a kill, or
// loses one (never below zero) when it hit itself.
func (k *KillHunt) HandleHit(victim, attacker string) []protocol.Message {
	v, ok := k.players[victim]
	if !ok || !v.Alive || k.protected(v) {
		return nil
	}
	a, ok := k.players[attacker]
	if !ok {
		return nil
	}

	result := []protocol.Message{&protocol.Respawn{PlayerID: victim}}
	k.Protect(victim, RespawnProtection)

	if victim != attacker {
		a.Kills++
		result = append(result, a.message())
	} else if a.Kills > 0 {
		a.Kills--
		result = append(result, a.message())
	}
	return result
}
