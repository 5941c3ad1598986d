// internal/game/classic.go
package game

import "github.com/multibomb/arena/internal/protocol"

// ClassicLives is the number of hits a Classic player survives.
const ClassicLives = 3

// Classic gives every player a fixed number of lives; the last player alive wins.
type Classic struct {
	roster
}

func NewClassic() *Classic {
	return &Classic{roster: newRoster(ClassicLives, AllItems)}
}

func (*Classic) Name() string { return ClassicName }

func (*Classic) Description() string {
	return "Every player has three lives. The last one standing wins."
}

func (c *Classic) CalculateWinner() (string, bool) {
	return c.lastAlive()
}

func (c *Classic) HandleHit(victim, attacker string) []protocol.Message {
	v, ok := c.players[victim]
	if !ok || !v.Alive || c.protected(v) {
		return nil
	}

	v.Lives--
	var result []protocol.Message
	if v.Lives <= 0 {
		v.Lives = 0
		v.Alive = false
	} else {
		c.Protect(victim, RespawnProtection)
		result = append(result, &protocol.Respawn{PlayerID: victim})
	}
	result = append(result, v.message())

	if a, ok := c.players[attacker]; ok && victim != attacker {
		a.Kills++
		result = append(result, a.message())
	}
	return result
}
