// internal/game/battle_royale.go
package game

import "github.com/multibomb/arena/internal/protocol"

// BattleRoyale eliminates a player on the first hit; the last player alive wins.
type BattleRoyale struct {
	roster
}

func NewBattleRoyale() *BattleRoyale {
	return &BattleRoyale{roster: newRoster(1, AllItems)}
}

func (*BattleRoyale) Name() string { return BattleRoyaleName }

func (*BattleRoyale) Description() string {
	return "One hit and you are out. The last one standing wins."
}

func (b *BattleRoyale) CalculateWinner() (string, bool) {
	return b.lastAlive()
}

func (b *BattleRoyale) HandleHit(victim, attacker string) []protocol.Message {
	v, ok := b.players[victim]
	if !ok || !v.Alive || b.protected(v) {
		return nil
	}
	v.Lives = 0
	v.Alive = false
	result := []protocol.Message{v.message()}

	if a, ok := b.players[attacker]; ok && victim != attacker {
		a.Kills++
		result = append(result, a.message())
	}
	return result
}
