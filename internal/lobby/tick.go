// internal/lobby/tick.go
package lobby

import (
	"time"

	"github.com/multibomb/arena/internal/game"
	"github.com/multibomb/arena/internal/models"
	"github.com/multibomb/arena/internal/protocol"
	"github.com/sirupsen/logrus"
)

func (l *Lobby) runTicks(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second / time.Duration(l.opts.TicksPerSecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !l.tick() {
				return
			}
		}
	}
}

// tick advances the match by one step and reports whether it is still running.
func (l *Lobby) tick() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != InGame || l.finishing {
		return false
	}

	// one coherent position snapshot per tick
	positions := make(map[string]*protocol.Position, len(l.members))
	for name, pc := range l.members {
		pos := pc.lastPosition.Load()
		if pos == nil {
			continue
		}
		positions[name] = pos
		if pos != pc.sentPosition {
			pc.sentPosition = pos
			l.broadcastExceptUnsafe(name, pos)
		}
	}

	for _, name := range l.joinOrder {
		pc := l.members[name]
		for _, action := range pc.drainActions() {
			l.applyActionUnsafe(action)
		}
	}

	for _, b := range l.drainBlasts() {
		if b.destroyed {
			l.broadcastUnsafe(&protocol.FieldUpdate{M: b.m, N: b.n, Field: game.FieldGround})
			continue
		}
		for _, name := range l.joinOrder {
			pos, ok := positions[name]
			if !ok {
				continue
			}
			if m, n := game.Cell(pos); m == b.m && n == b.n {
				for _, msg := range l.mode.HandleHit(name, b.owner) {
					l.broadcastUnsafe(msg)
				}
			}
		}
	}

	winner, decided := l.mode.CalculateWinner()
	if !decided && !anyAlive(l.mode.Stats()) {
		decided = true
	}
	if decided {
		l.finishUnsafe(winner)
		return false
	}
	return true
}

func anyAlive(stats []game.PlayerStats) bool {
	for _, s := range stats {
		if s.Alive {
			return true
		}
	}
	return false
}

func (l *Lobby) applyActionUnsafe(action *protocol.ItemAction) {
	if !l.mode.AllowsItem(action.ItemID) {
		l.log.WithFields(logrus.Fields{"player": action.PlayerID, "item": action.ItemID}).Debug("Item not allowed")
		return
	}
	if action.ItemID == game.ItemBomb {
		action.BombSize = game.ClampBombSize(action.BombSize)
		if !game.InBounds(action.M, action.N) {
			return
		}
		if l.opts.Hazards != nil {
			l.opts.Hazards.Place(game.Hazard{
				M:     action.M,
				N:     action.N,
				Size:  action.BombSize,
				Owner: action.PlayerID,
			}, l.detonator(l.arena, action.PlayerID))
		}
	}
	l.broadcastUnsafe(action)
}

// detonator resolves blast cells against the arena the bomb was placed in and
// queues them for the tick loop. It never takes the lobby lock, so a bomb can
// finish after its lobby closed.
func (l *Lobby) detonator(arena *game.Arena, owner string) game.CellFunc {
	return func(m, n int) bool {
		blocked, destroyed := arena.Detonate(m, n)
		if destroyed || !blocked {
			l.blastMu.Lock()
			l.blasts = append(l.blasts, blast{m: m, n: n, owner: owner, destroyed: destroyed})
			l.blastMu.Unlock()
		}
		return blocked
	}
}

func (l *Lobby) drainBlasts() []blast {
	l.blastMu.Lock()
	defer l.blastMu.Unlock()
	blasts := l.blasts
	l.blasts = nil
	return blasts
}

func (l *Lobby) finishUnsafe(winner string) {
	l.finishing = true
	stats := l.mode.Stats()
	for i := range stats {
		l.broadcastUnsafe(&protocol.PlayerState{
			PlayerID: stats[i].PlayerID,
			Kills:    stats[i].Kills,
			Lives:    stats[i].Lives,
			Alive:    stats[i].Alive,
		})
	}
	l.broadcastUnsafe(&protocol.GameState{Phase: protocol.PhaseFinished, Winner: winner})
	l.log.WithFields(logrus.Fields{"match": l.matchID, "winner": winner}).Info("Game finished")

	result := models.MatchResult{
		MatchID:   l.matchID,
		LobbyID:   l.ID,
		Lobby:     l.Name,
		Mode:      l.mode.Name(),
		Winner:    winner,
		StartedAt: l.startedAt,
		EndedAt:   time.Now(),
	}
	for _, s := range stats {
		color := -1
		if pc, ok := l.members[s.PlayerID]; ok {
			color = pc.Color
		}
		result.Players = append(result.Players, models.PlayerResult{
			PlayerID: s.PlayerID,
			Color:    color,
			Kills:    s.Kills,
			Alive:    s.Alive,
		})
	}
	go l.recordMatch(result)

	time.AfterFunc(l.opts.FinishGrace, func() {
		l.Close("match finished")
	})
}
