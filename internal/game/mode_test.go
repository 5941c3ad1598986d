// internal/game/mode_test.go
package game

import (
	"testing"
	"time"

	"github.com/multibomb/arena/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns a clock frozen at a settable instant.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func kills(t *testing.T, m Mode, playerID string) int {
	t.Helper()
	for _, s := range m.Stats() {
		if s.PlayerID == playerID {
			return s.Kills
		}
	}
	t.Fatalf("player %s not in mode", playerID)
	return 0
}

func TestLookup(t *testing.T) {
	assert.IsType(t, &KillHunt{}, Lookup("Kill Hunt"))
	assert.IsType(t, &Classic{}, Lookup("Classic"))
	assert.IsType(t, &BattleRoyale{}, Lookup("Battle Royale"))
	assert.IsType(t, &BattleRoyale{}, Lookup("Capture the Flag"))

	for _, m := range Modes() {
		assert.Equal(t, m.Name(), Lookup(m.Name()).Name())
		assert.NotEmpty(t, m.Description())
		assert.True(t, m.AllowsItem(ItemBomb))
		assert.False(t, m.AllowsItem(0))
	}
}

func TestKillHuntLastAliveWins(t *testing.T) {
	k := NewKillHunt()
	k.AddPlayer("alice")
	k.AddPlayer("bob")
	k.AddPlayer("carol")

	_, ok := k.CalculateWinner()
	assert.False(t, ok)

	k.SetAlive("alice", false)
	_, ok = k.CalculateWinner()
	assert.False(t, ok)

	k.RemovePlayer("carol")
	winner, ok := k.CalculateWinner()
	require.True(t, ok)
	assert.Equal(t, "bob", winner)
}

func TestKillHuntFirstToTenKills(t *testing.T) {
	k := NewKillHunt()
	now, advance := fixedClock(time.Unix(0, 0))
	k.now = now
	for _, id := range []string{"alice", "bob", "carol"} {
		k.AddPlayer(id)
	}

	for i := 0; i < KillsToWin; i++ {
		msgs := k.HandleHit("bob", "carol")
		require.NotEmpty(t, msgs)
		advance(RespawnProtection)
		if i < KillsToWin-1 {
			_, ok := k.CalculateWinner()
			assert.False(t, ok)
		}
	}
	winner, ok := k.CalculateWinner()
	require.True(t, ok)
	assert.Equal(t, "carol", winner)
}

func TestKillHuntTieBrokenByJoinOrder(t *testing.T) {
	k := NewKillHunt()
	k.AddPlayer("alice")
	k.AddPlayer("bob")
	k.AddPlayer("carol")
	k.players["carol"].Kills = KillsToWin
	k.players["bob"].Kills = KillsToWin

	winner, ok := k.CalculateWinner()
	require.True(t, ok)
	assert.Equal(t, "bob", winner)
}

func TestKillHuntHit(t *testing.T) {
	k := NewKillHunt()
	now, advance := fixedClock(time.Unix(0, 0))
	k.now = now
	k.AddPlayer("alice")
	k.AddPlayer("bob")

	msgs := k.HandleHit("bob", "alice")
	require.Len(t, msgs, 2)
	assert.Equal(t, &protocol.Respawn{PlayerID: "bob"}, msgs[0])
	assert.Equal(t, &protocol.PlayerState{PlayerID: "alice", Kills: 1, Alive: true}, msgs[1])

	// bob respawned under protection
	assert.Nil(t, k.HandleHit("bob", "alice"))
	assert.Equal(t, 1, kills(t, k, "alice"))

	advance(RespawnProtection)
	require.NotEmpty(t, k.HandleHit("bob", "alice"))
	assert.Equal(t, 2, kills(t, k, "alice"))
}

func TestKillHuntSelfHit(t *testing.T) {
	k := NewKillHunt()
	now, advance := fixedClock(time.Unix(0, 0))
	k.now = now
	k.AddPlayer("alice")

	msgs := k.HandleHit("alice", "alice")
	require.Len(t, msgs, 1)
	assert.IsType(t, &protocol.Respawn{}, msgs[0])
	assert.Equal(t, 0, kills(t, k, "alice"))

	advance(RespawnProtection)
	k.players["alice"].Kills = 2
	msgs = k.HandleHit("alice", "alice")
	require.Len(t, msgs, 2)
	assert.Equal(t, &protocol.PlayerState{PlayerID: "alice", Kills: 1, Alive: true}, msgs[1])
	assert.Equal(t, 1, kills(t, k, "alice"))
}

func TestStartProtection(t *testing.T) {
	k := NewKillHunt()
	now, advance := fixedClock(time.Unix(0, 0))
	k.now = now
	k.AddPlayer("alice")
	k.AddPlayer("bob")
	k.Protect("bob", StartProtection)

	assert.Nil(t, k.HandleHit("bob", "alice"))
	advance(StartProtection - time.Millisecond)
	assert.Nil(t, k.HandleHit("bob", "alice"))
	advance(time.Millisecond)
	assert.NotNil(t, k.HandleHit("bob", "alice"))
}

func TestClassicLives(t *testing.T) {
	c := NewClassic()
	now, advance := fixedClock(time.Unix(0, 0))
	c.now = now
	c.AddPlayer("alice")
	c.AddPlayer("bob")

	for i := ClassicLives - 1; i > 0; i-- {
		msgs := c.HandleHit("bob", "alice")
		require.NotEmpty(t, msgs)
		assert.Equal(t, &protocol.Respawn{PlayerID: "bob"}, msgs[0])
		assert.Equal(t, &protocol.PlayerState{PlayerID: "bob", Lives: i, Alive: true}, msgs[1])
		_, ok := c.CalculateWinner()
		assert.False(t, ok)
		advance(RespawnProtection)
	}

	msgs := c.HandleHit("bob", "alice")
	assert.Equal(t, &protocol.PlayerState{PlayerID: "bob", Alive: false}, msgs[0])
	assert.Nil(t, c.HandleHit("bob", "alice"), "eliminated players cannot be hit")

	winner, ok := c.CalculateWinner()
	require.True(t, ok)
	assert.Equal(t, "alice", winner)
	assert.Equal(t, ClassicLives, kills(t, c, "alice"))
}

func TestBattleRoyaleOneHit(t *testing.T) {
	b := NewBattleRoyale()
	b.AddPlayer("alice")
	b.AddPlayer("bob")
	b.AddPlayer("carol")

	msgs := b.HandleHit("alice", "alice")
	require.Len(t, msgs, 1)
	assert.Equal(t, &protocol.PlayerState{PlayerID: "alice", Alive: false}, msgs[0])

	_, ok := b.CalculateWinner()
	assert.False(t, ok)

	msgs = b.HandleHit("carol", "bob")
	require.Len(t, msgs, 2)
	assert.Equal(t, &protocol.PlayerState{PlayerID: "bob", Kills: 1, Lives: 1, Alive: true}, msgs[1])

	winner, ok := b.CalculateWinner()
	require.True(t, ok)
	assert.Equal(t, "bob", winner)
}

func TestArenaDetonate(t *testing.T) {
	var fields [protocol.MapSize][protocol.MapSize]byte
	fields[2][3] = FieldSolid
	fields[4][4] = FieldBreakable
	a := NewArena(fields)

	blocked, destroyed := a.Detonate(1, 1)
	assert.False(t, blocked)
	assert.False(t, destroyed)

	blocked, destroyed = a.Detonate(2, 3)
	assert.True(t, blocked)
	assert.False(t, destroyed)

	blocked, destroyed = a.Detonate(4, 4)
	assert.True(t, blocked)
	assert.True(t, destroyed)
	assert.Equal(t, FieldGround, a.Field(4, 4))

	blocked, _ = a.Detonate(-1, 0)
	assert.True(t, blocked)
	assert.Equal(t, FieldSolid, a.Field(protocol.MapSize, 0))
}

func TestCell(t *testing.T) {
	m, n := Cell(&protocol.Position{X: 3.4, Y: 5.6})
	assert.Equal(t, 6, m)
	assert.Equal(t, 3, n)

	m, n = Cell(&protocol.Position{X: 0.5, Y: -0.2})
	assert.Equal(t, 0, m)
	assert.Equal(t, 1, n)
}

func TestClampBombSize(t *testing.T) {
	assert.Equal(t, 1, ClampBombSize(0))
	assert.Equal(t, 3, ClampBombSize(3))
	assert.Equal(t, MaxBombSize, ClampBombSize(100))
}
