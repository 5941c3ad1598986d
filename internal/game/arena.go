// internal/game/arena.go
package game

import (
	"math"
	"sync"

	"github.com/multibomb/arena/internal/protocol"
)

// Field ids used in Map.Fields.
const (
	FieldGround    byte = 0
	FieldSolid     byte = 1
	FieldBreakable byte = 2
)

// Item ids carried by ItemAction.
const (
	ItemBomb         byte = 1
	ItemBombCount    byte = 2
	ItemBombSize     byte = 3
	ItemSpeedUpgrade byte = 4
)

// MaxBombSize bounds the propagation radius of a single bomb.
const MaxBombSize = protocol.MapSize - 1

// AllItems lists every item a mode may whitelist.
var AllItems = []byte{ItemBomb, ItemBombCount, ItemBombSize, ItemSpeedUpgrade}

// Passable reports whether players and explosions can cross field f.
func Passable(f byte) bool {
	return f == FieldGround
}

// Arena is the mutable battleground of a running match. It is safe for
// concurrent use by the tick loop and detonating bombs.
type Arena struct {
	mu     sync.RWMutex
	fields [protocol.MapSize][protocol.MapSize]byte
}

// NewArena copies the fields of a submitted map.
func NewArena(fields [protocol.MapSize][protocol.MapSize]byte) *Arena {
	return &Arena{fields: fields}
}

// InBounds reports whether (m, n) lies on the map.
func InBounds(m, n int) bool {
	return m >= 0 && m < protocol.MapSize && n >= 0 && n < protocol.MapSize
}

// Field returns the field at (m, n); cells outside the map read as solid.
func (a *Arena) Field(m, n int) byte {
	if !InBounds(m, n) {
		return FieldSolid
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fields[m][n]
}

// Detonate applies an explosion to (m, n). It reports whether the explosion is
// stopped by this cell and whether a breakable field was destroyed.
func (a *Arena) Detonate(m, n int) (blocked, destroyed bool) {
	if !InBounds(m, n) {
		return true, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch f := a.fields[m][n]; {
	case f == FieldBreakable:
		a.fields[m][n] = FieldGround
		return true, true
	case !Passable(f):
		return true, false
	}
	return false, false
}

// Cell maps a reported position to the map cell it occupies.
func Cell(p *protocol.Position) (m, n int) {
	return int(math.Floor(float64(p.Y) + 0.5)), int(math.Floor(float64(p.X) + 0.5))
}

// ClampBombSize keeps a requested radius within [1, MaxBombSize].
func ClampBombSize(size int) int {
	if size < 1 {
		return 1
	}
	if size > MaxBombSize {
		return MaxBombSize
	}
	return size
}
