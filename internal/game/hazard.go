// internal/game/hazard.go
package game

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timing describes the stages of a detonation.
type Timing struct {
	// Detonation is the delay between placement and the center blast.
	Detonation time.Duration
	// Total is the delay between placement and the outermost ring.
	Total time.Duration
}

// DefaultTiming matches the client animation of a bomb.
var DefaultTiming = Timing{Detonation: 3000 * time.Millisecond, Total: 3300 * time.Millisecond}

// RingDelay is the interval between two consecutive rings of a hazard.
func (t Timing) RingDelay(size int) time.Duration {
	if size < 1 {
		size = 1
	}
	return (t.Total - t.Detonation) / time.Duration(size)
}

// Hazard is one placed bomb.
type Hazard struct {
	M, N  int
	Size  int
	Owner string
}

// CellFunc is invoked for every cell reached by a detonation. Returning true
// marks the cell as blocking; the direction it was reached from stops there.
type CellFunc func(m, n int) (blocked bool)

// directions in north, south, east, west order as (dm, dn).
var directions = [4][2]int{{-1, 0}, {1, 0}, {0, 1}, {0, -1}}

// HazardEngine runs detonations in the background. Placed hazards outlive the
// lobby that placed them; only the engine context stops them.
type HazardEngine struct {
	ctx    context.Context
	timing Timing
	sleep  func(ctx context.Context, d time.Duration) bool
	wg     sync.WaitGroup
	log    *logrus.Entry
}

// NewHazardEngine creates an engine whose detonations stop when ctx is done.
func NewHazardEngine(ctx context.Context, timing Timing, log *logrus.Logger) *HazardEngine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HazardEngine{
		ctx:    ctx,
		timing: timing,
		sleep:  sleepContext,
		log:    log.WithField("component", "hazards"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Timing returns the stage durations used by the engine.
func (e *HazardEngine) Timing() Timing { return e.timing }

// Place schedules h and returns immediately.
func (e *HazardEngine) Place(h Hazard, cell CellFunc) {
	h.Size = ClampBombSize(h.Size)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(h, cell)
	}()
}

// Wait blocks until every placed hazard has finished or was cancelled.
func (e *HazardEngine) Wait() {
	e.wg.Wait()
}

func (e *HazardEngine) run(h Hazard, cell CellFunc) {
	if !e.sleep(e.ctx, e.timing.Detonation) {
		return
	}
	e.log.WithFields(logrus.Fields{"m": h.M, "n": h.N, "size": h.Size, "owner": h.Owner}).Debug("Detonating")
	cell(h.M, h.N)

	delay := e.timing.RingDelay(h.Size)
	var blocked [len(directions)]bool
	open := len(directions)
	for ring := 1; ring <= h.Size && open > 0; ring++ {
		if !e.sleep(e.ctx, delay) {
			return
		}
		for i, d := range directions {
			if blocked[i] {
				continue
			}
			if cell(h.M+d[0]*ring, h.N+d[1]*ring) {
				blocked[i] = true
				open--
			}
		}
	}
}
