// internal/game/hazard_test.go
package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cellHit struct {
	at   time.Duration
	m, n int
}

// virtualEngine returns an engine whose sleeps advance a shared virtual clock
// instead of waiting.
func virtualEngine(ctx context.Context) (*HazardEngine, func() time.Duration) {
	var mu sync.Mutex
	var elapsed time.Duration
	e := NewHazardEngine(ctx, DefaultTiming, logrus.New())
	e.sleep = func(ctx context.Context, d time.Duration) bool {
		if ctx.Err() != nil {
			return false
		}
		mu.Lock()
		elapsed += d
		mu.Unlock()
		return true
	}
	return e, func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return elapsed
	}
}

func TestRingDelay(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, DefaultTiming.RingDelay(3))
	assert.Equal(t, 300*time.Millisecond, DefaultTiming.RingDelay(0))
}

func TestHazardPropagation(t *testing.T) {
	e, now := virtualEngine(context.Background())

	var mu sync.Mutex
	var hits []cellHit
	e.Place(Hazard{M: 9, N: 9, Size: 3, Owner: "alice"}, func(m, n int) bool {
		mu.Lock()
		defer mu.Unlock()
		hits = append(hits, cellHit{at: now(), m: m, n: n})
		// east wall right next to the bomb
		return m == 9 && n == 10
	})
	e.Wait()

	ms := time.Millisecond
	expected := []cellHit{
		{3000 * ms, 9, 9},
		{3100 * ms, 8, 9}, {3100 * ms, 10, 9}, {3100 * ms, 9, 10}, {3100 * ms, 9, 8},
		{3200 * ms, 7, 9}, {3200 * ms, 11, 9}, {3200 * ms, 9, 7},
		{3300 * ms, 6, 9}, {3300 * ms, 12, 9}, {3300 * ms, 9, 6},
	}
	assert.Equal(t, expected, hits)
	for _, h := range hits {
		assert.False(t, h.m == 9 && h.n > 10, "east blast passed the wall at (%d,%d)", h.m, h.n)
	}
}

func TestHazardAllDirectionsBlocked(t *testing.T) {
	e, _ := virtualEngine(context.Background())

	var calls int
	e.Place(Hazard{M: 1, N: 1, Size: 5}, func(m, n int) bool {
		calls++
		return !(m == 1 && n == 1)
	})
	e.Wait()
	assert.Equal(t, 5, calls, "center plus one blocked cell per direction")
}

func TestHazardPlaceDoesNotBlock(t *testing.T) {
	e := NewHazardEngine(context.Background(), Timing{Detonation: 50 * time.Millisecond, Total: 60 * time.Millisecond}, nil)

	fired := make(chan struct{}, 16)
	start := time.Now()
	e.Place(Hazard{M: 5, N: 5, Size: 1}, func(m, n int) bool {
		fired <- struct{}{}
		return false
	})
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Empty(t, fired)

	e.Wait()
	assert.Len(t, fired, 5)
}

func TestHazardCancelledWithEngine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewHazardEngine(ctx, Timing{Detonation: time.Hour, Total: time.Hour + time.Second}, nil)

	e.Place(Hazard{M: 5, N: 5, Size: 2}, func(m, n int) bool {
		t.Error("cancelled hazard must not detonate")
		return false
	})
	cancel()

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "hazard did not stop after cancellation")
	}
}
