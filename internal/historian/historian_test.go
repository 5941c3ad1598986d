// internal/historian/historian_test.go
package historian

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/multibomb/arena/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	ch chan models.MatchResult
}

func (f *fakeSource) Pop(ctx context.Context, timeout time.Duration) (*models.MatchResult, error) {
	select {
	case r := <-f.ch:
		return &r, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]models.MatchResult
	fail    int
}

func (f *fakeSink) RecordMatches(ctx context.Context, results []models.MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("db down")
	}
	f.batches = append(f.batches, append([]models.MatchResult(nil), results...))
	return nil
}

func (f *fakeSink) stored() []models.MatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.MatchResult
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func result(lobby string) models.MatchResult {
	return models.MatchResult{MatchID: uuid.New(), Lobby: lobby, Mode: "Classic"}
}

func startService(t *testing.T, source Source, sink Sink, opts Options) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	opts.Logger = quietLogger()
	svc := NewService(source, sink, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, svc.Run(ctx))
	}()
	return cancel, done
}

func TestFlushesFullBatch(t *testing.T) {
	source := &fakeSource{ch: make(chan models.MatchResult, 10)}
	sink := &fakeSink{}
	cancel, done := startService(t, source, sink, Options{
		BatchSize:  3,
		FlushDelay: time.Hour,
		PopTimeout: 10 * time.Millisecond,
	})
	defer func() { cancel(); <-done }()

	for _, name := range []string{"a", "b", "c"} {
		source.ch <- result(name)
	}

	require.Eventually(t, func() bool { return len(sink.stored()) == 3 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	assert.Len(t, sink.batches, 1)
	sink.mu.Unlock()
}

func TestFlushesAfterDelay(t *testing.T) {
	source := &fakeSource{ch: make(chan models.MatchResult, 10)}
	sink := &fakeSink{}
	cancel, done := startService(t, source, sink, Options{
		BatchSize:  100,
		FlushDelay: 20 * time.Millisecond,
		PopTimeout: 5 * time.Millisecond,
	})
	defer func() { cancel(); <-done }()

	source.ch <- result("solo")
	require.Eventually(t, func() bool { return len(sink.stored()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRetriesFailedBatch(t *testing.T) {
	source := &fakeSource{ch: make(chan models.MatchResult, 10)}
	sink := &fakeSink{fail: 2}
	cancel, done := startService(t, source, sink, Options{
		BatchSize:  1,
		FlushDelay: 10 * time.Millisecond,
		PopTimeout: 5 * time.Millisecond,
	})
	defer func() { cancel(); <-done }()

	r := result("retry")
	source.ch <- r
	require.Eventually(t, func() bool { return len(sink.stored()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, r.MatchID, sink.stored()[0].MatchID)
}

func TestFlushesOnShutdown(t *testing.T) {
	source := &fakeSource{ch: make(chan models.MatchResult, 10)}
	sink := &fakeSink{}
	cancel, done := startService(t, source, sink, Options{
		BatchSize:  100,
		FlushDelay: time.Hour,
		PopTimeout: 5 * time.Millisecond,
	})

	source.ch <- result("late")
	require.Eventually(t, func() bool { return len(source.ch) == 0 }, time.Second, time.Millisecond)
	// give the service a chance to append the popped result
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.stored())

	cancel()
	<-done
	assert.Len(t, sink.stored(), 1)
}

func TestQuietQueueFlushesWithinDelay(t *testing.T) {
	source := &fakeSource{ch: make(chan models.MatchResult, 10)}
	sink := &fakeSink{}
	cancel, done := startService(t, source, sink, Options{
		BatchSize:  100,
		FlushDelay: 30 * time.Millisecond,
		PopTimeout: time.Hour,
	})
	defer func() { cancel(); <-done }()

	// wait until the service is blocked in its long idle pop
	time.Sleep(10 * time.Millisecond)
	source.ch <- result("quiet")
	require.Eventually(t, func() bool { return len(sink.stored()) == 1 }, 500*time.Millisecond, 5*time.Millisecond)
}

func TestNextPopTimeout(t *testing.T) {
	svc := NewService(&fakeSource{}, &fakeSink{}, Options{
		FlushDelay: 500 * time.Millisecond,
		PopTimeout: 3 * time.Second,
		Logger:     quietLogger(),
	})
	now := time.Now()
	assert.Equal(t, 3*time.Second, svc.nextPopTimeout(now))

	svc.batch = append(svc.batch, result("pending"))
	svc.flushAt = now.Add(200 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, svc.nextPopTimeout(now))

	svc.flushAt = now.Add(-time.Second)
	assert.Equal(t, minPopTimeout, svc.nextPopTimeout(now))
}
