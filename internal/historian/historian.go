// internal/historian/historian.go pops finished matches from the queue and
// persists them to the database in batches.
package historian

import (
	"context"
	"time"

	"github.com/multibomb/arena/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize  = 20
	DefaultFlushDelay = 500 * time.Millisecond
	DefaultPopTimeout = 3 * time.Second

	// a failed batch is kept for retry until it grows past this many results
	maxPending = 1000

	shutdownFlushTimeout = 5 * time.Second

	// a due batch still gets a short pop so a busy queue keeps filling it
	minPopTimeout = time.Millisecond
)

// Source yields queued match results. Pop returns nil when nothing arrived
// within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.MatchResult, error)
}

// Sink persists a batch of match results atomically.
type Sink interface {
	RecordMatches(ctx context.Context, results []models.MatchResult) error
}

// Options configure a Service. Zero values select the defaults.
type Options struct {
	BatchSize  int
	FlushDelay time.Duration
	PopTimeout time.Duration
	Logger     *logrus.Logger
}

// Service moves match results from a Source to a Sink.
type Service struct {
	source     Source
	sink       Sink
	batchSize  int
	flushDelay time.Duration
	popTimeout time.Duration
	log        *logrus.Entry

	batch []models.MatchResult
	// flushAt is when the pending batch is due; zero while the batch is empty
	flushAt time.Time
}

func NewService(source Source, sink Sink, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultPopTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		source:     source,
		sink:       sink,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		popTimeout: opts.PopTimeout,
		log:        opts.Logger.WithField("component", "historian"),
		batch:      make([]models.MatchResult, 0, opts.BatchSize),
	}
}

// Run consumes the source until ctx is done, then flushes what it holds.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("historian service started")
	for {
		if ctx.Err() != nil {
			break
		}

		result, err := s.source.Pop(ctx, s.nextPopTimeout(time.Now()))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.WithError(err).Error("pop failed")
			// avoid spinning on a broken queue
			select {
			case <-ctx.Done():
			case <-time.After(s.flushDelay):
			}
			continue
		}
		if result != nil {
			if len(s.batch) == 0 {
				s.flushAt = time.Now().Add(s.flushDelay)
			}
			s.batch = append(s.batch, *result)
		}

		if len(s.batch) > 0 && (len(s.batch) >= s.batchSize || !time.Now().Before(s.flushAt)) {
			s.flush(ctx)
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	s.flush(flushCtx)
	s.log.Info("historian shutting down")
	return nil
}

// nextPopTimeout waits no longer than the pending batch is allowed to sit.
func (s *Service) nextPopTimeout(now time.Time) time.Duration {
	if len(s.batch) == 0 {
		return s.popTimeout
	}
	return max(min(s.popTimeout, s.flushAt.Sub(now)), minPopTimeout)
}

// flush writes the pending batch. On failure the batch is kept and retried
// one flush delay later.
func (s *Service) flush(ctx context.Context) {
	if len(s.batch) == 0 {
		return
	}
	if err := s.sink.RecordMatches(ctx, s.batch); err != nil {
		s.flushAt = time.Now().Add(s.flushDelay)
		s.log.WithError(err).WithField("pending", len(s.batch)).Error("flush failed")
		if len(s.batch) > maxPending {
			dropped := len(s.batch) - maxPending
			s.batch = append(s.batch[:0], s.batch[dropped:]...)
			s.log.WithField("dropped", dropped).Warn("historian backlog trimmed")
		}
		return
	}
	s.log.Infof("flushed %d matches to DB", len(s.batch))
	s.batch = s.batch[:0]
}
