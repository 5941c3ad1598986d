// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/multibomb/arena/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list that carries finished matches to the historian.
const DefaultQueueName = "multibomb_matches"

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// MatchQueue is a Redis list of match results. The game server pushes, the
// historian pops.
type MatchQueue struct {
	rdb  *redis.Client
	name string
}

// NewMatchQueue uses the list called name, or DefaultQueueName when empty.
func NewMatchQueue(rdb *redis.Client, name string) *MatchQueue {
	if name == "" {
		name = DefaultQueueName
	}
	return &MatchQueue{rdb: rdb, name: name}
}

// RecordMatch serializes result and appends it to the queue.
func (q *MatchQueue) RecordMatch(ctx context.Context, result models.MatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal MatchResult: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop waits up to timeout for the next match result. It returns nil without
// an error when the queue stayed empty.
func (q *MatchQueue) Pop(ctx context.Context, timeout time.Duration) (*models.MatchResult, error) {
	var res []string
	var err error
	if timeout > 0 && timeout < time.Second {
		// BLPop rounds sub-second timeouts up to 1s; Redis itself accepts fractions
		secs := strconv.FormatFloat(timeout.Seconds(), 'f', 3, 64)
		res, err = q.rdb.Do(ctx, "BLPOP", q.name, secs).StringSlice()
	} else {
		res, err = q.rdb.BLPop(ctx, timeout, q.name).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", q.name, err)
	}
	// res[0] is the list name and res[1] the payload.
	if len(res) < 2 {
		return nil, nil
	}
	var result models.MatchResult
	if err := json.Unmarshal([]byte(res[1]), &result); err != nil {
		return nil, fmt.Errorf("invalid match record: %w", err)
	}
	return &result, nil
}

// Len is the number of queued results.
func (q *MatchQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
