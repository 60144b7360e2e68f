// Package queue carries sweep trigger messages from the API to the worker.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// SweepTrigger asks the worker to run an auto-mark sweep. A single date sets
// Date; a range sets FromDate/ToDate.
type SweepTrigger struct {
	Date     string `json:"date,omitempty"`
	FromDate string `json:"from_date,omitempty"`
	ToDate   string `json:"to_date,omitempty"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, trig SweepTrigger) error
	Consume(ctx context.Context) (<-chan SweepTrigger, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan SweepTrigger
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan SweepTrigger, size)}
}

// Publish enqueues a trigger.
func (q *InMemory) Publish(ctx context.Context, trig SweepTrigger) error {
	select {
	case q.ch <- trig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan SweepTrigger, error) {
	out := make(chan SweepTrigger)
	go func() {
		defer close(out)
		for {
			select {
			case trig := <-q.ch:
				out <- trig
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "hostel:sweeps"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a trigger as JSON.
func (q *RedisQueue) Publish(ctx context.Context, trig SweepTrigger) error {
	raw, err := json.Marshal(trig)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams triggers using BRPOP, skipping payloads that fail to
// decode.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan SweepTrigger, error) {
	out := make(chan SweepTrigger)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				var trig SweepTrigger
				if jerr := json.Unmarshal([]byte(res[1]), &trig); jerr == nil {
					out <- trig
				}
			}
		}
	}()
	return out, nil
}
