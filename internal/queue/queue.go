// Package queue hands confirmed batches to render workers through Redis.
//
// Jobs move from the pending list into a processing list when a worker takes
// them and are removed from there on Ack. Whatever is still in the processing
// list at startup belonged to a process that died mid-batch; Recover puts it
// back with its attempt counter raised.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueRenderBatch      = "queue:render_batch"
	QueueRenderProcessing = "queue:render_batch:processing"
)

type Queue struct {
	client     *redis.Client
	pending    string
	processing string
}

// Job is one render request for a confirmed batch.
type Job struct {
	ID        uuid.UUID `json:"id"`
	BatchID   string    `json:"batch_id"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`

	raw string // payload as stored, needed to remove it on Ack
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client), nil
}

func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client, pending: QueueRenderBatch, processing: QueueRenderProcessing}
}

// Client exposes the connection so the Redis job store can share it.
func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Dispatch schedules a batch for rendering.
func (q *Queue) Dispatch(ctx context.Context, batchID string) error {
	job := &Job{ID: uuid.New(), BatchID: batchID, CreatedAt: time.Now()}
	if err := q.push(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue batch %s: %w", batchID, err)
	}
	return nil
}

// push adds to the head; workers take from the tail, so order is FIFO.
func (q *Queue) push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.LPush(ctx, q.pending, data).Err()
}

// Next blocks up to timeout for the next job and parks it in the processing
// list until Ack. A nil job means the wait timed out.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (*Job, error) {
	raw, err := q.client.BRPopLPush(ctx, q.pending, q.processing, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	job, err := decode(raw)
	if err != nil {
		// Unreadable payloads would be recovered forever.
		q.client.LRem(ctx, q.processing, 1, raw)
		return nil, err
	}
	return job, nil
}

// Ack removes a finished job from the processing list.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	if err := q.client.LRem(ctx, q.processing, 1, job.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return nil
}

// Recover requeues jobs left in the processing list by a previous process.
// Call it before starting workers. It returns how many jobs were requeued.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		raw, err := q.client.RPop(ctx, q.processing).Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover jobs: %w", err)
		}

		job, err := decode(raw)
		if err != nil {
			continue
		}
		job.Attempt++
		if err := q.push(ctx, job); err != nil {
			return n, fmt.Errorf("failed to requeue batch %s: %w", job.BatchID, err)
		}
		n++
	}
}

// Len reports how many batches are waiting.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pending).Result()
}

func decode(raw string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	job.raw = raw
	return &job, nil
}
