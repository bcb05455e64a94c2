package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobarin/blessings/internal/models"
	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "blessings:batch:"

// RedisStore keeps each job as a JSON string under its own key.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	owned  bool
}

var _ JobStore = (*RedisStore)(nil)

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreWithClient(client, ttl)
	s.owned = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client, e.g. one shared with the
// queue. Close leaves that client open.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	data, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return decodeJob(data)
}

func (s *RedisStore) Set(ctx context.Context, job *models.BatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return s.client.Set(ctx, redisKey(job.ID), data, s.ttl).Err()
}

// Update uses SET XX so an evicted key is never recreated.
func (s *RedisStore) Update(ctx context.Context, job *models.BatchJob) (bool, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}
	ok, err := s.client.SetXX(ctx, redisKey(job.ID), data, s.ttl).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, redisKey(id)).Err()
}

func (s *RedisStore) Has(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check job %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*models.BatchJob, error) {
	var jobs []*models.BatchJob
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan jobs: %w", err)
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue // deleted between SCAN and GET
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", key, err)
			}
			job, err := decodeJob(data)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}

		if next == 0 {
			return jobs, nil
		}
		cursor = next
	}
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func decodeJob(data []byte) (*models.BatchJob, error) {
	var job models.BatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
