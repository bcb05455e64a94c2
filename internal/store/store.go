// Package store keeps batch job state behind a swappable key-value interface.
//
// Every backend stores snapshots: Set copies the job in, Get returns a fresh
// copy. Callers mutate their own copy and write it back, which keeps the
// processor, the sweeper and HTTP readers from sharing mutable state.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/blessings/internal/config"
	"github.com/bobarin/blessings/internal/models"
	"github.com/go-redis/redis/v8"
)

var ErrJobNotFound = errors.New("batch job not found or expired")

// JobStore offers atomic single-key operations over batch jobs.
type JobStore interface {
	Get(ctx context.Context, id string) (*models.BatchJob, error)
	Set(ctx context.Context, job *models.BatchJob) error
	// Update overwrites an existing job in one step. It reports false, and
	// writes nothing, when the job is no longer stored.
	Update(ctx context.Context, job *models.BatchJob) (bool, error)
	Delete(ctx context.Context, id string) error
	Has(ctx context.Context, id string) (bool, error)
	// List returns a snapshot of every stored job, in no particular order.
	List(ctx context.Context) ([]*models.BatchJob, error)
	Close() error
}

// New builds the backend selected by cfg.StoreBackend. A non-nil shared
// client, typically the render queue's, backs the Redis store instead of a
// new connection; the store then leaves closing it to the owner.
func New(cfg *config.Config, shared *redis.Client) (JobStore, error) {
	// Keys outlive the sweeper window so a missed sweep still expires them.
	ttl := 2 * cfg.JobExpiry

	switch cfg.StoreBackend {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreRedis:
		if shared != nil {
			return NewRedisStoreWithClient(shared, ttl), nil
		}
		return NewRedisStore(cfg.RedisURL, ttl)
	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
