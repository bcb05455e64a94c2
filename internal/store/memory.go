package store

import (
	"context"
	"sync"

	"github.com/bobarin/blessings/internal/models"
)

// MemoryStore is the default single-process backend.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.BatchJob
}

var _ JobStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.BatchJob)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, job *models.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, job *models.BatchJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return false, nil
	}
	s.jobs[job.ID] = job.Clone()
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.jobs[id]
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.BatchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.BatchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
