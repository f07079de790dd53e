package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/simply-migrate/simply-migrate/pkg/migration"
)

// MemoryStore is an in-process Store used by tests and the zero-dependency
// CLI `run` mode. Records pass through the same JSON serialization as the
// Redis store so the wire contract is exercised, and a single mutex serializes
// updates per store, which satisfies the per-job atomicity requirement.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string][]byte)}
}

func (s *MemoryStore) CreateJob(_ context.Context, job *migration.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job %s: %w", job.JobID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = data
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*migration.Job, error) {
	s.mu.Lock()
	data, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var job migration.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to deserialize job %s: %w", jobID, err)
	}
	return &job, nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, jobID string, status migration.Status) error {
	_, err := s.mutateJob(jobID, func(job *migration.Job) {
		applyJobStatus(job, status)
	})
	return err
}

func (s *MemoryStore) UpdateTenantResult(_ context.Context, jobID string, result *migration.TenantResult) (*migration.Job, error) {
	return s.mutateJob(jobID, func(job *migration.Job) {
		applyTenantResult(job, result)
	})
}

func (s *MemoryStore) mutateJob(jobID string, mutate func(*migration.Job)) (*migration.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	var job migration.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to deserialize job %s: %w", jobID, err)
	}

	mutate(&job)

	out, err := json.Marshal(&job)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize job %s: %w", jobID, err)
	}
	s.jobs[jobID] = out
	return &job, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, limit int) ([]*migration.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*migration.Job, 0, len(s.jobs))
	for id, data := range s.jobs {
		var job migration.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("failed to deserialize job %s: %w", id, err)
		}
		jobs = append(jobs, &job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
