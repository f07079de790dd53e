package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/simply-migrate/simply-migrate/pkg/migration"
)

// RedisStore persists job records in Redis. Every write renews the 7-day TTL;
// UpdateTenantResult uses a WATCH/MULTI compare-and-set loop so concurrent
// tenant workers cannot lose counter increments, even across processes.
type RedisStore struct {
	client *redis.Client
	logger hclog.Logger
	ttl    time.Duration
}

// NewRedisStore connects to the Redis instance named by url (redis:// form)
// and verifies connectivity with a bounded exponential backoff. A store that
// cannot be reached at startup is a hard error; the service must not accept
// jobs without a working store.
func NewRedisStore(ctx context.Context, url string, logger hclog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	probe := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(30*time.Second),
	), ctx)
	if err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, probe); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("state store unreachable: %w", err)
	}

	return &RedisStore{
		client: client,
		logger: logger.Named("redis-store"),
		ttl:    JobTTL,
	}, nil
}

func jobKey(jobID string) string {
	return JobKeyPrefix + jobID
}

// CreateJob persists a new job record under its TTL.
func (s *RedisStore) CreateJob(ctx context.Context, job *migration.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job %s: %w", job.JobID, err)
	}
	if err := s.client.Set(ctx, jobKey(job.JobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.JobID, err)
	}
	s.logger.Debug("created job record", "job_id", job.JobID, "tenants", job.TotalTenants)
	return nil
}

// GetJob retrieves a job record, or ErrNotFound.
func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*migration.Job, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	var job migration.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to deserialize job %s: %w", jobID, err)
	}
	return &job, nil
}

// UpdateJobStatus sets the job status through the CAS loop.
func (s *RedisStore) UpdateJobStatus(ctx context.Context, jobID string, status migration.Status) error {
	_, err := s.mutateJob(ctx, jobID, func(job *migration.Job) {
		applyJobStatus(job, status)
	})
	return err
}

// UpdateTenantResult records one tenant's result atomically with respect to
// other workers updating the same job.
func (s *RedisStore) UpdateTenantResult(ctx context.Context, jobID string, result *migration.TenantResult) (*migration.Job, error) {
	job, err := s.mutateJob(ctx, jobID, func(job *migration.Job) {
		applyTenantResult(job, result)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("recorded tenant result",
		"job_id", jobID,
		"tenant_id", result.TenantID,
		"tenant_status", result.Status,
		"completed", job.CompletedTenants,
		"total", job.TotalTenants,
		"job_status", job.Status)
	return job, nil
}

// mutateJob runs a read-modify-write cycle under WATCH. On contention the
// transaction fails with redis.TxFailedErr and the cycle retries.
func (s *RedisStore) mutateJob(ctx context.Context, jobID string, mutate func(*migration.Job)) (*migration.Job, error) {
	key := jobKey(jobID)
	var updated *migration.Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var job migration.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to deserialize job %s: %w", jobID, err)
		}

		mutate(&job)

		out, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to serialize job %s: %w", jobID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		if err == nil {
			updated = &job
		}
		return err
	}

	for {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("job update contention, retrying", "job_id", jobID)
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update job %s: %w", jobID, err)
		}
		return updated, nil
	}
}

// ListJobs scans the job namespace and returns up to limit jobs sorted by
// started_at descending.
func (s *RedisStore) ListJobs(ctx context.Context, limit int) ([]*migration.Job, error) {
	var jobs []*migration.Job

	iter := s.client.Scan(ctx, 0, JobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}
		var job migration.Job
		if err := json.Unmarshal(data, &job); err != nil {
			s.logger.Warn("skipping unreadable job record", "key", iter.Val(), "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// DeleteJob removes a job record, or ErrNotFound.
func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	n, err := s.client.Del(ctx, jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping reports store connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
