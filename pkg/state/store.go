// Package state persists migration job records in a key-value store. Job
// records live under migration:job:<job_id> with a rolling TTL and serialize
// as plain JSON with lowercase status strings and RFC-3339 UTC timestamps.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/simply-migrate/simply-migrate/pkg/migration"
)

const (
	// JobKeyPrefix is the namespace for job records.
	JobKeyPrefix = "migration:job:"

	// TenantKeyPrefix is reserved for future per-tenant keys.
	TenantKeyPrefix = "migration:tenant:"

	// JobTTL is renewed on every write of a job record.
	JobTTL = 7 * 24 * time.Hour
)

// ErrNotFound is returned when a job id is unknown to the store.
var ErrNotFound = errors.New("job not found")

// Store is the durable backend for job state. UpdateTenantResult is the only
// operation that mutates counters and must be atomic per job id; concurrent
// tenant workers rely on it.
type Store interface {
	// CreateJob persists a new job record.
	CreateJob(ctx context.Context, job *migration.Job) error

	// GetJob retrieves a job record, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*migration.Job, error)

	// UpdateJobStatus sets the job status, stamping completed_at when the
	// status is terminal.
	UpdateJobStatus(ctx context.Context, jobID string, status migration.Status) error

	// UpdateTenantResult records one tenant's result, updating the
	// completion counters and resolving the terminal job status when the
	// last tenant reports. Returns the updated job.
	UpdateTenantResult(ctx context.Context, jobID string, result *migration.TenantResult) (*migration.Job, error)

	// ListJobs returns up to limit jobs sorted by started_at descending.
	ListJobs(ctx context.Context, limit int) ([]*migration.Job, error)

	// DeleteJob removes a job record, or ErrNotFound.
	DeleteJob(ctx context.Context, jobID string) error

	// Ping reports store connectivity.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// applyTenantResult folds one tenant result into the job record. It is shared
// by every Store implementation so the counter math and terminal mapping stay
// identical. A job that already reached a terminal status is never modified;
// a tenant that re-reports overwrites its result without double-counting.
func applyTenantResult(job *migration.Job, result *migration.TenantResult) {
	if job.Status.Terminal() {
		return
	}
	if job.TenantResults == nil {
		job.TenantResults = make(map[string]*migration.TenantResult)
	}

	prev, seen := job.TenantResults[result.TenantID]
	job.TenantResults[result.TenantID] = result

	if !seen {
		job.CompletedTenants++
	} else {
		switch prev.Status {
		case migration.StatusSuccess:
			job.SuccessfulTenants--
		case migration.StatusFailed:
			job.FailedTenants--
		}
	}

	switch result.Status {
	case migration.StatusSuccess:
		job.SuccessfulTenants++
	case migration.StatusFailed:
		job.FailedTenants++
	}

	if job.Status == migration.StatusPending {
		job.Status = migration.StatusRunning
	}

	if job.CompletedTenants == job.TotalTenants {
		switch {
		case job.FailedTenants == 0:
			job.Status = migration.StatusSuccess
		case job.SuccessfulTenants == 0:
			job.Status = migration.StatusFailed
		default:
			job.Status = migration.StatusPartial
		}
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
}

// applyJobStatus sets the job status, stamping completed_at on terminal
// transitions.
func applyJobStatus(job *migration.Job, status migration.Status) {
	job.Status = status
	if status.Terminal() && job.CompletedAt == nil {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
}
