package orchestrator

import (
	"context"
	"time"

	"github.com/simply-migrate/simply-migrate/pkg/migration"
)

// JobStatus is the read-model returned for job status queries.
type JobStatus struct {
	JobID         string                             `json:"job_id"`
	Status        migration.Status                   `json:"status"`
	Progress      migration.Progress                 `json:"progress"`
	StartedAt     time.Time                          `json:"started_at"`
	CompletedAt   *time.Time                         `json:"completed_at,omitempty"`
	ErrorMessage  string                             `json:"error_message,omitempty"`
	TenantResults map[string]*migration.TenantResult `json:"tenant_results"`
}

// GetJobStatus returns the status view for one job, or state.ErrNotFound.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	results := job.TenantResults
	if results == nil {
		results = map[string]*migration.TenantResult{}
	}
	return &JobStatus{
		JobID:         job.JobID,
		Status:        job.Status,
		Progress:      job.Progress(),
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		ErrorMessage:  job.ErrorMessage,
		TenantResults: results,
	}, nil
}

// ListJobs returns up to limit recent jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]*migration.Job, error) {
	return o.store.ListJobs(ctx, limit)
}

// DeleteJob removes a job record, or state.ErrNotFound.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	return o.store.DeleteJob(ctx, jobID)
}

// CancelTasks revokes the given dispatcher task ids, returning how many were
// still live. Tenants cancelled this way report FAILED with message
// "cancelled" through the normal flush path.
func (o *Orchestrator) CancelTasks(taskIDs []string) int {
	n := 0
	for _, id := range taskIDs {
		if o.dispatcher.Cancel(id) {
			n++
		}
	}
	return n
}
