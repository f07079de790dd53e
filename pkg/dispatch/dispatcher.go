// Package dispatch schedules migration tasks onto background workers. A job
// is submitted either as a group (tenant tasks run in parallel, finalizer runs
// once all of them finish) or as a chain (tenant tasks run one after another,
// finalizer last). A failed tenant task never stops the rest of the job; the
// finalizer always runs.
package dispatch

import (
	"context"
	"errors"
)

// Task names, visible in logs and in the start response.
const (
	TaskApplyMigration = "apply_migration_to_tenant"
	TaskFinalizeJob    = "finalize_migration_job"

	// TaskRollback is reserved for the rollback surface.
	TaskRollback = "rollback_migration"
)

var (
	// ErrSoftTimeLimit is the cancellation cause when a task exceeds the
	// soft time limit. The task still gets a chance to record its result.
	ErrSoftTimeLimit = errors.New("soft time limit exceeded")

	// ErrHardTimeLimit is the cancellation cause when a task that ignored
	// the soft limit is abandoned outright.
	ErrHardTimeLimit = errors.New("hard time limit exceeded")

	// ErrCancelled is the cancellation cause for an explicit Cancel call.
	ErrCancelled = errors.New("task cancelled")

	// ErrClosed is returned by Submit calls on a closed dispatcher.
	ErrClosed = errors.New("dispatcher closed")
)

// Task is one unit of background work. Run observes ctx for time limits and
// cancellation; context.Cause distinguishes the reason.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher schedules tasks. Both Submit variants return the ids assigned to
// the tenant tasks, in submission order.
type Dispatcher interface {
	// SubmitGroup runs the tasks in parallel and the finalizer after the
	// last one finishes. With zero tasks only the finalizer runs.
	SubmitGroup(tasks []Task, finalizer Task) ([]string, error)

	// SubmitChain runs the tasks strictly in order, continuing past
	// failures, and the finalizer after the last one.
	SubmitChain(tasks []Task, finalizer Task) ([]string, error)

	// Cancel requests cancellation of a queued or running task. Returns
	// false when the id is unknown or the task already finished.
	Cancel(taskID string) bool
}
