// Package orchestrator creates migration jobs, fans tenant work out onto the
// dispatcher, and finalizes jobs once every tenant has reported.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/simply-migrate/simply-migrate/pkg/callback"
	"github.com/simply-migrate/simply-migrate/pkg/dispatch"
	"github.com/simply-migrate/simply-migrate/pkg/executor"
	"github.com/simply-migrate/simply-migrate/pkg/migration"
	"github.com/simply-migrate/simply-migrate/pkg/state"
)

// ErrValidateOnly is returned by StartJob when the request mode is
// validate_only; callers run Validate instead and return its response.
var ErrValidateOnly = errors.New("validate_only mode creates no job")

// Config wires the orchestrator's collaborators.
type Config struct {
	Store      state.Store
	Registry   *callback.Registry
	Dispatcher dispatch.Dispatcher
	Executor   executor.ScriptExecutor
	Emitter    dispatch.ProgressEmitter

	// FS defaults to the OS filesystem; tests inject an in-memory one.
	FS afero.Fs

	Logger hclog.Logger
}

// Orchestrator is the job-level entry point. One instance serves every
// request; all per-job state lives in the store.
type Orchestrator struct {
	store      state.Store
	registry   *callback.Registry
	dispatcher dispatch.Dispatcher
	fs         afero.Fs
	logger     hclog.Logger
	worker     *Worker
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	return &Orchestrator{
		store:      cfg.Store,
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		fs:         cfg.FS,
		logger:     cfg.Logger.Named("orchestrator"),
		worker:     NewWorker(cfg.Store, cfg.Registry, cfg.Executor, cfg.Emitter, cfg.Logger),
	}
}

// StartRequest describes one migration job.
type StartRequest struct {
	Tenants       []migration.TenantSpec
	MigrationsDir string
	Mode          migration.Mode
	Parallel      bool
	JobName       string
}

// StartResponse is returned to the caller once the job is dispatched.
type StartResponse struct {
	JobID       string         `json:"job_id"`
	TaskIDs     []string       `json:"task_ids"`
	TaskType    string         `json:"task_type"`
	Mode        migration.Mode `json:"mode"`
	TenantCount int            `json:"tenant_count"`
	Message     string         `json:"message"`
}

// ValidationResult is the response shape for directory validation.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	ScriptsFound int      `json:"scripts_found"`
	Report       string   `json:"report"`
}

// Validate loads the directory and returns the validation response without
// creating a job.
func (o *Orchestrator) Validate(dir string) *ValidationResult {
	loader := migration.NewLoader(o.fs, dir, o.logger)
	set := loader.Load()
	return &ValidationResult{
		Valid:        loader.Valid(),
		Errors:       stringsOrEmpty(loader.Errors()),
		Warnings:     stringsOrEmpty(loader.Warnings()),
		ScriptsFound: len(set),
		Report:       loader.Report(),
	}
}

// StartJob validates the script set, persists a new job record, and fans the
// tenant tasks out. A *migration.ValidationError means nothing was persisted.
func (o *Orchestrator) StartJob(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if req.Mode == "" {
		req.Mode = migration.ModeDryRun
	}
	if req.Mode == migration.ModeValidateOnly {
		return nil, ErrValidateOnly
	}
	if req.Mode != migration.ModeDryRun && req.Mode != migration.ModeApply {
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}

	if err := validateTenants(req.Tenants); err != nil {
		return nil, err
	}

	loader := migration.NewLoader(o.fs, req.MigrationsDir, o.logger)
	set := loader.Load()
	if !loader.Valid() {
		return nil, &migration.ValidationError{Errors: loader.Errors(), Warnings: loader.Warnings()}
	}
	runSet := runnableScripts(set)
	if len(runSet) == 0 {
		return nil, &migration.ValidationError{
			Errors:   []string{"No migration scripts found in directory"},
			Warnings: loader.Warnings(),
		}
	}

	now := time.Now().UTC()
	jobID := fmt.Sprintf("migration_%s_%d_tenants", now.Format("20060102_150405"), len(req.Tenants))

	tenantIDs := make([]string, len(req.Tenants))
	for i, t := range req.Tenants {
		tenantIDs[i] = t.TenantID
	}

	// before_job failure aborts before anything is persisted.
	cc := callback.NewContext(jobID, "", runSet)
	cc.Metadata["tenants"] = tenantIDs
	if out := o.registry.Run(ctx, callback.BeforeJob, cc); !out.OK() {
		return nil, fmt.Errorf("before_job callback failed: %s", out.Err.Message)
	}

	job := &migration.Job{
		JobID:         jobID,
		Status:        migration.StatusPending,
		Tenants:       tenantIDs,
		TotalTenants:  len(req.Tenants),
		TenantResults: map[string]*migration.TenantResult{},
		StartedAt:     now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	o.logger.Info("created migration job",
		"job_id", jobID,
		"job_name", req.JobName,
		"tenants", len(req.Tenants),
		"scripts", len(runSet),
		"mode", req.Mode,
		"parallel", req.Parallel,
	)

	finalizer := dispatch.Task{
		Name: dispatch.TaskFinalizeJob,
		Run: func(tctx context.Context) error {
			return o.Finalize(tctx, jobID)
		},
	}

	if len(req.Tenants) == 0 {
		// Nothing will ever report, so resolve the status here and let
		// the finalizer run the after_job hooks.
		if err := o.store.UpdateJobStatus(ctx, jobID, migration.StatusSuccess); err != nil {
			return nil, err
		}
		if _, err := o.dispatcher.SubmitGroup(nil, finalizer); err != nil {
			return nil, err
		}
		return &StartResponse{
			JobID:       jobID,
			TaskIDs:     []string{},
			TaskType:    "chord",
			Mode:        req.Mode,
			TenantCount: 0,
			Message:     "No tenants to migrate",
		}, nil
	}

	dryRun := req.Mode == migration.ModeDryRun
	tasks := make([]dispatch.Task, len(req.Tenants))
	for i, tenant := range req.Tenants {
		tenant := tenant
		tasks[i] = dispatch.Task{
			Name: dispatch.TaskApplyMigration,
			Run: func(tctx context.Context) error {
				return o.worker.ApplyTenant(tctx, jobID, tenant, runSet, dryRun)
			},
		}
	}

	var (
		taskIDs  []string
		taskType string
		err      error
	)
	if req.Parallel {
		taskType = "chord"
		taskIDs, err = o.dispatcher.SubmitGroup(tasks, finalizer)
	} else {
		taskType = "sequential"
		taskIDs, err = o.dispatcher.SubmitChain(tasks, finalizer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch job %s: %w", jobID, err)
	}

	return &StartResponse{
		JobID:       jobID,
		TaskIDs:     taskIDs,
		TaskType:    taskType,
		Mode:        req.Mode,
		TenantCount: len(req.Tenants),
		Message:     fmt.Sprintf("Migration job started for %d tenants", len(req.Tenants)),
	}, nil
}

// Finalize runs the after_job hooks with the aggregate counters. It never
// changes the job status; the last tenant flush already resolved it.
func (o *Orchestrator) Finalize(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", jobID, err)
	}

	cc := callback.NewContext(jobID, "", nil)
	cc.Metadata["total_tenants"] = job.TotalTenants
	cc.Metadata["successful_tenants"] = job.SuccessfulTenants
	cc.Metadata["failed_tenants"] = job.FailedTenants
	if out := o.registry.Run(ctx, callback.AfterJob, cc); !out.OK() {
		o.logger.Warn("after_job callback failed", "job_id", jobID, "error", out.Err)
	}

	o.logger.Info("migration job finalized",
		"job_id", jobID,
		"status", job.Status,
		"successful", job.SuccessfulTenants,
		"failed", job.FailedTenants,
		"total", job.TotalTenants,
	)
	return nil
}

// validateTenants checks every tenant spec, accumulating failures.
func validateTenants(tenants []migration.TenantSpec) error {
	var result *multierror.Error
	for _, t := range tenants {
		if err := t.Validate(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// runnableScripts drops rollback scripts from the execution set. They are
// loaded and validated but never applied by a forward migration job.
func runnableScripts(set migration.ScriptSet) migration.ScriptSet {
	out := make(migration.ScriptSet, 0, len(set))
	for _, s := range set {
		if s.Kind == migration.KindRollback {
			continue
		}
		out = append(out, s)
	}
	return out
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
