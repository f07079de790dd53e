package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/simply-migrate/simply-migrate/pkg/callback"
	"github.com/simply-migrate/simply-migrate/pkg/dispatch"
	"github.com/simply-migrate/simply-migrate/pkg/executor"
	"github.com/simply-migrate/simply-migrate/pkg/migration"
	"github.com/simply-migrate/simply-migrate/pkg/state"
)

// Worker applies a script set to one tenant, driving the per-tenant lifecycle
// hooks and flushing the result to the state store. Failures inside the
// tenant are captured into the result; only a store failure on the final
// flush is returned to the dispatcher.
type Worker struct {
	store    state.Store
	registry *callback.Registry
	executor executor.ScriptExecutor
	emitter  dispatch.ProgressEmitter
	logger   hclog.Logger
}

// NewWorker creates a tenant worker. A nil emitter disables progress events.
func NewWorker(store state.Store, registry *callback.Registry, exec executor.ScriptExecutor, emitter dispatch.ProgressEmitter, logger hclog.Logger) *Worker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if emitter == nil {
		emitter = dispatch.NopEmitter{}
	}
	return &Worker{
		store:    store,
		registry: registry,
		executor: exec,
		emitter:  emitter,
		logger:   logger.Named("tenant-worker"),
	}
}

// ApplyTenant runs the full per-tenant state machine and always flushes a
// result, timeouts and cancellations included. The returned error is non-nil
// only when the flush itself failed and the result was lost.
func (w *Worker) ApplyTenant(ctx context.Context, jobID string, tenant migration.TenantSpec, scripts migration.ScriptSet, dryRun bool) error {
	started := time.Now().UTC()
	result := &migration.TenantResult{
		TenantID:       tenant.TenantID,
		Status:         migration.StatusRunning,
		ScriptsApplied: []string{},
		ScriptsSkipped: []string{},
		StartedAt:      started,
	}
	cc := callback.NewContext(jobID, tenant.TenantID, scripts)

	w.logger.Info("starting tenant migration",
		"job_id", jobID, "tenant_id", tenant.TenantID, "scripts", len(scripts), "dry_run", dryRun)

	w.runTenant(ctx, tenant, scripts, dryRun, cc, result)

	result.CallbackMetadata = cc.Metadata
	completed := time.Now().UTC()
	result.CompletedAt = &completed
	duration := completed.Sub(started).Seconds()
	result.DurationSeconds = &duration

	// The flush must survive a soft time limit or cancellation.
	job, err := w.store.UpdateTenantResult(context.WithoutCancel(ctx), jobID, result)
	if err != nil {
		w.logger.Error("failed to flush tenant result",
			"job_id", jobID, "tenant_id", tenant.TenantID, "error", err)
		return fmt.Errorf("failed to flush result for tenant %s: %w", tenant.TenantID, err)
	}

	w.logger.Info("tenant migration finished",
		"job_id", jobID,
		"tenant_id", tenant.TenantID,
		"tenant_status", result.Status,
		"applied", len(result.ScriptsApplied),
		"skipped", len(result.ScriptsSkipped),
		"job_status", job.Status,
		"completed", job.CompletedTenants,
		"total", job.TotalTenants,
	)
	return nil
}

// runTenant fills in result.Status, the script lists, and the error message.
func (w *Worker) runTenant(ctx context.Context, tenant migration.TenantSpec, scripts migration.ScriptSet, dryRun bool, cc *callback.Context, result *migration.TenantResult) {
	// Cancelled while still queued.
	if msg, interrupted := interruptMessage(ctx); interrupted {
		w.failTenant(ctx, cc, result, msg)
		return
	}

	if out := w.registry.Run(ctx, callback.BeforeTenant, cc); !out.OK() {
		w.failTenant(ctx, cc, result, fmt.Sprintf("Before tenant callback failed: %s", out.Err.Message))
		return
	}

	if dryRun {
		result.ScriptsApplied = append(result.ScriptsApplied, scripts.Filenames()...)
		result.Status = migration.StatusSuccess
		return
	}

	for i, script := range scripts {
		if msg, interrupted := interruptMessage(ctx); interrupted {
			w.failTenant(ctx, cc, result, msg)
			return
		}

		sc := &callback.Context{
			JobID:              cc.JobID,
			TenantID:           cc.TenantID,
			Script:             script,
			Scripts:            scripts,
			CurrentScriptIndex: i,
			Metadata:           copyMetadata(cc.Metadata),
		}

		out := w.registry.Run(ctx, callback.BeforeScript, sc)
		if !out.OK() {
			w.failTenant(ctx, sc, result, fmt.Sprintf("Before script callback failed: %s", out.Err.Message))
			return
		}
		if out.SkipScript {
			w.logger.Info("skipping script",
				"job_id", cc.JobID, "tenant_id", cc.TenantID, "script", script.Filename, "reason", out.Message)
			result.ScriptsSkipped = append(result.ScriptsSkipped, script.Filename)
			continue
		}

		if err := w.executor.Execute(ctx, tenant, script.Content); err != nil {
			msg, interrupted := interruptMessage(ctx)
			if !interrupted {
				execErr := &executor.ExecutionError{Filename: script.Filename, Err: err}
				msg = execErr.Error()
			}
			w.failTenant(ctx, sc, result, msg)
			return
		}
		result.ScriptsApplied = append(result.ScriptsApplied, script.Filename)

		if out := w.registry.Run(ctx, callback.AfterScript, sc); !out.OK() {
			w.failTenant(ctx, sc, result, fmt.Sprintf("After script callback failed: %s", out.Err.Message))
			return
		}
		cc.MergeMetadata(sc.Metadata)

		w.emitProgress(ctx, cc.JobID, cc.TenantID, len(result.ScriptsApplied), len(scripts))
	}

	if out := w.registry.Run(ctx, callback.AfterTenant, cc); !out.OK() {
		// Non-fatal; the migration itself succeeded.
		w.logger.Warn("after_tenant callback failed",
			"job_id", cc.JobID, "tenant_id", cc.TenantID, "error", out.Err)
	}
	result.Status = migration.StatusSuccess
}

// failTenant marks the result failed and runs on_error hooks; their own
// failures are swallowed.
func (w *Worker) failTenant(ctx context.Context, cc *callback.Context, result *migration.TenantResult, msg string) {
	result.Status = migration.StatusFailed
	result.ErrorMessage = msg

	w.logger.Error("tenant migration failed",
		"job_id", cc.JobID, "tenant_id", cc.TenantID, "error", msg)

	ec := &callback.Context{
		JobID:              cc.JobID,
		TenantID:           cc.TenantID,
		Script:             cc.Script,
		Scripts:            cc.Scripts,
		CurrentScriptIndex: cc.CurrentScriptIndex,
		Metadata:           map[string]any{"error": msg},
	}
	if out := w.registry.Run(context.WithoutCancel(ctx), callback.OnError, ec); !out.OK() {
		w.logger.Warn("on_error callback failed",
			"job_id", cc.JobID, "tenant_id", cc.TenantID, "error", out.Err)
	}
}

func (w *Worker) emitProgress(ctx context.Context, jobID, tenantID string, completed, total int) {
	event := dispatch.ProgressEvent{
		JobID:            jobID,
		TenantID:         tenantID,
		ScriptsCompleted: completed,
		TotalScripts:     total,
	}
	if err := w.emitter.Emit(ctx, event); err != nil {
		// Best effort only.
		w.logger.Debug("failed to emit progress event",
			"job_id", jobID, "tenant_id", tenantID, "error", err)
	}
}

// interruptMessage maps a done context onto the tenant error message.
func interruptMessage(ctx context.Context) (string, bool) {
	if ctx.Err() == nil {
		return "", false
	}
	switch cause := context.Cause(ctx); cause {
	case dispatch.ErrSoftTimeLimit, dispatch.ErrHardTimeLimit:
		return "Migration exceeded time limit", true
	case dispatch.ErrCancelled:
		return "cancelled", true
	default:
		return cause.Error(), true
	}
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
