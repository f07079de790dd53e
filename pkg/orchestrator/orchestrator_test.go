package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simply-migrate/simply-migrate/pkg/callback"
	"github.com/simply-migrate/simply-migrate/pkg/dispatch"
	"github.com/simply-migrate/simply-migrate/pkg/migration"
	"github.com/simply-migrate/simply-migrate/pkg/state"
)

// inlineDispatcher runs tasks synchronously on the caller's goroutine, which
// keeps orchestration tests deterministic.
type inlineDispatcher struct{}

func (inlineDispatcher) SubmitGroup(tasks []dispatch.Task, finalizer dispatch.Task) ([]string, error) {
	return runInline(tasks, finalizer)
}

func (inlineDispatcher) SubmitChain(tasks []dispatch.Task, finalizer dispatch.Task) ([]string, error) {
	return runInline(tasks, finalizer)
}

func (inlineDispatcher) Cancel(string) bool { return false }

func runInline(tasks []dispatch.Task, finalizer dispatch.Task) ([]string, error) {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = fmt.Sprintf("task-%d", i)
		_ = task.Run(context.Background())
	}
	_ = finalizer.Run(context.Background())
	return ids, nil
}

type fixture struct {
	orch     *Orchestrator
	store    *state.MemoryStore
	registry *callback.Registry
	exec     *fakeExecutor
	fs       afero.Fs
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("migrations", 0o755))
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, "migrations/"+name, []byte(content), 0o644))
	}

	store := state.NewMemoryStore()
	registry := callback.NewRegistry(nil)
	exec := &fakeExecutor{}

	orch := New(Config{
		Store:      store,
		Registry:   registry,
		Dispatcher: inlineDispatcher{},
		Executor:   exec,
		FS:         fs,
	})
	return &fixture{orch: orch, store: store, registry: registry, exec: exec, fs: fs}
}

var defaultFiles = map[string]string{
	"V001__init.sql":   "CREATE TABLE t (id INT);",
	"V002__addcol.sql": "ALTER TABLE t ADD COLUMN c INT;",
}

var jobIDPattern = regexp.MustCompile(`^migration_\d{8}_\d{6}_\d+_tenants$`)

func TestOrchestrator_StartJob(t *testing.T) {
	ctx := context.Background()

	t.Run("dry run over two tenants in parallel", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a"), testTenant("b")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeDryRun,
			Parallel:      true,
		})
		require.NoError(t, err)
		assert.Regexp(t, jobIDPattern, resp.JobID)
		assert.Equal(t, "chord", resp.TaskType)
		assert.Equal(t, 2, resp.TenantCount)
		assert.Len(t, resp.TaskIDs, 2)

		job, err := fx.store.GetJob(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, migration.StatusSuccess, job.Status)
		for _, id := range []string{"a", "b"} {
			result := job.TenantResults[id]
			require.NotNil(t, result)
			assert.Equal(t, migration.StatusSuccess, result.Status)
			assert.Equal(t, []string{"V001__init.sql", "V002__addcol.sql"}, result.ScriptsApplied)
			assert.Empty(t, result.ScriptsSkipped)
		}
		assert.Empty(t, fx.exec.executed, "dry run must not execute SQL")
	})

	t.Run("apply mode executes scripts per tenant", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
			Parallel:      true,
		})
		require.NoError(t, err)

		job, err := fx.store.GetJob(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, migration.StatusSuccess, job.Status)
		assert.Len(t, fx.exec.executed, 2)
	})

	t.Run("one tenant failing yields partial", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)
		fx.registry.Register(callback.BeforeTenant, callback.Handler{Name: "deny-a", Fn: func(_ context.Context, cc *callback.Context) (any, error) {
			if cc.TenantID == "a" {
				return nil, errors.New("tenant a is locked")
			}
			return nil, nil
		}})

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a"), testTenant("b")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
			Parallel:      true,
		})
		require.NoError(t, err)

		job, err := fx.store.GetJob(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, migration.StatusPartial, job.Status)
		assert.Equal(t, 1, job.SuccessfulTenants)
		assert.Equal(t, 1, job.FailedTenants)
		assert.Equal(t, migration.StatusFailed, job.TenantResults["a"].Status)
		assert.Equal(t, migration.StatusSuccess, job.TenantResults["b"].Status)
	})

	t.Run("single tenant failing yields failed", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)
		fx.exec.failOn = "ALTER TABLE"

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
			Parallel:      true,
		})
		require.NoError(t, err)

		job, err := fx.store.GetJob(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, migration.StatusFailed, job.Status)
		assert.Equal(t, []string{"V001__init.sql"}, job.TenantResults["a"].ScriptsApplied)
		assert.NotEmpty(t, job.TenantResults["a"].ErrorMessage)
	})

	t.Run("sequential mode runs later tenants after a failure", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)
		fx.registry.Register(callback.BeforeTenant, callback.Handler{Name: "deny-a", Fn: func(_ context.Context, cc *callback.Context) (any, error) {
			if cc.TenantID == "a" {
				return nil, errors.New("tenant a is locked")
			}
			return nil, nil
		}})

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a"), testTenant("b")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
			Parallel:      false,
		})
		require.NoError(t, err)
		assert.Equal(t, "sequential", resp.TaskType)

		job, err := fx.store.GetJob(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, migration.StatusPartial, job.Status)
		assert.Equal(t, migration.StatusSuccess, job.TenantResults["b"].Status)
	})

	t.Run("zero tenants resolves to success immediately", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)

		var aggregates map[string]any
		fx.registry.Register(callback.AfterJob, callback.Handler{Name: "report", Fn: func(_ context.Context, cc *callback.Context) (any, error) {
			aggregates = cc.Metadata
			return nil, nil
		}})

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       nil,
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
			Parallel:      true,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.TenantCount)
		assert.Empty(t, resp.TaskIDs)

		job, err := fx.store.GetJob(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, migration.StatusSuccess, job.Status)
		require.NotNil(t, job.CompletedAt)

		require.NotNil(t, aggregates)
		assert.Equal(t, 0, aggregates["total_tenants"])
	})

	t.Run("empty script set is a validation error", func(t *testing.T) {
		fx := newFixture(t, map[string]string{})

		_, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
		})
		var verr *migration.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("version conflict is a validation error", func(t *testing.T) {
		fx := newFixture(t, map[string]string{
			"V001__a.sql": "SELECT 1;",
			"V001__b.sql": "SELECT 2;",
		})

		_, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
		})
		var verr *migration.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Errors[0], "Version conflict")

		jobs, err := fx.store.ListJobs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs, "no job may be persisted on validation failure")
	})

	t.Run("before_job failure persists nothing", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)
		fx.registry.Register(callback.BeforeJob, callback.Handler{Name: "deny", Fn: func(context.Context, *callback.Context) (any, error) {
			return false, nil
		}})

		_, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "before_job callback failed")

		jobs, err := fx.store.ListJobs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("validate_only creates no job", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)

		_, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeValidateOnly,
		})
		assert.ErrorIs(t, err, ErrValidateOnly)
	})

	t.Run("invalid tenant spec is rejected", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)

		_, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{{TenantID: "a"}},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection_string or")
	})

	t.Run("rollback scripts load but never execute", func(t *testing.T) {
		fx := newFixture(t, map[string]string{
			"V001__init.sql": "CREATE TABLE t (id INT);",
			"R001__undo.sql": "BEGIN; DROP TABLE t; COMMIT;",
		})

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeApply,
			Parallel:      true,
		})
		require.NoError(t, err)

		job, err := fx.store.GetJob(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, []string{"V001__init.sql"}, job.TenantResults["a"].ScriptsApplied)
		assert.Equal(t, []string{"CREATE TABLE t (id INT);"}, fx.exec.executed)
	})

	t.Run("after_job hooks receive aggregates and failures are swallowed", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)

		var aggregates map[string]any
		fx.registry.Register(callback.AfterJob, callback.Handler{Name: "report", Fn: func(_ context.Context, cc *callback.Context) (any, error) {
			aggregates = cc.Metadata
			return nil, errors.New("report upload failed")
		}})

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a"), testTenant("b")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeDryRun,
			Parallel:      true,
		})
		require.NoError(t, err)

		require.NotNil(t, aggregates)
		assert.Equal(t, 2, aggregates["total_tenants"])
		assert.Equal(t, 2, aggregates["successful_tenants"])
		assert.Equal(t, 0, aggregates["failed_tenants"])

		job, err := fx.store.GetJob(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, migration.StatusSuccess, job.Status)
	})
}

func TestOrchestrator_Validate(t *testing.T) {
	t.Run("valid directory", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)
		result := fx.orch.Validate("migrations")
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		assert.Equal(t, 2, result.ScriptsFound)
		assert.Contains(t, result.Report, "All validations passed!")
	})

	t.Run("missing directory", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)
		result := fx.orch.Validate("nope")
		assert.False(t, result.Valid)
		require.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "does not exist")
	})

	t.Run("warnings do not invalidate", func(t *testing.T) {
		fx := newFixture(t, map[string]string{
			"V001__cleanup.sql": "DROP TABLE old;",
		})
		result := fx.orch.Validate("migrations")
		assert.True(t, result.Valid)
		require.NotEmpty(t, result.Warnings)
		assert.Contains(t, result.Warnings[0], "Dangerous operation")
	})
}

func TestOrchestrator_Query(t *testing.T) {
	ctx := context.Background()

	t.Run("job status includes progress", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)

		resp, err := fx.orch.StartJob(ctx, StartRequest{
			Tenants:       []migration.TenantSpec{testTenant("a"), testTenant("b")},
			MigrationsDir: "migrations",
			Mode:          migration.ModeDryRun,
			Parallel:      true,
		})
		require.NoError(t, err)

		status, err := fx.orch.GetJobStatus(ctx, resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, migration.StatusSuccess, status.Status)
		assert.Equal(t, 2, status.Progress.Total)
		assert.Equal(t, 2, status.Progress.Completed)
		assert.InDelta(t, 100.0, status.Progress.Percent, 0.001)
		assert.Len(t, status.TenantResults, 2)
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		fx := newFixture(t, defaultFiles)

		_, err := fx.orch.GetJobStatus(ctx, "nope")
		assert.ErrorIs(t, err, state.ErrNotFound)
		assert.ErrorIs(t, fx.orch.DeleteJob(ctx, "nope"), state.ErrNotFound)
	})
}
