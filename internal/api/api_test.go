package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simply-migrate/simply-migrate/internal/config"
	"github.com/simply-migrate/simply-migrate/internal/server"
	"github.com/simply-migrate/simply-migrate/pkg/callback"
	"github.com/simply-migrate/simply-migrate/pkg/dispatch"
	"github.com/simply-migrate/simply-migrate/pkg/migration"
	"github.com/simply-migrate/simply-migrate/pkg/orchestrator"
	"github.com/simply-migrate/simply-migrate/pkg/state"
)

// noopExecutor satisfies the executor interface without a database.
type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, migration.TenantSpec, string) error { return nil }

// syncDispatcher runs tasks inline so handler tests observe final job state.
type syncDispatcher struct{}

func (syncDispatcher) SubmitGroup(tasks []dispatch.Task, fin dispatch.Task) ([]string, error) {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = fmt.Sprintf("task-%d", i)
		_ = task.Run(context.Background())
	}
	_ = fin.Run(context.Background())
	return ids, nil
}

func (d syncDispatcher) SubmitChain(tasks []dispatch.Task, fin dispatch.Task) ([]string, error) {
	return d.SubmitGroup(tasks, fin)
}

func (syncDispatcher) Cancel(string) bool { return false }

func testServer(t *testing.T, files map[string]string) server.Server {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("migrations", 0o755))
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, "migrations/"+name, []byte(content), 0o644))
	}

	store := state.NewMemoryStore()
	registry := callback.NewRegistry(nil)
	disp := syncDispatcher{}

	orch := orchestrator.New(orchestrator.Config{
		Store:      store,
		Registry:   registry,
		Dispatcher: disp,
		Executor:   noopExecutor{},
		FS:         fs,
	})

	cfg := config.Default()
	cfg.BaseURL = "http://localhost:8000"

	return server.Server{
		Config:       cfg,
		Store:        store,
		Registry:     registry,
		Dispatcher:   disp,
		Orchestrator: orch,
		Logger:       hclog.NewNullLogger(),
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

var apiFiles = map[string]string{
	"V001__init.sql":   "CREATE TABLE t (id INT);",
	"V002__addcol.sql": "ALTER TABLE t ADD COLUMN c INT;",
}

func startBody(tenants ...string) map[string]any {
	specs := make([]map[string]any, len(tenants))
	for i, id := range tenants {
		specs[i] = map[string]any{
			"tenant_id":     id,
			"user":          "u",
			"password":      "p",
			"database_name": id + "_db",
		}
	}
	return map[string]any{
		"tenants":        specs,
		"migrations_dir": "migrations",
		"mode":           "dry_run",
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv := testServer(t, apiFiles)
	handler := MigrationsHandler(srv)

	t.Run("valid directory", func(t *testing.T) {
		w := doJSON(t, handler, http.MethodPost, "/api/migrations/validate",
			map[string]any{"migrations_dir": "migrations"})
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, float64(2), body["scripts_found"])
		assert.Contains(t, body["report"], "MIGRATION VALIDATION REPORT")
	})

	t.Run("missing directory reports errors", func(t *testing.T) {
		w := doJSON(t, handler, http.MethodPost, "/api/migrations/validate",
			map[string]any{"migrations_dir": "nope"})
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, false, body["valid"])
		assert.NotEmpty(t, body["errors"])
	})

	t.Run("wrong method", func(t *testing.T) {
		w := doJSON(t, handler, http.MethodGet, "/api/migrations/validate", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestStartEndpoint(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		srv := testServer(t, apiFiles)
		w := doJSON(t, MigrationsHandler(srv), http.MethodPost, "/api/migrations/start", startBody("a", "b"))
		require.Equal(t, http.StatusAccepted, w.Code)

		body := decodeBody(t, w)
		jobID, ok := body["job_id"].(string)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(jobID, "migration_"))
		assert.Equal(t, "chord", body["task_type"])
		assert.Equal(t, float64(2), body["tenant_count"])
		assert.Equal(t, "http://localhost:8000/api/migrations/jobs/"+jobID, body["status_url"])
	})

	t.Run("validation failure is 400 with details", func(t *testing.T) {
		srv := testServer(t, map[string]string{
			"V001__a.sql": "SELECT 1;",
			"V001__b.sql": "SELECT 2;",
		})
		w := doJSON(t, MigrationsHandler(srv), http.MethodPost, "/api/migrations/start", startBody("a"))
		require.Equal(t, http.StatusBadRequest, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, "Migration validation failed", body["error"])
		require.NotEmpty(t, body["validation_errors"])
		errs := body["validation_errors"].([]any)
		assert.Contains(t, errs[0], "Version conflict")
	})

	t.Run("unknown mode is 400", func(t *testing.T) {
		srv := testServer(t, apiFiles)
		body := startBody("a")
		body["mode"] = "yolo"
		w := doJSON(t, MigrationsHandler(srv), http.MethodPost, "/api/migrations/start", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validate_only returns validation response", func(t *testing.T) {
		srv := testServer(t, apiFiles)
		body := startBody("a")
		body["mode"] = "validate_only"
		w := doJSON(t, MigrationsHandler(srv), http.MethodPost, "/api/migrations/start", body)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeBody(t, w)
		assert.Equal(t, true, resp["valid"])
		assert.NotContains(t, resp, "job_id")
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		srv := testServer(t, apiFiles)
		req := httptest.NewRequest(http.MethodPost, "/api/migrations/start", strings.NewReader("{nope"))
		w := httptest.NewRecorder()
		MigrationsHandler(srv).ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestJobEndpoints(t *testing.T) {
	srv := testServer(t, apiFiles)
	handler := MigrationsHandler(srv)

	w := doJSON(t, handler, http.MethodPost, "/api/migrations/start", startBody("a"))
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decodeBody(t, w)["job_id"].(string)

	t.Run("get job", func(t *testing.T) {
		w := doJSON(t, handler, http.MethodGet, "/api/migrations/jobs/"+jobID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, jobID, body["job_id"])
		assert.Equal(t, "success", body["status"])
		progress := body["progress"].(map[string]any)
		assert.Equal(t, float64(1), progress["total"])
		assert.Equal(t, float64(100), progress["percent"])
	})

	t.Run("get unknown job is 404", func(t *testing.T) {
		w := doJSON(t, handler, http.MethodGet, "/api/migrations/jobs/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list jobs", func(t *testing.T) {
		w := doJSON(t, handler, http.MethodGet, "/api/migrations/jobs?limit=10", nil)
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("delete job", func(t *testing.T) {
		w := doJSON(t, handler, http.MethodDelete, "/api/migrations/jobs/"+jobID, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, handler, http.MethodDelete, "/api/migrations/jobs/"+jobID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, apiFiles)

	w := doJSON(t, HealthHandler(srv), http.MethodGet, "/app/health/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}
