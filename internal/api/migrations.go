// Package api implements the HTTP surface for migration jobs.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/simply-migrate/simply-migrate/internal/server"
	"github.com/simply-migrate/simply-migrate/pkg/migration"
	"github.com/simply-migrate/simply-migrate/pkg/orchestrator"
	"github.com/simply-migrate/simply-migrate/pkg/state"
)

// MigrationsHandler handles migration job management endpoints
// Routes:
//
//	POST   /api/migrations/validate   - Validate a migrations directory
//	POST   /api/migrations/start      - Start a migration job (202 Accepted)
//	GET    /api/migrations/jobs       - List recent jobs
//	GET    /api/migrations/jobs/:id   - Get job status
//	DELETE /api/migrations/jobs/:id   - Delete a job record
func MigrationsHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/migrations/")
		path = strings.TrimSuffix(path, "/")

		switch {
		case path == "validate":
			if r.Method == http.MethodPost {
				validateMigrations(w, r, srv)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}

		case path == "start":
			if r.Method == http.MethodPost {
				startMigration(w, r, srv)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}

		case path == "jobs":
			if r.Method == http.MethodGet {
				listJobs(w, r, srv)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}

		case strings.HasPrefix(path, "jobs/"):
			jobID := strings.TrimPrefix(path, "jobs/")
			if jobID == "" || strings.Contains(jobID, "/") {
				http.Error(w, "Invalid job ID", http.StatusBadRequest)
				return
			}
			switch r.Method {
			case http.MethodGet:
				getJob(w, r, srv, jobID)
			case http.MethodDelete:
				deleteJob(w, r, srv, jobID)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}

		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})
}

// ValidateRequest asks for validation of one directory.
type ValidateRequest struct {
	MigrationsDir string `json:"migrations_dir"`
}

// StartRequest starts a migration job.
type StartRequest struct {
	Tenants       []migration.TenantSpec `json:"tenants"`
	MigrationsDir string                 `json:"migrations_dir"`
	Mode          string                 `json:"mode"`
	Parallel      *bool                  `json:"parallel"`
	JobName       string                 `json:"job_name"`
}

// Validate checks the request shape. Zero tenants is allowed; the job
// completes immediately.
func (req StartRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Mode, validation.In(
			string(migration.ModeDryRun),
			string(migration.ModeApply),
			string(migration.ModeValidateOnly),
		)),
	)
}

func validateMigrations(w http.ResponseWriter, r *http.Request, srv server.Server) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MigrationsDir == "" {
		req.MigrationsDir = srv.Config.MigrationsDir
	}

	result := srv.Orchestrator.Validate(req.MigrationsDir)
	writeJSON(w, http.StatusOK, result)
}

func startMigration(w http.ResponseWriter, r *http.Request, srv server.Server) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if req.MigrationsDir == "" {
		req.MigrationsDir = srv.Config.MigrationsDir
	}
	if req.Mode == "" {
		req.Mode = string(migration.ModeDryRun)
	}

	// validate_only never creates a job; it returns the validation
	// response instead.
	if req.Mode == string(migration.ModeValidateOnly) {
		result := srv.Orchestrator.Validate(req.MigrationsDir)
		writeJSON(w, http.StatusOK, result)
		return
	}

	parallel := true
	if req.Parallel != nil {
		parallel = *req.Parallel
	}

	resp, err := srv.Orchestrator.StartJob(r.Context(), orchestrator.StartRequest{
		Tenants:       req.Tenants,
		MigrationsDir: req.MigrationsDir,
		Mode:          migration.Mode(req.Mode),
		Parallel:      parallel,
		JobName:       req.JobName,
	})
	if err != nil {
		var verr *migration.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":               "Migration validation failed",
				"validation_errors":   verr.Errors,
				"validation_warnings": verr.Warnings,
			})
			return
		}
		srv.Logger.Error("failed to start migration job", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       resp.JobID,
		"task_ids":     resp.TaskIDs,
		"task_type":    resp.TaskType,
		"mode":         resp.Mode,
		"tenant_count": resp.TenantCount,
		"message":      resp.Message,
		"status_url":   fmt.Sprintf("%s/api/migrations/jobs/%s", srv.Config.BaseURL, resp.JobID),
	})
}

func listJobs(w http.ResponseWriter, r *http.Request, srv server.Server) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	jobs, err := srv.Orchestrator.ListJobs(r.Context(), limit)
	if err != nil {
		srv.Logger.Error("failed to list jobs", "error", err)
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*migration.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func getJob(w http.ResponseWriter, r *http.Request, srv server.Server, jobID string) {
	status, err := srv.Orchestrator.GetJobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		srv.Logger.Error("failed to get job", "job_id", jobID, "error", err)
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func deleteJob(w http.ResponseWriter, r *http.Request, srv server.Server, jobID string) {
	if err := srv.Orchestrator.DeleteJob(r.Context(), jobID); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		srv.Logger.Error("failed to delete job", "job_id", jobID, "error", err)
		http.Error(w, "Failed to delete job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Job deleted",
		"job_id":  jobID,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
