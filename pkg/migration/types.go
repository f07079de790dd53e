// Package migration provides multi-tenant SQL migration job orchestration.
// A job applies an ordered set of migration scripts to many tenant databases,
// tracks per-tenant results in a durable state store, and exposes lifecycle
// hook points for user-supplied callbacks.
package migration

import (
	"fmt"
	"time"
)

// Status represents the state of a migration job or a single tenant result.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusPartial    Status = "partial" // job scope only
)

// Terminal reports whether the status is a terminal job status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPartial, StatusRolledBack:
		return true
	}
	return false
}

// ScriptKind classifies a migration script by its filename prefix.
type ScriptKind string

const (
	KindMigration ScriptKind = "migration" // V<version>__<desc>.sql
	KindRollback  ScriptKind = "rollback"  // R<version>__<desc>.sql
	KindSeed      ScriptKind = "seed"      // S<version>__<desc>.sql
)

// Mode selects how a job treats the loaded scripts.
type Mode string

const (
	ModeDryRun       Mode = "dry_run"
	ModeApply        Mode = "apply"
	ModeValidateOnly Mode = "validate_only"
)

// Script is a single SQL file with a parsed version and kind. Version is the
// string captured from the filename and is compared as an opaque key.
type Script struct {
	Filename    string     `json:"filename"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Kind        ScriptKind `json:"kind"`
	Content     string     `json:"content"`
}

// ScriptSet is an ordered, conflict-free collection of scripts, sorted
// lexicographically by filename.
type ScriptSet []Script

// Filenames returns the script filenames in set order.
func (s ScriptSet) Filenames() []string {
	names := make([]string, len(s))
	for i, sc := range s {
		names[i] = sc.Filename
	}
	return names
}

// TenantSpec identifies one tenant database target. Either ConnectionString is
// set, or the (User, Password, DatabaseName, Host) tuple is sufficient to
// construct one.
type TenantSpec struct {
	TenantID         string `json:"tenant_id" yaml:"tenant_id"`
	TenantName       string `json:"tenant_name,omitempty" yaml:"tenant_name"`
	User             string `json:"user" yaml:"user"`
	Password         string `json:"password" yaml:"password"`
	DatabaseName     string `json:"database_name" yaml:"database_name"`
	Host             string `json:"host,omitempty" yaml:"host"`
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string"`
}

// ConnString returns the connection string for the tenant, synthesizing a
// Postgres URL from the credential tuple when none was supplied.
func (t TenantSpec) ConnString() string {
	if t.ConnectionString != "" {
		return t.ConnectionString
	}
	host := t.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:5432/%s", t.User, t.Password, host, t.DatabaseName)
}

// Validate checks that the spec can produce a usable connection string.
func (t TenantSpec) Validate() error {
	if t.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if t.ConnectionString != "" {
		return nil
	}
	if t.User == "" || t.Password == "" || t.DatabaseName == "" {
		return fmt.Errorf("tenant %s: connection_string or (user, password, database_name) required", t.TenantID)
	}
	return nil
}

// TenantResult is the outcome of applying the script set to one tenant.
type TenantResult struct {
	TenantID         string         `json:"tenant_id"`
	Status           Status         `json:"status"`
	ScriptsApplied   []string       `json:"scripts_applied"`
	ScriptsSkipped   []string       `json:"scripts_skipped"`
	CallbackMetadata map[string]any `json:"callback_metadata"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds  *float64       `json:"duration_seconds,omitempty"`
}

// Job is the durable record of one orchestrator invocation across N tenants.
// Counter invariant: CompletedTenants = SuccessfulTenants + FailedTenants +
// tenants that reported a non-terminal status; once CompletedTenants equals
// TotalTenants the job status is terminal and never changes.
type Job struct {
	JobID             string                   `json:"job_id"`
	Status            Status                   `json:"status"`
	Tenants           []string                 `json:"tenants"`
	TotalTenants      int                      `json:"total_tenants"`
	CompletedTenants  int                      `json:"completed_tenants"`
	SuccessfulTenants int                      `json:"successful_tenants"`
	FailedTenants     int                      `json:"failed_tenants"`
	TenantResults     map[string]*TenantResult `json:"tenant_results"`
	StartedAt         time.Time                `json:"started_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
	ErrorMessage      string                   `json:"error_message,omitempty"`
}

// Progress summarizes job completion for status queries.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Percent    float64 `json:"percent"`
}

// Progress computes the progress block for the job. Percent is 0 when the job
// has no tenants.
func (j *Job) Progress() Progress {
	p := Progress{
		Total:      j.TotalTenants,
		Completed:  j.CompletedTenants,
		Successful: j.SuccessfulTenants,
		Failed:     j.FailedTenants,
	}
	if j.TotalTenants > 0 {
		p.Percent = float64(j.CompletedTenants) / float64(j.TotalTenants) * 100
	}
	return p
}
