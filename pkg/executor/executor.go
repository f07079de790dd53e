// Package executor runs migration script content against tenant databases.
package executor

import (
	"context"
	"fmt"

	"github.com/simply-migrate/simply-migrate/pkg/migration"
)

// ScriptExecutor applies one script's content to one tenant database. An
// implementation must wrap each script in a single transaction: committed on
// success, rolled back on any SQL failure with the failure returned to the
// caller. The database connection is acquired per script and released on
// every exit path.
type ScriptExecutor interface {
	Execute(ctx context.Context, tenant migration.TenantSpec, content string) error
}

// ExecutionError wraps a SQL failure for one script.
type ExecutionError struct {
	Filename string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("script %s failed: %v", e.Filename, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
