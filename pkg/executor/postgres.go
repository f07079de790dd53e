package executor

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"

	"github.com/simply-migrate/simply-migrate/pkg/migration"
)

// PostgresExecutor executes scripts against tenant Postgres databases. Each
// Execute call opens a fresh connection for the tenant, runs the script
// inside one transaction, and closes the connection before returning.
type PostgresExecutor struct {
	logger hclog.Logger
}

// NewPostgresExecutor creates a Postgres script executor.
func NewPostgresExecutor(logger hclog.Logger) *PostgresExecutor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &PostgresExecutor{logger: logger.Named("postgres-executor")}
}

// Execute runs the script content in a single transaction on the tenant
// database. On SQL failure the transaction is rolled back and the failure is
// returned.
func (e *PostgresExecutor) Execute(ctx context.Context, tenant migration.TenantSpec, content string) error {
	conn, err := pgx.Connect(ctx, tenant.ConnString())
	if err != nil {
		return fmt.Errorf("failed to connect to tenant %s: %w", tenant.TenantID, err)
	}
	defer func() {
		if cerr := conn.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.logger.Warn("failed to close tenant connection", "tenant_id", tenant.TenantID, "error", cerr)
		}
	}()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for tenant %s: %w", tenant.TenantID, err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := tx.Exec(ctx, content); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit for tenant %s: %w", tenant.TenantID, err)
	}
	return nil
}
