// Package run implements the one-shot migration command.
package run

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"gopkg.in/yaml.v3"

	"github.com/simply-migrate/simply-migrate/internal/bootstrap"
	"github.com/simply-migrate/simply-migrate/internal/config"
	"github.com/simply-migrate/simply-migrate/pkg/migration"
	"github.com/simply-migrate/simply-migrate/pkg/orchestrator"
)

type Command struct {
	UI     cli.Ui
	Logger hclog.Logger

	flagConfig   string
	flagTenants  string
	flagDir      string
	flagMode     string
	flagParallel bool
}

func (c *Command) Synopsis() string {
	return "Run one migration job to completion"
}

func (c *Command) Help() string {
	return `Usage: simply-migrate run -tenants=<file> [options]

  Start a migration job and wait for it to finish. The tenants file is
  YAML, a list of tenant specs:

    - tenant_id: acme
      user: acme_admin
      password: secret
      database_name: acme_db
      host: db.internal

  Exit codes: 0 success, 1 validation or migration failed,
  2 startup failed, 3 partial success.

Options:

  -config=<path>      HCL configuration file
  -tenants=<path>     YAML tenants file (required)
  -dir=<path>         Migrations directory (overrides config)
  -mode=<mode>        dry_run, apply, or validate_only (default dry_run)
  -parallel=<bool>    Run tenants in parallel (default true)
`
}

func (c *Command) Run(args []string) int {
	f := flag.NewFlagSet("run", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "", "Path to configuration file")
	f.StringVar(&c.flagTenants, "tenants", "", "Path to YAML tenants file")
	f.StringVar(&c.flagDir, "dir", "", "Migrations directory")
	f.StringVar(&c.flagMode, "mode", string(migration.ModeDryRun), "Migration mode")
	f.BoolVar(&c.flagParallel, "parallel", true, "Run tenants in parallel")
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 2
	}

	cfg, err := config.Load(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 2
	}
	if c.flagDir != "" {
		cfg.MigrationsDir = c.flagDir
	}

	logger := c.Logger
	if level := hclog.LevelFromString(cfg.LogLevel); level != hclog.NoLevel {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		c.UI.Error(fmt.Sprintf("startup failed: %v", err))
		return 2
	}
	defer app.Close()

	mode := migration.Mode(c.flagMode)
	if mode == migration.ModeValidateOnly {
		result := app.Orchestrator.Validate(cfg.MigrationsDir)
		c.UI.Output(result.Report)
		if !result.Valid {
			return 1
		}
		return 0
	}

	tenants, err := c.loadTenants()
	if err != nil {
		c.UI.Error(err.Error())
		return 2
	}

	resp, err := app.Orchestrator.StartJob(ctx, orchestrator.StartRequest{
		Tenants:       tenants,
		MigrationsDir: cfg.MigrationsDir,
		Mode:          mode,
		Parallel:      c.flagParallel,
	})
	if err != nil {
		var verr *migration.ValidationError
		if errors.As(err, &verr) {
			c.UI.Error("Migration validation failed:")
			for _, e := range verr.Errors {
				c.UI.Error("  - " + e)
			}
			return 1
		}
		c.UI.Error(fmt.Sprintf("failed to start job: %v", err))
		return 2
	}

	c.UI.Info(fmt.Sprintf("Started job %s (%d tenants, %s)", resp.JobID, resp.TenantCount, resp.TaskType))

	job, err := c.waitForJob(ctx, app, resp.JobID)
	if err != nil {
		c.UI.Error(fmt.Sprintf("failed waiting for job: %v", err))
		return 2
	}

	c.printSummary(job)

	switch job.Status {
	case migration.StatusSuccess:
		return 0
	case migration.StatusPartial:
		return 3
	default:
		return 1
	}
}

func (c *Command) loadTenants() ([]migration.TenantSpec, error) {
	if c.flagTenants == "" {
		return nil, fmt.Errorf("-tenants is required")
	}
	data, err := os.ReadFile(c.flagTenants)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}
	var tenants []migration.TenantSpec
	if err := yaml.Unmarshal(data, &tenants); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}
	return tenants, nil
}

// waitForJob polls the store until the job reaches a terminal status.
func (c *Command) waitForJob(ctx context.Context, app *bootstrap.App, jobID string) (*migration.Job, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			job, err := app.Store.GetJob(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if job.Status.Terminal() {
				return job, nil
			}
		}
	}
}

func (c *Command) printSummary(job *migration.Job) {
	c.UI.Output(fmt.Sprintf("\nJob %s finished: %s", job.JobID, job.Status))
	c.UI.Output(fmt.Sprintf("  tenants: %d total, %d successful, %d failed",
		job.TotalTenants, job.SuccessfulTenants, job.FailedTenants))
	for id, result := range job.TenantResults {
		line := fmt.Sprintf("  %s: %s (%d applied, %d skipped)",
			id, result.Status, len(result.ScriptsApplied), len(result.ScriptsSkipped))
		if result.ErrorMessage != "" {
			line += " - " + result.ErrorMessage
		}
		c.UI.Output(line)
	}
}
