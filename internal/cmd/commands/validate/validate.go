// Package validate implements the directory validation command.
package validate

import (
	"flag"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/simply-migrate/simply-migrate/pkg/migration"
)

type Command struct {
	UI     cli.Ui
	Logger hclog.Logger

	flagDir string
}

func (c *Command) Synopsis() string {
	return "Validate a migrations directory without running anything"
}

func (c *Command) Help() string {
	return `Usage: simply-migrate validate -dir=<path>

  Load and validate the migration scripts in a directory and print
  the validation report. Exits 0 when valid, 1 when validation failed.
`
}

func (c *Command) Run(args []string) int {
	f := flag.NewFlagSet("validate", flag.ContinueOnError)
	f.StringVar(&c.flagDir, "dir", "migrations", "Migrations directory")
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 2
	}

	loader := migration.NewLoader(nil, c.flagDir, c.Logger)
	set := loader.Load()

	c.UI.Output(loader.Report())
	c.UI.Output(fmt.Sprintf("\nScripts found: %d", len(set)))

	if !loader.Valid() {
		return 1
	}
	return 0
}
