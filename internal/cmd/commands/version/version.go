// Package version implements the version command.
package version

import (
	"github.com/mitchellh/cli"

	"github.com/simply-migrate/simply-migrate/internal/version"
)

type Command struct {
	UI cli.Ui
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return "Usage: simply-migrate version"
}

func (c *Command) Run([]string) int {
	c.UI.Output(version.Version)
	return 0
}
