package cmd

import (
	"bufio"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	runcmd "github.com/simply-migrate/simply-migrate/internal/cmd/commands/run"
	servercmd "github.com/simply-migrate/simply-migrate/internal/cmd/commands/server"
	validatecmd "github.com/simply-migrate/simply-migrate/internal/cmd/commands/validate"
	versioncmd "github.com/simply-migrate/simply-migrate/internal/cmd/commands/version"
	"github.com/simply-migrate/simply-migrate/internal/version"
)

// Main runs the CLI with the given arguments and returns the exit code.
func Main(args []string) int {
	cliName := args[0]

	log := hclog.New(&hclog.LoggerOptions{
		Name: "simply-migrate",
	})

	if len(args) == 2 &&
		(args[1] == "-version" ||
			args[1] == "-v") {
		args = []string{cliName, "version"}
	}

	// No subcommand defaults to 'server'.
	if len(args) == 1 {
		args = append(args, "server")
	}

	ui := &cli.BasicUi{
		Reader:      bufio.NewReader(os.Stdin),
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := &cli.CLI{
		Name:    cliName,
		Args:    args[1:],
		Version: version.Version,
		Commands: map[string]cli.CommandFactory{
			"server": func() (cli.Command, error) {
				return &servercmd.Command{UI: ui, Logger: log}, nil
			},
			"validate": func() (cli.Command, error) {
				return &validatecmd.Command{UI: ui, Logger: log}, nil
			},
			"run": func() (cli.Command, error) {
				return &runcmd.Command{UI: ui, Logger: log}, nil
			},
			"version": func() (cli.Command, error) {
				return &versioncmd.Command{UI: ui}, nil
			},
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 2
	}

	return exitCode
}
