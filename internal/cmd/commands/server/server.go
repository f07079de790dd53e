// Package server implements the HTTP server command.
package server

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/simply-migrate/simply-migrate/internal/api"
	"github.com/simply-migrate/simply-migrate/internal/bootstrap"
	"github.com/simply-migrate/simply-migrate/internal/config"
	intserver "github.com/simply-migrate/simply-migrate/internal/server"
)

type Command struct {
	UI     cli.Ui
	Logger hclog.Logger

	flagConfig string
}

func (c *Command) Synopsis() string {
	return "Run the migration orchestrator HTTP server"
}

func (c *Command) Help() string {
	return `Usage: simply-migrate server [options]

  Run the migration orchestrator as an HTTP service.

Options:

  -config=<path>
      Path to an HCL configuration file. Environment variables
      (REDIS_URL, SIMPLY_MIGRATE_CALLBACK_FILE, KAFKA_BROKERS, ...)
      override file values.
`
}

func (c *Command) Run(args []string) int {
	f := flag.NewFlagSet("server", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "", "Path to configuration file")
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 2
	}

	cfg, err := config.Load(c.flagConfig)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 2
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

	srv := intserver.Server{
		Config:       cfg,
		Store:        app.Store,
		Registry:     app.Registry,
		Dispatcher:   app.Pool,
		Orchestrator: app.Orchestrator,
		Logger:       logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/api/migrations/", api.MigrationsHandler(srv))
	mux.Handle("/app/health/", api.HealthHandler(srv))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		c.UI.Error(fmt.Sprintf("server failed: %v", err))
		return 2
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}

	logger.Info("server stopped")
	return 0
}
