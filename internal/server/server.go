package server

import (
	"github.com/hashicorp/go-hclog"

	"github.com/simply-migrate/simply-migrate/internal/config"
	"github.com/simply-migrate/simply-migrate/pkg/callback"
	"github.com/simply-migrate/simply-migrate/pkg/dispatch"
	"github.com/simply-migrate/simply-migrate/pkg/orchestrator"
	"github.com/simply-migrate/simply-migrate/pkg/state"
)

// Server carries the dependencies shared by every HTTP handler.
type Server struct {
	// Config is the service configuration.
	Config *config.Config

	// Store is the durable job state backend.
	Store state.Store

	// Registry holds the registered lifecycle callbacks.
	Registry *callback.Registry

	// Dispatcher runs tenant tasks in the background.
	Dispatcher dispatch.Dispatcher

	// Orchestrator is the job-level entry point used by the handlers.
	Orchestrator *orchestrator.Orchestrator

	// Logger is the logger for the server.
	Logger hclog.Logger
}
