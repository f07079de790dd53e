package api

import (
	"net/http"

	"github.com/simply-migrate/simply-migrate/internal/server"
)

// HealthHandler reports service and state store health.
func HealthHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := srv.Store.Ping(r.Context()); err != nil {
			srv.Logger.Warn("state store health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"store":  err.Error(),
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"store":  "ok",
		})
	})
}
