// internal/handlers/routes.go
package handlers

import (
	"net/http"

	"github.com/multibomb/arena/internal/middleware"
	"github.com/multibomb/arena/internal/server"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the directory, admission, session and operator endpoints.
// Admission requests are rate limited per remote IP when limiter is set.
func NewRouter(reg *server.Registry, limiter *middleware.IPLimiter, logger *logrus.Logger) http.Handler {
	mux := http.NewServeMux()

	var lobbyHandler http.Handler = LobbyHandler(reg, logger)
	if limiter != nil {
		lobbyHandler = middleware.RateLimit(limiter)(lobbyHandler)
	}
	mux.Handle("/lobby", lobbyHandler)
	mux.Handle("GET /session", SessionWSHandler(reg, logger))
	mux.Handle("DELETE /admin/lobby/{name}", CloseLobbyHandler(reg, logger))
	mux.HandleFunc("GET /healthz", HealthHandler)

	return middleware.LogMiddleware(logger)(mux)
}
