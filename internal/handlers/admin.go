// internal/handlers/admin.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/multibomb/arena/internal/auth"
	"github.com/multibomb/arena/internal/server"
	"github.com/sirupsen/logrus"
)

// CloseLobbyHandler closes the lobby named in the path. Only operator tokens
// are accepted.
func CloseLobbyHandler(reg *server.Registry, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := auth.AuthenticateOperator(token); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrNotOperator) {
				status = http.StatusForbidden
			}
			writeError(w, status, "invalid token")
			return
		}

		name := r.PathValue("name")
		if err := reg.CloseLobby(name); err != nil {
			writeError(w, server.StatusCode(err), err.Error())
			return
		}
		logger.WithField("lobby", name).Info("Lobby closed by operator")
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}
