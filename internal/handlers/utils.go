package handlers

import (
	"net/http"
	"strings"

	"github.com/multibomb/arena/internal/protocol"
	"github.com/sirupsen/logrus"
)

// maxBodySize bounds admission request bodies.
const maxBodySize = 64 << 10

// extractBearerToken extracts the token from an "Authorization: Bearer" header, or returns empty if not found.
func extractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// writeMessage writes msg in wire form with the given status.
func writeMessage(w http.ResponseWriter, status int, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logrus.WithError(err).Debug("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeMessage(w, status, &protocol.ErrorMessage{Error: msg})
}
