// internal/handlers/lobby.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/multibomb/arena/internal/protocol"
	"github.com/multibomb/arena/internal/server"
	"github.com/multibomb/arena/internal/transport"
	"github.com/sirupsen/logrus"
)

// LobbyHandler serves the lobby directory on GET and admission requests on
// POST. A successful admission issues a ticket bound to the requester's IP
// and answers 200 with an empty body.
func LobbyHandler(reg *server.Registry, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeMessage(w, http.StatusOK, reg.LobbyInfo())
		case http.MethodPost:
			handleAdmission(reg, logger, w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func handleAdmission(reg *server.Registry, logger logrus.FieldLogger, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	msg, err := protocol.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad admission request: "+err.Error())
		return
	}

	addr := transport.HostOnly(r.RemoteAddr)
	log := logger.WithField("remote", addr)

	switch req := msg.(type) {
	case *protocol.CreateLobby:
		err = createLobby(reg, addr, req)
	case *protocol.JoinLobby:
		err = reg.PrepareAdmission(addr, req.LobbyName, req.PlayerID)
	default:
		writeError(w, http.StatusBadRequest, "Expected CreateLobby or JoinLobby, got "+string(msg.Type()))
		return
	}
	if err != nil {
		var ae *server.AdmissionError
		if !errors.As(err, &ae) {
			log.WithError(err).Error("admission failed")
		}
		writeError(w, server.StatusCode(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// createLobby opens the lobby and admits its creator. The lobby is closed
// again when the creator cannot be admitted.
func createLobby(reg *server.Registry, addr string, req *protocol.CreateLobby) error {
	if req.PlayerID == "" {
		return server.ErrEmptyName
	}
	l, err := reg.CreateLobby(req.LobbyName)
	if err != nil {
		return err
	}
	if err := reg.PrepareAdmission(addr, req.LobbyName, req.PlayerID); err != nil {
		l.Close("creator not admitted")
		return err
	}
	return nil
}
