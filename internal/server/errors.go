// internal/server/errors.go
package server

import (
	"errors"
	"net/http"

	"github.com/multibomb/arena/internal/lobby"
)

// AdmissionError is a rejected create, join or connect attempt. Code is the
// HTTP status reported by the directory.
type AdmissionError struct {
	Code int
	Msg  string
}

func (e *AdmissionError) Error() string { return e.Msg }

// Is matches admission errors by message so wrapped copies compare equal.
func (e *AdmissionError) Is(target error) bool {
	var t *AdmissionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Msg == e.Msg
}

var (
	ErrLobbyExists    = &AdmissionError{Code: http.StatusConflict, Msg: "Lobby already exists"}
	ErrMaxLobbies     = &AdmissionError{Code: http.StatusServiceUnavailable, Msg: "Maximum number of lobbies reached"}
	ErrEmptyName      = &AdmissionError{Code: http.StatusBadRequest, Msg: "Player name may not be empty"}
	ErrEmptyLobbyName = &AdmissionError{Code: http.StatusBadRequest, Msg: "Lobby name may not be empty"}
	ErrLobbyNotFound  = &AdmissionError{Code: http.StatusNotFound, Msg: "The requested lobby doesn't exist"}
	ErrNotWaiting     = &AdmissionError{Code: http.StatusConflict, Msg: "Lobby is currently in-game"}
	ErrLobbyFull      = &AdmissionError{Code: http.StatusConflict, Msg: "The requested lobby is full"}
	ErrNameTaken      = &AdmissionError{Code: http.StatusConflict, Msg: "Name already taken, please choose a different one!"}
	ErrNoTicket       = &AdmissionError{Code: http.StatusForbidden, Msg: "Player could not be assigned to lobby"}
	ErrTicketExpired  = &AdmissionError{Code: http.StatusForbidden, Msg: "Admission ticket expired"}
)

// admissionError translates a lobby admission failure.
func admissionError(err error) error {
	switch {
	case errors.Is(err, lobby.ErrEmptyName):
		return ErrEmptyName
	case errors.Is(err, lobby.ErrClosed):
		return ErrLobbyNotFound
	case errors.Is(err, lobby.ErrInProgress):
		return ErrNotWaiting
	case errors.Is(err, lobby.ErrFull):
		return ErrLobbyFull
	case errors.Is(err, lobby.ErrNameTaken):
		return ErrNameTaken
	}
	return err
}

// StatusCode returns the HTTP status for err.
func StatusCode(err error) int {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return http.StatusInternalServerError
}
