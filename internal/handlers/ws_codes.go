// internal/handlers/ws_codes.go
package handlers

import (
	"errors"

	"github.com/coder/websocket"
	"github.com/multibomb/arena/internal/server"
)

// Custom WebSocket close codes sent when a session connection is refused.
// These provide more specific reasons for closure than standard codes.
const (
	NoTicketError          = 3000 // No admission ticket is held by the remote address.
	TicketExpiredError     = 3001 // The ticket outlived its lifetime before the client connected.
	LobbyUnavailableError  = 3002 // The ticket's lobby closed, filled up or started a game.
	NameUnavailableError   = 3003 // Another member took the ticket's player name.
	AdmissionInternalError = 3004 // Admission failed for an unexpected reason.
)

// closeCode picks the close status for a refused session.
func closeCode(err error) websocket.StatusCode {
	switch {
	case errors.Is(err, server.ErrNoTicket):
		return NoTicketError
	case errors.Is(err, server.ErrTicketExpired):
		return TicketExpiredError
	case errors.Is(err, server.ErrLobbyNotFound), errors.Is(err, server.ErrLobbyFull), errors.Is(err, server.ErrNotWaiting):
		return LobbyUnavailableError
	case errors.Is(err, server.ErrNameTaken):
		return NameUnavailableError
	}
	return AdmissionInternalError
}
