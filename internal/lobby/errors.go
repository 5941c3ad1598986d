// internal/lobby/errors.go
package lobby

import (
	"errors"
	"fmt"
)

// Admission failures reported by AddPlayer and CanAdmit.
var (
	ErrClosed     = errors.New("lobby is closed")
	ErrInProgress = errors.New("lobby is currently in-game")
	ErrFull       = errors.New("lobby is full")
	ErrNameTaken  = errors.New("name already taken")
	ErrEmptyName  = errors.New("player name may not be empty")
)

// Host-only actions fail with an AuthorityError wrapping one of these.
var (
	ErrNotHost    = errors.New("you must be host to perform this action")
	ErrNotWaiting = errors.New("lobby is no longer waiting for players")
)

// ErrInvalidMap rejects a submitted map that cannot host a full lobby.
var ErrInvalidMap = errors.New("invalid map")

// ErrBackpressure is the close reason of a connection whose outbound queue overflowed.
var ErrBackpressure = errors.New("outbound queue full")

// AuthorityError reports a host-only action attempted by a non-host or in the
// wrong lobby state. The connection stays open.
type AuthorityError struct {
	Player string
	Action string
	Err    error
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Player, e.Action, e.Err)
}

func (e *AuthorityError) Unwrap() error { return e.Err }
