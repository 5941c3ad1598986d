// internal/lobby/recorder.go
package lobby

import (
	"context"

	"github.com/multibomb/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// MatchRecorder receives the result of every finished match.
type MatchRecorder interface {
	RecordMatch(ctx context.Context, result models.MatchResult) error
}

// LogRecorder only logs match results; it is used when no queue or database
// is configured.
type LogRecorder struct {
	Log *logrus.Logger
}

func (r LogRecorder) RecordMatch(_ context.Context, result models.MatchResult) error {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"match":   result.MatchID,
		"lobby":   result.Lobby,
		"mode":    result.Mode,
		"winner":  result.Winner,
		"players": len(result.Players),
	}).Info("Match finished")
	return nil
}
