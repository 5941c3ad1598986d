// internal/database/match.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/multibomb/arena/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id         UUID PRIMARY KEY,
	lobby_id   UUID NOT NULL,
	lobby_name TEXT NOT NULL,
	mode       TEXT NOT NULL,
	winner     TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS match_players (
	match_id  UUID NOT NULL REFERENCES matches (id) ON DELETE CASCADE,
	player_id TEXT NOT NULL,
	color     INT NOT NULL,
	kills     INT NOT NULL,
	alive     BOOLEAN NOT NULL,
	PRIMARY KEY (match_id, player_id)
);
`

// Store persists finished matches.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the match tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordMatch stores a single result.
func (s *Store) RecordMatch(ctx context.Context, result models.MatchResult) error {
	return s.RecordMatches(ctx, []models.MatchResult{result})
}

// RecordMatches stores results in one transaction. Already stored matches are
// skipped, so a batch may be retried.
func (s *Store) RecordMatches(ctx context.Context, results []models.MatchResult) error {
	if len(results) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, r := range results {
			if err := insertMatchTx(ctx, tx, r); err != nil {
				return fmt.Errorf("match %s: %w", r.MatchID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx insert matches: %w", err)
	}
	return nil
}

func insertMatchTx(ctx context.Context, tx pgx.Tx, r models.MatchResult) error {
	insertMatch := `
		INSERT INTO matches (id, lobby_id, lobby_name, mode, winner, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertMatch, r.MatchID, r.LobbyID, r.Lobby, r.Mode, r.Winner, r.StartedAt, r.EndedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range r.Players {
		batch.Queue(`
			INSERT INTO match_players (match_id, player_id, color, kills, alive)
			VALUES ($1, $2, $3, $4, $5)
		`, r.MatchID, p.PlayerID, p.Color, p.Kills, p.Alive)
	}
	return tx.SendBatch(ctx, batch).Close()
}

// CountMatches returns the number of stored matches.
func (s *Store) CountMatches(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM matches`).Scan(&n)
	return n, err
}
