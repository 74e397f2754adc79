package database

import (
	"context"
	"fmt"

	"roulette/internal/game"
)

// ArchiveStore persists completed rounds and their settled bets. The game
// core calls it fire-and-forget after the results phase; a failed insert
// is logged upstream, never blocks the next round.
type ArchiveStore struct {
	svc Service
}

func NewArchiveStore(svc Service) *ArchiveStore {
	return &ArchiveStore{svc: svc}
}

func (s *ArchiveStore) Archive(ctx context.Context, round game.RoundSnapshot, bets []game.Bet) error {
	tx, err := s.svc.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive begin: %w", err)
	}
	defer tx.Rollback()

	var number *int
	if round.Outcome != nil {
		number = &round.Outcome.Number
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rounds (id, round_number, started_at, server_seed, commitment, client_nonce, winning_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		round.RoundID, round.RoundNumber, round.StartedAt,
		round.ServerSeed, round.Commitment, round.ClientNonce, number,
	)
	if err != nil {
		return fmt.Errorf("archive round: %w", err)
	}

	for _, bet := range bets {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bets (id, round_id, user_id, category, value, amount, payout, placed_at, settled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			bet.BetID, bet.RoundID, bet.UserID, string(bet.Category),
			bet.Value, bet.Amount, bet.Payout, bet.PlacedAt, bet.Settled,
		)
		if err != nil {
			return fmt.Errorf("archive bet %s: %w", bet.BetID, err)
		}
	}

	return tx.Commit()
}
