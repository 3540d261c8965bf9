package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

type DuelRepository interface {
	Create(ctx context.Context, creatorID, pathHash string) (*model.Duel, error)
	FindByID(ctx context.Context, id int64) (*model.Duel, error)
	// FindByIDForUpdate locks the duel row for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, id int64) (*model.Duel, error)
	AddGuess(ctx context.Context, duelID int64, userID string, path model.MazePath, receipt string) (*model.DuelGuess, error)
	FindGuesses(ctx context.Context, duelID int64) ([]model.DuelGuess, error)
	// Reveal records the path and winner only if the duel is still unrevealed.
	// It returns nil without error when the duel was already revealed.
	Reveal(ctx context.Context, id int64, path model.MazePath, winnerID *string) (*model.Duel, error)
	WithTx(tx *sqlx.Tx) DuelRepository
}

type duelRepo struct {
	db sqlxDB
}

func NewDuelRepository(db *sqlx.DB) DuelRepository {
	return &duelRepo{db: db}
}

func (r *duelRepo) WithTx(tx *sqlx.Tx) DuelRepository {
	return &duelRepo{db: tx}
}

func (r *duelRepo) Create(ctx context.Context, creatorID, pathHash string) (*model.Duel, error) {
	var duel model.Duel
	err := r.db.GetContext(ctx, &duel, `
		INSERT INTO duels (creator_id, path_hash)
		VALUES ($1, $2)
		RETURNING *
	`, creatorID, pathHash)
	if err != nil {
		return nil, err
	}
	return &duel, nil
}

func (r *duelRepo) FindByID(ctx context.Context, id int64) (*model.Duel, error) {
	var duel model.Duel
	err := r.db.GetContext(ctx, &duel, `SELECT * FROM duels WHERE id = $1`, id)
	return HandleNotFound(&duel, err)
}

func (r *duelRepo) FindByIDForUpdate(ctx context.Context, id int64) (*model.Duel, error) {
	var duel model.Duel
	err := r.db.GetContext(ctx, &duel, `SELECT * FROM duels WHERE id = $1 FOR UPDATE`, id)
	return HandleNotFound(&duel, err)
}

func (r *duelRepo) AddGuess(ctx context.Context, duelID int64, userID string, path model.MazePath, receipt string) (*model.DuelGuess, error) {
	var guess model.DuelGuess
	err := r.db.GetContext(ctx, &guess, `
		INSERT INTO duel_guesses (duel_id, user_id, path, receipt)
		SELECT id, $2::text, $3::jsonb, $4::text FROM duels
		WHERE id = $1 AND revealed_at IS NULL AND creator_id <> $2
		RETURNING *
	`, duelID, userID, path, receipt)
	return HandleNotFound(&guess, err)
}

func (r *duelRepo) FindGuesses(ctx context.Context, duelID int64) ([]model.DuelGuess, error) {
	var guesses []model.DuelGuess
	err := r.db.SelectContext(ctx, &guesses, `
		SELECT * FROM duel_guesses
		WHERE duel_id = $1
		ORDER BY created_at ASC, id ASC
	`, duelID)
	if err != nil {
		return nil, err
	}
	return guesses, nil
}

func (r *duelRepo) Reveal(ctx context.Context, id int64, path model.MazePath, winnerID *string) (*model.Duel, error) {
	var duel model.Duel
	err := r.db.GetContext(ctx, &duel, `
		UPDATE duels SET
			revealed_path = $2,
			winner_id = $3,
			revealed_at = NOW()
		WHERE id = $1 AND revealed_at IS NULL
		RETURNING *
	`, id, path, winnerID)
	return HandleNotFound(&duel, err)
}
