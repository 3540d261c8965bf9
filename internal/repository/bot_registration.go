package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

type BotRegistrationRepository interface {
	Upsert(ctx context.Context, userID, tokenCiphertext string) error
	Delete(ctx context.Context, userID string) error
	FindAll(ctx context.Context) ([]model.BotRegistration, error)
}

type botRegistrationRepo struct {
	db sqlxDB
}

func NewBotRegistrationRepository(db *sqlx.DB) BotRegistrationRepository {
	return &botRegistrationRepo{db: db}
}

func (r *botRegistrationRepo) Upsert(ctx context.Context, userID, tokenCiphertext string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bot_registrations (user_id, token_ciphertext)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET token_ciphertext = EXCLUDED.token_ciphertext, updated_at = NOW()
	`, userID, tokenCiphertext)
	return err
}

func (r *botRegistrationRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bot_registrations WHERE user_id = $1`, userID)
	return err
}

func (r *botRegistrationRepo) FindAll(ctx context.Context) ([]model.BotRegistration, error) {
	var regs []model.BotRegistration
	err := r.db.SelectContext(ctx, &regs, `
		SELECT * FROM bot_registrations ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return regs, nil
}
