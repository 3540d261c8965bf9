package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

type ChatTurnRepository interface {
	Create(ctx context.Context, params model.CreateChatTurnParams) (*model.ChatTurn, error)
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.ChatTurn, error)
	CountByUserID(ctx context.Context, userID string) (int, error)
	WithTx(tx *sqlx.Tx) ChatTurnRepository
}

type chatTurnRepo struct {
	db sqlxDB
}

func NewChatTurnRepository(db *sqlx.DB) ChatTurnRepository {
	return &chatTurnRepo{db: db}
}

func (r *chatTurnRepo) WithTx(tx *sqlx.Tx) ChatTurnRepository {
	return &chatTurnRepo{db: tx}
}

func (r *chatTurnRepo) Create(ctx context.Context, params model.CreateChatTurnParams) (*model.ChatTurn, error) {
	var turn model.ChatTurn
	err := r.db.GetContext(ctx, &turn, `
		INSERT INTO chat_turns (id, user_id, input_text, response_text, channel_tag)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.ID, params.UserID, params.InputText, params.ResponseText, params.ChannelTag)
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (r *chatTurnRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.ChatTurn, error) {
	var turns []model.ChatTurn
	err := r.db.SelectContext(ctx, &turns, `
		SELECT * FROM chat_turns
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return turns, nil
}

func (r *chatTurnRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_turns WHERE user_id = $1`, userID)
	return count, err
}
