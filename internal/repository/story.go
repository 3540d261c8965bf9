package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

type StoryRepository interface {
	Create(ctx context.Context, params model.CreateStoryParams) (*model.Story, error)
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Story, error)
}

type storyRepo struct {
	db sqlxDB
}

func NewStoryRepository(db *sqlx.DB) StoryRepository {
	return &storyRepo{db: db}
}

func (r *storyRepo) Create(ctx context.Context, params model.CreateStoryParams) (*model.Story, error) {
	var story model.Story
	err := r.db.GetContext(ctx, &story, `
		INSERT INTO stories (user_id, prompt, story, wallet, token_id, tx_hash, token_uri)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.UserID, params.Prompt, params.Story, params.Wallet, params.TokenID, params.TxHash, params.TokenURI)
	if err != nil {
		return nil, err
	}
	return &story, nil
}

func (r *storyRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.Story, error) {
	var stories []model.Story
	err := r.db.SelectContext(ctx, &stories, `
		SELECT * FROM stories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return stories, nil
}
