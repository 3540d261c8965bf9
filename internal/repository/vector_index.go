package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

// VectorIndex is the similarity index over chat turn embeddings. It is not
// partitioned by user: Nearest ranks every stored vector and callers must
// filter candidates by owner.
type VectorIndex interface {
	Upsert(ctx context.Context, turnID string, embedding []float32, embeddingModel string) error
	Nearest(ctx context.Context, embedding []float32, k int) ([]model.TurnCandidate, error)
	Count(ctx context.Context) (int, error)
}

type vectorIndex struct {
	db sqlxDB
}

func NewVectorIndex(db *sqlx.DB) VectorIndex {
	return &vectorIndex{db: db}
}

func (r *vectorIndex) Upsert(ctx context.Context, turnID string, embedding []float32, embeddingModel string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO turn_embeddings (turn_id, embedding, model)
		VALUES ($1, $2, $3)
		ON CONFLICT (turn_id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model = EXCLUDED.model
	`, turnID, pgvector.NewVector(embedding), embeddingModel)
	if err != nil {
		return errors.Wrap(err, "failed to upsert turn embedding")
	}
	return nil
}

func (r *vectorIndex) Nearest(ctx context.Context, embedding []float32, k int) ([]model.TurnCandidate, error) {
	if k <= 0 {
		return nil, nil
	}

	// <=> is cosine distance, so ascending order ranks the closest first.
	var candidates []model.TurnCandidate
	err := r.db.SelectContext(ctx, &candidates, `
		SELECT
			t.id AS turn_id, t.user_id, t.input_text, t.response_text, t.channel_tag,
			e.embedding <=> $1 AS distance
		FROM turn_embeddings e
		INNER JOIN chat_turns t ON t.id = e.turn_id
		ORDER BY e.embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search turn embeddings")
	}
	return candidates, nil
}

func (r *vectorIndex) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM turn_embeddings`); err != nil {
		return 0, errors.Wrap(err, "failed to count turn embeddings")
	}
	return count, nil
}
