package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/llm"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
)

// historyOverfetch widens the unpartitioned neighbour query so that enough
// candidates survive the owner filter.
const historyOverfetch = 4

// HistoryStore is the append-only per-user conversation log with similarity
// retrieval over a shared vector index.
type HistoryStore struct {
	turns    repository.ChatTurnRepository
	index    repository.VectorIndex
	embedder llm.Embedder
}

func NewHistoryStore(turns repository.ChatTurnRepository, index repository.VectorIndex, embedder llm.Embedder) *HistoryStore {
	return &HistoryStore{
		turns:    turns,
		index:    index,
		embedder: embedder,
	}
}

// Append persists the turn, then indexes its input. An indexing failure is
// logged; the transcript row stays durable.
func (h *HistoryStore) Append(ctx context.Context, userID, input, response string, tag model.ChannelTag) (*model.ChatTurn, error) {
	turn, err := h.turns.Create(ctx, model.CreateChatTurnParams{
		ID:           uuid.NewString(),
		UserID:       userID,
		InputText:    input,
		ResponseText: response,
		ChannelTag:   tag,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat turn: %w", err)
	}

	vector, err := h.embedder.Embed(ctx, input)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Str("turnId", turn.ID).Msg("failed to embed chat turn")
		return turn, nil
	}
	if err := h.index.Upsert(ctx, turn.ID, vector, h.embedder.Model()); err != nil {
		log.Warn().Err(err).Str("userId", userID).Str("turnId", turn.ID).Msg("failed to index chat turn")
		return turn, nil
	}

	log.Debug().
		Str("userId", userID).
		Str("turnId", turn.ID).
		Str("channelTag", string(tag)).
		Msg("chat turn persisted")
	return turn, nil
}

// RetrieveRelevant returns up to k of the user's turns ranked by similarity
// to query. The index is queried without an owner filter, so every candidate
// owned by someone else is dropped here before use.
func (h *HistoryStore) RetrieveRelevant(ctx context.Context, userID, query string, k int) ([]model.Exchange, error) {
	if k <= 0 {
		return []model.Exchange{}, nil
	}

	count, err := h.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count history index: %w", err)
	}
	if count == 0 {
		return []model.Exchange{}, nil
	}

	vector, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := h.index.Nearest(ctx, vector, k*historyOverfetch)
	if err != nil {
		return nil, fmt.Errorf("query history index: %w", err)
	}

	return filterOwned(candidates, userID, k), nil
}

func filterOwned(candidates []model.TurnCandidate, userID string, k int) []model.Exchange {
	out := make([]model.Exchange, 0, k)
	for _, c := range candidates {
		if c.UserID != userID {
			continue
		}
		out = append(out, model.Exchange{
			Input:      c.InputText,
			Response:   c.ResponseText,
			ChannelTag: c.ChannelTag,
		})
		if len(out) == k {
			break
		}
	}
	return out
}

// Transcript lists the user's turns newest first.
func (h *HistoryStore) Transcript(ctx context.Context, userID string, limit, offset int) ([]model.ChatTurn, int, error) {
	turns, err := h.turns.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("find chat turns: %w", err)
	}
	total, err := h.turns.CountByUserID(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("count chat turns: %w", err)
	}
	if turns == nil {
		turns = []model.ChatTurn{}
	}
	return turns, total, nil
}
