package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

func candidate(id, owner string, tag model.ChannelTag) model.TurnCandidate {
	return model.TurnCandidate{
		TurnID:       id,
		UserID:       owner,
		InputText:    "in-" + id,
		ResponseText: "out-" + id,
		ChannelTag:   tag,
	}
}

func TestHistoryStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes the turn under its own id", func(t *testing.T) {
		turns := new(mockTurnRepo)
		index := new(mockVectorIndex)
		embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}
		store := NewHistoryStore(turns, index, embedder)

		turns.On("Create", ctx, mock.MatchedBy(func(p model.CreateChatTurnParams) bool {
			return p.UserID == "alice" && p.ID != "" && p.ChannelTag == model.ChannelMatrix
		})).Return(&model.ChatTurn{ID: "t1", UserID: "alice"}, nil)
		index.On("Upsert", ctx, "t1", []float32{0.1, 0.2}, "test-embedding").Return(nil)

		turn, err := store.Append(ctx, "alice", "hello", "hi", model.ChannelMatrix)
		require.NoError(t, err)
		assert.Equal(t, "t1", turn.ID)
		turns.AssertExpectations(t)
		index.AssertExpectations(t)
	})

	t.Run("embedding failure keeps the transcript row", func(t *testing.T) {
		turns := new(mockTurnRepo)
		index := new(mockVectorIndex)
		embedder := &fakeEmbedder{err: errors.New("embedding down")}
		store := NewHistoryStore(turns, index, embedder)

		turns.On("Create", ctx, mock.Anything).Return(&model.ChatTurn{ID: "t2", UserID: "alice"}, nil)

		turn, err := store.Append(ctx, "alice", "hello", "hi", model.ChannelGeneral)
		require.NoError(t, err)
		assert.Equal(t, "t2", turn.ID)
		index.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHistoryStore_RetrieveRelevant(t *testing.T) {
	ctx := context.Background()

	t.Run("empty index skips embedding", func(t *testing.T) {
		index := new(mockVectorIndex)
		embedder := &fakeEmbedder{vector: []float32{1}}
		store := NewHistoryStore(new(mockTurnRepo), index, embedder)

		index.On("Count", ctx).Return(0, nil)

		got, err := store.RetrieveRelevant(ctx, "alice", "anything", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, 0, embedder.calls)
	})

	t.Run("drops candidates owned by other users", func(t *testing.T) {
		index := new(mockVectorIndex)
		embedder := &fakeEmbedder{vector: []float32{1}}
		store := NewHistoryStore(new(mockTurnRepo), index, embedder)

		// Every near neighbour belongs to someone else except two.
		index.On("Count", ctx).Return(50, nil)
		index.On("Nearest", ctx, []float32{1}, 2*historyOverfetch).Return([]model.TurnCandidate{
			candidate("m1", "mallory", model.ChannelGeneral),
			candidate("m2", "mallory", model.ChannelGeneral),
			candidate("a1", "alice", model.ChannelGeneral),
			candidate("m3", "mallory", model.ChannelGeneral),
			candidate("a2", "alice", model.ChannelMatrix),
			candidate("a3", "alice", model.ChannelGeneral),
		}, nil)

		got, err := store.RetrieveRelevant(ctx, "alice", "query", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "in-a1", got[0].Input)
		assert.Equal(t, "in-a2", got[1].Input)
	})

	t.Run("non-positive k returns empty", func(t *testing.T) {
		index := new(mockVectorIndex)
		store := NewHistoryStore(new(mockTurnRepo), index, &fakeEmbedder{})

		got, err := store.RetrieveRelevant(ctx, "alice", "q", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		index.AssertNotCalled(t, "Count", mock.Anything)
	})
}

func TestHistoryStore_Transcript(t *testing.T) {
	ctx := context.Background()
	turns := new(mockTurnRepo)
	store := NewHistoryStore(turns, new(mockVectorIndex), &fakeEmbedder{})

	turns.On("FindByUserID", ctx, "alice", 20, 0).Return(nil, nil)
	turns.On("CountByUserID", ctx, "alice").Return(0, nil)

	got, total, err := store.Transcript(ctx, "alice", 20, 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 0, total)
}
