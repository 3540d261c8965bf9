package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

type stubHistory struct {
	exchanges []model.Exchange
	lastK     int
}

func (s *stubHistory) RetrieveRelevant(_ context.Context, _, _ string, k int) ([]model.Exchange, error) {
	s.lastK = k
	return s.exchanges, nil
}

func TestContextBuilder_Build(t *testing.T) {
	ctx := context.Background()

	t.Run("filters history by channel tag", func(t *testing.T) {
		user := newUser("alice", model.PlanBasic)
		user.Profile.Name = "Alice"
		history := &stubHistory{exchanges: []model.Exchange{
			{Input: "gen question", Response: "gen answer", ChannelTag: model.ChannelGeneral},
			{Input: "matrix question", Response: "matrix answer", ChannelTag: model.ChannelMatrix},
		}}
		builder := NewContextBuilder(&fakeProfiles{user: user}, history)

		pc, err := builder.Build(ctx, "alice", "hi", model.ChannelMatrix, PurposeMimic)
		require.NoError(t, err)
		assert.Equal(t, 5, history.lastK)
		require.Len(t, pc.History, 1)
		assert.Equal(t, "matrix question", pc.History[0].Input)
		assert.Contains(t, pc.SystemPrompt, "User: matrix question\nAI: matrix answer")
		assert.NotContains(t, pc.SystemPrompt, "gen question")
		assert.Contains(t, pc.SystemPrompt, "standing in for Alice")
	})

	t.Run("blank fields render as Not Specified", func(t *testing.T) {
		user := newUser("alice", model.PlanBasic)
		builder := NewContextBuilder(&fakeProfiles{user: user}, &stubHistory{})

		pc, err := builder.Build(ctx, "alice", "hi", model.ChannelGeneral, PurposeLive)
		require.NoError(t, err)
		assert.Contains(t, pc.SystemPrompt, "- Name: Not Specified")
		assert.Contains(t, pc.SystemPrompt, "- Skills: Not Specified")
		assert.NotContains(t, pc.SystemPrompt, "Conversation History")
	})

	t.Run("live purpose uses ten turns and reflects presence and mode", func(t *testing.T) {
		user := newUser("alice", model.PlanBasic)
		user.Away = true
		user.Mode = model.ModeFun
		user.Profile.Professional.Skills = []string{"Go", "", "SQL"}
		history := &stubHistory{}
		builder := NewContextBuilder(&fakeProfiles{user: user}, history)

		pc, err := builder.Build(ctx, "alice", "hi", model.ChannelGeneral, PurposeLive)
		require.NoError(t, err)
		assert.Equal(t, 10, history.lastK)
		assert.True(t, pc.Away)
		assert.Equal(t, model.ModeFun, pc.Mode)
		assert.Contains(t, pc.SystemPrompt, "currently away")
		assert.Contains(t, pc.SystemPrompt, "Mode: Fun")
		assert.Contains(t, pc.SystemPrompt, "- Skills: Go, SQL")
	})

	t.Run("missing profile is an error", func(t *testing.T) {
		builder := NewContextBuilder(&fakeProfiles{}, &stubHistory{})
		_, err := builder.Build(ctx, "ghost", "hi", model.ChannelGeneral, PurposeLive)
		assert.Error(t, err)
	})
}
