package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

func TestPresenceService_SetPresence(t *testing.T) {
	ctx := context.Background()

	t.Run("going away opens a session in the same transaction", func(t *testing.T) {
		tx := &fakeTx{}
		users := new(mockUserRepo)
		sessions := new(mockSessionRepo)
		stopper := &fakeStopper{}
		svc := NewPresenceService(tx, users, sessions)
		svc.SetBotStopper(stopper)

		away := newUser("alice", model.PlanBasic)
		away.Away = true
		users.On("SetAway", ctx, "alice", true).Return(away, nil)
		sessions.On("Open", ctx, "alice").Return(&model.AwaySession{ID: "s1", UserID: "alice"}, nil)
		users.On("IncrementCounter", ctx, "alice", model.CounterSwitches).Return(away, nil)

		user, err := svc.SetPresence(ctx, "alice", true)
		require.NoError(t, err)
		assert.True(t, user.Away)
		assert.Equal(t, 1, tx.calls)
		assert.Empty(t, stopper.stopped)
		users.AssertExpectations(t)
		sessions.AssertExpectations(t)
	})

	t.Run("returning closes the session and stops the listener", func(t *testing.T) {
		tx := &fakeTx{}
		users := new(mockUserRepo)
		sessions := new(mockSessionRepo)
		stopper := &fakeStopper{}
		svc := NewPresenceService(tx, users, sessions)
		svc.SetBotStopper(stopper)

		back := newUser("alice", model.PlanBasic)
		end := time.Now()
		users.On("SetAway", ctx, "alice", false).Return(back, nil)
		sessions.On("Close", ctx, "alice").Return(&model.AwaySession{ID: "s1", EndTime: &end}, nil)
		users.On("IncrementCounter", ctx, "alice", model.CounterSwitches).Return(back, nil)

		_, err := svc.SetPresence(ctx, "alice", false)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, stopper.stopped)
		sessions.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
	})

	t.Run("repeated away is a ledger no-op", func(t *testing.T) {
		users := new(mockUserRepo)
		sessions := new(mockSessionRepo)
		svc := NewPresenceService(&fakeTx{}, users, sessions)

		away := newUser("alice", model.PlanBasic)
		away.Away = true
		users.On("SetAway", ctx, "alice", true).Return(away, nil)
		sessions.On("Open", ctx, "alice").Return(nil, nil)
		users.On("IncrementCounter", ctx, "alice", model.CounterSwitches).Return(away, nil)

		user, err := svc.SetPresence(ctx, "alice", true)
		require.NoError(t, err)
		assert.True(t, user.Away)
	})

	t.Run("unknown user", func(t *testing.T) {
		users := new(mockUserRepo)
		sessions := new(mockSessionRepo)
		svc := NewPresenceService(&fakeTx{}, users, sessions)

		users.On("SetAway", ctx, "ghost", true).Return(nil, nil)

		_, err := svc.SetPresence(ctx, "ghost", true)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		sessions.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
	})

	t.Run("ledger failure surfaces", func(t *testing.T) {
		users := new(mockUserRepo)
		sessions := new(mockSessionRepo)
		stopper := &fakeStopper{}
		svc := NewPresenceService(&fakeTx{}, users, sessions)
		svc.SetBotStopper(stopper)

		users.On("SetAway", ctx, "alice", false).Return(newUser("alice", model.PlanBasic), nil)
		sessions.On("Close", ctx, "alice").Return(nil, errors.New("connection reset"))

		_, err := svc.SetPresence(ctx, "alice", false)
		require.Error(t, err)
		assert.Empty(t, stopper.stopped)
	})
}
