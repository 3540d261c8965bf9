package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/database"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
)

// TxRunner runs fn inside one database transaction. *database.DB satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// BotStopper tears down a user's presence listener.
type BotStopper interface {
	Stop(ctx context.Context, userID string) (bool, error)
}

// PresenceService flips the away flag and the away-session ledger together.
type PresenceService struct {
	tx       TxRunner
	users    repository.UserRepository
	sessions repository.AwaySessionRepository
	stopper  BotStopper
}

func NewPresenceService(tx TxRunner, users repository.UserRepository, sessions repository.AwaySessionRepository) *PresenceService {
	return &PresenceService{
		tx:       tx,
		users:    users,
		sessions: sessions,
	}
}

// SetBotStopper wires the listener supervisor, which is built after this service.
func (s *PresenceService) SetBotStopper(stopper BotStopper) {
	s.stopper = stopper
}

// SetPresence updates users.away and opens or closes the away session in the
// same transaction. Repeating the current presence is a no-op for the ledger.
func (s *PresenceService) SetPresence(ctx context.Context, userID string, away bool) (*model.User, error) {
	var (
		user    *model.User
		session *model.AwaySession
	)

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		users := s.users.WithTx(tx)
		sessions := s.sessions.WithTx(tx)

		updated, err := users.SetAway(ctx, userID, away)
		if err != nil {
			return fmt.Errorf("set away: %w", err)
		}
		if updated == nil {
			return apperrors.NotFound("Profile")
		}

		if away {
			session, err = sessions.Open(ctx, userID)
		} else {
			session, err = sessions.Close(ctx, userID)
		}
		if err != nil {
			return fmt.Errorf("update away session: %w", err)
		}

		user, err = users.IncrementCounter(ctx, userID, model.CounterSwitches)
		if err != nil {
			return fmt.Errorf("count presence switch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := log.Info().Str("userId", userID).Bool("away", away)
	if session != nil {
		logger = logger.Str("sessionId", session.ID)
	}
	switch {
	case session == nil:
		logger.Msg("presence unchanged in ledger")
	case away:
		logger.Msg("away session opened")
	default:
		logger.Msg("away session closed")
	}

	if !away && s.stopper != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.SupervisorStopTimeout)
		defer cancel()
		if stopped, err := s.stopper.Stop(stopCtx, userID); err != nil {
			log.Error().Err(err).Str("userId", userID).Msg("failed to stop presence listener")
		} else if stopped {
			log.Info().Str("userId", userID).Msg("presence listener stopped on return")
		}
	}

	return user, nil
}
