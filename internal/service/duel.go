package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	redisclient "github.com/TheCoderAdi/EchoPersona-Backend/internal/redis"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/sse"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/util"
)

const maxPathMoves = 256

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

// DuelService runs commit-reveal maze duels: the creator commits a path
// hash, others guess, and the reveal picks the earliest exact guess.
type DuelService struct {
	tx        TxRunner
	duels     repository.DuelRepository
	plans     PremiumGate
	publisher EventPublisher
}

func NewDuelService(tx TxRunner, duels repository.DuelRepository, plans PremiumGate, publisher EventPublisher) *DuelService {
	return &DuelService{tx: tx, duels: duels, plans: plans, publisher: publisher}
}

// HashPath is the commitment stored at creation and checked at reveal.
func HashPath(path model.MazePath) string {
	data, _ := json.Marshal([]string(path))
	return util.SHA256Hex(data)
}

func validatePath(path model.MazePath) error {
	if len(path) == 0 {
		return apperrors.MissingRequired("path")
	}
	if len(path) > maxPathMoves {
		return apperrors.InvalidInput("path", fmt.Sprintf("at most %d moves", maxPathMoves))
	}
	for _, move := range path {
		if strings.TrimSpace(move) == "" {
			return apperrors.InvalidInput("path", "moves must not be empty")
		}
	}
	return nil
}

func (s *DuelService) Create(ctx context.Context, userID string, path model.MazePath) (*model.Duel, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	if _, err := s.plans.RequirePremium(ctx, userID, "maze duel"); err != nil {
		return nil, err
	}

	duel, err := s.duels.Create(ctx, userID, HashPath(path))
	if err != nil {
		return nil, fmt.Errorf("create duel: %w", err)
	}

	log.Info().Str("userId", userID).Int64("duelId", duel.ID).Msg("duel created")
	return duel, nil
}

func (s *DuelService) Guess(ctx context.Context, userID string, duelID int64, path model.MazePath) (*model.DuelGuess, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	nonce, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate receipt nonce: %w", err)
	}
	receipt := util.SHA256Hex([]byte(fmt.Sprintf("%d:%s:%s:%s", duelID, userID, HashPath(path), nonce)))

	guess, err := s.duels.AddGuess(ctx, duelID, userID, path, receipt)
	if err != nil {
		return nil, fmt.Errorf("add guess: %w", err)
	}
	if guess == nil {
		duel, err := s.duels.FindByID(ctx, duelID)
		if err != nil {
			return nil, fmt.Errorf("find duel: %w", err)
		}
		if duel == nil {
			return nil, apperrors.NotFound("Duel")
		}
		if duel.CreatorID == userID {
			return nil, apperrors.Forbidden("The duel creator cannot guess")
		}
		return nil, apperrors.New(apperrors.ErrCodeConflict, "Duel already revealed")
	}

	log.Info().Str("userId", userID).Int64("duelId", duelID).Msg("duel guess submitted")
	return guess, nil
}

// Reveal checks the path against the commitment and settles the winner. Only
// the creator may reveal, and only once.
func (s *DuelService) Reveal(ctx context.Context, userID string, duelID int64, path model.MazePath) (*model.Duel, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	var revealed *model.Duel
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		duels := s.duels.WithTx(tx)

		duel, err := duels.FindByIDForUpdate(ctx, duelID)
		if err != nil {
			return fmt.Errorf("lock duel: %w", err)
		}
		if duel == nil {
			return apperrors.NotFound("Duel")
		}
		if duel.CreatorID != userID {
			return apperrors.Forbidden("Only the duel creator can reveal the maze")
		}
		if duel.Revealed() {
			return apperrors.New(apperrors.ErrCodeConflict, "Duel already revealed")
		}
		if !util.ConstantTimeEqual(HashPath(path), duel.PathHash) {
			return apperrors.InvalidInput("path", "does not match the committed maze")
		}

		guesses, err := duels.FindGuesses(ctx, duelID)
		if err != nil {
			return fmt.Errorf("find guesses: %w", err)
		}

		var winner *string
		for i := range guesses {
			if guesses[i].Path.Equal(path) {
				winner = &guesses[i].UserID
				break
			}
		}

		revealed, err = duels.Reveal(ctx, duelID, path, winner)
		if err != nil {
			return fmt.Errorf("reveal duel: %w", err)
		}
		if revealed == nil {
			return apperrors.New(apperrors.ErrCodeConflict, "Duel already revealed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	winnerLog := "none"
	if revealed.WinnerID != nil {
		winnerLog = *revealed.WinnerID
	}
	log.Info().Int64("duelId", duelID).Str("winner", winnerLog).Msg("duel revealed")

	s.publishWinner(ctx, revealed)
	return revealed, nil
}

func (s *DuelService) publishWinner(ctx context.Context, duel *model.Duel) {
	if s.publisher == nil {
		return
	}
	event := sse.Event{Type: sse.EventDuelWinner, Data: duel.ToSSEEventData()}
	if err := s.publisher.Publish(ctx, redisclient.DuelTopic(duel.ID), event); err != nil {
		log.Warn().Err(err).Int64("duelId", duel.ID).Msg("failed to publish duel winner")
	}
	if err := s.publisher.Publish(ctx, redisclient.UserTopic(duel.CreatorID), event); err != nil {
		log.Warn().Err(err).Int64("duelId", duel.ID).Msg("failed to notify duel creator")
	}
}

// Winner returns the duel; WinnerID stays nil until reveal or when nobody
// guessed the path.
func (s *DuelService) Winner(ctx context.Context, duelID int64) (*model.Duel, error) {
	duel, err := s.duels.FindByID(ctx, duelID)
	if err != nil {
		return nil, fmt.Errorf("find duel: %w", err)
	}
	if duel == nil {
		return nil, apperrors.NotFound("Duel")
	}
	return duel, nil
}
