package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
)

// ProfileService owns the per-user document: profile fields, mode, plan and
// usage counters.
type ProfileService struct {
	users repository.UserRepository
}

func NewProfileService(users repository.UserRepository) *ProfileService {
	return &ProfileService{users: users}
}

func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("Profile")
	}
	return user, nil
}

// SaveProfile replaces the whole profile document.
func (s *ProfileService) SaveProfile(ctx context.Context, userID string, profile model.Profile) (*model.User, error) {
	user, err := s.users.SaveProfile(ctx, userID, profile)
	if err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("Profile")
	}
	log.Info().Str("userId", userID).Msg("profile saved")
	return user, nil
}

// UpdateProfile merges the top-level keys of patch into the stored profile.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, patch json.RawMessage) (*model.User, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil || fields == nil {
		return nil, apperrors.InvalidInput("profile", "must be a JSON object")
	}
	if len(fields) == 0 {
		return s.GetProfile(ctx, userID)
	}

	// Reject patches that would not decode back into a profile.
	var probe model.Profile
	if err := json.Unmarshal(patch, &probe); err != nil {
		return nil, apperrors.InvalidInput("profile", err.Error())
	}

	user, err := s.users.MergeProfile(ctx, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("merge profile: %w", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("Profile")
	}
	log.Info().Str("userId", userID).Int("fields", len(fields)).Msg("profile updated")
	return user, nil
}

// SetMode validates mode before any write, then counts the switch.
func (s *ProfileService) SetMode(ctx context.Context, userID, mode string) (*model.User, error) {
	m := model.Mode(mode)
	if !m.Valid() {
		return nil, apperrors.InvalidMode(mode)
	}

	user, err := s.users.SetMode(ctx, userID, m)
	if err != nil {
		return nil, fmt.Errorf("set mode: %w", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("Profile")
	}

	if updated, err := s.users.IncrementCounter(ctx, userID, model.CounterSwitches); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to count mode switch")
	} else if updated != nil {
		user = updated
	}

	log.Info().Str("userId", userID).Str("mode", mode).Msg("mode switched")
	return user, nil
}

func (s *ProfileService) IncrementCounter(ctx context.Context, userID string, counter model.Counter) error {
	user, err := s.users.IncrementCounter(ctx, userID, counter)
	if err != nil {
		return fmt.Errorf("increment %s: %w", counter, err)
	}
	if user == nil {
		return apperrors.NotFound("Profile")
	}
	return nil
}

func (s *ProfileService) GetPlan(ctx context.Context, userID string) (model.Plan, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Plan, nil
}

// Subscribe records a plan purchase. The plan is validated before any write.
func (s *ProfileService) Subscribe(ctx context.Context, userID, plan, txHash string) (*model.User, error) {
	p := model.Plan(plan)
	if !p.Valid() {
		return nil, apperrors.InvalidPlan(plan)
	}

	var hash *string
	if txHash != "" {
		hash = &txHash
	}

	user, err := s.users.SetPlan(ctx, userID, p, hash)
	if err != nil {
		return nil, fmt.Errorf("set plan: %w", err)
	}
	if user == nil {
		return nil, apperrors.NotFound("Profile")
	}

	log.Info().Str("userId", userID).Str("plan", plan).Msg("plan updated")
	return user, nil
}

// RequirePremium returns the user when their plan unlocks feature.
func (s *ProfileService) RequirePremium(ctx context.Context, userID, feature string) (*model.User, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Plan.HasPremiumFeatures() {
		return nil, apperrors.PlanNotSupported(feature, string(user.Plan))
	}
	return user, nil
}

type AnalyticsEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Analytics struct {
	Data []AnalyticsEntry `json:"data"`
	Plan model.Plan       `json:"plan"`
}

func (s *ProfileService) Analytics(ctx context.Context, userID string) (*Analytics, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Analytics{
		Data: []AnalyticsEntry{
			{Name: "Chats", Count: user.ChatsSent},
			{Name: "Emails", Count: user.EmailsSent},
			{Name: "Switches", Count: user.Switches},
		},
		Plan: user.Plan,
	}, nil
}
