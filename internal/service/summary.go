package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/llm"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

const emptySessionSummary = "No messages during this session."

type SessionSource interface {
	SessionsForUser(ctx context.Context, userID string) ([]model.AwaySessionLog, error)
}

type PremiumGate interface {
	RequirePremium(ctx context.Context, userID, feature string) (*model.User, error)
}

type SessionSummary struct {
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Summary   string     `json:"summary"`
}

// SummaryService condenses away sessions into short digests for the user.
type SummaryService struct {
	plans     PremiumGate
	sessions  SessionSource
	generator llm.Generator
	limit     int
}

func NewSummaryService(plans PremiumGate, sessions SessionSource, generator llm.Generator) *SummaryService {
	return &SummaryService{
		plans:     plans,
		sessions:  sessions,
		generator: generator,
		limit:     config.SummaryConcurrency,
	}
}

// Summarize returns one summary per session in input order. When sessions is
// empty the user's stored sessions are summarized instead.
func (s *SummaryService) Summarize(ctx context.Context, userID string, sessions []model.AwaySessionLog) ([]SessionSummary, error) {
	if _, err := s.plans.RequirePremium(ctx, userID, "away summary"); err != nil {
		return nil, err
	}

	if len(sessions) == 0 {
		stored, err := s.sessions.SessionsForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load away sessions: %w", err)
		}
		sessions = stored
	}

	summaries := make([]SessionSummary, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)

	for i, session := range sessions {
		summaries[i] = SessionSummary{StartTime: session.StartTime, EndTime: session.EndTime}
		if len(session.Messages) == 0 {
			summaries[i].Summary = emptySessionSummary
			continue
		}

		i, session := i, session
		g.Go(func() error {
			text, err := s.generator.Generate(gctx, llm.Request{
				System: summaryPrompt(session),
				Input:  "Please summarize the above messages.",
			})
			if err != nil {
				return apperrors.UpstreamFailure("Summary", err)
			}
			summaries[i].Summary = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().Str("userId", userID).Int("sessions", len(summaries)).Msg("away sessions summarized")
	return summaries, nil
}

func summaryPrompt(session model.AwaySessionLog) string {
	end := "now"
	if session.EndTime != nil {
		end = session.EndTime.Format(time.RFC3339)
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant summarizing away-time messages for the user.\n")
	fmt.Fprintf(&sb, "The following are messages sent to the user between %s and %s:\n\n---\n",
		session.StartTime.Format(time.RFC3339), end)
	sb.WriteString(strings.Join(session.Messages, "\n"))
	sb.WriteString("\n---\n\nSummarize the main points and intentions in 2-4 sentences. Be clear and concise.\n")
	return sb.String()
}
