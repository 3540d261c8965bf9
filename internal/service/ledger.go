package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
)

// AwayLedger records inbound messages against the user's open away session.
type AwayLedger struct {
	sessions repository.AwaySessionRepository
}

func NewAwayLedger(sessions repository.AwaySessionRepository) *AwayLedger {
	return &AwayLedger{sessions: sessions}
}

// LogMessage appends to the open session in a single statement. It returns
// nil without error when the user has no open session.
func (l *AwayLedger) LogMessage(ctx context.Context, params model.LogAwayMessageParams) (*model.AwayMessage, error) {
	msg, err := l.sessions.AppendMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("append away message: %w", err)
	}
	if msg == nil {
		log.Debug().Str("userId", params.UserID).Msg("no open away session, message not logged")
		return nil, nil
	}

	log.Debug().
		Str("userId", params.UserID).
		Str("sessionId", msg.SessionID).
		Str("senderId", params.SenderID).
		Msg("away message logged")
	return msg, nil
}

// SessionsForUser returns every session ordered by start time, each with its
// messages rendered as "sender_name: content" in receipt order.
func (l *AwayLedger) SessionsForUser(ctx context.Context, userID string) ([]model.AwaySessionLog, error) {
	sessions, err := l.sessions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find away sessions: %w", err)
	}
	if len(sessions) == 0 {
		return []model.AwaySessionLog{}, nil
	}

	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	messages, err := l.sessions.FindMessagesBySessionIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find away messages: %w", err)
	}

	bySession := make(map[string][]string, len(sessions))
	for i := range messages {
		m := &messages[i]
		bySession[m.SessionID] = append(bySession[m.SessionID], m.Rendered())
	}

	logs := make([]model.AwaySessionLog, len(sessions))
	for i, s := range sessions {
		rendered := bySession[s.ID]
		if rendered == nil {
			rendered = []string{}
		}
		logs[i] = model.AwaySessionLog{
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Messages:  rendered,
		}
	}
	return logs, nil
}
