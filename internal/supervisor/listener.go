package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/channel"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
	redisclient "github.com/TheCoderAdi/EchoPersona-Backend/internal/redis"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/sse"
)

// Replies sent back on the channel when no generated text can be delivered.
const (
	NoticeNotAway       = "Could not process message."
	NoticeUpstreamError = "Error while contacting the server."
	NoticeEmptyReply    = "No reply generated."
)

func greeting(name string) string {
	return fmt.Sprintf("Heya! This is EchoPersona, standing in for %s. They're away right now but I can keep you company!", name)
}

// replyState survives crash restarts of the same registration: senders are
// greeted once and the reply budget is not reset by a reconnect.
type replyState struct {
	mu      sync.Mutex
	greeted map[string]struct{}
	limiter *rate.Limiter
}

func newReplyState(repliesPerMinute int) *replyState {
	limit := rate.Inf
	burst := 1
	if repliesPerMinute > 0 {
		limit = rate.Limit(float64(repliesPerMinute) / 60)
		burst = max(1, repliesPerMinute/4)
	}
	return &replyState{
		greeted: make(map[string]struct{}),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// firstContact records sender and reports whether it was new.
func (r *replyState) firstContact(senderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.greeted[senderID]; ok {
		return false
	}
	r.greeted[senderID] = struct{}{}
	return true
}

type listener struct {
	userID  string
	runID   string
	session channel.Session
	state   *replyState
	cancel  context.CancelFunc
	done    chan struct{}
	// err is written once before done is closed.
	err error
}

func (l *listener) exited() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// replyText picks what to send back for a mimic outcome.
func replyText(reply string, err error) string {
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeNotAway):
		return NoticeNotAway
	case err != nil:
		return NoticeUpstreamError
	case strings.TrimSpace(reply) == "":
		return NoticeEmptyReply
	default:
		return reply
	}
}

func (s *Supervisor) handler(l *listener) channel.Handler {
	return func(ctx context.Context, msg channel.Message) {
		if msg.SenderID == l.session.SelfID() {
			return
		}

		logger := log.With().
			Str("userId", l.userID).
			Str("runId", l.runID).
			Str("senderId", msg.SenderID).
			Logger()

		user, err := s.presence.GetProfile(ctx, l.userID)
		if err != nil {
			logger.Error().Err(err).Msg("presence check failed")
			return
		}
		if !user.Away {
			logger.Debug().Msg("user is available, message ignored")
			return
		}

		logged, err := s.ledger.LogMessage(ctx, model.LogAwayMessageParams{
			UserID:     l.userID,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			Content:    msg.Content,
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to log away message")
		} else if logged != nil {
			s.publish(ctx, l.userID, sse.Event{Type: sse.EventAwayMessage, Data: logged.ToSSEEventData()})
		}

		if l.state.firstContact(msg.SenderID) {
			if err := l.session.Send(ctx, msg.ConversationID, greeting(user.DisplayName())); err != nil {
				logger.Warn().Err(err).Msg("failed to send greeting")
			}
		}

		if err := l.session.Typing(ctx, msg.ConversationID); err != nil {
			logger.Debug().Err(err).Msg("typing indicator failed")
		}

		if err := l.state.limiter.Wait(ctx); err != nil {
			logger.Debug().Err(err).Msg("reply throttle wait aborted")
			return
		}

		replyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
		reply, err := s.responder.Mimic(replyCtx, l.userID, msg.Content, s.cfg.Tag)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("mimic reply failed")
		}

		if err := l.session.Send(ctx, msg.ConversationID, replyText(reply, err)); err != nil {
			logger.Warn().Err(err).Msg("failed to send reply")
		}
	}
}

func (s *Supervisor) publish(ctx context.Context, userID string, event sse.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, redisclient.UserTopic(userID), event); err != nil {
		log.Warn().Err(err).Str("userId", userID).Str("event", event.Type).Msg("failed to publish event")
	}
}
