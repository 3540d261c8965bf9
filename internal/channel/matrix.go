package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const typingTimeout = 10 * time.Second

// MatrixConnector connects to a Matrix homeserver using a bot access token.
type MatrixConnector struct {
	homeserver string
}

func NewMatrixConnector(homeserver string) *MatrixConnector {
	return &MatrixConnector{homeserver: homeserver}
}

// Connect validates the token with a whoami call and returns an idle session.
func (c *MatrixConnector) Connect(ctx context.Context, token string) (Session, error) {
	if c.homeserver == "" {
		return nil, errors.New("matrix homeserver not configured")
	}
	if token == "" {
		return nil, errors.New("empty access token")
	}

	client, err := mautrix.NewClient(c.homeserver, "", token)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}

	whoami, err := client.Whoami(ctx)
	if err != nil {
		return nil, fmt.Errorf("matrix whoami: %w", err)
	}
	client.UserID = whoami.UserID
	client.DeviceID = whoami.DeviceID

	return &matrixSession{client: client}, nil
}

type matrixSession struct {
	client *mautrix.Client
}

func (s *matrixSession) SelfID() string {
	return s.client.UserID.String()
}

func (s *matrixSession) Run(ctx context.Context, handler Handler) error {
	syncer, ok := s.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("unexpected matrix syncer type")
	}

	// Only messages arriving after the listener starts are answered.
	syncer.OnSync(s.client.DontProcessOldEvents)

	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		if evt.GetStateKey() != s.SelfID() {
			return
		}
		member := evt.Content.AsMember()
		if member == nil || member.Membership != event.MembershipInvite {
			return
		}
		if _, err := s.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
			log.Warn().Err(err).Str("roomId", evt.RoomID.String()).Msg("failed to accept room invite")
		}
	})

	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		msg, ok := messageFromEvent(evt)
		if !ok {
			return
		}
		msg.SenderName = s.displayName(ctx, evt.Sender)
		handler(ctx, msg)
	})

	err := s.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		return errors.New("matrix sync stopped")
	}
	return fmt.Errorf("matrix sync: %w", err)
}

func (s *matrixSession) Send(ctx context.Context, conversationID, text string) error {
	if _, err := s.client.SendText(ctx, id.RoomID(conversationID), text); err != nil {
		return fmt.Errorf("send matrix message: %w", err)
	}
	return nil
}

func (s *matrixSession) Typing(ctx context.Context, conversationID string) error {
	if _, err := s.client.UserTyping(ctx, id.RoomID(conversationID), true, typingTimeout); err != nil {
		return fmt.Errorf("set matrix typing: %w", err)
	}
	return nil
}

func (s *matrixSession) Close() error {
	s.client.StopSync()
	return nil
}

func (s *matrixSession) displayName(ctx context.Context, userID id.UserID) string {
	profile, err := s.client.GetProfile(ctx, userID)
	if err == nil && profile.DisplayName != "" {
		return profile.DisplayName
	}
	return localpart(userID)
}

// messageFromEvent converts a Matrix text event. Non-text events are skipped.
func messageFromEvent(evt *event.Event) (Message, bool) {
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return Message{}, false
	}
	body := strings.TrimSpace(content.Body)
	if body == "" {
		return Message{}, false
	}
	return Message{
		ID:             evt.ID.String(),
		ConversationID: evt.RoomID.String(),
		SenderID:       evt.Sender.String(),
		Content:        body,
	}, true
}

func localpart(userID id.UserID) string {
	s := strings.TrimPrefix(userID.String(), "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}
