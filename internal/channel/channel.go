// Package channel abstracts the external chat platform a presence listener
// is bound to.
package channel

import (
	"context"
)

// Message is one inbound text message from the external channel.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
}

// Handler is invoked for each inbound message, serially per session.
type Handler func(ctx context.Context, msg Message)

// Session is a connected bot identity on the external channel.
type Session interface {
	// SelfID is the bot's own sender id, used to skip self-authored messages.
	SelfID() string
	// Run delivers messages to handler until ctx is cancelled (returns nil)
	// or the connection fails (returns the error).
	Run(ctx context.Context, handler Handler) error
	Send(ctx context.Context, conversationID, text string) error
	Typing(ctx context.Context, conversationID string) error
	Close() error
}

// Connector opens sessions from a user-supplied bot token.
type Connector interface {
	Connect(ctx context.Context, token string) (Session, error)
}
