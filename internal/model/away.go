package model

import (
	"encoding/json"
	"time"
)

type AwaySession struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"userId"`
	StartTime time.Time  `db:"start_time" json:"startTime"`
	EndTime   *time.Time `db:"end_time" json:"endTime,omitempty"`
}

// Open reports whether the session is still accumulating messages.
func (s *AwaySession) Open() bool {
	return s.EndTime == nil
}

type AwayMessage struct {
	ID         int64     `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"sessionId"`
	SenderID   string    `db:"sender_id" json:"senderId"`
	SenderName string    `db:"sender_name" json:"senderName"`
	Content    string    `db:"content" json:"content"`
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`
}

// Rendered formats the message the way summaries and history display it.
func (m *AwayMessage) Rendered() string {
	return m.SenderName + ": " + m.Content
}

type LogAwayMessageParams struct {
	UserID     string
	SenderID   string
	SenderName string
	Content    string
}

// AwaySessionLog is a session with its messages rendered in receipt order.
type AwaySessionLog struct {
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Messages  []string   `json:"messages"`
}

// ToSSEEventData returns JSON data for away_message SSE events
func (m *AwayMessage) ToSSEEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"id":         m.ID,
		"sessionId":  m.SessionID,
		"senderId":   m.SenderID,
		"senderName": m.SenderName,
		"content":    m.Content,
		"receivedAt": m.ReceivedAt,
	})
	return data
}

type BotRegistration struct {
	UserID          string    `db:"user_id"`
	TokenCiphertext string    `db:"token_ciphertext"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}
