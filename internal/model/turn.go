package model

import (
	"time"
)

// ChatTurn is one persisted exchange. Turns are immutable once written.
type ChatTurn struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"userId"`
	InputText    string     `db:"input_text" json:"input"`
	ResponseText string     `db:"response_text" json:"response"`
	ChannelTag   ChannelTag `db:"channel_tag" json:"channelTag"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}

type CreateChatTurnParams struct {
	ID           string
	UserID       string
	InputText    string
	ResponseText string
	ChannelTag   ChannelTag
}

// TurnCandidate is a nearest-neighbour hit joined with its owning turn.
type TurnCandidate struct {
	TurnID       string     `db:"turn_id"`
	UserID       string     `db:"user_id"`
	InputText    string     `db:"input_text"`
	ResponseText string     `db:"response_text"`
	ChannelTag   ChannelTag `db:"channel_tag"`
	Distance     float64    `db:"distance"`
}

// Exchange is a retrieved prior turn as fed into context assembly.
type Exchange struct {
	Input      string     `json:"input"`
	Response   string     `json:"response"`
	ChannelTag ChannelTag `json:"channelTag"`
}
