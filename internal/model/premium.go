package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Story struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Prompt    string    `db:"prompt" json:"prompt"`
	Story     string    `db:"story" json:"story"`
	Wallet    string    `db:"wallet" json:"wallet"`
	TokenID   *string   `db:"token_id" json:"tokenId,omitempty"`
	TxHash    *string   `db:"tx_hash" json:"txHash,omitempty"`
	TokenURI  *string   `db:"token_uri" json:"tokenUri,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreateStoryParams struct {
	UserID   string
	Prompt   string
	Story    string
	Wallet   string
	TokenID  *string
	TxHash   *string
	TokenURI *string
}

// MazePath is an ordered list of maze moves stored as JSONB.
type MazePath []string

func (p MazePath) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal([]string(p))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (p *MazePath) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(p))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(p))
	default:
		return fmt.Errorf("scan maze path: unsupported type %T", src)
	}
}

// Equal compares two paths move by move.
func (p MazePath) Equal(other MazePath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

type Duel struct {
	ID           int64      `db:"id" json:"duelId"`
	CreatorID    string     `db:"creator_id" json:"creatorId"`
	PathHash     string     `db:"path_hash" json:"pathHash"`
	RevealedPath MazePath   `db:"revealed_path" json:"revealedPath,omitempty"`
	WinnerID     *string    `db:"winner_id" json:"winner,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	RevealedAt   *time.Time `db:"revealed_at" json:"revealedAt,omitempty"`
}

func (d *Duel) Revealed() bool {
	return d.RevealedAt != nil
}

type DuelGuess struct {
	ID        int64     `db:"id" json:"id"`
	DuelID    int64     `db:"duel_id" json:"duelId"`
	UserID    string    `db:"user_id" json:"userId"`
	Path      MazePath  `db:"path" json:"path"`
	Receipt   string    `db:"receipt" json:"receipt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ToSSEEventData returns JSON data for duel_winner events
func (d *Duel) ToSSEEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"duelId": d.ID,
		"winner": d.WinnerID,
	})
	return data
}

// Product is one shopping search result.
type Product struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Price   string `json:"price"`
	Image   string `json:"image"`
	BuyLink string `json:"buyLink"`
}
