package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type User struct {
	UserID                string     `db:"user_id" json:"userId"`
	Email                 *string    `db:"email" json:"email,omitempty"`
	PasswordHash          string     `db:"password_hash" json:"-"`
	EmailVerified         bool       `db:"email_verified" json:"emailVerified"`
	VerificationTokenHash *string    `db:"verification_token_hash" json:"-"`
	VerificationExpiresAt *time.Time `db:"verification_expires_at" json:"-"`
	Plan                  Plan       `db:"plan" json:"plan"`
	Mode                  Mode       `db:"mode" json:"mode"`
	Away                  bool       `db:"away" json:"away"`
	ChatsSent             int        `db:"chats_sent" json:"chatsSent"`
	EmailsSent            int        `db:"emails_sent" json:"emailsSent"`
	Switches              int        `db:"switches" json:"switches"`
	TxHash                *string    `db:"tx_hash" json:"txHash,omitempty"`
	SubscribedAt          *time.Time `db:"subscribed_at" json:"subscribedAt,omitempty"`
	Profile               Profile    `db:"profile" json:"profile"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updatedAt"`
}

// DisplayName returns the profile name, falling back to the user id.
func (u *User) DisplayName() string {
	if u.Profile.Name != "" {
		return u.Profile.Name
	}
	return u.UserID
}

type CreateUserParams struct {
	UserID                string
	Email                 *string
	PasswordHash          string
	EmailVerified         bool
	VerificationTokenHash *string
	VerificationExpiresAt *time.Time
}

// Profile is the free-form persona document stored as JSONB.
type Profile struct {
	Name               string             `json:"name"`
	Bio                string             `json:"bio,omitempty"`
	Location           string             `json:"location,omitempty"`
	Age                *int               `json:"age,omitempty"`
	CommunicationStyle CommunicationStyle `json:"communicationStyle"`
	Professional       Professional       `json:"professional"`
	Personal           Personal           `json:"personal"`
}

type CommunicationStyle struct {
	Tone            string   `json:"tone,omitempty"`
	FavoritePhrases []string `json:"favoritePhrases,omitempty"`
	HumorPreference string   `json:"humorPreference,omitempty"`
}

type Professional struct {
	JobTitle   string   `json:"jobTitle,omitempty"`
	Company    string   `json:"company,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Experience string   `json:"experience,omitempty"`
	Projects   []string `json:"projects,omitempty"`
	LinkedIn   string   `json:"linkedin,omitempty"`
	GitHub     string   `json:"github,omitempty"`
	Website    string   `json:"website,omitempty"`
}

type Personal struct {
	Interests      []string `json:"interests,omitempty"`
	Hobbies        []string `json:"hobbies,omitempty"`
	FavoriteMovies []string `json:"favoriteMovies,omitempty"`
	FavoriteMusic  []string `json:"favoriteMusic,omitempty"`
	FavoriteBooks  []string `json:"favoriteBooks,omitempty"`
}

// Value implements driver.Valuer for the JSONB column.
func (p Profile) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for the JSONB column.
func (p *Profile) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Profile{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan profile: unsupported type %T", src)
	}
	return json.Unmarshal(data, p)
}
