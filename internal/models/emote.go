package models

import "time"

// EmoteSource identifies where a directory record came from.
type EmoteSource string

const (
	SourceBTTV EmoteSource = "bttv"
	SourceFFZ  EmoteSource = "ffz"
	SourceUser EmoteSource = "user"
	// looked up on demand, never stored in the directory
	SourceSevenTV EmoteSource = "7tv"
)

func (s EmoteSource) Valid() bool {
	switch s {
	case SourceBTTV, SourceFFZ, SourceUser, SourceSevenTV:
		return true
	}
	return false
}

// EmoteRecord is one entry of the remote emote directory. Name is unique
// across the directory.
type EmoteRecord struct {
	Name      string      `json:"name" db:"name"`
	ImageURL  string      `json:"imageUrl" db:"image_url"`
	Source    EmoteSource `json:"source" db:"source"`
	OwnerID   int64       `json:"ownerId,string" db:"owner_id"`
	Animated  bool        `json:"animated" db:"animated"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
}

// DisabledEmote is a blacklisted emote name.
type DisabledEmote struct {
	Name       string    `json:"name" db:"name"`
	DisabledBy int64     `json:"disabledBy,string" db:"disabled_by"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
