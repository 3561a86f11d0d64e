package models

import (
	"strings"
	"time"
)

// CacheEntry is one custom emoji living in the cache guild.
type CacheEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Animated  bool      `json:"animated"`
	CreatedAt time.Time `json:"createdAt"`
}

// Token is the inline markup that renders the emoji in a message.
func (e CacheEntry) Token() string {
	if e.Animated {
		return "<a:" + e.Name + ":" + e.ID + ">"
	}
	return "<:" + e.Name + ":" + e.ID + ">"
}

// CompoundEmote is one logical emote made of one or more slices, ordered
// left to right.
type CompoundEmote struct {
	Name   string       `json:"name"`
	Slices []CacheEntry `json:"slices"`
}

func (c *CompoundEmote) String() string {
	var sb strings.Builder
	for _, s := range c.Slices {
		sb.WriteString(s.Token())
	}
	return sb.String()
}

// IDs returns the slice ids in order.
func (c *CompoundEmote) IDs() []string {
	ids := make([]string, len(c.Slices))
	for i, s := range c.Slices {
		ids[i] = s.ID
	}
	return ids
}

func (c *CompoundEmote) Animated() bool {
	return len(c.Slices) > 0 && c.Slices[0].Animated
}
