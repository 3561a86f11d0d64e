package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/models"
)

// ChatMessage converts a gateway message into the platform-neutral form
// the rewriter works on.
func (a *Adapter) ChatMessage(ctx context.Context, m *discordgo.Message) *models.ChatMessage {
	msg := &models.ChatMessage{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		WebhookID: m.WebhookID,
		Content:   m.Content,
	}

	if m.Author != nil {
		msg.Author = models.Author{
			ID:          m.Author.ID,
			DisplayName: DisplayName(m.Author, m.Member),
			AvatarURL:   m.Author.AvatarURL(""),
			Bot:         m.Author.Bot,
		}
	}

	if ch := a.channel(ctx, m.ChannelID); ch != nil && ch.IsThread() {
		msg.ParentID = ch.ParentID
	}
	return msg
}

// DisplayName picks the name shown in the guild: nickname, then global
// display name, then username.
func DisplayName(user *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

func (a *Adapter) channel(ctx context.Context, channelID string) *discordgo.Channel {
	if a.session.State != nil {
		if ch, err := a.session.State.Channel(channelID); err == nil {
			return ch
		}
	}

	ch, err := a.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		log.Warn().Err(err).Str("channelId", channelID).Msg("Failed to resolve channel")
		return nil
	}
	return ch
}
