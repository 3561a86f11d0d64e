// Package discord implements the platform interfaces of the emote pipeline
// on top of a discordgo session.
package discord

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/emotecache"
	"github.com/zentra/nbot/internal/services/webhook"
	"golang.org/x/time/rate"
)

// Emoji slot limit per partition, indexed by guild premium tier.
var emojiLimits = map[discordgo.PremiumTier]int{
	discordgo.PremiumTierNone: 50,
	discordgo.PremiumTier1:    100,
	discordgo.PremiumTier2:    150,
	discordgo.PremiumTier3:    250,
}

type Adapter struct {
	session      *discordgo.Session
	cacheGuildID string
	uploads      *rate.Limiter
}

// NewAdapter wraps session. Emoji uploads are limited to one per interval
// with the given burst.
func NewAdapter(session *discordgo.Session, cacheGuildID string, interval time.Duration, burst int) *Adapter {
	return &Adapter{
		session:      session,
		cacheGuildID: cacheGuildID,
		uploads:      rate.NewLimiter(rate.Every(interval), burst),
	}
}

func (a *Adapter) botUserID() string {
	if a.session.State == nil || a.session.State.User == nil {
		return ""
	}
	return a.session.State.User.ID
}

func (a *Adapter) GuildEmojis(ctx context.Context) ([]models.CacheEntry, error) {
	emojis, err := a.session.GuildEmojis(a.cacheGuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list guild emojis: %w", err)
	}

	entries := make([]models.CacheEntry, 0, len(emojis))
	for _, e := range emojis {
		entries = append(entries, toCacheEntry(e))
	}
	return entries, nil
}

func (a *Adapter) EmojiLimit(ctx context.Context) (int, error) {
	guild, err := a.session.Guild(a.cacheGuildID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to get cache guild: %w", err)
	}
	if limit, ok := emojiLimits[guild.PremiumTier]; ok {
		return limit, nil
	}
	return emojiLimits[discordgo.PremiumTierNone], nil
}

func (a *Adapter) CreateEmoji(ctx context.Context, name string, image []byte, contentType string) (models.CacheEntry, error) {
	if err := a.uploads.Wait(ctx); err != nil {
		return models.CacheEntry{}, err
	}

	emoji, err := a.session.GuildEmojiCreate(a.cacheGuildID, &discordgo.EmojiParams{
		Name:  name,
		Image: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image),
	}, discordgo.WithContext(ctx))
	if err != nil {
		if restCode(err) == discordgo.ErrCodeMaximumNumberOfEmojisReached {
			return models.CacheEntry{}, fmt.Errorf("%w: %v", emotecache.ErrCacheFull, err)
		}
		return models.CacheEntry{}, fmt.Errorf("failed to create emoji %s: %w", name, err)
	}
	return toCacheEntry(emoji), nil
}

func (a *Adapter) DeleteEmoji(ctx context.Context, id string) error {
	err := a.session.GuildEmojiDelete(a.cacheGuildID, id, discordgo.WithContext(ctx))
	if err != nil && restCode(err) != discordgo.ErrCodeUnknownEmoji {
		return fmt.Errorf("failed to delete emoji %s: %w", id, err)
	}
	return nil
}

func (a *Adapter) OwnedWebhooks(ctx context.Context, channelID string) ([]models.ChannelWebhook, error) {
	hooks, err := a.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}

	botID := a.botUserID()
	var owned []models.ChannelWebhook
	for _, h := range hooks {
		if h.Token == "" || h.User == nil || h.User.ID != botID {
			continue
		}
		owned = append(owned, toChannelWebhook(h))
	}
	return owned, nil
}

func (a *Adapter) CreateWebhook(ctx context.Context, channelID, name string) (*models.ChannelWebhook, error) {
	hook, err := a.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	cw := toChannelWebhook(hook)
	return &cw, nil
}

func (a *Adapter) ExecuteWebhook(ctx context.Context, hook models.ChannelWebhook, threadID string, params webhook.ExecuteParams) error {
	data := &discordgo.WebhookParams{
		Content:   params.Content,
		Username:  params.Username,
		AvatarURL: params.AvatarURL,
		// Reposts must not ping anyone a second time.
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	if params.File != nil {
		data.Files = []*discordgo.File{{
			Name:        params.File.Name,
			ContentType: params.File.ContentType,
			Reader:      bytes.NewReader(params.File.Data),
		}}
	}

	var err error
	if threadID != "" {
		_, err = a.session.WebhookThreadExecute(hook.WebhookID, hook.Token, false, threadID, data, discordgo.WithContext(ctx))
	} else {
		_, err = a.session.WebhookExecute(hook.WebhookID, hook.Token, false, data, discordgo.WithContext(ctx))
	}
	if err != nil {
		if restCode(err) == discordgo.ErrCodeUnknownWebhook || restStatus(err) == http.StatusNotFound {
			return fmt.Errorf("%w: %v", webhook.ErrUnknownWebhook, err)
		}
		return fmt.Errorf("failed to execute webhook: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	err := a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil && restCode(err) != discordgo.ErrCodeUnknownMessage {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func toCacheEntry(e *discordgo.Emoji) models.CacheEntry {
	created, _ := discordgo.SnowflakeTimestamp(e.ID)
	return models.CacheEntry{
		ID:        e.ID,
		Name:      e.Name,
		Animated:  e.Animated,
		CreatedAt: created,
	}
}

func toChannelWebhook(h *discordgo.Webhook) models.ChannelWebhook {
	created, _ := discordgo.SnowflakeTimestamp(h.ID)
	return models.ChannelWebhook{
		ChannelID: h.ChannelID,
		WebhookID: h.ID,
		Token:     h.Token,
		CreatedAt: created,
	}
}

func restCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code
	}
	return 0
}

func restStatus(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}
