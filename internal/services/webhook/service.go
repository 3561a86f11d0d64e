// Package webhook reposts messages under another user's name and avatar
// through per-channel webhooks owned by the bot.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/utils"
)

var (
	ErrUnknownWebhook = errors.New("webhook no longer exists")
	ErrNoWebhook      = errors.New("no webhook stored for channel")
)

const (
	// DefaultName is used for webhooks the bot creates.
	DefaultName = "NBot"

	// InvisibleFiller pads names that are shorter than the platform allows.
	InvisibleFiller = '\u17b5'

	minUsernameLength = 2
	maxUsernameLength = 80
)

type ExecuteParams struct {
	Content   string
	Username  string
	AvatarURL string
	File      *models.Attachment
}

// Platform is the webhook API of the chat platform.
type Platform interface {
	// OwnedWebhooks lists webhooks in channelID that the bot created.
	OwnedWebhooks(ctx context.Context, channelID string) ([]models.ChannelWebhook, error)
	CreateWebhook(ctx context.Context, channelID, name string) (*models.ChannelWebhook, error)
	// ExecuteWebhook posts through hook; threadID is empty outside threads.
	// A deleted webhook is reported as ErrUnknownWebhook.
	ExecuteWebhook(ctx context.Context, hook models.ChannelWebhook, threadID string, params ExecuteParams) error
}

// Store persists webhooks so they survive restarts.
type Store interface {
	Get(ctx context.Context, channelID string) (*models.ChannelWebhook, error)
	Save(ctx context.Context, hook models.ChannelWebhook) error
	Delete(ctx context.Context, channelID string) error
}

type Service struct {
	platform Platform
	store    Store
	cache    *cache.Cache
}

func NewService(platform Platform, store Store, ttl time.Duration) *Service {
	return &Service{
		platform: platform,
		store:    store,
		cache:    cache.New(ttl, 2*ttl),
	}
}

// Username pads or truncates a display name to what webhooks accept.
func Username(displayName string) string {
	name := strings.TrimSpace(displayName)
	for n := len([]rune(name)); n < minUsernameLength; n++ {
		name += string(InvisibleFiller)
	}
	return utils.TruncateRunes(name, maxUsernameLength)
}

// Repost sends content as msg's author in msg's channel. Messages in
// threads go through the parent channel's webhook.
func (s *Service) Repost(ctx context.Context, msg *models.ChatMessage, content string, file *models.Attachment) error {
	channelID, threadID := msg.ChannelID, ""
	if msg.InThread() {
		channelID, threadID = msg.ParentID, msg.ChannelID
	}

	params := ExecuteParams{
		Content:   content,
		Username:  Username(msg.Author.DisplayName),
		AvatarURL: msg.Author.AvatarURL,
		File:      file,
	}

	hook, err := s.webhookFor(ctx, channelID)
	if err != nil {
		return err
	}

	err = s.platform.ExecuteWebhook(ctx, *hook, threadID, params)
	if !errors.Is(err, ErrUnknownWebhook) {
		return err
	}

	log.Warn().Str("channelId", channelID).Str("webhookId", hook.WebhookID).Msg("Webhook was deleted, recreating")
	s.forget(ctx, channelID)

	hook, err = s.webhookFor(ctx, channelID)
	if err != nil {
		return err
	}
	return s.platform.ExecuteWebhook(ctx, *hook, threadID, params)
}

func (s *Service) webhookFor(ctx context.Context, channelID string) (*models.ChannelWebhook, error) {
	if v, ok := s.cache.Get(channelID); ok {
		return v.(*models.ChannelWebhook), nil
	}

	hook, err := s.store.Get(ctx, channelID)
	if err == nil {
		s.cache.SetDefault(channelID, hook)
		return hook, nil
	}
	if !errors.Is(err, ErrNoWebhook) {
		log.Warn().Err(err).Str("channelId", channelID).Msg("Failed to read stored webhook")
	}

	owned, err := s.platform.OwnedWebhooks(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	if len(owned) > 0 {
		hook = &owned[0]
	} else {
		hook, err = s.platform.CreateWebhook(ctx, channelID, DefaultName)
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook: %w", err)
		}
		log.Info().Str("channelId", channelID).Str("webhookId", hook.WebhookID).Msg("Created webhook")
	}

	if err := s.store.Save(ctx, *hook); err != nil {
		log.Warn().Err(err).Str("channelId", channelID).Msg("Failed to store webhook")
	}
	s.cache.SetDefault(channelID, hook)
	return hook, nil
}

func (s *Service) forget(ctx context.Context, channelID string) {
	s.cache.Delete(channelID)
	if err := s.store.Delete(ctx, channelID); err != nil {
		log.Warn().Err(err).Str("channelId", channelID).Msg("Failed to delete stored webhook")
	}
}
