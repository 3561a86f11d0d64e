package models

import "time"

// ChannelWebhook is the webhook the bot posts through in one channel.
type ChannelWebhook struct {
	ChannelID string    `json:"channelId" db:"channel_id"`
	WebhookID string    `json:"webhookId" db:"webhook_id"`
	Token     string    `json:"-" db:"-"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
