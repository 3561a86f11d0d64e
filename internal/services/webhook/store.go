package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/pkg/encryption"
)

// PostgresStore keeps webhooks in channel_webhooks with the token sealed.
type PostgresStore struct {
	db     *pgxpool.Pool
	sealer *encryption.Sealer
}

func NewPostgresStore(db *pgxpool.Pool, sealer *encryption.Sealer) *PostgresStore {
	return &PostgresStore{db: db, sealer: sealer}
}

func (s *PostgresStore) Get(ctx context.Context, channelID string) (*models.ChannelWebhook, error) {
	var hook models.ChannelWebhook
	var sealed string
	err := s.db.QueryRow(ctx,
		`SELECT channel_id, webhook_id, token_enc, created_at FROM channel_webhooks WHERE channel_id = $1`,
		channelID,
	).Scan(&hook.ChannelID, &hook.WebhookID, &sealed, &hook.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoWebhook
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}

	hook.Token, err = s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open webhook token: %w", err)
	}
	return &hook, nil
}

func (s *PostgresStore) Save(ctx context.Context, hook models.ChannelWebhook) error {
	sealed, err := s.sealer.Seal(hook.Token)
	if err != nil {
		return fmt.Errorf("failed to seal webhook token: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO channel_webhooks (channel_id, webhook_id, token_enc)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (channel_id) DO UPDATE SET
		   webhook_id = EXCLUDED.webhook_id,
		   token_enc  = EXCLUDED.token_enc,
		   created_at = NOW()`,
		hook.ChannelID, hook.WebhookID, sealed,
	)
	if err != nil {
		return fmt.Errorf("failed to save webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, channelID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM channel_webhooks WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}
