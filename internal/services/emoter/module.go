// Package emoter wires the emote pipeline into the bot: it rewrites
// messages, runs the periodic synchronizers and answers the emote slash
// commands.
package emoter

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/collection"
	"github.com/zentra/nbot/internal/services/emotecache"
	"github.com/zentra/nbot/internal/services/rewriter"
)

const moduleName = "emoter"

type Rewriter interface {
	Handle(ctx context.Context, msg *models.ChatMessage) (*rewriter.Result, error)
}

type MessageConverter interface {
	ChatMessage(ctx context.Context, m *discordgo.Message) *models.ChatMessage
}

type CollectionSync interface {
	CheckForUpdates(ctx context.Context) (*collection.Report, error)
	Update(ctx context.Context) (*collection.Report, error)
}

type CacheSync interface {
	CheckForUpdates(ctx context.Context) (*emotecache.SyncReport, error)
	Update(ctx context.Context) (*emotecache.SyncReport, error)
}

// Cache is the subset of emotecache.Cache used by commands and ticks.
type Cache interface {
	Load(ctx context.Context) error
	Status() emotecache.Status
	EnsureSpace(ctx context.Context, buffer int) error
	UploadEmote(ctx context.Context, name, url string) (*models.CompoundEmote, error)
	Release(names ...string)
	Remove(ctx context.Context, name string) error
	Purge(ctx context.Context) (int, error)
}

// Directory is the subset of directory.Service used by commands.
type Directory interface {
	Get(ctx context.Context, name string) (*models.EmoteRecord, error)
	Add(ctx context.Context, name, imageURL string, ownerID int64) (*models.EmoteRecord, error)
	RemoveOwned(ctx context.Context, name string, ownerID int64, force bool) error
	UpdateURL(ctx context.Context, name, imageURL string, ownerID int64, force bool) error
	Random(ctx context.Context) (*models.EmoteRecord, error)
	Disable(ctx context.Context, name string, disabledBy int64) error
	Enable(ctx context.Context, name string) error
	Count(ctx context.Context) (int64, error)
	CountBySource(ctx context.Context) (map[models.EmoteSource]int64, error)
}

type UsageRanker interface {
	Top(ctx context.Context, n int) ([]models.UsageCount, error)
}

type SyncLogReader interface {
	Get(ctx context.Context, key string) (*models.SyncLog, error)
}

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Deps struct {
	Rewriter   Rewriter
	Converter  MessageConverter
	Collection CollectionSync
	CacheSync  CacheSync
	Cache      Cache
	Directory  Directory
	Usage      UsageRanker
	SyncLogs   SyncLogReader
	Images     ImageFetcher
	// IsOwner reports whether a user may run owner-only commands.
	IsOwner func(userID string) bool
}

type Options struct {
	CheckInterval time.Duration
	Buffer        int
}

// Module is the bot.Module of the emote pipeline.
type Module struct {
	deps Deps
	opts Options
}

func NewModule(deps Deps, opts Options) *Module {
	if deps.IsOwner == nil {
		deps.IsOwner = func(string) bool { return false }
	}
	return &Module{deps: deps, opts: opts}
}

func (m *Module) Name() string { return moduleName }

func (m *Module) TickInterval() time.Duration { return m.opts.CheckInterval }

// OnMessage rewrites $name tokens in a guild message.
func (m *Module) OnMessage(ctx context.Context, dm *discordgo.Message) {
	if dm.GuildID == "" {
		return
	}

	msg := m.deps.Converter.ChatMessage(ctx, dm)
	if _, err := m.deps.Rewriter.Handle(ctx, msg); err != nil {
		log.Warn().
			Err(err).
			Str("messageId", msg.ID).
			Str("channelId", msg.ChannelID).
			Msg("Failed to rewrite message")
	}
}

// OnTick loads the cache guild on first use, refreshes the directory and
// the cache when they are due and keeps the free slot buffer.
func (m *Module) OnTick(ctx context.Context) {
	if !m.deps.Cache.Status().Loaded {
		if err := m.deps.Cache.Load(ctx); err != nil {
			reportTickError(err, "Failed to load cache guild")
			return
		}
	}

	if _, err := m.deps.Collection.CheckForUpdates(ctx); err != nil && !errors.Is(err, collection.ErrAlreadyRunning) {
		reportTickError(err, "Emote collection update failed")
	}

	if _, err := m.deps.CacheSync.CheckForUpdates(ctx); err != nil && !errors.Is(err, emotecache.ErrAlreadyRunning) {
		reportTickError(err, "Cache update failed")
	}

	if err := m.deps.Cache.EnsureSpace(ctx, m.opts.Buffer); err != nil {
		reportTickError(err, "Failed to free cache slots")
	}
}

func reportTickError(err error, msg string) {
	log.Error().Err(err).Msg(msg)

	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetTag("module", moduleName)
	hub.CaptureException(err)
}
