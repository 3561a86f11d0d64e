package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/config"
	"github.com/zentra/nbot/internal/metrics"
	"github.com/zentra/nbot/internal/platform/discord"
	"github.com/zentra/nbot/internal/services/catalog"
	"github.com/zentra/nbot/internal/services/collection"
	"github.com/zentra/nbot/internal/services/directory"
	"github.com/zentra/nbot/internal/services/emotecache"
	"github.com/zentra/nbot/internal/services/emoter"
	"github.com/zentra/nbot/internal/services/events"
	"github.com/zentra/nbot/internal/services/rewriter"
	"github.com/zentra/nbot/internal/services/synclog"
	"github.com/zentra/nbot/internal/services/usage"
	"github.com/zentra/nbot/internal/services/webhook"
	"github.com/zentra/nbot/pkg/database"
	"github.com/zentra/nbot/pkg/encryption"
	"github.com/zentra/nbot/pkg/imaging"
	"github.com/zentra/nbot/pkg/retry"
	"github.com/zentra/nbot/pkg/storage"
)

// webhookCacheTTL bounds how long a channel webhook is trusted before the
// store is consulted again.
const webhookCacheTTL = time.Hour

// app holds every wired service of one nbot process.
type app struct {
	cfg     *config.Config
	redis   *redis.Client
	session *discordgo.Session
	metrics *metrics.EmoterMetrics
	hub     *events.Hub

	directory  *directory.Service
	cache      *emotecache.Cache
	cacheSync  *emotecache.Synchronizer
	collection *collection.Service
	module     *emoter.Module
}

func newApp(cfg *config.Config) (*app, error) {
	db, err := database.NewPostgresPool(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.EnsureSchema(ctx, db); err != nil {
		database.Close()
		return nil, err
	}

	redisClient, err := database.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Without object storage every image comes straight from the CDN.
	minioClient, err := storage.ConnectMinIO(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("MinIO unavailable, emote images will not be stored")
		minioClient = nil
	}

	sealer, err := encryption.NewSealer(cfg.Encryption.Key)
	if err != nil {
		database.Close()
		database.CloseRedis()
		return nil, fmt.Errorf("failed to set up encryption: %w", err)
	}

	m, err := metrics.NewEmoterMetrics(prometheus.NewRegistry())
	if err != nil {
		database.Close()
		database.CloseRedis()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		database.Close()
		database.CloseRedis()
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	e := cfg.Emoter
	schedule := retry.NewSchedule(e.RetryBase, e.RetryMax)
	hub := events.NewHub(redisClient)
	adapter := discord.NewAdapter(session, cfg.Discord.CacheGuildID, e.UploadInterval, e.UploadBurst)
	images := storage.NewImageStore(minioClient, cfg.Storage.BucketEmotes)

	directoryService := directory.NewService(db)
	usageService := usage.NewService(redisClient)
	syncLogs := synclog.NewService(db)

	collectionService := collection.NewService(
		directoryService,
		syncLogs,
		[]catalog.Catalog{
			catalog.NewBTTV(e.BTTVBaseURL, e.CollectionMaxPages),
			catalog.NewFFZ(e.FFZBaseURL, e.CollectionMaxPages),
		},
		e.CollectionStaleAfter,
		schedule,
		collection.WithMetrics(m),
		collection.WithNotifier(hub),
	)

	cache := emotecache.New(adapter, images, emotecache.Options{
		Buffer: e.BufferSize,
		Imaging: imaging.Options{
			CellWidth:  e.CellWidth,
			CellHeight: e.CellHeight,
			MaxCells:   e.MaxCells,
			MaxBytes:   e.MaxImageBytes,
		},
	}, emotecache.WithMetrics(m), emotecache.WithNotifier(hub))

	cacheSync := emotecache.NewSynchronizer(cache, usageService, directoryService, syncLogs, emotecache.SyncConfig{
		TopN:        e.CacheTopN,
		SliceBudget: e.CacheSliceBudget,
		StaleAfter:  e.CacheStaleAfter,
		Schedule:    schedule,
	})

	webhooks := webhook.NewService(adapter, webhook.NewPostgresStore(db, sealer), webhookCacheTTL)

	var fallback rewriter.EmoteFinder
	if e.SevenTVFallback {
		fallback = catalog.NewSevenTV(e.SevenTVBaseURL, e.SevenTVCDNURL)
	}

	rewriterService := rewriter.NewService(rewriter.Deps{
		Cache:     cache,
		Directory: directoryService,
		Usage:     usageService,
		Poster:    webhooks,
		Deleter:   adapter,
		Images:    images,
		Fallback:  fallback,
		Metrics:   m,
		Notifier:  hub,
	}, rewriter.Options{
		RetainOnDemand: e.RetainOnDemand,
		AttachSingle:   e.AttachSingle,
	})

	module := emoter.NewModule(emoter.Deps{
		Rewriter:   rewriterService,
		Converter:  adapter,
		Collection: collectionService,
		CacheSync:  cacheSync,
		Cache:      cache,
		Directory:  directoryService,
		Usage:      usageService,
		SyncLogs:   syncLogs,
		Images:     images,
		IsOwner:    cfg.IsOwner,
	}, emoter.Options{
		CheckInterval: e.CheckInterval,
		Buffer:        e.BufferSize,
	})

	return &app{
		cfg:        cfg,
		redis:      redisClient,
		session:    session,
		metrics:    m,
		hub:        hub,
		directory:  directoryService,
		cache:      cache,
		cacheSync:  cacheSync,
		collection: collectionService,
		module:     module,
	}, nil
}

func (a *app) Close() {
	database.CloseRedis()
	database.Close()
}
