package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingToken      = errors.New("DISCORD_TOKEN is required")
	ErrMissingCacheGuild = errors.New("EMOTE_CACHE_GUILD_ID is required")
)

type Config struct {
	Environment string
	LogLevel    string
	Discord     struct {
		Token          string
		CacheGuildID   string
		CommandGuildID string
		OwnerIDs       []string
	}
	Server struct {
		Port           string
		AllowedOrigins []string
		RateLimitRPS   int
	}
	Database struct {
		URL string
	}
	Redis struct {
		URL string
	}
	Storage struct {
		Endpoint     string
		AccessKey    string
		SecretKey    string
		UseSSL       bool
		BucketEmotes string
	}
	JWT struct {
		Secret    string
		AccessTTL time.Duration
	}
	Encryption struct {
		Key string
	}
	Sentry struct {
		DSN string
	}
	Emoter EmoterConfig
}

// EmoterConfig holds the tunables of the emote pipeline.
type EmoterConfig struct {
	CheckInterval        time.Duration
	CollectionStaleAfter time.Duration
	CollectionMaxPages   int
	CacheStaleAfter      time.Duration
	CacheTopN            int
	CacheSliceBudget     int
	BufferSize           int
	CellWidth            int
	CellHeight           int
	MaxCells             int
	MaxImageBytes        int
	RetainOnDemand       bool
	AttachSingle         bool
	RetryBase            time.Duration
	RetryMax             time.Duration
	UploadInterval       time.Duration
	UploadBurst          int
	BTTVBaseURL          string
	FFZBaseURL           string
	SevenTVFallback      bool
	SevenTVBaseURL       string
	SevenTVCDNURL        string
}

var AppConfig *Config

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{}

	cfg.Environment = getEnv("APP_ENV", "development")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	// Discord
	cfg.Discord.Token = getEnv("DISCORD_TOKEN", "")
	cfg.Discord.CacheGuildID = getEnv("EMOTE_CACHE_GUILD_ID", "")
	cfg.Discord.CommandGuildID = getEnv("COMMAND_GUILD_ID", "")
	cfg.Discord.OwnerIDs = getEnvSlice("OWNER_IDS", nil)

	// Server
	cfg.Server.Port = getEnv("PORT", "8080")
	cfg.Server.AllowedOrigins = getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"})
	cfg.Server.RateLimitRPS = getEnvInt("RATE_LIMIT_RPS", 20)

	// Database
	postgresUser := getEnv("POSTGRES_USER", "nbot")
	postgresPass := getEnv("POSTGRES_PASSWORD", "nbot")
	postgresHost := getEnv("POSTGRES_HOST", "localhost")
	postgresPort := getEnv("POSTGRES_PORT", "5432")
	postgresDB := getEnv("POSTGRES_DB", "nbot")
	postgresSSL := getEnv("POSTGRES_SSLMODE", "disable")
	cfg.Database.URL = getEnv("DATABASE_URL", "postgres://"+postgresUser+":"+postgresPass+"@"+postgresHost+":"+postgresPort+"/"+postgresDB+"?sslmode="+postgresSSL)

	// Redis
	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")
	cfg.Redis.URL = getEnv("REDIS_URL", "redis://"+redisHost+":"+redisPort)

	// Storage
	cfg.Storage.Endpoint = getEnv("MINIO_ENDPOINT", "localhost:9000")
	cfg.Storage.AccessKey = getEnv("MINIO_ACCESS_KEY", "nbot_minio")
	cfg.Storage.SecretKey = getEnv("MINIO_SECRET_KEY", "nbot_minio_secret")
	cfg.Storage.UseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.Storage.BucketEmotes = getEnv("MINIO_BUCKET_EMOTES", "emotes")

	// JWT
	cfg.JWT.Secret = getEnv("JWT_SECRET", "change-me-admin-secret")
	cfg.JWT.AccessTTL = getEnvDuration("JWT_ACCESS_TOKEN_EXPIRY", 720*time.Hour)

	// Encryption
	cfg.Encryption.Key = getEnv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

	cfg.Sentry.DSN = getEnv("SENTRY_DSN", "")

	cfg.Emoter = EmoterConfig{
		CheckInterval:        getEnvDuration("EMOTER_CHECK_INTERVAL", time.Hour),
		CollectionStaleAfter: getEnvDuration("EMOTER_COLLECTION_STALE_AFTER", 7*24*time.Hour),
		CollectionMaxPages:   getEnvInt("EMOTER_COLLECTION_MAX_PAGES", 200),
		CacheStaleAfter:      getEnvDuration("EMOTER_CACHE_STALE_AFTER", 24*time.Hour),
		CacheTopN:            getEnvInt("EMOTER_CACHE_TOP_N", 40),
		CacheSliceBudget:     getEnvInt("EMOTER_CACHE_SLICE_BUDGET", 40),
		BufferSize:           getEnvInt("EMOTER_BUFFER_SIZE", 8),
		CellWidth:            getEnvInt("EMOTER_CELL_WIDTH", 48),
		CellHeight:           getEnvInt("EMOTER_CELL_HEIGHT", 48),
		MaxCells:             getEnvInt("EMOTER_MAX_CELLS", 3),
		MaxImageBytes:        getEnvInt("EMOTER_MAX_IMAGE_BYTES", 256*1024),
		RetainOnDemand:       getEnvBool("EMOTER_RETAIN_ON_DEMAND", true),
		AttachSingle:         getEnvBool("EMOTER_ATTACH_SINGLE", true),
		RetryBase:            getEnvDuration("EMOTER_RETRY_BASE", 15*time.Minute),
		RetryMax:             getEnvDuration("EMOTER_RETRY_MAX", 24*time.Hour),
		UploadInterval:       getEnvDuration("EMOTER_UPLOAD_INTERVAL", 500*time.Millisecond),
		UploadBurst:          getEnvInt("EMOTER_UPLOAD_BURST", 5),
		BTTVBaseURL:          getEnv("BTTV_BASE_URL", "https://api.betterttv.net"),
		FFZBaseURL:           getEnv("FFZ_BASE_URL", "https://api.frankerfacez.com"),
		SevenTVFallback:      getEnvBool("EMOTER_SEVENTV_FALLBACK", true),
		SevenTVBaseURL:       getEnv("SEVENTV_BASE_URL", "https://7tv.io"),
		SevenTVCDNURL:        getEnv("SEVENTV_CDN_URL", "https://cdn.7tv.app"),
	}

	AppConfig = cfg
	return cfg, nil
}

// Validate reports settings the bot cannot start without.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return ErrMissingToken
	}
	if c.Discord.CacheGuildID == "" {
		return ErrMissingCacheGuild
	}
	return nil
}

// IsOwner reports whether the given user may run owner-only commands.
func (c *Config) IsOwner(userID string) bool {
	for _, id := range c.Discord.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
