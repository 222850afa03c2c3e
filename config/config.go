package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port      string `envconfig:"PORT" default:"8080"`
		LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
		LogFormat string `envconfig:"LOG_FORMAT" default:"json"` // json or text
		// Response cache
		CacheTTLInSeconds                  int `envconfig:"CACHE_TTL" default:"3600"`
		CacheMaxSize                       int `envconfig:"CACHE_MAX_SIZE" default:"1000"`
		CacheInvalidationIntervalInSeconds int `envconfig:"CACHE_INVALIDATION_INTERVAL_IN_SECONDS" default:"300"`
		// Rate limiting (sliding window)
		RateLimitPerMinute     int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"` // per client IP
		RateLimitPerUser       int `envconfig:"RATE_LIMIT_PER_USER" default:"100"`  // per X-User-ID
		RateLimitWindowSeconds int `envconfig:"RATE_LIMIT_WINDOW_SECONDS" default:"60"`
		// Catalog API
		AniListAPIURL           string `envconfig:"ANILIST_API_URL" default:"https://graphql.anilist.co"`
		CatalogTimeoutSeconds   int    `envconfig:"CATALOG_TIMEOUT_SECONDS" default:"30"`
		CatalogRatePerMinute    int    `envconfig:"CATALOG_RATE_PER_MINUTE" default:"90"`
		CatalogMaxConcurrency   int    `envconfig:"CATALOG_MAX_CONCURRENCY" default:"4"`
		CircuitBreakerThreshold int    `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`      // Consecutive failures before circuit opens
		CircuitBreakerCooldown  int    `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"60"` // Seconds to wait before a test request
		// Genre scoring
		GenreThreshold float64 `envconfig:"GENRE_THRESHOLD" default:"0.3"`
		GenreFallback  string  `envconfig:"GENRE_FALLBACK" default:"action"`
		GenreTablePath string  `envconfig:"GENRE_TABLE_PATH" default:""`
		DefaultPerPage int     `envconfig:"DEFAULT_PER_PAGE" default:"10"`
		MaxPerPage     int     `envconfig:"MAX_PER_PAGE" default:"50"`
		// Operations
		AdminToken         string   `envconfig:"ADMIN_TOKEN" default:""`
		APIKey             string   `envconfig:"API_KEY" default:""` // bypasses rate limiting when sent as X-API-Key
		StatsDBPath        string   `envconfig:"STATS_DB_PATH" default:"./data/stats.db"`
		StatsSaveInterval  int      `envconfig:"STATS_SAVE_INTERVAL_SECONDS" default:"300"`
		CacheSnapshotPath  string   `envconfig:"CACHE_SNAPSHOT_PATH" default:"./data/cache.db"`
		CORSAllowedOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
	}

	// Operator alerts; each channel is enabled by its first field being set.
	Notifier struct {
		NtfyTopic            string `envconfig:"NOTIFIER_NTFY_TOPIC" default:""`
		NtfyServer           string `envconfig:"NOTIFIER_NTFY_SERVER" default:"https://ntfy.sh"`
		TelegramBotToken     string `envconfig:"NOTIFIER_TELEGRAM_BOT_TOKEN" default:""`
		TelegramChatID       string `envconfig:"NOTIFIER_TELEGRAM_CHAT_ID" default:""`
		SMTPHost             string `envconfig:"NOTIFIER_SMTP_HOST" default:""`
		SMTPPort             string `envconfig:"NOTIFIER_SMTP_PORT" default:"587"`
		SMTPUsername         string `envconfig:"NOTIFIER_SMTP_USERNAME" default:""`
		SMTPPassword         string `envconfig:"NOTIFIER_SMTP_PASSWORD" default:""`
		FromEmail            string `envconfig:"NOTIFIER_FROM_EMAIL" default:""`
		ToEmail              string `envconfig:"NOTIFIER_TO_EMAIL" default:""`
		AlertCooldownMinutes int    `envconfig:"NOTIFIER_ALERT_COOLDOWN_MINUTES" default:"15"`
	}

	FeatureFlags struct {
		CacheCompression bool `envconfig:"FF_CACHE_COMPRESSION" default:"false"`
		CountCacheHits   bool `envconfig:"FF_COUNT_CACHE_HITS" default:"true"` // cache hits count against the rate limit
	}
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}

// CacheTTL returns the response cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Configuration.CacheTTLInSeconds) * time.Second
}

// RateLimitWindow returns the sliding window length.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Configuration.RateLimitWindowSeconds) * time.Second
}

// CatalogTimeout returns the per-query timeout for catalog calls.
func (c Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Configuration.CatalogTimeoutSeconds) * time.Second
}
