package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"anime-recs-api/cache"
	"anime-recs-api/circuitbreaker"
	"anime-recs-api/config"
	"anime-recs-api/logcolors"
	"anime-recs-api/metrics"
	"anime-recs-api/middleware"
	"anime-recs-api/services/catalog"
	"anime-recs-api/services/genre"
	"anime-recs-api/services/nlp"
	"anime-recs-api/services/notifier"
	"anime-recs-api/services/recommend"
	"anime-recs-api/stats"

	log "github.com/sirupsen/logrus"
)

const limiterSweepInterval = time.Minute

var errSnapshotDisabled = errors.New("cache snapshots are disabled (CACHE_SNAPSHOT_PATH is empty)")

func setupLogging(c config.Config) {
	if strings.EqualFold(c.Configuration.LogFormat, "text") {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	log.SetOutput(os.Stdout)

	level, err := log.ParseLevel(c.Configuration.LogLevel)
	if err != nil {
		log.Warnf("%s Unknown LOG_LEVEL %q, using info", logcolors.LogConfig, c.Configuration.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func loadGenreTable(path string) (*genre.Table, error) {
	if path == "" {
		log.Infof("%s Using built-in genre table", logcolors.LogGenre)
		return genre.DefaultTable(), nil
	}

	table, err := genre.LoadTable(path)
	if err != nil {
		return nil, err
	}
	log.Infof("%s Loaded %d genres from %s: %s", logcolors.LogGenre, table.Len(), path, strings.Join(table.Labels(), ", "))
	return table, nil
}

// newServer builds every component from configuration. source replaces the
// AniList client when non-nil.
func newServer(c config.Config, source catalog.Source) (*server, error) {
	cfg := c.Configuration

	table, err := loadGenreTable(cfg.GenreTablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load genre table: %w", err)
	}

	scorer, err := genre.NewScorer(table, cfg.GenreThreshold, cfg.GenreFallback)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare genre scorer: %w", err)
	}

	events := notifier.NewEventBus()
	cooldown := time.Duration(cfg.CircuitBreakerCooldown) * time.Second

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:      "catalog",
		Threshold: cfg.CircuitBreakerThreshold,
		Cooldown:  cooldown,
		// Publish is asynchronous, so it is safe under the breaker lock.
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.SetCircuitBreakerState(name, int(to))
			switch {
			case to == circuitbreaker.StateOpen && from == circuitbreaker.StateClosed:
				events.PublishCircuitBreakerOpen(name, cfg.CircuitBreakerThreshold, cooldown)
			case to == circuitbreaker.StateClosed:
				events.PublishCircuitBreakerRecovered(name)
			}
		},
	})
	metrics.SetCircuitBreakerState(breaker.Name(), int(breaker.State()))

	if source == nil {
		source = catalog.NewAniListClient(catalog.ClientConfig{
			Endpoint:      cfg.AniListAPIURL,
			Timeout:       c.CatalogTimeout(),
			RatePerMinute: cfg.CatalogRatePerMinute,
			Breaker:       breaker,
		})
	}

	responseCache := cache.New(c.CacheTTL(), cfg.CacheMaxSize, c.FeatureFlags.CacheCompression)

	recommender, err := recommend.New(recommend.Config{
		Extractor: nlp.NewExtractor(table.Vocabulary(), nil),
		Scorer:    scorer,
		Aggregator: catalog.NewAggregator(source, catalog.AggregatorConfig{
			Timeout:        c.CatalogTimeout(),
			MaxConcurrency: cfg.CatalogMaxConcurrency,
		}),
		Cache:          responseCache,
		Threshold:      cfg.GenreThreshold,
		DefaultPerPage: cfg.DefaultPerPage,
		MaxPerPage:     cfg.MaxPerPage,
		OnOutage: func(text string, failed []*catalog.QueryError) {
			genres := make([]string, len(failed))
			for i, f := range failed {
				genres[i] = f.Genre
			}
			events.PublishCatalogOutage(text, genres, failed[0].Error())
		},
	})
	if err != nil {
		return nil, err
	}

	return &server{
		conf:        c,
		recommender: recommender,
		scorer:      scorer,
		cache:       responseCache,
		clients:     middleware.NewSlidingWindowLimiter(cfg.RateLimitPerMinute, c.RateLimitWindow()),
		users:       middleware.NewSlidingWindowLimiter(cfg.RateLimitPerUser, c.RateLimitWindow()),
		breaker:     breaker,
		events:      events,
	}, nil
}

// buildNotifiers returns one notifier per configured alert channel.
func buildNotifiers(c config.Config) []notifier.Notifier {
	n := c.Notifier
	var notifiers []notifier.Notifier

	if n.SMTPHost != "" {
		notifiers = append(notifiers, &notifier.EmailNotifier{
			SMTPHost:     n.SMTPHost,
			SMTPPort:     n.SMTPPort,
			SMTPUsername: n.SMTPUsername,
			SMTPPassword: n.SMTPPassword,
			FromEmail:    n.FromEmail,
			ToEmail:      n.ToEmail,
		})
		log.Infof("%s Email alerts enabled", logcolors.LogNotifier)
	}

	if n.TelegramBotToken != "" {
		notifiers = append(notifiers, &notifier.TelegramNotifier{
			BotToken: n.TelegramBotToken,
			ChatID:   n.TelegramChatID,
		})
		log.Infof("%s Telegram alerts enabled", logcolors.LogNotifier)
	}

	if n.NtfyTopic != "" {
		notifiers = append(notifiers, &notifier.NtfyNotifier{
			Topic:  n.NtfyTopic,
			Server: n.NtfyServer,
		})
		log.Infof("%s Ntfy alerts enabled (topic: %s)", logcolors.LogNotifier, n.NtfyTopic)
	}

	return notifiers
}

// startBackgroundJobs starts alerting and the cache and limiter janitors,
// restores the cache snapshot and, when a stats path is configured, stats
// persistence. Janitors stop with ctx.
func (s *server) startBackgroundJobs(ctx context.Context) {
	cfg := s.conf.Configuration

	if notifiers := buildNotifiers(s.conf); len(notifiers) > 0 {
		notifier.NewAlertHandler(notifier.AlertConfig{
			Notifiers:        notifiers,
			CooldownDuration: time.Duration(s.conf.Notifier.AlertCooldownMinutes) * time.Minute,
		}).Start(s.events)
	} else {
		log.Infof("%s No alert channels configured", logcolors.LogNotifier)
	}

	if cfg.CacheSnapshotPath != "" {
		if n, err := s.cache.LoadSnapshot(cfg.CacheSnapshotPath); err != nil {
			log.Warnf("%s Failed to restore cache snapshot: %v", logcolors.LogCacheSnapshot, err)
		} else {
			metrics.CacheEntries.Set(float64(s.cache.Stats().Size))
			log.Debugf("%s %d entries restored", logcolors.LogCacheSnapshot, n)
		}
	}

	s.cache.StartJanitor(ctx, time.Duration(cfg.CacheInvalidationIntervalInSeconds)*time.Second)
	middleware.StartLimiterJanitor(ctx, limiterSweepInterval, s.clients, s.users)

	if cfg.StatsDBPath == "" {
		log.Infof("%s STATS_DB_PATH not set, stats will not persist", logcolors.LogStats)
		return
	}

	store, err := stats.NewStore(cfg.StatsDBPath, nil)
	if err != nil {
		log.Warnf("%s Failed to open stats store, stats will not persist: %v", logcolors.LogStats, err)
		return
	}
	if err := store.Load(); err != nil {
		log.Warnf("%s Failed to load persisted stats: %v", logcolors.LogStats, err)
	}

	interval := time.Duration(cfg.StatsSaveInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	store.StartAutoSave(interval)
	s.statsStore = store
}

// saveCacheSnapshot writes the cache to the configured snapshot path.
func (s *server) saveCacheSnapshot() (int, error) {
	path := s.conf.Configuration.CacheSnapshotPath
	if path == "" {
		return 0, errSnapshotDisabled
	}
	n, err := s.cache.SaveSnapshot(path)
	if err != nil {
		s.events.PublishCacheSnapshotFailed(err)
	}
	return n, err
}

// close snapshots the cache and flushes stats to disk.
func (s *server) close() {
	if s.conf.Configuration.CacheSnapshotPath != "" {
		if _, err := s.saveCacheSnapshot(); err != nil {
			log.Warnf("%s Failed to save cache snapshot: %v", logcolors.LogCacheSnapshot, err)
		}
	}

	if s.statsStore == nil {
		return
	}
	if err := s.statsStore.Close(); err != nil {
		log.Warnf("%s Failed to close stats store: %v", logcolors.LogStats, err)
	}
}
