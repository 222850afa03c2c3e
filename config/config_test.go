package config

import (
	"os"
	"testing"
	"time"
)

func TestConfigDefaultValues(t *testing.T) {
	// Clear any existing env vars that might interfere
	envVars := []string{
		"CACHE_TTL",
		"CACHE_MAX_SIZE",
		"RATE_LIMIT_PER_MINUTE",
		"RATE_LIMIT_PER_USER",
		"RATE_LIMIT_WINDOW_SECONDS",
		"ANILIST_API_URL",
		"CATALOG_TIMEOUT_SECONDS",
		"GENRE_THRESHOLD",
		"GENRE_FALLBACK",
		"FF_CACHE_COMPRESSION",
		"FF_COUNT_CACHE_HITS",
	}

	// Store original values
	originalValues := make(map[string]string)
	for _, key := range envVars {
		originalValues[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	defer func() {
		// Restore original values
		for key, value := range originalValues {
			if value != "" {
				os.Setenv(key, value)
			}
		}
	}()

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{
			name:     "CacheTTLInSeconds default",
			got:      cfg.Configuration.CacheTTLInSeconds,
			expected: 3600,
		},
		{
			name:     "CacheMaxSize default",
			got:      cfg.Configuration.CacheMaxSize,
			expected: 1000,
		},
		{
			name:     "RateLimitPerMinute default",
			got:      cfg.Configuration.RateLimitPerMinute,
			expected: 60,
		},
		{
			name:     "RateLimitPerUser default",
			got:      cfg.Configuration.RateLimitPerUser,
			expected: 100,
		},
		{
			name:     "RateLimitWindowSeconds default",
			got:      cfg.Configuration.RateLimitWindowSeconds,
			expected: 60,
		},
		{
			name:     "AniListAPIURL default",
			got:      cfg.Configuration.AniListAPIURL,
			expected: "https://graphql.anilist.co",
		},
		{
			name:     "CatalogTimeoutSeconds default",
			got:      cfg.Configuration.CatalogTimeoutSeconds,
			expected: 30,
		},
		{
			name:     "GenreThreshold default",
			got:      cfg.Configuration.GenreThreshold,
			expected: 0.3,
		},
		{
			name:     "GenreFallback default",
			got:      cfg.Configuration.GenreFallback,
			expected: "action",
		},
		{
			name:     "CacheCompression default",
			got:      cfg.FeatureFlags.CacheCompression,
			expected: false,
		},
		{
			name:     "CountCacheHits default",
			got:      cfg.FeatureFlags.CountCacheHits,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("CACHE_MAX_SIZE", "5")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("RATE_LIMIT_PER_USER", "20")
	t.Setenv("GENRE_THRESHOLD", "0.5")
	t.Setenv("ADMIN_TOKEN", "test_token_123")
	t.Setenv("FF_CACHE_COMPRESSION", "true")
	t.Setenv("FF_COUNT_CACHE_HITS", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"CacheTTLInSeconds override", cfg.Configuration.CacheTTLInSeconds, 120},
		{"CacheMaxSize override", cfg.Configuration.CacheMaxSize, 5},
		{"RateLimitPerMinute override", cfg.Configuration.RateLimitPerMinute, 10},
		{"RateLimitPerUser override", cfg.Configuration.RateLimitPerUser, 20},
		{"GenreThreshold override", cfg.Configuration.GenreThreshold, 0.5},
		{"AdminToken override", cfg.Configuration.AdminToken, "test_token_123"},
		{"CacheCompression override", cfg.FeatureFlags.CacheCompression, true},
		{"CountCacheHits override", cfg.FeatureFlags.CountCacheHits, false},
		{"CORS origins count", len(cfg.Configuration.CORSAllowedOrigins), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	t.Setenv("CACHE_TTL", "90")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	t.Setenv("CATALOG_TIMEOUT_SECONDS", "5")

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.CacheTTL() != 90*time.Second {
		t.Errorf("Expected CacheTTL 90s, got %v", cfg.CacheTTL())
	}
	if cfg.RateLimitWindow() != 30*time.Second {
		t.Errorf("Expected RateLimitWindow 30s, got %v", cfg.RateLimitWindow())
	}
	if cfg.CatalogTimeout() != 5*time.Second {
		t.Errorf("Expected CatalogTimeout 5s, got %v", cfg.CatalogTimeout())
	}
}

func TestInvalidValueReturnsError(t *testing.T) {
	t.Setenv("CACHE_MAX_SIZE", "not-a-number")

	if _, err := load(); err == nil {
		t.Error("Expected error for non-numeric CACHE_MAX_SIZE")
	}
}

func TestGet(t *testing.T) {
	cfg := Get()
	// Package-level config is loaded once; a zero port means envconfig never ran
	if cfg.Configuration.Port == "" && cfg.Configuration.CacheMaxSize == 0 {
		t.Error("Expected Get() to return a loaded configuration")
	}
}

func TestConfigNotifierDefaults(t *testing.T) {
	for _, key := range []string{"NOTIFIER_NTFY_TOPIC", "NOTIFIER_NTFY_SERVER", "NOTIFIER_SMTP_PORT", "NOTIFIER_ALERT_COOLDOWN_MINUTES", "CACHE_SNAPSHOT_PATH"} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			defer os.Setenv(key, v)
		}
	}

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	n := cfg.Notifier
	if n.NtfyTopic != "" {
		t.Errorf("Expected ntfy disabled by default, got topic %q", n.NtfyTopic)
	}
	if n.NtfyServer != "https://ntfy.sh" {
		t.Errorf("NtfyServer = %q, want https://ntfy.sh", n.NtfyServer)
	}
	if n.SMTPPort != "587" {
		t.Errorf("SMTPPort = %q, want 587", n.SMTPPort)
	}
	if n.AlertCooldownMinutes != 15 {
		t.Errorf("AlertCooldownMinutes = %d, want 15", n.AlertCooldownMinutes)
	}
	if cfg.Configuration.CacheSnapshotPath != "./data/cache.db" {
		t.Errorf("CacheSnapshotPath = %q, want ./data/cache.db", cfg.Configuration.CacheSnapshotPath)
	}
}
