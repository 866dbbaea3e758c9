package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Collector CollectorConfig
	Secrets   SecretsConfig
	Moles     MolesConfig
	Storage   StorageConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 3000
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the per-worker Chromium instances.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: true

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// UserAgent is sent by every session.
	UserAgent string

	// ViewportWidth and ViewportHeight size the page.
	ViewportWidth  int // default: 1280
	ViewportHeight int // default: 720

	// Stealth injects go-rod/stealth before navigation.
	Stealth bool // default: true

	// BlockedURLs adds URL patterns the browser must never fetch, on top
	// of the built-in media and tracker lists.
	BlockedURLs []string
}

// CollectorConfig controls orchestration and the capture loop.
type CollectorConfig struct {
	// MaxConcurrency is the hard cap on browsers per run.
	MaxConcurrency int // default: 8

	// ConcurrencyUnit is the fixed divisor for the per-worker target.
	// It is deliberately independent of the number of launched workers.
	ConcurrencyUnit int // default: 4

	// DefaultTarget is used when a request omits target_count.
	DefaultTarget int // default: 10

	// DefaultRegion is used when a request omits proxy_region.
	DefaultRegion string // default: "IL"

	// MaxScrolls caps scroll iterations per worker.
	MaxScrolls int // default: 200

	// StaggerEvery delays every Nth worker (1-based) by StaggerDelay.
	StaggerEvery int           // default: 4
	StaggerDelay time.Duration // default: 1.5s

	// WorkerTimeout bounds one worker end to end.
	WorkerTimeout time.Duration // default: 45m

	// ActionTimeout bounds a single browser action (locate, click, attribute).
	ActionTimeout time.Duration // default: 10s

	// NavigationTimeout bounds the initial navigation.
	NavigationTimeout time.Duration // default: 60s

	// NavigationSettle is the pause after navigation before scrolling.
	NavigationSettle time.Duration // default: 5s

	// ScrollPause is the upper bound of the random pause after a scroll.
	ScrollPause time.Duration // default: 1s

	// ScrollBackoff is the upper bound of the random pause after a failed scroll.
	ScrollBackoff time.Duration // default: 3s
}

// SecretsConfig selects where the base proxy credential comes from.
type SecretsConfig struct {
	// Backend is "aws", "keyring" or "env"; default: "aws".
	Backend string

	// Env is the deployment environment prefix; default: "dev".
	Env string

	// ProxySecretID overrides the derived "<env>/feedharvest/proxy" id.
	ProxySecretID string

	// AWSRegion is the Secrets Manager region; default: "eu-north-1".
	AWSRegion string

	// KeyringService is the OS keyring service name; default: "feedharvest".
	KeyringService string

	// EnvVar names the variable holding the JSON secret for Backend "env".
	EnvVar string // default: "FEEDHARVEST_PROXY_SECRET"
}

// ProxySecretName returns the secret id to fetch.
func (s SecretsConfig) ProxySecretName() string {
	if s.ProxySecretID != "" {
		return s.ProxySecretID
	}
	return s.Env + "/feedharvest/proxy"
}

// MolesConfig controls the session-state directory.
type MolesConfig struct {
	Dir string // default: "./secrets"
}

// StorageConfig selects the result store backend.
type StorageConfig struct {
	// UseLocal stores results on disk instead of the remote store.
	UseLocal bool // default: false

	// Dir is the local result directory.
	Dir string // default: "./data"

	// Remote is "s3" or "mongo"; default: "s3".
	Remote string

	Bucket    string // default: "feedharvest-results"
	AWSRegion string // default: "eu-north-1"

	MongoURI        string // default: "mongodb://localhost:27017"
	MongoDatabase   string // default: "feedharvest"
	MongoCollection string // default: "result_sets"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CacheConfig controls the loaded result-set cache.
type CacheConfig struct {
	MaxEntries int           // default: 100
	TTL        time.Duration // default: 1h
}

// WebhookConfig controls run completion notifications.
type WebhookConfig struct {
	// URL receives collection.completed events; empty disables delivery.
	URL    string
	Secret string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("FEEDHARVEST_HOST", "0.0.0.0"),
			Port: envIntOr("FEEDHARVEST_PORT", envIntOr("PORT", 3000)),
			Mode: envOr("FEEDHARVEST_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:       envBoolOr("FEEDHARVEST_HEADLESS", true),
			NoSandbox:      envBoolOr("FEEDHARVEST_NO_SANDBOX", true),
			BrowserBin:     os.Getenv("FEEDHARVEST_BROWSER_BIN"),
			UserAgent:      envOr("FEEDHARVEST_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
			ViewportWidth:  envIntOr("FEEDHARVEST_VIEWPORT_WIDTH", 1280),
			ViewportHeight: envIntOr("FEEDHARVEST_VIEWPORT_HEIGHT", 720),
			Stealth:        envBoolOr("FEEDHARVEST_STEALTH", true),
			BlockedURLs:    envSliceOr("FEEDHARVEST_BLOCKED_URLS", nil),
		},
		Collector: CollectorConfig{
			MaxConcurrency:    envIntOr("FEEDHARVEST_MAX_CONCURRENCY", 8),
			ConcurrencyUnit:   envIntOr("FEEDHARVEST_CONCURRENCY_UNIT", 4),
			DefaultTarget:     envIntOr("FEEDHARVEST_DEFAULT_TARGET", 10),
			DefaultRegion:     envOr("FEEDHARVEST_DEFAULT_REGION", "IL"),
			MaxScrolls:        envIntOr("FEEDHARVEST_MAX_SCROLLS", 200),
			StaggerEvery:      envIntOr("FEEDHARVEST_STAGGER_EVERY", 4),
			StaggerDelay:      envDurationOr("FEEDHARVEST_STAGGER_DELAY", 1500*time.Millisecond),
			WorkerTimeout:     envDurationOr("FEEDHARVEST_WORKER_TIMEOUT", 45*time.Minute),
			ActionTimeout:     envDurationOr("FEEDHARVEST_ACTION_TIMEOUT", 10*time.Second),
			NavigationTimeout: envDurationOr("FEEDHARVEST_NAV_TIMEOUT", 60*time.Second),
			NavigationSettle:  envDurationOr("FEEDHARVEST_NAV_SETTLE", 5*time.Second),
			ScrollPause:       envDurationOr("FEEDHARVEST_SCROLL_PAUSE", time.Second),
			ScrollBackoff:     envDurationOr("FEEDHARVEST_SCROLL_BACKOFF", 3*time.Second),
		},
		Secrets: SecretsConfig{
			Backend:        envOr("FEEDHARVEST_SECRETS_BACKEND", "aws"),
			Env:            envOr("ENV", "dev"),
			ProxySecretID:  os.Getenv("FEEDHARVEST_PROXY_SECRET_ID"),
			AWSRegion:      envOr("FEEDHARVEST_SECRETS_REGION", "eu-north-1"),
			KeyringService: envOr("FEEDHARVEST_KEYRING_SERVICE", "feedharvest"),
			EnvVar:         envOr("FEEDHARVEST_PROXY_SECRET_VAR", "FEEDHARVEST_PROXY_SECRET"),
		},
		Moles: MolesConfig{
			Dir: envOr("FEEDHARVEST_MOLES_DIR", "./secrets"),
		},
		Storage: StorageConfig{
			UseLocal:        envBoolOr("FEEDHARVEST_USE_LOCAL_STORAGE", envBoolOr("USE_LOCAL_STORAGE", false)),
			Dir:             envOr("FEEDHARVEST_DATA_DIR", "./data"),
			Remote:          envOr("FEEDHARVEST_REMOTE_STORE", "s3"),
			Bucket:          envOr("FEEDHARVEST_S3_BUCKET", "feedharvest-results"),
			AWSRegion:       envOr("FEEDHARVEST_S3_REGION", "eu-north-1"),
			MongoURI:        envOr("FEEDHARVEST_MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase:   envOr("FEEDHARVEST_MONGO_DB", "feedharvest"),
			MongoCollection: envOr("FEEDHARVEST_MONGO_COLLECTION", "result_sets"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("FEEDHARVEST_AUTH_ENABLED", true),
			APIKeys: envSliceOr("FEEDHARVEST_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("FEEDHARVEST_RATE_RPS", 5.0),
			Burst:             envIntOr("FEEDHARVEST_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("FEEDHARVEST_CACHE_MAX_ENTRIES", 100),
			TTL:        envDurationOr("FEEDHARVEST_CACHE_TTL", time.Hour),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("FEEDHARVEST_WEBHOOK_URL"),
			Secret: os.Getenv("FEEDHARVEST_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("FEEDHARVEST_LOG_LEVEL", "info"),
			Format: envOr("FEEDHARVEST_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
