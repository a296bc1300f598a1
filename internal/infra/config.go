package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Remote store modes
const (
	RemoteModeMemory    = "memory"
	RemoteModeWebSocket = "websocket"
)

// Cache backends
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// Config holds every setting of the tracker core.
// LoadConfig fills it from defaults, the YAML file and then environment variables.
type Config struct {
	SecretsPath string `yaml:"secrets_path"` // Optional; must exist when set

	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	MarketData struct {
		BaseURL    string `yaml:"base_url"`
		APIKey     string `yaml:"-"` // From secrets_path or TRACKER_COINGECKO_API_KEY
		VsCurrency string `yaml:"vs_currency"`
		TimeoutMS  int    `yaml:"timeout_ms"` // 0 = http.Client default
		RateLimit  struct {
			Burst     int     `yaml:"burst"`
			PerSecond float64 `yaml:"per_second"`
		} `yaml:"rate_limit"`
		Breaker struct {
			FailureThreshold int `yaml:"failure_threshold"`
			SuccessThreshold int `yaml:"success_threshold"`
			TimeoutSec       int `yaml:"timeout_sec"`
		} `yaml:"breaker"`
	} `yaml:"market_data"`

	Watchlist struct {
		RefreshIntervalSec int `yaml:"refresh_interval_sec"`
		InitialCount       int `yaml:"initial_count"`
		PickerCount        int `yaml:"picker_count"`
		SearchDebounceMS   int `yaml:"search_debounce_ms"`
	} `yaml:"watchlist"`

	Writer struct {
		MaxRetries  int `yaml:"max_retries"`
		BaseDelayMS int `yaml:"base_delay_ms"`
	} `yaml:"writer"`

	Remote struct {
		Mode   string `yaml:"mode"`
		WSURL  string `yaml:"ws_url"`
		UserID string `yaml:"user_id"`
	} `yaml:"remote"`

	Cache struct {
		Backend  string `yaml:"backend"`
		Path     string `yaml:"path"` // SQLite file; empty = <workspace>/data/cache.db
		RedisURL string `yaml:"redis_url"`
	} `yaml:"cache"`

	Debug struct {
		Addr string `yaml:"addr"` // Empty disables the debug server
	} `yaml:"debug"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "text" or "json"
	} `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = AppName
	cfg.App.Version = "dev"

	cfg.MarketData.BaseURL = "https://api.coingecko.com/api/v3"
	cfg.MarketData.VsCurrency = "usd"
	cfg.MarketData.RateLimit.Burst = 5
	cfg.MarketData.RateLimit.PerSecond = 0.5 // Public tier: ~30 calls/min
	cfg.MarketData.Breaker.FailureThreshold = 5
	cfg.MarketData.Breaker.SuccessThreshold = 1
	cfg.MarketData.Breaker.TimeoutSec = 60

	cfg.Watchlist.RefreshIntervalSec = 300
	cfg.Watchlist.InitialCount = 5
	cfg.Watchlist.PickerCount = 100
	cfg.Watchlist.SearchDebounceMS = 300

	cfg.Writer.MaxRetries = 3
	cfg.Writer.BaseDelayMS = 2000

	cfg.Remote.Mode = RemoteModeMemory
	cfg.Remote.UserID = "local"

	cfg.Cache.Backend = CacheBackendSQLite

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return &cfg
}

// LoadConfig reads the YAML file at path on top of DefaultConfig.
// A missing file is not an error; defaults and environment apply.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if cfg.SecretsPath != "" {
		secrets, err := LoadSecretConfig(cfg.SecretsPath)
		if err != nil {
			return nil, err
		}
		cfg.MarketData.APIKey = secrets.MarketData.APIKey
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.MarketData.BaseURL, "http://") && !strings.HasPrefix(c.MarketData.BaseURL, "https://") {
		return fmt.Errorf("invalid market data URL: %s", c.MarketData.BaseURL)
	}
	if c.MarketData.VsCurrency == "" {
		return fmt.Errorf("vs_currency is required")
	}
	if c.MarketData.TimeoutMS < 0 {
		return fmt.Errorf("timeout_ms must not be negative")
	}
	if c.MarketData.RateLimit.Burst <= 0 || c.MarketData.RateLimit.PerSecond <= 0 {
		return fmt.Errorf("rate limit burst and per_second must be positive")
	}

	if c.Watchlist.RefreshIntervalSec <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if c.Watchlist.InitialCount <= 0 {
		return fmt.Errorf("initial watchlist count must be positive")
	}

	if c.Writer.MaxRetries < 0 || c.Writer.BaseDelayMS <= 0 {
		return fmt.Errorf("invalid writer retry policy")
	}

	switch c.Remote.Mode {
	case RemoteModeMemory:
	case RemoteModeWebSocket:
		if !strings.HasPrefix(c.Remote.WSURL, "ws://") && !strings.HasPrefix(c.Remote.WSURL, "wss://") {
			return fmt.Errorf("invalid remote WS URL: %s", c.Remote.WSURL)
		}
	default:
		return fmt.Errorf("unknown remote mode: %s", c.Remote.Mode)
	}
	if c.Remote.UserID == "" {
		return fmt.Errorf("remote user_id is required")
	}

	switch c.Cache.Backend {
	case CacheBackendSQLite:
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis cache backend requires redis_url")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}

	return nil
}

// RefreshInterval returns the watchlist price refresh period.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Watchlist.RefreshIntervalSec) * time.Second
}

// WriteBaseDelay returns the first retry delay of investment writes.
func (c *Config) WriteBaseDelay() time.Duration {
	return time.Duration(c.Writer.BaseDelayMS) * time.Millisecond
}

// RequestTimeout returns the market-data HTTP timeout (0 = no client timeout).
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.MarketData.TimeoutMS) * time.Millisecond
}

// overrideWithEnv replaces config values with TRACKER_* environment variables when set.
// Environment variables win over the config file.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("TRACKER_MARKET_DATA_URL"); v != "" {
		cfg.MarketData.BaseURL = v
	}
	if v := os.Getenv("TRACKER_COINGECKO_API_KEY"); v != "" {
		cfg.MarketData.APIKey = v
	}
	if v := os.Getenv("TRACKER_REMOTE_MODE"); v != "" {
		cfg.Remote.Mode = v
	}
	if v := os.Getenv("TRACKER_REMOTE_WS_URL"); v != "" {
		cfg.Remote.WSURL = v
	}
	if v := os.Getenv("TRACKER_USER_ID"); v != "" {
		cfg.Remote.UserID = v
	}
	if v := os.Getenv("TRACKER_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
	}
	if v := os.Getenv("TRACKER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
