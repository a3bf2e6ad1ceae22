// Package config loads the engine configuration from a file plus
// WEATHER_EDGE_* environment overrides and projects it into the immutable
// model.Strategy the core consumes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atmx/weather-edge/internal/forecast"
	"github.com/atmx/weather-edge/internal/gamma"
	"github.com/atmx/weather-edge/internal/model"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Trading   StrategyConfig  `mapstructure:"strategy"`
	Cities    []CityConfig    `mapstructure:"cities"`
	Forecast  ForecastConfig  `mapstructure:"forecast"`
	Markets   MarketsConfig   `mapstructure:"markets"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StrategyConfig holds the trading tunables. Money fields are plain floats
// here and become decimals in Strategy().
type StrategyConfig struct {
	MinPrice            float64 `mapstructure:"min_price"`
	MaxPrice            float64 `mapstructure:"max_price"`
	MinLiquidity        float64 `mapstructure:"min_liquidity"`
	MinEdge             float64 `mapstructure:"min_edge"`
	KellyFraction       float64 `mapstructure:"kelly_fraction"`
	MaxEventExposure    float64 `mapstructure:"max_event_exposure"`
	MaxClusterExposure  float64 `mapstructure:"max_cluster_exposure"`
	MaxTotalExposure    float64 `mapstructure:"max_total_exposure"`
	Commission          float64 `mapstructure:"commission"`
	MinStake            float64 `mapstructure:"min_stake"`
	MinBankrollBuffer   float64 `mapstructure:"min_bankroll_buffer"`
	InitialBankroll     float64 `mapstructure:"initial_bankroll"`
	MaxTradesPerDay     int     `mapstructure:"max_trades_per_day"`
	DispersionThreshold float64 `mapstructure:"dispersion_threshold"`
	DispersionDamping   float64 `mapstructure:"dispersion_damping"`
}

// CityConfig is one tradable city.
type CityConfig struct {
	Name      string   `mapstructure:"name"`
	Aliases   []string `mapstructure:"aliases"`
	Latitude  float64  `mapstructure:"latitude"`
	Longitude float64  `mapstructure:"longitude"`
	Timezone  string   `mapstructure:"timezone"`
	Cluster   string   `mapstructure:"cluster"`
}

// ForecastConfig holds the forecast sources and sigma calibration.
type ForecastConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	ArchiveURL    string        `mapstructure:"archive_url"`
	Models        []string      `mapstructure:"models"`
	HorizonDays   int           `mapstructure:"horizon_days"`
	Window        int           `mapstructure:"calibration_window"`
	MinSamples    int           `mapstructure:"min_samples"`
	MinSigma      float64       `mapstructure:"min_sigma"`
	FallbackSigma float64       `mapstructure:"fallback_sigma"`
	SigmaTTL      time.Duration `mapstructure:"sigma_ttl"`
}

// MarketsConfig holds the market source configuration
type MarketsConfig struct {
	GammaAPIURL string   `mapstructure:"gamma_api_url"`
	Keywords    []string `mapstructure:"keywords"`
	TagSlug     string   `mapstructure:"tag_slug"`
	PageSize    int      `mapstructure:"page_size"`
	MaxPages    int      `mapstructure:"max_pages"`
}

// HTTPConfig applies to every outbound client.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff"`
	RPS        float64       `mapstructure:"rps"`
	Burst      int           `mapstructure:"burst"`
}

// StorageConfig selects where the ledger state lives.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	FilePath    string `mapstructure:"file_path"`
	AuditPath   string `mapstructure:"audit_path"`
	DatabaseURL string `mapstructure:"database_url"`
	StateKey    string `mapstructure:"state_key"`
}

// CacheConfig configures the sigma cache. An empty RedisURL keeps it in
// memory.
type CacheConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	Prefix   string `mapstructure:"prefix"`
}

// ExecutionConfig selects paper or live order placement.
type ExecutionConfig struct {
	Mode        string `mapstructure:"mode"`
	WebhookURL  string `mapstructure:"webhook_url"`
	WebhookPath string `mapstructure:"webhook_path"`
	Token       string `mapstructure:"token"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// EngineConfig holds cycle behavior.
type EngineConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Seed        uint64        `mapstructure:"seed"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CycleTimeout   time.Duration `mapstructure:"cycle_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. An empty
// path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// WEATHER_EDGE_STORAGE_DATABASE_URL overrides storage.database_url.
	v.SetEnvPrefix("WEATHER_EDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy.min_price", 0.05)
	v.SetDefault("strategy.max_price", 0.95)
	v.SetDefault("strategy.min_liquidity", 500.0)
	v.SetDefault("strategy.min_edge", 0.07)
	v.SetDefault("strategy.kelly_fraction", 0.10)
	v.SetDefault("strategy.max_event_exposure", 0.05)
	v.SetDefault("strategy.max_cluster_exposure", 0.10)
	v.SetDefault("strategy.max_total_exposure", 0.50)
	v.SetDefault("strategy.commission", 0.02)
	v.SetDefault("strategy.min_stake", 1.0)
	v.SetDefault("strategy.min_bankroll_buffer", 10.0)
	v.SetDefault("strategy.initial_bankroll", 30.0)
	v.SetDefault("strategy.max_trades_per_day", 3)
	v.SetDefault("strategy.dispersion_threshold", 3.0)
	v.SetDefault("strategy.dispersion_damping", 0.8)

	v.SetDefault("cities", defaultCities())

	cal := forecast.DefaultCalibration()
	v.SetDefault("forecast.base_url", forecast.DefaultForecastURL)
	v.SetDefault("forecast.archive_url", forecast.DefaultArchiveURL)
	v.SetDefault("forecast.models", []string{"best_match", "gfs_seamless", "ecmwf_ifs025"})
	v.SetDefault("forecast.horizon_days", forecast.DefaultHorizonDays)
	v.SetDefault("forecast.calibration_window", cal.Window)
	v.SetDefault("forecast.min_samples", cal.MinSamples)
	v.SetDefault("forecast.min_sigma", cal.MinSigma)
	v.SetDefault("forecast.fallback_sigma", cal.FallbackSigma)
	v.SetDefault("forecast.sigma_ttl", cal.TTL)

	v.SetDefault("markets.gamma_api_url", gamma.DefaultBaseURL)
	v.SetDefault("markets.keywords", []string{"temperature", "highest temp", "high of"})
	v.SetDefault("markets.tag_slug", "weather")
	v.SetDefault("markets.page_size", 100)
	v.SetDefault("markets.max_pages", 5)

	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff", 500*time.Millisecond)
	v.SetDefault("http.rps", 5.0)
	v.SetDefault("http.burst", 5)

	v.SetDefault("storage.driver", DriverFile)
	v.SetDefault("storage.file_path", "./data/state.json")
	v.SetDefault("storage.audit_path", "")
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.state_key", "default")

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.prefix", "weather-edge:sigma:")

	v.SetDefault("execution.mode", "paper")
	v.SetDefault("execution.webhook_url", "")
	v.SetDefault("execution.webhook_path", "/orders")
	v.SetDefault("execution.token", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", 2*time.Second)

	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.seed", 0)
	v.SetDefault("engine.stale_after", 72*time.Hour)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.cycle_timeout", 2*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// defaultCities are the cities with liquid temperature markets, grouped by
// the regions whose forecast errors move together.
func defaultCities() []map[string]any {
	city := func(name string, lat, lon float64, tz, cluster string, aliases ...string) map[string]any {
		return map[string]any{
			"name": name, "aliases": aliases,
			"latitude": lat, "longitude": lon,
			"timezone": tz, "cluster": cluster,
		}
	}
	return []map[string]any{
		city("New York", 40.7128, -74.0060, "America/New_York", "northeast", "NYC", "New York City"),
		city("Boston", 42.3601, -71.0589, "America/New_York", "northeast"),
		city("Philadelphia", 39.9526, -75.1652, "America/New_York", "northeast"),
		city("Los Angeles", 34.0522, -118.2437, "America/Los_Angeles", "west_coast", "LA"),
		city("San Francisco", 37.7749, -122.4194, "America/Los_Angeles", "west_coast"),
		city("Seattle", 47.6062, -122.3321, "America/Los_Angeles", "west_coast"),
		city("Miami", 25.7617, -80.1918, "America/New_York", "south"),
		city("Dallas", 32.7767, -96.7970, "America/Chicago", "south"),
		city("Atlanta", 33.7490, -84.3880, "America/New_York", "south"),
		city("Houston", 29.7604, -95.3698, "America/Chicago", "south"),
		city("Chicago", 41.8781, -87.6298, "America/Chicago", "midwest"),
		city("Denver", 39.7392, -104.9903, "America/Denver", "midwest"),
		city("Detroit", 42.3314, -83.0458, "America/Detroit", "midwest"),
		city("London", 51.5074, -0.1278, "Europe/London", "international"),
		city("Toronto", 43.6532, -79.3832, "America/Toronto", "international"),
		city("Tokyo", 35.6762, 139.6503, "Asia/Tokyo", "international"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Trading
	if s.MinPrice <= 0 || s.MaxPrice >= 1 || s.MinPrice >= s.MaxPrice {
		return fmt.Errorf("strategy.min_price and strategy.max_price must satisfy 0 < min < max < 1")
	}
	if s.MinLiquidity < 0 {
		return fmt.Errorf("strategy.min_liquidity must not be negative")
	}
	if s.MinEdge <= 0 || s.MinEdge >= 1 {
		return fmt.Errorf("strategy.min_edge must be between 0.0 and 1.0")
	}
	if s.KellyFraction <= 0 || s.KellyFraction > 1 {
		return fmt.Errorf("strategy.kelly_fraction must be in (0, 1]")
	}
	if s.MaxEventExposure <= 0 || s.MaxEventExposure > 1 {
		return fmt.Errorf("strategy.max_event_exposure must be in (0, 1]")
	}
	if s.MaxClusterExposure < s.MaxEventExposure || s.MaxClusterExposure > 1 {
		return fmt.Errorf("strategy.max_cluster_exposure must be between max_event_exposure and 1")
	}
	if s.MaxTotalExposure < 0 || s.MaxTotalExposure > 1 {
		return fmt.Errorf("strategy.max_total_exposure must be between 0.0 and 1.0")
	}
	if s.Commission < 0 || s.Commission >= 1 {
		return fmt.Errorf("strategy.commission must be in [0, 1)")
	}
	if s.MinStake < 0 {
		return fmt.Errorf("strategy.min_stake must not be negative")
	}
	if s.MinBankrollBuffer < 0 {
		return fmt.Errorf("strategy.min_bankroll_buffer must not be negative")
	}
	if s.InitialBankroll <= 0 {
		return fmt.Errorf("strategy.initial_bankroll must be positive")
	}
	if s.MaxTradesPerDay < 0 {
		return fmt.Errorf("strategy.max_trades_per_day must not be negative")
	}
	if s.DispersionDamping < 0 || s.DispersionDamping > 1 {
		return fmt.Errorf("strategy.dispersion_damping must be between 0.0 and 1.0")
	}

	if len(c.Cities) == 0 {
		return fmt.Errorf("cities must contain at least one city")
	}
	seen := make(map[string]bool, len(c.Cities))
	for i, city := range c.Cities {
		if city.Name == "" {
			return fmt.Errorf("cities[%d].name is required", i)
		}
		key := strings.ToLower(city.Name)
		if seen[key] {
			return fmt.Errorf("cities[%d]: duplicate city %q", i, city.Name)
		}
		seen[key] = true
		if city.Latitude < -90 || city.Latitude > 90 || city.Longitude < -180 || city.Longitude > 180 {
			return fmt.Errorf("cities[%d]: coordinates out of range for %q", i, city.Name)
		}
	}

	if c.Forecast.BaseURL == "" {
		return fmt.Errorf("forecast.base_url is required")
	}
	if len(c.Forecast.Models) == 0 {
		return fmt.Errorf("forecast.models must contain at least one model")
	}
	if c.Forecast.HorizonDays < 1 || c.Forecast.HorizonDays > 16 {
		return fmt.Errorf("forecast.horizon_days must be between 1 and 16")
	}
	if c.Forecast.MinSigma <= 0 || c.Forecast.FallbackSigma < c.Forecast.MinSigma {
		return fmt.Errorf("forecast.min_sigma must be positive and not above fallback_sigma")
	}

	if c.Markets.GammaAPIURL == "" {
		return fmt.Errorf("markets.gamma_api_url is required")
	}
	if c.Markets.PageSize < 1 || c.Markets.PageSize > 500 {
		return fmt.Errorf("markets.page_size must be between 1 and 500")
	}

	if c.HTTP.Timeout < time.Second {
		return fmt.Errorf("http.timeout must be at least 1 second")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must not be negative")
	}

	switch c.Storage.Driver {
	case DriverFile:
		if c.Storage.FilePath == "" {
			return fmt.Errorf("storage.file_path is required for the file driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be one of: file, postgres, memory")
	}

	switch c.Execution.Mode {
	case "paper":
	case "live":
		if c.Execution.WebhookURL == "" {
			return fmt.Errorf("execution.webhook_url is required in live mode")
		}
	default:
		return fmt.Errorf("execution.mode must be one of: paper, live")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be at least 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Calibration returns the sigma calibration settings.
func (c *Config) Calibration() forecast.Calibration {
	return forecast.Calibration{
		Window:        c.Forecast.Window,
		MinSamples:    c.Forecast.MinSamples,
		MinSigma:      c.Forecast.MinSigma,
		FallbackSigma: c.Forecast.FallbackSigma,
		TTL:           c.Forecast.SigmaTTL,
	}
}

// Query returns the market listing query.
func (c *Config) Query() gamma.Query {
	return gamma.Query{
		Keywords: c.Markets.Keywords,
		TagSlug:  c.Markets.TagSlug,
		PageSize: c.Markets.PageSize,
		MaxPages: c.Markets.MaxPages,
	}
}

// Strategy projects the configuration into the immutable strategy struct.
func (c *Config) Strategy() model.Strategy {
	cities := make([]model.City, 0, len(c.Cities))
	for _, city := range c.Cities {
		cities = append(cities, model.City{
			Name:      city.Name,
			Aliases:   city.Aliases,
			Latitude:  city.Latitude,
			Longitude: city.Longitude,
			Timezone:  city.Timezone,
			Cluster:   city.Cluster,
		})
	}

	s := c.Trading
	return model.Strategy{
		Cities:              cities,
		MinPrice:            s.MinPrice,
		MaxPrice:            s.MaxPrice,
		MinLiquidity:        s.MinLiquidity,
		MinEdge:             s.MinEdge,
		KellyFraction:       s.KellyFraction,
		MaxEventExposure:    s.MaxEventExposure,
		MaxClusterExposure:  s.MaxClusterExposure,
		MaxTotalExposure:    s.MaxTotalExposure,
		Commission:          decimal.NewFromFloat(s.Commission),
		MinStake:            decimal.NewFromFloat(s.MinStake),
		MinBankrollBuffer:   decimal.NewFromFloat(s.MinBankrollBuffer),
		InitialBankroll:     decimal.NewFromFloat(s.InitialBankroll),
		MaxTradesPerDay:     s.MaxTradesPerDay,
		DispersionThreshold: s.DispersionThreshold,
		DispersionDamping:   s.DispersionDamping,
	}
}
