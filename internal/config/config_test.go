package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
strategy:
  min_edge: 0.1
  kelly_fraction: 0.25
  commission: 0.02
  initial_bankroll: 100

cities:
  - name: London
    latitude: 51.5074
    longitude: -0.1278
    timezone: Europe/London
    cluster: europe
  - name: New York
    aliases: [NYC]
    latitude: 40.7128
    longitude: -74.0060
    cluster: us_east

storage:
  driver: memory

engine:
  stale_after: 48h

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Trading.MinEdge != 0.1 {
		t.Errorf("Expected min_edge 0.1, got %v", cfg.Trading.MinEdge)
	}
	if len(cfg.Cities) != 2 || cfg.Cities[1].Aliases[0] != "NYC" {
		t.Errorf("Expected the two configured cities, got %+v", cfg.Cities)
	}
	if cfg.Engine.StaleAfter != 48*time.Hour {
		t.Errorf("Expected stale_after 48h, got %v", cfg.Engine.StaleAfter)
	}
	// Unset keys keep their defaults.
	if cfg.Trading.MaxPrice != 0.95 || cfg.HTTP.Timeout != 15*time.Second {
		t.Errorf("Expected defaults to survive, got max_price %v timeout %v", cfg.Trading.MaxPrice, cfg.HTTP.Timeout)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected logging format text, got %s", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if len(cfg.Cities) < 10 {
		t.Errorf("Expected the default city list, got %d cities", len(cfg.Cities))
	}
	if cfg.Storage.Driver != DriverFile || cfg.Execution.Mode != "paper" {
		t.Errorf("unexpected defaults: storage %q execution %q", cfg.Storage.Driver, cfg.Execution.Mode)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WEATHER_EDGE_STORAGE_DRIVER", "postgres")
	t.Setenv("WEATHER_EDGE_STORAGE_DATABASE_URL", "postgres://edge@localhost/edge")
	t.Setenv("WEATHER_EDGE_STRATEGY_MIN_EDGE", "0.12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Driver != DriverPostgres || cfg.Storage.DatabaseURL != "postgres://edge@localhost/edge" {
		t.Errorf("env did not override storage: %+v", cfg.Storage)
	}
	if cfg.Trading.MinEdge != 0.12 {
		t.Errorf("Expected min_edge 0.12 from env, got %v", cfg.Trading.MinEdge)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"price band inverted", func(c *Config) { c.Trading.MinPrice = 0.9; c.Trading.MaxPrice = 0.1 }, "strategy.min_price"},
		{"kelly above one", func(c *Config) { c.Trading.KellyFraction = 1.5 }, "strategy.kelly_fraction"},
		{"cluster below event cap", func(c *Config) { c.Trading.MaxClusterExposure = 0.01 }, "strategy.max_cluster_exposure"},
		{"no cities", func(c *Config) { c.Cities = nil }, "cities must contain"},
		{"duplicate city", func(c *Config) { c.Cities = append(c.Cities, CityConfig{Name: "london"}) }, "duplicate city"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, "storage.database_url"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"live without webhook", func(c *Config) { c.Execution.Mode = "live" }, "execution.webhook_url"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram.bot_token"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("defaults should validate: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestStrategyProjection(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.Strategy()

	if !s.Commission.Equal(decimal.NewFromFloat(0.02)) || !s.InitialBankroll.Equal(decimal.NewFromInt(30)) {
		t.Errorf("money fields not projected: commission %s bankroll %s", s.Commission, s.InitialBankroll)
	}
	if got := s.ClusterOf("NEW YORK"); got != "northeast" {
		t.Errorf("ClusterOf(NEW YORK) = %q, want northeast", got)
	}
	if c, ok := s.CityByName("Tokyo"); !ok || c.Timezone != "Asia/Tokyo" {
		t.Errorf("Tokyo not projected: %+v", c)
	}

	q := cfg.Query()
	if q.TagSlug != "weather" || q.PageSize != 100 {
		t.Errorf("unexpected query %+v", q)
	}
	if cal := cfg.Calibration(); cal.MinSigma != 0.6 || cal.FallbackSigma != 1.3 {
		t.Errorf("unexpected calibration %+v", cal)
	}
}
