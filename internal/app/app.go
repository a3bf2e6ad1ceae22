// Package app wires the engine and its collaborators from configuration.
// Both binaries build through here so the server and the one-shot CLI trade
// against the same stack.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/weather-edge/internal/config"
	"github.com/atmx/weather-edge/internal/engine"
	"github.com/atmx/weather-edge/internal/execution"
	"github.com/atmx/weather-edge/internal/forecast"
	"github.com/atmx/weather-edge/internal/gamma"
	"github.com/atmx/weather-edge/internal/metrics"
	"github.com/atmx/weather-edge/internal/notify"
	"github.com/atmx/weather-edge/internal/store"
	"github.com/atmx/weather-edge/internal/transport"
)

// App is a wired engine plus the resources it holds open.
type App struct {
	Engine  *engine.Engine
	Store   store.Store
	cleanup []func()
}

// Close releases database and cache connections in reverse order.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// Build connects storage and cache, restores the ledger and returns a ready
// engine. listeners receive engine events in addition to Telegram when it is
// enabled.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, listeners ...engine.Listener) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	strategy := cfg.Strategy()

	// --- Storage ---
	st, err := a.openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = st

	// --- Sigma cache ---
	var cache forecast.SigmaCache = forecast.NewMemoryCache()
	if cfg.Cache.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid cache.redis_url: %w", err)
		}
		rdb := redis.NewClient(opt)
		a.cleanup = append(a.cleanup, func() { rdb.Close() })
		cache = forecast.NewRedisCache(rdb, cfg.Cache.Prefix)
		logger.Info("redis sigma cache enabled")
	}

	// --- Upstream clients ---
	markets := gamma.NewClient(httpClient(cfg, "gamma", cfg.Markets.GammaAPIURL, logger), logger)

	forecastHTTP := httpClient(cfg, "open-meteo", cfg.Forecast.BaseURL, logger)
	sources := make([]forecast.Source, 0, len(cfg.Forecast.Models))
	for _, m := range cfg.Forecast.Models {
		sources = append(sources, forecast.NewOpenMeteo(forecastHTTP,
			forecast.WithModel(m),
			forecast.WithHorizon(cfg.Forecast.HorizonDays),
		))
	}

	archive := forecast.NewArchive(httpClient(cfg, "open-meteo-archive", cfg.Forecast.ArchiveURL, logger))
	calibrator := forecast.NewCalibrator(archive, cache, cfg.Calibration(), logger)
	provider := forecast.NewProvider(strategy.Cities, sources,
		forecast.WithCalibrator(calibrator),
		forecast.WithRealized(archive),
		forecast.WithFallbackSigma(cfg.Forecast.FallbackSigma),
		forecast.WithLogger(logger),
	)

	// --- Execution ---
	var executor execution.OrderExecutor = execution.NewPaper()
	if cfg.Execution.Mode == execution.ModeLive {
		opts := httpOptions(cfg, "signer", logger)
		if cfg.Execution.Token != "" {
			opts = append(opts, transport.WithHeader("Authorization", "Bearer "+cfg.Execution.Token))
		}
		// Orders are not idempotent on the signer side; never retry a post.
		opts = append(opts, transport.WithRetries(0, cfg.HTTP.Backoff))
		executor = execution.NewWebhook(transport.New(cfg.Execution.WebhookURL, opts...), cfg.Execution.WebhookPath)
		logger.Warn("live execution enabled", "signer", cfg.Execution.WebhookURL)
	}

	// --- Ledger ---
	l, err := engine.LoadLedger(ctx, st, strategy, logger)
	if err != nil {
		return nil, err
	}

	// --- Engine ---
	opts := []engine.Option{
		engine.WithAuditLog(st),
		engine.WithOutcomes(markets),
		engine.WithWeather(provider),
		engine.WithLogger(logger),
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithListener(tg))
		logger.Info("telegram notifications enabled")
	}
	for _, lst := range listeners {
		opts = append(opts, engine.WithListener(lst))
	}

	a.Engine = engine.New(engine.Config{
		Strategy:    strategy,
		Query:       cfg.Query(),
		Concurrency: cfg.Engine.Concurrency,
		StaleAfter:  cfg.Engine.StaleAfter,
		Seed:        cfg.Engine.Seed,
	}, l, markets, provider, executor, st, opts...)

	ok = true
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		pg := store.NewPostgresStore(pool, cfg.Storage.StateKey)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to PostgreSQL", "state_key", cfg.Storage.StateKey)
		return pg, nil
	case config.DriverMemory:
		logger.Warn("using in-memory store (state will not persist)")
		return store.NewMemoryStore(), nil
	default:
		fs := store.NewFileStore(cfg.Storage.FilePath, cfg.Storage.AuditPath, logger)
		logger.Info("using file store", "path", fs.Path())
		return fs, nil
	}
}

func httpOptions(cfg *config.Config, name string, logger *slog.Logger) []transport.Option {
	return []transport.Option{
		transport.WithName(name),
		transport.WithTimeout(cfg.HTTP.Timeout),
		transport.WithRetries(cfg.HTTP.MaxRetries, cfg.HTTP.Backoff),
		transport.WithRateLimit(cfg.HTTP.RPS, cfg.HTTP.Burst),
		transport.WithLogger(logger),
		transport.WithFailureHook(metrics.UpstreamFailed),
	}
}

func httpClient(cfg *config.Config, name, baseURL string, logger *slog.Logger) *transport.Client {
	return transport.New(baseURL, httpOptions(cfg, name, logger)...)
}
