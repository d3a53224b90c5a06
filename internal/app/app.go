// Package app aggregates configuration and shared dependencies for the CLI
// commands and composes the long-running service.
package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/api"
	"marketplace-repricer/internal/competitor"
	"marketplace-repricer/internal/config"
	"marketplace-repricer/internal/gateway"
	"marketplace-repricer/internal/metrics"
	"marketplace-repricer/internal/monitor"
	"marketplace-repricer/internal/registry"
	"marketplace-repricer/internal/scheduler"
	"marketplace-repricer/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// stores bundles the opened persistence layer.
type stores struct {
	attempts storage.AttemptStore
	settings storage.SettingsStore
	close    func()
}

// openStores selects the persistence backend: PostgreSQL when a DSN is
// configured, the in-memory store otherwise. A configured Redis URL wraps
// the settings store with the read-through cache.
func (a *App) openStores(ctx context.Context) (*stores, error) {
	var (
		attempts storage.AttemptStore
		settings storage.SettingsStore
		closers  []func()
	)

	if a.Config.Database.DSN != "" {
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		store := storage.NewStore(pool)
		closers = append(closers, store.Close)
		attempts = store
		settings = store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store")
		mem := storage.NewMemoryStore()
		attempts = mem
		settings = mem
	}

	if a.Config.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(a.Config.Redis.URL)
		if err != nil {
			return nil, err
		}
		rdb := redis.NewClient(redisOpts)
		closers = append(closers, func() { _ = rdb.Close() })
		settings = storage.NewCachedSettings(settings, rdb, a.Config.Redis.CacheTTL)
	}

	return &stores{
		attempts: attempts,
		settings: settings,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func (a *App) newUpdater() gateway.PriceUpdater {
	client := gateway.NewClient(gateway.ClientOptions{
		BaseURL:   a.Config.Gateway.BaseURL,
		APIKey:    a.Config.Gateway.APIKey,
		Timeout:   a.Config.Gateway.RequestTimeout,
		UserAgent: a.Config.Gateway.UserAgent,
	}, a.Logger)

	retrier := gateway.NewRetrier(client, gateway.RetrierOptions{
		MaxAttempts: a.Config.Gateway.MaxAttempts,
		BackoffBase: a.Config.Gateway.BackoffBase,
	}, a.Logger)
	retrier.OnRetry = metrics.GatewayRetries.Inc
	return retrier
}

func (a *App) newService(st *stores) *monitor.Service {
	source := competitor.NewSimulator(a.Config.Simulator.Seed)
	if a.Config.Simulator.MaxDriftPercent > 0 {
		source.MaxDriftPercent = a.Config.Simulator.MaxDriftPercent
	}

	return monitor.New(registry.New(), source, a.newUpdater(), st.attempts, st.settings, monitor.Options{
		Stagger:  a.Config.Scheduler.Stagger,
		Interval: a.Config.Scheduler.Interval,
		Defaults: monitor.Defaults{
			Mode:                      storage.ApplyMode(a.Config.Automation.Mode),
			MaxPriceChangePercent:     decimal.NewFromFloat(a.Config.Automation.MaxPriceChangePercent),
			MaxDailyChanges:           a.Config.Automation.MaxDailyChanges,
			MinMinutesBetweenChanges:  a.Config.Automation.MinMinutesBetweenChanges,
			MonitoringIntervalMinutes: a.Config.Automation.MonitoringIntervalMinutes,
		},
	}, a.Logger)
}

// Run executes the long-running repricing service: the control loop on its
// scheduler plus the HTTP API, both stopped by SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	svc := a.newService(st)
	if err := svc.RestorePending(ctx); err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	server := api.NewServer(svc, st.attempts, st.settings, api.Options{
		ListenAddr:     a.Config.HTTP.ListenAddr,
		RequestTimeout: a.Config.HTTP.RequestTimeout,
	}, a.Logger)
	httpServer := server.NewHTTPServer()

	httpErr := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
			return
		}
		httpErr <- nil
	}()

	a.Logger.Info().Dur("interval", sched.Interval()).Msg("starting repricing service")

	runErr := sched.Run(ctx, svc.Tick)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := <-httpErr; err != nil {
		a.Logger.Error().Err(err).Msg("http server terminated with error")
		return err
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Logger.Error().Err(runErr).Msg("service terminated with error")
		return runErr
	}

	a.Logger.Info().Msg("repricing service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure one offline analysis pass.
type SimulateOptions struct {
	ProductID        string
	CurrentPrice     decimal.Decimal
	CompetitorPrices []decimal.Decimal
	StrategyKind     string
	StrategyPercent  decimal.Decimal
}
