package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pool-risk-metrics/internal/alerting"
	"pool-risk-metrics/internal/config"
	"pool-risk-metrics/internal/ingest"
	"pool-risk-metrics/internal/scheduler"
	"pool-risk-metrics/internal/service"
	"pool-risk-metrics/internal/storage"
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

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newCollector(store *storage.Store) *ingest.Collector {
	reader := ingest.NewPoolReader(ingest.PoolReaderOptions{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)

	blocks := ingest.NewBlockResolver(ingest.BlockResolverOptions{
		Endpoint: a.Config.Subgraph.Endpoint,
		Timeout:  a.Config.Subgraph.RequestTimeout,
		Retry: ingest.RetryPolicy{
			MaxAttempts: a.Config.Subgraph.MaxAttempts,
			Step:        a.Config.Subgraph.BackoffStep,
		},
	}, a.Logger)

	return ingest.NewCollector(a.Config.Quotes, reader, blocks, store, ingest.CollectorOptions{
		Interval: a.Config.Collector.Interval,
		Retry: ingest.RetryPolicy{
			MaxAttempts: a.Config.Subgraph.MaxAttempts,
			Step:        a.Config.Subgraph.BackoffStep,
		},
	}, a.Logger)
}

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) (*service.Service, error) {
	source := ingest.NewStoreSource(store)
	sink := storage.NewMetricSink(store)
	return service.New(a.Config, sched, source, sink, a.newNotifier(), store, a.Logger)
}

// Run executes the long-running metrics service, with the collector alongside
// when on-chain access is configured.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the metrics service")
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToCycle,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc, err := a.newService(store, sched)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)

	if a.Config.Ethereum.RPCURL != "" && a.Config.Subgraph.Endpoint != "" {
		collector := a.newCollector(store)
		go func() {
			errCh <- collector.Run(ctx)
		}()
	} else {
		a.Logger.Warn().Msg("ethereum rpc or subgraph endpoint not configured; collector disabled")
	}

	go func() {
		errCh <- svc.Run(ctx)
	}()

	a.Logger.Info().Msg("starting metrics service")
	err = <-errCh
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("metrics service stopped")
	return nil
}

// ExportOptions hold parameters for exporting metric history.
type ExportOptions struct {
	QuoteID   string
	FieldType string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
