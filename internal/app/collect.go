package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
)

// Collect runs only the on-chain sampling loop. It keeps the cumulative
// sample tables fed without computing metrics, which suits split deployments
// where estimation runs elsewhere.
func (a *App) Collect(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Config.Ethereum.RPCURL == "" {
		return errors.New("ethereum.rpc_url is required to collect samples")
	}
	if a.Config.Subgraph.Endpoint == "" {
		return errors.New("subgraph.endpoint is required to collect samples")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to collect samples")
	}
	defer closeStore()

	collector := a.newCollector(store)

	a.Logger.Info().Msg("starting sample collector")
	err = collector.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("collector terminated with error")
		return err
	}

	a.Logger.Info().Msg("sample collector stopped")
	return nil
}
