package app

import (
	"context"
	"errors"
	"time"
)

// Once runs a single metrics cycle against the current clock and exits. It is
// meant for cron-driven deployments and manual reprocessing.
func (a *App) Once(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run a metrics cycle")
	}
	defer closeStore()

	svc, err := a.newService(store, nil)
	if err != nil {
		return err
	}

	return svc.ProcessCycle(ctx, time.Now().UTC())
}
