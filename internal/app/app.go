// Package app wires configuration into a running engine: venue adapters,
// connection supervision, routing, execution and the HTTP surface.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"smartroute/internal/config"
	"smartroute/internal/connection"
	"smartroute/internal/exec"
	"smartroute/internal/logger"
	"smartroute/internal/store"
	apihttp "smartroute/internal/transport/http/api"
)

type App struct {
	cfg     *config.Config
	conns   *connection.Manager
	coord   *exec.Coordinator
	server  *apihttp.Server
	store   store.Store
	weights *config.WeightsWatcher
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run recovers persisted state and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.coord.Recover(ctx); err != nil {
		return fmt.Errorf("recover orders: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return a.conns.RunHeartbeats(ctx)
	})

	group.Go(func() error {
		return a.coord.RunReconciler(ctx)
	})

	logger.Infof("engine up: http=%s brokers=%d", a.server.Addr(), len(a.cfg.Brokers))
	err := group.Wait()
	if closeErr := a.store.Close(); closeErr != nil {
		logger.Warnf("store close: %v", closeErr)
	}
	if err != nil && errIsContext(ctx, err) {
		return nil
	}
	return err
}

func errIsContext(ctx context.Context, err error) bool {
	return ctx.Err() != nil && err == ctx.Err()
}

// Coordinator exposes the execution coordinator for test harnesses.
func (a *App) Coordinator() *exec.Coordinator {
	if a == nil {
		return nil
	}
	return a.coord
}
