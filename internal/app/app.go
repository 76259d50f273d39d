// Package app wires the subsystems into a running server: the session
// manager behind the websocket transport on the API listener, and health
// plus Prometheus metrics on the ops listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mynah-ai/mynah/internal/config"
	"github.com/mynah-ai/mynah/internal/health"
	"github.com/mynah-ai/mynah/internal/observe"
	"github.com/mynah-ai/mynah/internal/transport/ws"
)

// shutdownPollInterval is how often draining waits between checks for the
// last session to end.
const shutdownPollInterval = 50 * time.Millisecond

// App owns the HTTP listeners and the shutdown sequence.
type App struct {
	cfg     *config.Config
	manager *Manager
	log     *slog.Logger

	api *http.Server
	ops *http.Server

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// New assembles the HTTP surface around manager. checkers feed the /readyz
// endpoint on the ops listener.
func New(cfg *config.Config, manager *Manager, checkers []health.Checker, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}

	wsHandler := ws.NewHandler(manager, ws.Config{
		SampleRate: cfg.Session.SampleRate,
		Channels:   1,
	}, log)

	apiMux := http.NewServeMux()
	wsHandler.Register(apiMux)

	opsMux := http.NewServeMux()
	health.New(checkers...).Register(opsMux)
	opsMux.Handle("GET /metrics", promhttp.Handler())

	mw := observe.Middleware(observe.DefaultMetrics())
	a := &App{
		cfg:     cfg,
		manager: manager,
		log:     log,
		api: &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: mw(apiMux),
		},
	}
	if cfg.Server.OpsAddr != "" && cfg.Server.OpsAddr != cfg.Server.ListenAddr {
		a.ops = &http.Server{Addr: cfg.Server.OpsAddr, Handler: opsMux}
	} else {
		// Single listener: ops routes share the API mux.
		health.New(checkers...).Register(apiMux)
		apiMux.Handle("GET /metrics", promhttp.Handler())
	}
	return a
}

// AddCloser registers a teardown step. Closers run in reverse registration
// order during Shutdown.
func (a *App) AddCloser(f func() error) {
	a.closers = append(a.closers, f)
}

// Run serves until ctx is cancelled, then drains and shuts down. Returns nil
// on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("api listening", "addr", a.api.Addr)
		if err := a.api.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: api server: %w", err)
		}
		return nil
	})
	if a.ops != nil {
		g.Go(func() error {
			a.log.Info("ops listening", "addr", a.ops.Addr)
			if err := a.ops.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Shutdown()
		return nil
	})

	return g.Wait()
}

// Shutdown stops the listeners, drains sessions within the configured grace
// period, and runs registered closers in reverse order. Idempotent.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		grace := a.cfg.Server.ShutdownGrace.Std()
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		a.log.Info("shutting down", "grace", grace)

		if err := a.api.Shutdown(ctx); err != nil {
			a.log.Warn("api shutdown", "error", err)
		}
		if a.ops != nil {
			if err := a.ops.Shutdown(ctx); err != nil {
				a.log.Warn("ops shutdown", "error", err)
			}
		}

		a.drainSessions(ctx)

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer failed", "index", i, "error", err)
			}
		}
		a.log.Info("shutdown complete")
	})
}

// drainSessions waits for live sessions to end on their own, then forces the
// stragglers when the grace period runs out.
func (a *App) drainSessions(ctx context.Context) {
	for a.manager.ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			a.log.Warn("forcing remaining sessions closed", "count", a.manager.ActiveCount())
			a.manager.CloseAll()
			return
		case <-time.After(shutdownPollInterval):
		}
	}
}
