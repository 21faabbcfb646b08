// Package app wires the replication state machine, consensus engine, and the
// public HTTP API into a runnable node.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/d-sorokin/replication-lab/internal/replication"
)

// Logger is the logging interface required by App.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// App wires the replication state and API handler into a runnable node.
// All dependencies are injected; the consensus engine must already be
// started and attached to the state before Run is called.
type App struct {
	config Config
	logger Logger
	state  *replication.State
	api    http.Handler
}

// New validates dependencies and constructs a runnable application.
func New(cfg Config, logger Logger, state *replication.State, api http.Handler) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("app: nil logger")
	}
	if state == nil {
		return nil, fmt.Errorf("app: nil replication state")
	}
	if api == nil {
		return nil, fmt.Errorf("app: nil api handler")
	}
	return &App{
		config: cfg,
		logger: logger,
		state:  state,
		api:    api,
	}, nil
}

// Stop shuts the consensus engine down and waits for it to finish.
func (a *App) Stop() {
	a.state.Shutdown()
	a.state.Join()
}

// Run starts the API and debug servers and blocks until shutdown or a fatal
// error.
func (a *App) Run(ctx context.Context) error {
	shutdownTracing, err := a.initTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shCtx); err != nil {
			a.logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	metricsSrv, metricsLis, err := a.metricsServer()
	if err != nil {
		return err
	}
	pprofSrv, pprofLis, err := a.pprofServer()
	if err != nil {
		return err
	}

	apiLis, err := net.Listen("tcp", a.config.APIAddr)
	if err != nil {
		return fmt.Errorf("listen api %s: %w", a.config.APIAddr, err)
	}
	defer func() { _ = apiLis.Close() }()

	a.logger.Info(
		"node started",
		"node_id", a.config.NodeID,
		"api_addr", a.config.APIAddr,
		"peering_addr", a.config.PeeringAddr,
		"data_dir", a.config.DataDir,
	)

	return a.serve(ctx, apiLis, metricsSrv, metricsLis, pprofSrv, pprofLis)
}

// serve starts the HTTP servers and blocks until ctx is canceled or a fatal
// error occurs.
func (a *App) serve(
	ctx context.Context,
	apiLis net.Listener,
	metricsSrv *http.Server,
	metricsLis net.Listener,
	pprofSrv *http.Server,
	pprofLis net.Listener,
) error {
	apiSrv := &http.Server{
		Handler:           a.api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)

	go func() {
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api serve: %w", err)
		}
	}()
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics serve: %w", err)
			}
		}()
	}
	if pprofSrv != nil {
		go func() {
			if err := pprofSrv.Serve(pprofLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("pprof serve: %w", err)
			}
		}()
	}

	go func() {
		if err := a.state.WaitReady(ctx); err == nil {
			a.logger.Info("node ready", "node_id", a.config.NodeID)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.Stop()
	shutdownHTTPServer(apiSrv, a.logger, "api server")
	shutdownHTTPServer(metricsSrv, a.logger, "metrics server")
	shutdownHTTPServer(pprofSrv, a.logger, "pprof server")
	return runErr
}
