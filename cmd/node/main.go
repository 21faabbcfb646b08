// Package main implements the node process that runs the replicated KV store
// and its public HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/d-sorokin/replication-lab/internal/api"
	apppkg "github.com/d-sorokin/replication-lab/internal/app"
	"github.com/d-sorokin/replication-lab/internal/consensus"
	"github.com/d-sorokin/replication-lab/internal/consensus/local"
	"github.com/d-sorokin/replication-lab/internal/kv"
	prommetrics "github.com/d-sorokin/replication-lab/internal/observability/metrics"
	"github.com/d-sorokin/replication-lab/internal/replication"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := apppkg.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.LogLevel))
	logger := slog.Default()

	apiPort, err := cfg.APIPort()
	if err != nil {
		return err
	}
	nodesConfig := replication.ToNodesConfig(cfg.PeeringAddr, apiPort, cfg.Nodes)
	conf, err := consensus.ParseConfiguration(nodesConfig)
	if err != nil {
		return err
	}
	self := consensus.Peer{Addr: cfg.PeeringAddr, APIPort: apiPort}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	store, err := kv.Open(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	metrics, err := prommetrics.NewPrometheus(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	var shuttingDown atomic.Bool
	state := replication.New(
		store,
		logger,
		otel.Tracer("replication"),
		metrics,
		&shuttingDown,
		replication.Options{
			NodeID:              cfg.NodeID,
			APIUsesTLS:          cfg.APIUsesTLS,
			CreateInitSnapshot:  cfg.CreateInitSnapshot,
			CatchupMinSeqDiff:   cfg.CatchupMinSeqDiff,
			CatchupThresholdPct: cfg.CatchupThresholdPct,
			ForwardTimeout:      30 * time.Second,
		},
	)

	engine, err := local.New(local.Options{
		Dir:           cfg.DataDir,
		Self:          self,
		Config:        conf,
		SnapshotEvery: cfg.SnapshotEvery,
	}, state, logger)
	if err != nil {
		return err
	}
	state.Start(engine)
	if err := engine.Start(); err != nil {
		return err
	}

	handler := &api.Handler{State: state, Logger: logger}
	app, err := apppkg.New(cfg, logger, state, api.NewRouter(handler))
	if err != nil {
		state.Shutdown()
		state.Join()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return app.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
