package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registerRuntimeCollectorsOnce sync.Once

func (a *App) metricsServer() (*http.Server, net.Listener, error) {
	if a.config.MetricsAddr == "" {
		return nil, nil, nil
	}

	var regErr error
	registerRuntimeCollectorsOnce.Do(func() {
		if err := prometheus.DefaultRegisterer.Register(collectors.NewGoCollector()); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				regErr = fmt.Errorf("metrics register go collector: %w", err)
				return
			}
		}
		if err := prometheus.DefaultRegisterer.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				regErr = fmt.Errorf("metrics register process collector: %w", err)
				return
			}
		}
	})
	if regErr != nil {
		return nil, nil, regErr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	lis, err := net.Listen("tcp", a.config.MetricsAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen metrics %s: %w", a.config.MetricsAddr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, lis, nil
}

func (a *App) pprofServer() (*http.Server, net.Listener, error) {
	if a.config.PprofAddr == "" {
		return nil, nil, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))

	lis, err := net.Listen("tcp", a.config.PprofAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen pprof %s: %w", a.config.PprofAddr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, lis, nil
}

func shutdownHTTPServer(srv *http.Server, logger Logger, name string) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(name+" shutdown failed", "error", err)
	}
}
