// Package main provides the UDP game relay binary. It wires together
// configuration, logging, metrics, the relay loop and the operator console.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/cory-johannsen/gamerelay/internal/config"
	"github.com/cory-johannsen/gamerelay/internal/observability"
	"github.com/cory-johannsen/gamerelay/internal/relay"
	"github.com/cory-johannsen/gamerelay/internal/server"
)

var configPath = kingpin.Flag("config", "Path to the YAML configuration file; defaults and RELAY_* environment variables apply without one.").Default("").String()

func main() {
	kingpin.Parse()
	start := time.Now()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting UDP game relay",
		zap.String("addr", cfg.Relay.Addr()),
		zap.Duration("activity_window", cfg.Relay.ActivityWindow),
		zap.Bool("exclude_sender", cfg.Relay.ExcludeSender),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	registry := relay.NewRegistry(nil)
	relaySrv := relay.NewServer(cfg.Relay, registry, metrics, logger)
	if err := relaySrv.Listen(); err != nil {
		logger.Fatal("binding relay socket", zap.Error(err))
	}
	sweeper := relay.NewSweeper(registry, cfg.Relay.SweepInterval, cfg.Relay.Retention, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("relay", &server.FuncService{
		StartFn: func() error {
			return relaySrv.Serve(ctx)
		},
		StopFn: func() {
			relaySrv.Stop()
			select {
			case <-relaySrv.Done():
			case <-time.After(5 * time.Second):
				logger.Warn("relay did not drain before shutdown timeout")
			}
		},
	})

	sweepCtx, stopSweep := context.WithCancel(ctx)
	lifecycle.Add("sweeper", &server.FuncService{
		StartFn: func() error {
			sweeper.Run(sweepCtx)
			return nil
		},
		StopFn: stopSweep,
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, observability.Handler(reg))
		httpSrv := &http.Server{
			Addr:              cfg.Metrics.Addr(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		lifecycle.Add("metrics", &server.FuncService{
			StartFn: func() error {
				logger.Info("metrics listening",
					zap.String("addr", httpSrv.Addr),
					zap.String("path", cfg.Metrics.Path),
				)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serving metrics: %w", err)
				}
				return nil
			},
			StopFn: func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = httpSrv.Shutdown(shutdownCtx)
			},
		})
	}

	lifecycle.Add("console", server.NewConsoleService(os.Stdin, cancel, logger))

	logger.Info("relay initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("relay_addr", relaySrv.Addr()),
		zap.String("quit_command", server.QuitCommand),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("relay terminated", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
