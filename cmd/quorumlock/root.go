package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nozo-moto/quorumlock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile  string
	logLevel    string
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:           "quorumlock",
		Short:         "Majority locks over independent redis, sql, memcache or etcd nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (env QUORUMLOCK_* overrides it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
}

// exitError carries the exit status of a command run by exec.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return "command exited with a non-zero status"
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// app is what every subcommand needs: a configured manager and its logger.
type app struct {
	cfg     *quorumlock.Config
	log     *zap.Logger
	manager *quorumlock.Manager
	metrics *http.Server
}

func newApp() (*app, error) {
	cfg, err := quorumlock.LoadConfig(configFile, "")
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := quorumlock.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	manager, err := quorumlock.NewFromConfig(cfg,
		quorumlock.WithLogger(log),
		quorumlock.WithMetrics(quorumlock.NewMetrics(reg)),
	)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	a := &app{cfg: cfg, log: log, manager: manager}
	if metricsAddr != "" {
		a.metrics = &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}
	return a, nil
}

func (a *app) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
	}
	if err := a.manager.Close(); err != nil {
		a.log.Warn("closing nodes", zap.Error(err))
	}
	_ = a.log.Sync()
}
