// Package main is the entry point for the kvpool server application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	gometrics "github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	"github.com/ASHISH26940/kvpool/internal/config"
	"github.com/ASHISH26940/kvpool/internal/logger"
	"github.com/ASHISH26940/kvpool/internal/metrics"
	"github.com/ASHISH26940/kvpool/internal/pool"
	"github.com/ASHISH26940/kvpool/internal/protocol"
	"github.com/ASHISH26940/kvpool/internal/server"
	"github.com/ASHISH26940/kvpool/internal/store"
)

func main() {
	// --- Configuration and Flags ---
	configFile := flag.String("config", "kvpool.toml", "Path to config file")
	host := flag.String("host", "", "Override the bind host")
	port := flag.Int("port", 0, "Override the bind port")
	flag.Parse()

	cfg := config.New()
	missingConfig := false
	if err := cfg.Load(*configFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		missingConfig = true
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	if missingConfig {
		log.Warn("config file not found, using defaults", zap.String("path", *configFile))
	}

	// --- Store and Metrics ---
	st := store.NewStore()

	var observer metrics.Observer = metrics.Nop{}
	if cfg.Metrics.Enabled {
		tp, err := metrics.NewThroughput(metrics.Config{ReportEvery: cfg.Metrics.ReportEvery}, log.Named("metrics"))
		if err != nil {
			log.Fatal("Failed to set up metrics", zap.Error(err))
		}
		// SIGUSR1 dumps the in-memory metrics to stderr.
		sig := gometrics.DefaultInmemSignal(tp.Sink())
		defer sig.Stop()
		observer = tp
	}

	// --- Server ---
	srv, err := server.New(server.Config{
		Addr:            cfg.Addr(),
		Backlog:         cfg.Server.Backlog,
		ReadTimeout:     cfg.Server.ReadTimeout.Duration,
		WriteTimeout:    cfg.Server.WriteTimeout.Duration,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		Pool: pool.Config{
			InitialWorkers:   cfg.Pool.InitialWorkers,
			MaxWorkers:       cfg.Pool.MaxWorkers,
			BacklogThreshold: cfg.Pool.BacklogThreshold,
			IdleTimeout:      cfg.Pool.IdleTimeout.Duration,
		},
		Limiter: server.LimiterConfig{
			Rate:      cfg.Limiter.Rate,
			Burst:     cfg.Limiter.Burst,
			AllowList: cfg.Limiter.AllowList,
		},
	}, st, observer, log.Named("server"))
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		srv.Shutdown()
		log.Fatal("Server failed", zap.Error(err))
	}

	log.Info("Shutting down gracefully...")
	srv.Shutdown()
	dumpStore(log, st)
	log.Info("Bye!")
}

// dumpStore logs every entry at debug level.
func dumpStore(log *zap.Logger, st *store.Store) {
	if !log.Core().Enabled(zap.DebugLevel) {
		return
	}
	for _, e := range st.Entries() {
		log.Debug("store entry",
			zap.String("key", e.Key),
			zap.String("value", protocol.FormatValue(e.Value)),
			zap.String("type", fmt.Sprintf("%T", e.Value)))
	}
	log.Debug("store size", zap.Int("keys", st.Len()))
}
