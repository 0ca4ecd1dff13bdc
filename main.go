package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/zhongshixi/eventcache/eventcache"
	"github.com/zhongshixi/eventcache/logging"
	"github.com/zhongshixi/eventcache/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logger := logging.New()
	if err := run(logger); err != nil {
		logger.Error("eventcache stopped", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	addr := getEnv("EVENTCACHE_HTTP_ADDR", ":8080")
	snapshotPath := getEnv("EVENTCACHE_SNAPSHOT", "")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := eventcache.NewPromMetrics("eventcache", reg)
	if err != nil {
		return err
	}

	conf := eventcache.DefaultConfig()
	conf.MaxCost = getEnvInt("EVENTCACHE_MAX_COST", conf.MaxCost)
	conf.NumShards = uint64(getEnvInt("EVENTCACHE_SHARDS", int(conf.NumShards)))
	conf.CleanupIntervalMilli = getEnvInt("EVENTCACHE_CLEANUP_MS", conf.CleanupIntervalMilli)
	conf.Logger = logger
	conf.Metrics = metrics

	cache, err := eventcache.NewCache[string](conf)
	if err != nil {
		return err
	}
	defer cache.Close()

	if snapshotPath != "" {
		n, err := cache.LoadSnapshotFile(snapshotPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Info("no snapshot to restore", "path", snapshotPath)
		case err != nil:
			return err
		default:
			logger.Info("snapshot restored", "path", snapshotPath, "entries", n)
		}
	}

	rateLimit, _ := strconv.ParseFloat(getEnv("EVENTCACHE_RATE_LIMIT", "0"), 64)
	srv := &http.Server{
		Addr: addr,
		Handler: server.NewRouter(cache, server.Config{
			Logger:    logger,
			Gatherer:  reg,
			RateLimit: rateLimit,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if snapshotPath != "" {
		n, err := cache.SaveSnapshotFile(snapshotPath)
		if err != nil {
			return err
		}
		logger.Info("snapshot saved", "path", snapshotPath, "entries", n)
	}
	return nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	v, err := strconv.Atoi(os.Getenv(k))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
