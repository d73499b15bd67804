// Package main wires together the crawld service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/crawlforge/crawld/internal/api"
	blobgcs "github.com/crawlforge/crawld/internal/blob/gcs"
	blobmemory "github.com/crawlforge/crawld/internal/blob/memory"
	"github.com/crawlforge/crawld/internal/clock/system"
	"github.com/crawlforge/crawld/internal/config"
	"github.com/crawlforge/crawld/internal/coordinator"
	"github.com/crawlforge/crawld/internal/crawl"
	"github.com/crawlforge/crawld/internal/fetch"
	"github.com/crawlforge/crawld/internal/id/uuid"
	"github.com/crawlforge/crawld/internal/logging"
	"github.com/crawlforge/crawld/internal/metrics"
	"github.com/crawlforge/crawld/internal/proxypool"
	pubmemory "github.com/crawlforge/crawld/internal/publish/memory"
	pubgcp "github.com/crawlforge/crawld/internal/publish/pubsub"
	"github.com/crawlforge/crawld/internal/scheduler"
	storememory "github.com/crawlforge/crawld/internal/store/memory"
	storepostgres "github.com/crawlforge/crawld/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.Clock{}
	idGen := uuid.New()

	var store crawl.Store
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:      cfg.Store.DSN,
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	default:
		store = storememory.New()
	}

	var publisher crawl.Publisher
	if cfg.PubSub.Enabled {
		client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer client.Close()
		pub, err := pubgcp.New(client)
		if err != nil {
			logger.Fatal("publisher init failed", zap.Error(err))
		}
		defer pub.Close()
		publisher = pub
	} else {
		publisher = pubmemory.New()
	}

	var blobs crawl.BlobStore
	if cfg.Blob.Backend == "gcs" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		defer client.Close()
		blobs, err = blobgcs.New(client, blobgcs.Config{Bucket: cfg.Blob.Bucket})
		if err != nil {
			logger.Fatal("blob store init failed", zap.Error(err))
		}
	} else {
		blobs = blobmemory.New()
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:      cfg.FetchTimeout(),
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, logger.Named("fetch"))

	pool := proxypool.New(proxypool.Config{
		BlacklistThreshold: cfg.Proxy.BlacklistThreshold,
		BlacklistBase:      time.Duration(cfg.Proxy.BlacklistBaseSeconds) * time.Second,
		BlacklistMax:       time.Duration(cfg.Proxy.BlacklistMaxSeconds) * time.Second,
	}, clock, fetchProber{fetcher}, store, logger.Named("proxypool"))
	pool.AddCandidates(cfg.ProxyRecords()...)
	pool.RefreshPool(ctx)
	go pool.Run(ctx, time.Duration(cfg.Proxy.RefreshIntervalSeconds)*time.Second)

	registry := coordinator.NewRegistry()
	runner := coordinator.NewRunner(pool, fetcher, store, publisher, blobs,
		clock, idGen, coordinator.Topics{
			Pages:    cfg.PubSub.PagesTopic,
			Sessions: cfg.PubSub.SessionsTopic,
		}, registry, logger.Named("coordinator"))

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		RetryBase:         time.Duration(cfg.Scheduler.RetryBaseSeconds) * time.Second,
		RetryMax:          time.Duration(cfg.Scheduler.RetryMaxSeconds) * time.Second,
	}, store, runner, clock, idGen, logger.Named("scheduler"))

	apiServer := api.NewServer(sched, store, registry, pool, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("scheduler started")
		if err := sched.Run(ctx, cfg.SchedulerTick()); err != nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Wait()
	logger.Info("shutdown complete")
}

// fetchProber revalidates proxies with a lightweight fetch against a
// stable endpoint.
type fetchProber struct {
	fetcher crawl.Fetcher
}

func (p fetchProber) Probe(ctx context.Context, endpoint string) (time.Duration, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result, err := p.fetcher.Fetch(probeCtx, crawl.FetchRequest{
		URL:   "https://www.gstatic.com/generate_204",
		Proxy: crawl.ProxyRecord{Endpoint: endpoint},
	})
	if err != nil {
		return 0, err
	}
	if result.StatusCode >= 400 {
		return result.Duration, fmt.Errorf("probe returned status %d", result.StatusCode)
	}
	return result.Duration, nil
}
