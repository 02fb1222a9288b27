// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command hootenannyd is the garden daemon: it loads configuration, opens
// the artifact catalogue and content-addressed store, starts the garden
// scheduler engine, serves the HOOT broker channels and the liveness HTTP
// surface, and drains the job worker pool, all under one process per
// §2's unified data flow.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/hootenanny/internal/broker"
	"github.com/rapidaai/hootenanny/internal/bus"
	"github.com/rapidaai/hootenanny/internal/cas"
	"github.com/rapidaai/hootenanny/internal/catalog"
	"github.com/rapidaai/hootenanny/internal/config"
	"github.com/rapidaai/hootenanny/internal/garden"
	"github.com/rapidaai/hootenanny/internal/httpapi"
	"github.com/rapidaai/hootenanny/internal/monitor"
	"github.com/rapidaai/hootenanny/internal/store"
	"github.com/rapidaai/hootenanny/internal/worker"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

func main() {
	configName := flag.String("config", "hootenanny", "config file name (without extension)")
	configPath := flag.String("config-path", "", "additional directory to search for the config file")
	flag.Parse()

	cfg, err := config.Load(*configName, *configPath)
	if err != nil {
		panic(err)
	}

	logOpts := commons.DefaultOptions()
	logOpts.Level = cfg.Log.Level
	logOpts.Production = cfg.Log.Production
	logOpts.LogFile = cfg.Log.File
	logger, err := commons.NewApplicationLogger(logOpts)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Errorw("hootenannyd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger commons.Logger) error {
	blobs, err := cas.New(cfg.CAS.RootDir)
	if err != nil {
		return err
	}

	artifactDB, err := store.OpenArtifactDB(cfg.Store.SqlitePath)
	if err != nil {
		return err
	}
	artifacts := store.NewArtifactStore(artifactDB, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Store.RedisAddr,
		DB:   cfg.Store.RedisDB,
	})
	defer redisClient.Close()
	jobs := store.NewJobStore(redisClient, logger)

	eventBus := bus.New(logger)
	defer eventBus.Close()

	engine := garden.NewEngine(logger, eventBus, cfg.Garden.DefaultBPM, cfg.Garden.PPQ, cfg.Garden.RingCapacity)

	server := broker.NewServer(logger, eventBus, cfg.Broker.ControlToken)
	engine.RegisterTools(server.RegisterTool)
	engine.RegisterControls(server.RegisterControl)

	pool := worker.NewPool(jobs, eventBus, logger, workerCount())
	if cfg.Renderer.BaseURL != "" {
		renderer := worker.NewExternalRenderer(cfg.Renderer.BaseURL, time.Duration(cfg.Renderer.TimeoutSecs)*time.Second)
		for _, tool := range cfg.Renderer.Tools {
			pool.RegisterRenderer(tool, renderer.AsRenderFunc(tool))
		}
	}

	blobCatalog := catalog.New(blobs, artifacts, jobs, pool)
	blobCatalog.RegisterTools(server.RegisterTool)

	ginEngine := httpapi.NewEngine(logger, httpapi.HealthReporter{Server: server})

	var monitorBridge *monitor.Bridge
	if cfg.Monitor.Enabled {
		monitorBridge, err = monitor.NewBridge(logger, engine.RingBuffer(cfg.Monitor.Channel), cfg.Garden.SampleRateHz)
		if err != nil {
			return err
		}
		monitor.RegisterRoutes(ginEngine, monitorBridge)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: ginEngine,
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		engine.Run(gctx)
		return nil
	})

	group.Go(func() error {
		return server.Serve(gctx, cfg.Endpoints())
	})

	group.Go(func() error {
		return pool.Run(gctx)
	})

	if monitorBridge != nil {
		group.Go(func() error {
			monitorBridge.Run(gctx)
			return nil
		})
	}

	group.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.ListenAndServe() }()
		select {
		case <-gctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	logger.Infow("hootenannyd started", "http_addr", cfg.HTTP.Addr, "socket_dir", cfg.Paths.SocketDir)
	return group.Wait()
}

func workerCount() int {
	return 4
}
