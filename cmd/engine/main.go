// Package main provides the RDataCore engine process: the long-running
// service that reconciles workflow schedules onto the Job Queue and runs
// the Maintenance Worker's periodic upkeep. Step/batch execution itself
// happens in cmd/ingester, which drains the queue this process feeds.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/r3data-core/rdatacore/internal/cache"
	"github.com/r3data-core/rdatacore/internal/config"
	"github.com/r3data-core/rdatacore/internal/definition"
	"github.com/r3data-core/rdatacore/internal/maintenance"
	"github.com/r3data-core/rdatacore/internal/queue"
	"github.com/r3data-core/rdatacore/internal/runledger"
	"github.com/r3data-core/rdatacore/internal/schedule"
	"github.com/r3data-core/rdatacore/internal/storage"
	"github.com/r3data-core/rdatacore/internal/version"
	"github.com/r3data-core/rdatacore/internal/workflow"
)

const (
	appVersion = "1.0.0-dev"
	appName    = "engine"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("RDATACORE_LOG_LEVEL", slog.LevelInfo),
	}))

	storageCfg := storage.LoadConfig()
	if err := storageCfg.Validate(); err != nil {
		logger.Error("invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(storageCfg)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	cacheCfg := cache.LoadConfig()
	definitionCache := cache.NewDefinitionCache(cacheCfg.DefinitionCacheSize)

	versions := version.New(conn)
	registry := definition.New(conn, versions, definitionCache)
	definitionCache.Bind(registry)

	runs := runledger.New(conn)
	workflows := workflow.New(conn)

	queueCfg := queue.LoadConfig()
	producer := queue.NewProducer(queueCfg.Brokers, queueCfg.FetchTopic)
	defer producer.Close()

	schedulerCfg := schedule.LoadConfig()
	scheduler := schedule.New(workflows, runs, producer, *schedulerCfg, logger)

	var cacheInvalidator maintenance.CacheInvalidator = definitionCache
	maintenanceCfg := maintenance.LoadConfig()
	maintenanceWorker := maintenance.New(versions, runs, cacheInvalidator, *maintenanceCfg, logger)
	defer maintenanceWorker.Close()

	logger.Info("engine starting",
		slog.String("version", appVersion),
		slog.String("database", storageCfg.MaskDatabaseURL()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Run(ctx)

	logger.Info("engine stopped")
}
