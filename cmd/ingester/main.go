// Package main provides the RDataCore ingester: the worker pool that drains
// the Job Queue's fetch and process topics, running each queued Job's
// workflow through the Pipeline Executor to completion.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/r3data-core/rdatacore/internal/apierrors"
	"github.com/r3data-core/rdatacore/internal/cache"
	"github.com/r3data-core/rdatacore/internal/config"
	"github.com/r3data-core/rdatacore/internal/definition"
	"github.com/r3data-core/rdatacore/internal/dsl"
	"github.com/r3data-core/rdatacore/internal/entity"
	"github.com/r3data-core/rdatacore/internal/pipeline"
	"github.com/r3data-core/rdatacore/internal/queue"
	"github.com/r3data-core/rdatacore/internal/runledger"
	"github.com/r3data-core/rdatacore/internal/storage"
	"github.com/r3data-core/rdatacore/internal/version"
	"github.com/r3data-core/rdatacore/internal/workflow"
)

const (
	appVersion = "1.0.0-dev"
	appName    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	concurrency := flag.Int("concurrency", 4, "workers per logical queue")
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

	entities := entity.New(conn, definitionCache, versions)
	runs := runledger.New(conn)
	workflows := workflow.New(conn)
	rawItems := pipeline.NewRawItemStore(conn)

	var l2 *redis.Client
	if cacheCfg.RedisEnabled {
		l2 = cache.NewRedisClient(cacheCfg)
	}

	creds := cache.NewCredentialCache(l2, cacheCfg.CredentialCacheSize, cacheCfg.CredentialTTL)

	signingKey := []byte(config.GetEnvStr("RDATACORE_TOKEN_SIGNING_KEY", ""))
	issuer := dsl.NewTokenIssuer(signingKey)

	pipelineCfg := pipeline.DefaultConfig()
	limiters := pipeline.NewDestinationLimiters(pipelineCfg)
	defer limiters.Close()

	source := pipeline.NewCatalogueSource(entities, nil, nil, limiters)
	sink := pipeline.NewCatalogueSink(entities, nil, limiters)
	executor := pipeline.NewExecutor(runs, rawItems, source, sink, entities, issuer, creds, pipelineCfg)

	handler := func(ctx context.Context, job queue.Job) error {
		return processJob(ctx, executor, runs, workflows, job)
	}

	queueCfg := queue.LoadConfig()
	fetchConsumer := queue.NewConsumer(queueCfg.Brokers, queueCfg.FetchTopic, queueCfg.FetchGroupID)
	defer fetchConsumer.Close()

	processConsumer := queue.NewConsumer(queueCfg.Brokers, queueCfg.ProcessTopic, queueCfg.ProcessGroupID)
	defer processConsumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("ingester starting", slog.String("version", appVersion), slog.Int("concurrency", *concurrency))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		queue.RunWorkerPool(ctx, logger, fetchConsumer, *concurrency, handler)
	}()

	go func() {
		defer wg.Done()
		queue.RunWorkerPool(ctx, logger, processConsumer, *concurrency, handler)
	}()

	wg.Wait()

	logger.Info("ingester stopped")
}

// processJob loads the Job's Run and its WorkflowDefinition's Program and
// drives the Pipeline Executor to completion, per §4.F/§4.G.
func processJob(ctx context.Context, executor *pipeline.Executor, runs *runledger.Ledger, workflows *workflow.Store, job queue.Job) error {
	run, err := runs.GetRun(ctx, job.RunID)
	if err != nil {
		return err
	}

	def, err := workflows.Get(ctx, job.WorkflowID)
	if err != nil {
		return err
	}

	var program dsl.Program
	if err := json.Unmarshal(def.Program, &program); err != nil {
		return apierrors.Wrap(apierrors.KindConfig, "decode workflow program", err)
	}

	cancelled := func() bool { return ctx.Err() != nil }

	return executor.Run(ctx, run, program, cancelled)
}
