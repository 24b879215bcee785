package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/classifier"
	"github.com/PaulBabatuyi/filebox/internal/config"
	"github.com/PaulBabatuyi/filebox/internal/database"
	"github.com/PaulBabatuyi/filebox/internal/observability"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/service"
	"github.com/PaulBabatuyi/filebox/internal/storage"
	"github.com/PaulBabatuyi/filebox/internal/worker"
)

type blobBackend interface {
	storage.BlobStore
	storage.Signer
}

// app holds every long-lived component of the server.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.MetricsCollector

	store  database.Store
	blobs  blobBackend
	signer storage.Signer
	paths  *storage.Resolver

	rules   *pipeline.RuleManager
	watcher *config.RuleWatcher
	worker  *worker.ProcessingWorker
	svc     *service.FileBox
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (database.Store, error) {
	if cfg.DSN == "" {
		logger.Warn("no database configured, using the in-memory store")
		return database.NewMemoryStore(), nil
	}
	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DSN, logger); err != nil {
			return nil, err
		}
	}
	return database.NewPostgresDB(ctx, cfg.DSN, database.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}

func openBlobs(ctx context.Context, cfg config.BlobConfig, logger *zap.Logger) (blobBackend, error) {
	switch cfg.Driver {
	case "minio":
		return storage.NewMinIOStorage(ctx, cfg.MinIO, logger)
	default:
		return storage.NewFilesystemStorage(cfg.BaseDir, cfg.PublicURL)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	metrics, err := observability.InitMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := openBlobs(ctx, cfg.Blob, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   store,
		blobs:   blobs,
		signer:  storage.NewCachingSigner(blobs, cfg.Signing.TTL, cfg.Signing.CacheSize),
		paths:   storage.NewResolver(cfg.Blob.PathBase),
	}
	a.rules = pipeline.NewRuleManager(store, logger.Named("rules"))
	if cfg.Pipeline.RulesPath != "" {
		a.watcher = config.NewRuleWatcher(cfg.Pipeline.RulesPath, a.rules, logger.Named("rules"))
	}

	stages, compress := a.buildStages()
	a.worker = worker.NewProcessingWorker(&worker.WorkerConfig{
		Queue:           store,
		Stages:          stages,
		PollInterval:    cfg.Pipeline.PollInterval,
		Lease:           cfg.Pipeline.Lease,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Metrics:         metrics.Stages(),
		Logger:          logger.Named("worker"),
	})

	opts := service.Options{
		Store:                store,
		Blobs:                blobs,
		Paths:                a.paths,
		Compress:             compress,
		Assembler:            pipeline.NewAssembler(a.signer, cfg.Signing.TTL, logger.Named("response")),
		Rules:                a.rules,
		Review:               pipeline.NewReviewProcessor(store, blobs, a.paths, metrics.Stages(), logger.Named("review")),
		MaxConcurrentUploads: cfg.Server.MaxConcurrentUploads,
		MaxUploadBytes:       cfg.Server.MaxUploadBytes,
		Logger:               logger.Named("service"),
	}
	if a.watcher != nil {
		opts.RuleSaver = a.watcher
	}
	a.svc = service.New(opts)
	return a, nil
}

// buildStages returns the runner configuration and the compress stage,
// which uploads also run inline.
func (a *app) buildStages() ([]worker.StageConfig, *pipeline.CompressStage) {
	cfg, sm := a.cfg, a.metrics.Stages()
	settings := func(name string) config.StageSettings { return cfg.Pipeline.Stage(name) }

	var cls pipeline.Classifier
	if cfg.Classifier.Enabled {
		cls = classifier.NewVisionClient(cfg.Classifier, nil, a.logger.Named("classifier"))
	} else {
		a.logger.Warn("classifier disabled, moderation tasks stay pending")
	}

	s := settings(pipeline.StageCompress)
	expander := pipeline.NewExpander(a.blobs, a.paths, s.Parallelism)
	compress := pipeline.NewCompressStage(a.store, a.blobs, expander, s.Parallelism, sm, a.logger.Named(pipeline.StageCompress))
	stages := []pipeline.Stage{
		compress,
		pipeline.NewFilterStage(a.store, pipeline.NewModerationFilter(a.signer, cfg.Signing.TTL,
			settings(pipeline.StageModerationFilter).Parallelism, sm, a.logger.Named(pipeline.StageModerationFilter)), sm),
		pipeline.NewClassifyStage(a.store, cls, settings(pipeline.StageClassify).Parallelism, sm, a.logger.Named(pipeline.StageClassify)),
		pipeline.NewMergeStage(a.store, sm),
		pipeline.NewPurgeStage(a.store, a.blobs, a.paths),
	}

	out := make([]worker.StageConfig, len(stages))
	for i, st := range stages {
		s := settings(st.Name())
		next, _ := pipeline.Downstream(st.Name())
		out[i] = worker.StageConfig{Stage: st, Next: next, ChunkSize: s.ChunkSize, Workers: s.Workers}
	}
	return out, compress
}

// loadRules applies the rule file when it exists. A missing file leaves the
// service rejecting uploads until SetConfig is called.
func (a *app) loadRules(ctx context.Context) error {
	if a.watcher == nil {
		return nil
	}
	if _, err := os.Stat(a.watcher.Path()); os.IsNotExist(err) {
		a.logger.Warn("rule document not found, uploads are rejected until SetConfig", zap.String("path", a.watcher.Path()))
		return nil
	}
	if _, err := a.watcher.Load(ctx); err != nil {
		return fmt.Errorf("load rule document: %w", err)
	}
	return nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", zap.Error(err))
	}
}
