package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/observability"
)

// Stage is one keyed transform driven by the runner.
type Stage interface {
	Name() string
	Run(ctx context.Context, keys []models.Key) error
}

// JobQueue is the persistent change feed the runner polls.
type JobQueue interface {
	Enqueue(ctx context.Context, stage string, keys []models.Key) error
	Claim(ctx context.Context, stage string, limit int, lease time.Duration) ([]models.Job, error)
	Ack(ctx context.Context, jobs []models.Job) error
	Release(ctx context.Context, jobs []models.Job) error
}

// RetryLaterError is returned by a stage that finished a chunk except for
// Keys. The rest of the chunk is acknowledged and passed downstream; the jobs
// of Keys keep their lease and are claimed again once it lapses.
type RetryLaterError struct {
	Keys []models.Key
	Err  error
}

func (e *RetryLaterError) Error() string {
	return fmt.Sprintf("%d keys deferred: %v", len(e.Keys), e.Err)
}

func (e *RetryLaterError) Unwrap() error { return e.Err }

type StageConfig struct {
	Stage Stage
	// Next is notified with the chunk's keys after a successful run.
	Next      string
	ChunkSize int
	// Workers is the number of concurrent pollers for this stage.
	Workers int
}

type WorkerConfig struct {
	Queue           JobQueue
	Stages          []StageConfig
	PollInterval    time.Duration
	Lease           time.Duration
	ShutdownTimeout time.Duration
	Metrics         *observability.StageMetrics
	Logger          *zap.Logger
}

// ProcessingWorker polls the job queue and feeds every stage its chunks.
type ProcessingWorker struct {
	config *WorkerConfig
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewProcessingWorker(config *WorkerConfig) *ProcessingWorker {
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.Lease == 0 {
		config.Lease = 5 * time.Minute
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	for i := range config.Stages {
		if config.Stages[i].ChunkSize <= 0 {
			config.Stages[i].ChunkSize = 50
		}
		if config.Stages[i].Workers <= 0 {
			config.Stages[i].Workers = 1
		}
	}
	return &ProcessingWorker{
		config: config,
		done:   make(chan struct{}),
	}
}

func (pw *ProcessingWorker) Start(ctx context.Context) {
	for _, sc := range pw.config.Stages {
		for i := 0; i < sc.Workers; i++ {
			pw.wg.Add(1)
			go pw.run(ctx, sc)
		}
	}
	pw.config.Logger.Info("processing worker started", zap.Int("stages", len(pw.config.Stages)))
}

// Stop waits for in-flight chunks up to the shutdown timeout.
func (pw *ProcessingWorker) Stop() {
	close(pw.done)

	finished := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		pw.config.Logger.Info("processing worker stopped")
	case <-time.After(pw.config.ShutdownTimeout):
		pw.config.Logger.Warn("processing worker stop timed out; leased jobs will be retried")
	}
}

func (pw *ProcessingWorker) run(ctx context.Context, sc StageConfig) {
	defer pw.wg.Done()
	ticker := time.NewTicker(pw.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Keep draining while chunks come back full.
			for {
				n, err := pw.ProcessNext(ctx, sc)
				if err != nil || n < sc.ChunkSize {
					break
				}
				select {
				case <-pw.done:
					return
				default:
				}
			}
		}
	}
}

// ProcessNext claims one chunk for sc and runs it. It returns the number of
// jobs claimed.
func (pw *ProcessingWorker) ProcessNext(ctx context.Context, sc StageConfig) (int, error) {
	name := sc.Stage.Name()
	logger := pw.config.Logger.With(zap.String("stage", name))

	jobs, err := pw.config.Queue.Claim(ctx, name, sc.ChunkSize, pw.config.Lease)
	if err != nil {
		logger.Error("claim jobs", zap.Error(err))
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	keys := make([]models.Key, len(jobs))
	for i, j := range jobs {
		keys[i] = j.Key
	}

	start := time.Now()
	err = pw.runStage(ctx, sc.Stage, keys)
	pw.config.Metrics.ObserveChunk(name, start, err)

	var retry *RetryLaterError
	if errors.As(err, &retry) {
		deferred := make(map[models.Key]bool, len(retry.Keys))
		for _, k := range retry.Keys {
			deferred[k] = true
		}
		done := jobs[:0:0]
		for _, j := range jobs {
			if !deferred[j.Key] {
				done = append(done, j)
			}
		}
		logger.Warn("keys deferred until their lease lapses",
			zap.Int("keys", len(jobs)-len(done)),
			zap.Duration("lease", pw.config.Lease),
			zap.Error(retry.Err),
		)
		pw.config.Metrics.Requeued(name, len(jobs)-len(done))
		jobs, err = done, nil
	}

	if err != nil {
		logger.Error("stage failed, releasing chunk", zap.Int("keys", len(keys)), zap.Error(err))
		pw.config.Metrics.Requeued(name, len(jobs))
		if rerr := pw.config.Queue.Release(ctx, jobs); rerr != nil {
			logger.Error("release jobs", zap.Error(rerr))
		}
		return len(jobs), err
	}

	if sc.Next != "" {
		if err := pw.config.Queue.Enqueue(ctx, sc.Next, keys); err != nil {
			logger.Error("enqueue downstream", zap.String("next", sc.Next), zap.Error(err))
			if rerr := pw.config.Queue.Release(ctx, jobs); rerr != nil {
				logger.Error("release jobs", zap.Error(rerr))
			}
			return len(jobs), err
		}
	}
	if err := pw.config.Queue.Ack(ctx, jobs); err != nil {
		logger.Error("ack jobs", zap.Error(err))
		return len(jobs), err
	}

	logger.Debug("chunk processed", zap.Int("keys", len(keys)), zap.Duration("elapsed", time.Since(start)))
	return len(jobs), nil
}

func (pw *ProcessingWorker) runStage(ctx context.Context, stage Stage, keys []models.Key) error {
	ctx, span := observability.Tracer().Start(ctx, "stage."+stage.Name())
	defer span.End()
	span.SetAttributes(
		attribute.String("filebox.stage", stage.Name()),
		attribute.Int("filebox.keys", len(keys)),
	)

	if err := stage.Run(ctx, keys); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Drain runs every stage until no stage has queued work left. Used for
// one-shot reprocessing and tests.
func (pw *ProcessingWorker) Drain(ctx context.Context) error {
	for {
		total := 0
		for _, sc := range pw.config.Stages {
			for {
				n, err := pw.ProcessNext(ctx, sc)
				if err != nil {
					return err
				}
				total += n
				if n < sc.ChunkSize {
					break
				}
			}
		}
		if total == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
