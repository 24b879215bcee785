package database

import (
	"context"
	"time"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
)

// Store is the relational side of the pipeline. PostgresDB is the production
// implementation and MemoryStore backs tests and database-less runs.
type Store interface {
	pipeline.RuleStore
	pipeline.CompressStore
	pipeline.FilterStore
	pipeline.ClassifyStore
	pipeline.MergeStore
	pipeline.ReviewStore
	JobQueue

	Ping(ctx context.Context) error
	Close() error

	UpsertFile(ctx context.Context, file models.FileRecord) error
	// GetFile looks a file up by id alone and returns models.ErrNotFound
	// when no type has it.
	GetFile(ctx context.Context, fileID string) (*models.FileRecord, error)
	UpdateMetadata(ctx context.Context, fileID string, metadata map[string]any) (*models.FileRecord, error)

	AddExclusion(ctx context.Context, key models.Key) error
	RemoveExclusion(ctx context.Context, key models.Key) error

	ListTasks(ctx context.Context, limit, offset int) ([]models.ModerationTask, error)
	ListManualVerdicts(ctx context.Context, keys []models.Key) ([]models.ManualVerdict, error)
	ListDeletions(ctx context.Context, keys []models.Key) ([]models.DeletionRecord, error)
}

// JobQueue holds the keys each stage still has to process.
type JobQueue interface {
	pipeline.Queue
	// Claim leases up to limit jobs of stage for the given duration.
	Claim(ctx context.Context, stage string, limit int, lease time.Duration) ([]models.Job, error)
	// Ack removes jobs that were not queued again while they ran.
	Ack(ctx context.Context, jobs []models.Job) error
	// Release ends the lease of jobs so they can be claimed again.
	Release(ctx context.Context, jobs []models.Job) error
}
