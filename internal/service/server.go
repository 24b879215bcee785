package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/PaulBabatuyi/filebox/internal/database"
	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/storage"
)

// RuleSaver persists a rule document where the rule watcher reads it.
type RuleSaver interface {
	Save(ctx context.Context, doc models.RuleDocument) (bool, error)
}

type Options struct {
	Store     database.Store
	Blobs     storage.BlobStore
	Paths     *storage.Resolver
	Compress  *pipeline.CompressStage
	Assembler *pipeline.Assembler
	Rules     *pipeline.RuleManager
	Review    *pipeline.ReviewProcessor
	// RuleSaver is optional. Without it SetConfig only updates the store.
	RuleSaver RuleSaver

	MaxConcurrentUploads int64
	MaxUploadBytes       int64
	Logger               *zap.Logger
}

// FileBox is the upload and query service shared by the gRPC and REST
// surfaces.
type FileBox struct {
	store     database.Store
	catalog   *storage.Catalog
	paths     *storage.Resolver
	compress  *pipeline.CompressStage
	assembler *pipeline.Assembler
	rules     *pipeline.RuleManager
	review    *pipeline.ReviewProcessor
	saver     RuleSaver

	uploadSem *semaphore.Weighted
	maxUpload int64
	logger    *zap.Logger
}
