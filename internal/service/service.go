package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/storage"
)

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 500
)

func New(opts Options) *FileBox {
	if opts.MaxConcurrentUploads <= 0 {
		opts.MaxConcurrentUploads = 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &FileBox{
		store:     opts.Store,
		catalog:   storage.NewCatalog(opts.Blobs),
		paths:     opts.Paths,
		compress:  opts.Compress,
		assembler: opts.Assembler,
		rules:     opts.Rules,
		review:    opts.Review,
		saver:     opts.RuleSaver,
		uploadSem: semaphore.NewWeighted(opts.MaxConcurrentUploads),
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
	}
}

// UploadRequest is one file handed to UploadFile. An empty FileID gets a
// fresh UUID; an empty FileType is detected from the bytes.
type UploadRequest struct {
	FileID   string
	FileType string
	Data     []byte
	Metadata map[string]any
}

// UploadFile stores the raw bytes, records the file, derives its variants
// before returning and queues it for moderation.
func (s *FileBox) UploadFile(ctx context.Context, req UploadRequest) (*models.Response, error) {
	if err := s.uploadSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.uploadSem.Release(1)

	if err := s.validateUpload(&req); err != nil {
		return nil, err
	}
	if err := s.rules.Loaded(ctx); err != nil {
		return nil, err
	}

	fileType, contentType := DetectFileType(req.Data, req.FileType)
	if req.FileID == "" {
		req.FileID = uuid.New().String()
	}
	logger := s.logger.With(zap.String("file_id", req.FileID), zap.String("file_type", fileType))

	blobs, err := s.catalog.Blob(storage.TableFileRaw)
	if err != nil {
		return nil, err
	}
	file := models.FileRecord{
		FileID:      req.FileID,
		FileType:    fileType,
		Metadata:    req.Metadata,
		StoragePath: s.paths.ResolveRawPath(fileType, req.FileID),
	}
	if err := blobs.Put(ctx, file.StoragePath, req.Data, contentType); err != nil {
		return nil, fmt.Errorf("store raw bytes: %w", err)
	}

	if err := s.catalog.Relational(storage.TableFileData); err != nil {
		return nil, err
	}
	if err := s.store.UpsertFile(ctx, file); err != nil {
		return nil, fmt.Errorf("save file record: %w", err)
	}

	rules, err := s.store.CompressionRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load compression rules: %w", err)
	}
	variants, err := s.compress.CompressFile(ctx, file, rules)
	if err != nil {
		return nil, err
	}

	if err := s.store.Enqueue(ctx, pipeline.StageModerationFilter, []models.Key{file.Key()}); err != nil {
		// The next rule reload or re-upload queues the key again.
		logger.Error("failed to queue moderation", zap.Error(err))
	}

	logger.Info("file uploaded", zap.Int("bytes", len(req.Data)), zap.Int("variants", len(variants)))
	resp := s.assembler.Assemble(ctx, file, variants)
	return &resp, nil
}

func (s *FileBox) validateUpload(req *UploadRequest) error {
	if len(req.Data) == 0 {
		return invalidf("file is empty")
	}
	if s.maxUpload > 0 && int64(len(req.Data)) > s.maxUpload {
		return invalidf("file too large: %d bytes exceeds %d", len(req.Data), s.maxUpload)
	}
	if req.FileID != "" {
		if err := ValidateFileID(req.FileID); err != nil {
			return err
		}
	}
	if req.FileType != "" {
		if err := ValidateFileType(req.FileType); err != nil {
			return err
		}
	}
	return nil
}

// GetFile returns the assembled response of fileID or ErrNotFound.
func (s *FileBox) GetFile(ctx context.Context, fileID string) (*models.Response, error) {
	if err := ValidateFileID(fileID); err != nil {
		return nil, err
	}
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, *file)
}

// UpdateMetadata replaces the uploader metadata and refreshes the file's
// moderation task.
func (s *FileBox) UpdateMetadata(ctx context.Context, fileID string, metadata map[string]any) (*models.Response, error) {
	if err := ValidateFileID(fileID); err != nil {
		return nil, err
	}
	file, err := s.store.UpdateMetadata(ctx, fileID, metadata)
	if err != nil {
		return nil, err
	}
	if err := s.store.Enqueue(ctx, pipeline.StageModerationMerge, []models.Key{file.Key()}); err != nil {
		return nil, fmt.Errorf("queue moderation merge: %w", err)
	}
	return s.respond(ctx, *file)
}

func (s *FileBox) respond(ctx context.Context, file models.FileRecord) (*models.Response, error) {
	variants, err := s.store.ListVariants(ctx, []models.Key{file.Key()})
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	resp := s.assembler.Assemble(ctx, file, variants)
	return &resp, nil
}

// GetFileBytes reads a stored blob by its storage path.
func (s *FileBox) GetFileBytes(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, invalidf("path is required")
	}
	blobs, err := s.catalog.Blob(storage.TableFileRaw)
	if err != nil {
		return nil, err
	}
	data, err := blobs.Get(ctx, path)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrNotFound, path)
	}
	return data, err
}

// Config is the active rule document with its version.
type Config struct {
	Document models.RuleDocument
	Version  models.RuleSetVersion
	Changed  bool
}

func (s *FileBox) GetConfig(ctx context.Context) (*Config, error) {
	doc, version, err := s.rules.Active(ctx)
	if err != nil {
		return nil, err
	}
	return &Config{Document: doc, Version: *version}, nil
}

// SetConfig writes doc to the rule file when one is configured and applies
// it.
func (s *FileBox) SetConfig(ctx context.Context, doc models.RuleDocument) (*Config, error) {
	if err := doc.Validate(); err != nil {
		return nil, invalidf("invalid rule document: %v", err)
	}
	var (
		changed bool
		err     error
	)
	if s.saver != nil {
		changed, err = s.saver.Save(ctx, doc)
	} else {
		changed, err = s.rules.Apply(ctx, doc)
	}
	if err != nil {
		return nil, err
	}
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Changed = changed
	return cfg, nil
}

// AddExclusion exempts a file from moderation and refilters it.
func (s *FileBox) AddExclusion(ctx context.Context, key models.Key) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.store.AddExclusion(ctx, key); err != nil {
		return err
	}
	return s.store.Enqueue(ctx, pipeline.StageModerationFilter, []models.Key{key})
}

func (s *FileBox) RemoveExclusion(ctx context.Context, key models.Key) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.store.RemoveExclusion(ctx, key); err != nil {
		return err
	}
	return s.store.Enqueue(ctx, pipeline.StageModerationFilter, []models.Key{key})
}

// ListTasks pages through moderation tasks ordered by key.
func (s *FileBox) ListTasks(ctx context.Context, limit, offset int) ([]models.ModerationTask, error) {
	if limit <= 0 {
		limit = defaultTaskLimit
	}
	if limit > maxTaskLimit {
		limit = maxTaskLimit
	}
	if offset < 0 {
		return nil, invalidf("offset must be non-negative")
	}
	return s.store.ListTasks(ctx, limit, offset)
}

func (s *FileBox) ProcessReview(ctx context.Context, outcomes []models.ReviewOutcome) (pipeline.ReviewResult, error) {
	for _, o := range outcomes {
		if err := validateKey(models.Key{FileID: o.FileID, FileType: o.FileType}); err != nil {
			return pipeline.ReviewResult{}, err
		}
	}
	return s.review.Process(ctx, outcomes)
}

func (s *FileBox) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
