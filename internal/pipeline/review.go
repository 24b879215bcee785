package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/observability"
	"github.com/PaulBabatuyi/filebox/internal/storage"
)

const (
	ModerationChoiceGroup = "moderation"
	DeleteChoice          = "DELETE"
)

// ReviewResult splits a batch of outcomes. Every outcome lands in exactly
// one of the two slices.
type ReviewResult struct {
	Deletions []models.DeletionRecord
	Verdicts  []models.ManualVerdict
}

// WantsDeletion reports whether a reviewer chose DELETE in the moderation
// group.
func WantsDeletion(entries []models.ChoiceEntry) bool {
	for _, e := range entries {
		if e.ChoiceGroup == ModerationChoiceGroup && slices.Contains(e.SelectedChoices, DeleteChoice) {
			return true
		}
	}
	return false
}

// SplitOutcomes classifies outcomes without touching storage. reviewedAt is
// stamped on every produced row.
func SplitOutcomes(outcomes []models.ReviewOutcome, reviewedAt time.Time) ReviewResult {
	var res ReviewResult
	for _, o := range outcomes {
		if WantsDeletion(o.Entries) {
			res.Deletions = append(res.Deletions, models.DeletionRecord{
				FileID:     o.FileID,
				FileType:   o.FileType,
				ReviewedAt: reviewedAt,
			})
			continue
		}
		entries := make([]models.ChoiceEntry, 0, len(o.Entries))
		for _, e := range o.Entries {
			entries = append(entries, models.ChoiceEntry{
				ChoiceGroup:     e.ChoiceGroup,
				SelectedChoices: slices.Clone(e.SelectedChoices),
			})
		}
		res.Verdicts = append(res.Verdicts, models.ManualVerdict{
			FileID:     o.FileID,
			FileType:   o.FileType,
			Entries:    entries,
			ReviewedAt: reviewedAt,
		})
	}
	return res
}

// ReviewProcessor applies human review outcomes.
type ReviewProcessor struct {
	store   ReviewStore
	blobs   storage.BlobStore
	paths   *storage.Resolver
	now     func() time.Time
	metrics *observability.StageMetrics
	logger  *zap.Logger
}

func NewReviewProcessor(store ReviewStore, blobs storage.BlobStore, paths *storage.Resolver, metrics *observability.StageMetrics, logger *zap.Logger) *ReviewProcessor {
	return &ReviewProcessor{
		store:   store,
		blobs:   blobs,
		paths:   paths,
		now:     func() time.Time { return time.Now().UTC() },
		metrics: metrics,
		logger:  logger,
	}
}

// WithClock replaces the processing-time source.
func (p *ReviewProcessor) WithClock(now func() time.Time) *ReviewProcessor {
	p.now = now
	return p
}

// Process stores manual verdicts and runs the cascading delete for every
// outcome that asked for it.
func (p *ReviewProcessor) Process(ctx context.Context, outcomes []models.ReviewOutcome) (ReviewResult, error) {
	res := SplitOutcomes(outcomes, p.now())

	if len(res.Verdicts) > 0 {
		if err := p.store.UpsertManualVerdicts(ctx, res.Verdicts); err != nil {
			return ReviewResult{}, fmt.Errorf("store manual verdicts: %w", err)
		}
	}

	for _, d := range res.Deletions {
		if err := p.store.CascadeDelete(ctx, d); err != nil {
			return ReviewResult{}, fmt.Errorf("delete %s: %w", d.Key(), err)
		}
		p.logger.Info("file deleted by review",
			zap.String("file_id", d.FileID),
			zap.String("file_type", d.FileType),
		)
		// The queued purge job retries this if it fails here.
		prefix := p.paths.ResolvePrefix(d.FileType, d.FileID)
		if err := p.blobs.Delete(ctx, prefix); err != nil {
			p.logger.Warn("blob purge deferred",
				zap.String("file_id", d.FileID),
				zap.String("file_type", d.FileType),
				zap.Error(err),
			)
		}
	}

	p.metrics.Rows("review_deletions", len(res.Deletions))
	p.metrics.Rows("review_verdicts", len(res.Verdicts))
	return res, nil
}

// PurgeStage removes every blob under the prefix of a deleted file. Keys
// that have been uploaded again since are left alone.
type PurgeStage struct {
	files FileReader
	blobs storage.BlobStore
	paths *storage.Resolver
}

func NewPurgeStage(files FileReader, blobs storage.BlobStore, paths *storage.Resolver) *PurgeStage {
	return &PurgeStage{files: files, blobs: blobs, paths: paths}
}

func (s *PurgeStage) Name() string { return StagePurge }

func (s *PurgeStage) Run(ctx context.Context, keys []models.Key) error {
	live, err := s.files.GetFilesByKeys(ctx, keys)
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}
	skip := make(map[models.Key]bool, len(live))
	for _, f := range live {
		skip[f.Key()] = true
	}
	for _, k := range keys {
		if skip[k] {
			continue
		}
		if err := s.blobs.Delete(ctx, s.paths.ResolvePrefix(k.FileType, k.FileID)); err != nil {
			return fmt.Errorf("purge %s: %w", k, err)
		}
	}
	return nil
}
