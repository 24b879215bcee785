package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/observability"
	"github.com/PaulBabatuyi/filebox/internal/worker"
)

// Classifier rates an image reachable at imageURL. A nil map with a nil error
// means the classifier had no opinion.
type Classifier interface {
	Classify(ctx context.Context, imageURL string) (map[string]string, error)
}

// ErrNoVerdict marks a candidate the classifier returned nothing for.
var ErrNoVerdict = errors.New("classifier returned no output")

// ClassifyStage keeps one AutomatedVerdict per candidate, computed from the
// bytes the candidate currently points at.
type ClassifyStage struct {
	store       ClassifyStore
	classifier  Classifier
	parallelism int
	metrics     *observability.StageMetrics
	logger      *zap.Logger
}

// NewClassifyStage accepts a nil classifier, in which case no verdicts are
// recorded and every task stays pending.
func NewClassifyStage(store ClassifyStore, classifier Classifier, parallelism int, metrics *observability.StageMetrics, logger *zap.Logger) *ClassifyStage {
	return &ClassifyStage{
		store:       store,
		classifier:  classifier,
		parallelism: defaultLimit(parallelism),
		metrics:     metrics,
		logger:      logger,
	}
}

func (s *ClassifyStage) Name() string { return StageClassify }

// Run drops verdicts whose candidate is gone or now points at other bytes
// and classifies every candidate left without a verdict. Candidates the
// classifier failed on are returned in a worker.RetryLaterError.
func (s *ClassifyStage) Run(ctx context.Context, keys []models.Key) error {
	candidates, err := s.store.ListCandidates(ctx, keys)
	if err != nil {
		return fmt.Errorf("load candidates: %w", err)
	}
	existing, err := s.store.ListVerdicts(ctx, keys)
	if err != nil {
		return fmt.Errorf("load verdicts: %w", err)
	}

	byKey := make(map[models.Key]models.ModerationCandidate, len(candidates))
	for _, c := range candidates {
		byKey[c.Key()] = c
	}
	current := make(map[models.Key]bool, len(existing))
	var stale []models.Key
	for _, v := range existing {
		c, ok := byKey[v.Key()]
		if ok && v.Matches(c) && v.ClassifierOutput != nil {
			current[v.Key()] = true
			continue
		}
		stale = append(stale, v.Key())
	}
	if len(stale) > 0 {
		if err := s.store.DeleteVerdicts(ctx, stale); err != nil {
			return fmt.Errorf("delete verdicts: %w", err)
		}
	}

	if s.classifier == nil {
		return nil
	}

	var (
		mu       sync.Mutex
		verdicts []models.AutomatedVerdict
		failed   []models.Key
		lastErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, c := range candidates {
		if current[c.Key()] {
			continue
		}
		g.Go(func() error {
			output, err := s.classifier.Classify(gctx, c.AccessURL)
			if err == nil && output == nil {
				err = ErrNoVerdict
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.metrics.Failure(StageClassify, "classifier")
				s.logger.Warn("classification deferred, task stays pending",
					zap.String("file_id", c.FileID),
					zap.String("file_type", c.FileType),
					zap.Error(err),
				)
				failed = append(failed, c.Key())
				lastErr = err
				return nil
			}
			verdicts = append(verdicts, models.AutomatedVerdict{
				FileID:           c.FileID,
				FileType:         c.FileType,
				SourcePath:       c.SourcePath,
				Checksum:         c.Checksum,
				ClassifierOutput: output,
			})
			return nil
		})
	}
	_ = g.Wait()

	if len(verdicts) > 0 {
		if err := s.store.UpsertVerdicts(ctx, verdicts); err != nil {
			return fmt.Errorf("store verdicts: %w", err)
		}
		s.metrics.Rows(StageClassify, len(verdicts))
	}
	if len(failed) > 0 {
		return &worker.RetryLaterError{Keys: failed, Err: lastErr}
	}
	return nil
}
