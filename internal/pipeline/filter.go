package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/observability"
	"github.com/PaulBabatuyi/filebox/internal/storage"
)

// FilterInput is everything the moderation filter reads.
type FilterInput struct {
	Variants         []models.CompressedVariant
	CompressionRules []models.CompressionRule
	ModerationRules  []models.ModerationRule
	Exclusions       []models.ModerationExclusion
}

// ModerationFilter picks the master variant of each moderated file and signs
// an access URL for it.
type ModerationFilter struct {
	signer      storage.Signer
	ttl         time.Duration
	parallelism int
	metrics     *observability.StageMetrics
	logger      *zap.Logger
}

func NewModerationFilter(signer storage.Signer, ttl time.Duration, parallelism int, metrics *observability.StageMetrics, logger *zap.Logger) *ModerationFilter {
	return &ModerationFilter{
		signer:      signer,
		ttl:         ttl,
		parallelism: defaultLimit(parallelism),
		metrics:     metrics,
		logger:      logger,
	}
}

type masterKey struct {
	fileType, format, name string
}

// Select applies exclusion, master and moderation-rule filtering without
// any I/O. At most one variant per key is returned, ordered by key.
func Select(in FilterInput) []models.ModerationCandidate {
	excluded := keySet(in.Exclusions)

	masters := make(map[masterKey]bool)
	for _, r := range in.CompressionRules {
		if r.IsMaster() {
			masters[masterKey{r.FileType, r.OutputFormat, r.VariantName}] = true
		}
	}

	labels := make(map[string]models.LabelData, len(in.ModerationRules))
	for _, m := range in.ModerationRules {
		labels[m.FileType] = m.LabelData
	}

	variants := append([]models.CompressedVariant(nil), in.Variants...)
	sort.Slice(variants, func(i, j int) bool {
		a, b := variants[i], variants[j]
		if a.FileType != b.FileType {
			return a.FileType < b.FileType
		}
		if a.FileID != b.FileID {
			return a.FileID < b.FileID
		}
		if a.VariantName != b.VariantName {
			return a.VariantName < b.VariantName
		}
		return a.OutputFormat < b.OutputFormat
	})

	seen := make(map[models.Key]bool)
	var out []models.ModerationCandidate
	for _, v := range variants {
		key := v.Key()
		if excluded[key] || seen[key] {
			continue
		}
		if !masters[masterKey{v.FileType, v.OutputFormat, v.VariantName}] {
			continue
		}
		ld, ok := labels[v.FileType]
		if !ok {
			continue
		}
		seen[key] = true
		out = append(out, models.ModerationCandidate{
			FileID:        v.FileID,
			FileType:      v.FileType,
			SourcePath:    v.StoragePath,
			Checksum:      v.Checksum,
			LabelDefaults: ld,
		})
	}
	return out
}

// Filter returns the moderation candidates of in. Rows whose path cannot be
// signed are dropped; they are not moderable yet.
func (f *ModerationFilter) Filter(ctx context.Context, in FilterInput) []models.ModerationCandidate {
	selected := Select(in)

	signed := make([]bool, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)
	for i := range selected {
		g.Go(func() error {
			c := &selected[i]
			u, err := f.signer.Sign(gctx, c.SourcePath, f.ttl)
			if err != nil || u == "" {
				if err == nil {
					err = ErrSignedURL
				}
				f.metrics.Failure(StageModerationFilter, "sign")
				f.logger.Warn("dropping moderation candidate without access url",
					zap.String("file_id", c.FileID),
					zap.String("file_type", c.FileType),
					zap.String("path", c.SourcePath),
					zap.Error(err),
				)
				return nil
			}
			c.AccessURL = u
			signed[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := selected[:0]
	for i, c := range selected {
		if signed[i] {
			out = append(out, c)
		}
	}
	return out
}

// FilterStage re-derives the ModerationCandidate rows of a chunk of keys.
type FilterStage struct {
	store   FilterStore
	filter  *ModerationFilter
	metrics *observability.StageMetrics
}

func NewFilterStage(store FilterStore, filter *ModerationFilter, metrics *observability.StageMetrics) *FilterStage {
	return &FilterStage{store: store, filter: filter, metrics: metrics}
}

func (s *FilterStage) Name() string { return StageModerationFilter }

func (s *FilterStage) Run(ctx context.Context, keys []models.Key) error {
	variants, err := s.store.ListVariants(ctx, keys)
	if err != nil {
		return fmt.Errorf("load variants: %w", err)
	}
	exclusions, err := s.store.ListExclusions(ctx, keys)
	if err != nil {
		return fmt.Errorf("load exclusions: %w", err)
	}
	compress, err := s.store.CompressionRules(ctx)
	if err != nil {
		return fmt.Errorf("load compression rules: %w", err)
	}
	moderation, err := s.store.ModerationRules(ctx)
	if err != nil {
		return fmt.Errorf("load moderation rules: %w", err)
	}

	candidates := s.filter.Filter(ctx, FilterInput{
		Variants:         variants,
		CompressionRules: compress,
		ModerationRules:  moderation,
		Exclusions:       exclusions,
	})
	if err := s.store.ReplaceCandidates(ctx, keys, candidates); err != nil {
		return fmt.Errorf("replace candidates: %w", err)
	}
	s.metrics.Rows(StageModerationFilter, len(candidates))
	return nil
}
