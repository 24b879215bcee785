package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/observability"
	"github.com/PaulBabatuyi/filebox/internal/storage"
	"github.com/PaulBabatuyi/filebox/internal/worker"
)

// VariantResult is the outcome of one rule applied to one file. Exactly one
// of Err or (Variant, Bytes) is set.
type VariantResult struct {
	Rule    models.CompressionRule
	Variant models.CompressedVariant
	Bytes   []byte
	Err     error
}

// Expander turns one raw file into its compressed variants.
type Expander struct {
	catalog     *storage.Catalog
	paths       *storage.Resolver
	parallelism int
}

func NewExpander(blobs storage.BlobStore, paths *storage.Resolver, parallelism int) *Expander {
	return &Expander{catalog: storage.NewCatalog(blobs), paths: paths, parallelism: defaultLimit(parallelism)}
}

// ContentChecksum stamps encoded variant bytes. Downstream rows carry it so
// a verdict can tell which bytes it was computed from.
func ContentChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MatchingRules returns the rules for fileType ordered by (name, format).
func MatchingRules(fileType string, rules []models.CompressionRule) []models.CompressionRule {
	var out []models.CompressionRule
	for _, r := range rules {
		if r.FileType == fileType {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VariantName != out[j].VariantName {
			return out[i].VariantName < out[j].VariantName
		}
		return out[i].OutputFormat < out[j].OutputFormat
	})
	return out
}

// Expand reads the raw bytes once and produces one result per matching rule.
// Only a failure to read the raw bytes is returned as an error; decode and
// encode failures are reported per rule.
func (e *Expander) Expand(ctx context.Context, file models.FileRecord, rules []models.CompressionRule) ([]VariantResult, error) {
	matched := MatchingRules(file.FileType, rules)
	if len(matched) == 0 {
		return nil, nil
	}

	blobs, err := e.catalog.Blob(storage.TableFileRaw)
	if err != nil {
		return nil, err
	}
	raw, err := blobs.Get(ctx, file.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("read raw bytes of %s: %w", file.Key(), err)
	}

	results := make([]VariantResult, len(matched))
	src, decodeErr := worker.DecodeImage(raw)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, rule := range matched {
		results[i].Rule = rule
		if decodeErr != nil {
			results[i].Err = decodeErr
			continue
		}
		g.Go(func() error {
			results[i] = e.expandOne(file, rule, src)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (e *Expander) expandOne(file models.FileRecord, rule models.CompressionRule, src image.Image) VariantResult {
	res := VariantResult{Rule: rule}
	data, err := worker.TranscodeImage(src, rule.TargetWidth, rule.Resample, rule.OutputFormat)
	if err != nil {
		res.Err = err
		return res
	}
	res.Bytes = data
	res.Variant = models.CompressedVariant{
		FileID:       file.FileID,
		FileType:     file.FileType,
		OutputFormat: rule.OutputFormat,
		VariantName:  rule.VariantName,
		StoragePath:  e.paths.ResolveVariantPath(file.FileType, file.FileID, rule.VariantName, rule.OutputFormat),
		Checksum:     ContentChecksum(data),
	}
	return res
}

// CompressStage keeps the CompressedVariant rows and bytes of every key in
// line with the current file and rule set.
type CompressStage struct {
	store       CompressStore
	catalog     *storage.Catalog
	expander    *Expander
	parallelism int
	metrics     *observability.StageMetrics
	logger      *zap.Logger
}

func NewCompressStage(store CompressStore, blobs storage.BlobStore, expander *Expander, parallelism int, metrics *observability.StageMetrics, logger *zap.Logger) *CompressStage {
	return &CompressStage{
		store:       store,
		catalog:     storage.NewCatalog(blobs),
		expander:    expander,
		parallelism: defaultLimit(parallelism),
		metrics:     metrics,
		logger:      logger,
	}
}

func (s *CompressStage) Name() string { return StageCompress }

func (s *CompressStage) Run(ctx context.Context, keys []models.Key) error {
	files, err := s.store.GetFilesByKeys(ctx, keys)
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}
	rules, err := s.store.CompressionRules(ctx)
	if err != nil {
		return fmt.Errorf("load compression rules: %w", err)
	}

	found := make(map[models.Key]bool, len(files))
	for _, f := range files {
		found[f.Key()] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, f := range files {
		g.Go(func() error {
			_, err := s.CompressFile(gctx, f, rules)
			if errors.Is(err, ErrNotFound) {
				// Deleted mid-run; the purge job owns what is left.
				return nil
			}
			return err
		})
	}
	// A key without a file has been deleted; drop whatever variants remain.
	for _, k := range keys {
		if found[k] {
			continue
		}
		g.Go(func() error {
			return s.replace(gctx, k, nil)
		})
	}
	return g.Wait()
}

// CompressFile derives and stores every variant of one file and returns the
// rows now on record for it. It returns ErrNotFound when the file was
// deleted while its variants were being written; the bytes it wrote are
// removed again.
func (s *CompressStage) CompressFile(ctx context.Context, file models.FileRecord, rules []models.CompressionRule) ([]models.CompressedVariant, error) {
	results, err := s.expander.Expand(ctx, file, rules)
	if err != nil {
		return nil, err
	}
	blobs, err := s.catalog.Blob(storage.TableVariantBytes)
	if err != nil {
		return nil, err
	}

	variants := make([]models.CompressedVariant, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			s.logRowFailure(file, res)
			continue
		}
		if err := blobs.Put(ctx, res.Variant.StoragePath, res.Bytes, worker.ContentType(res.Rule.OutputFormat)); err != nil {
			return nil, fmt.Errorf("write variant %s of %s: %w", res.Rule.VariantName, file.Key(), err)
		}
		variants = append(variants, res.Variant)
	}

	err = s.replace(ctx, file.Key(), variants)
	if errors.Is(err, ErrNotFound) {
		for _, v := range variants {
			if rerr := blobs.Remove(ctx, v.StoragePath); rerr != nil {
				s.logger.Warn("orphaned variant left behind", zap.String("path", v.StoragePath), zap.Error(rerr))
			}
		}
		s.logger.Info("file deleted during compression",
			zap.String("file_id", file.FileID),
			zap.String("file_type", file.FileType),
		)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.metrics.Rows(StageCompress, len(variants))
	return variants, nil
}

func (s *CompressStage) replace(ctx context.Context, key models.Key, variants []models.CompressedVariant) error {
	if err := s.catalog.Relational(storage.TableVariants); err != nil {
		return err
	}
	blobs, err := s.catalog.Blob(storage.TableVariantBytes)
	if err != nil {
		return err
	}
	removed, err := s.store.ReplaceVariants(ctx, key, variants)
	if err != nil {
		return fmt.Errorf("replace variants of %s: %w", key, err)
	}

	kept := make(map[string]bool, len(variants))
	for _, v := range variants {
		kept[v.StoragePath] = true
	}
	for _, v := range removed {
		if kept[v.StoragePath] {
			continue
		}
		if err := blobs.Remove(ctx, v.StoragePath); err != nil {
			return fmt.Errorf("remove stale variant %s: %w", v.StoragePath, err)
		}
	}
	return nil
}

func (s *CompressStage) logRowFailure(file models.FileRecord, res VariantResult) {
	reason := "transcode"
	var decodeErr *worker.DecodeError
	var encodeErr *worker.EncodeError
	switch {
	case errors.As(res.Err, &decodeErr):
		reason = "decode"
	case errors.As(res.Err, &encodeErr):
		reason = "encode"
	}
	s.metrics.Failure(StageCompress, reason)
	s.logger.Warn("variant not produced",
		zap.String("file_id", file.FileID),
		zap.String("file_type", file.FileType),
		zap.String("variant", res.Rule.VariantName),
		zap.String("format", res.Rule.OutputFormat),
		zap.String("reason", reason),
		zap.Error(res.Err),
	)
}
