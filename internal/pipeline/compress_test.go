package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/storage"
	"github.com/PaulBabatuyi/filebox/internal/worker"
)

func TestMatchingRulesFiltersByType(t *testing.T) {
	rules := []models.CompressionRule{
		{FileType: "image", OutputFormat: "PNG", VariantName: "z"},
		{FileType: "document", OutputFormat: "PNG", VariantName: "a"},
		{FileType: "image", OutputFormat: "JPEG", VariantName: "a"},
		{FileType: "image", OutputFormat: "BMP", VariantName: "a"},
	}
	got := pipeline.MatchingRules("image", rules)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].VariantName)
	assert.Equal(t, "BMP", got[0].OutputFormat)
	assert.Equal(t, "JPEG", got[1].OutputFormat)
	assert.Equal(t, "z", got[2].VariantName)
}

func TestExpanderIsolatesRuleFailures(t *testing.T) {
	h := newHarness(t)
	key := models.Key{FileID: "f1", FileType: "image"}
	h.upload(t, key, pngBytes(t, 40, 20), nil)

	file := models.FileRecord{FileID: "f1", FileType: "image", StoragePath: h.paths.ResolveRawPath("image", "f1")}
	rules := []models.CompressionRule{
		{FileType: "image", OutputFormat: "PNG", VariantName: "orig"},
		{FileType: "image", OutputFormat: "HEIC", VariantName: "modern", TargetWidth: 10},
		{FileType: "image", OutputFormat: "JPEG", VariantName: "thumb", TargetWidth: 10},
	}

	results, err := pipeline.NewExpander(h.blobs, h.paths, 2).Expand(context.Background(), file, rules)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byName := map[string]pipeline.VariantResult{}
	for _, r := range results {
		byName[r.Rule.VariantName] = r
	}
	var encodeErr *worker.EncodeError
	assert.True(t, errors.As(byName["modern"].Err, &encodeErr))
	assert.NoError(t, byName["orig"].Err)
	assert.NoError(t, byName["thumb"].Err)
	assert.Equal(t, "files/image/f1/thumb/image.JPEG", byName["thumb"].Variant.StoragePath)
	assert.NotEmpty(t, byName["thumb"].Bytes)
}

func TestExpanderReportsDecodeErrorPerRule(t *testing.T) {
	h := newHarness(t)
	key := models.Key{FileID: "doc", FileType: "image"}
	h.upload(t, key, []byte("not an image"), nil)

	file := models.FileRecord{FileID: "doc", FileType: "image", StoragePath: h.paths.ResolveRawPath("image", "doc")}
	results, err := pipeline.NewExpander(h.blobs, h.paths, 2).Expand(context.Background(), file, scenarioRules.Compress)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		var decodeErr *worker.DecodeError
		assert.True(t, errors.As(r.Err, &decodeErr))
	}
}

func TestExpanderPropagatesStorageFailure(t *testing.T) {
	h := newHarness(t)
	file := models.FileRecord{FileID: "ghost", FileType: "image", StoragePath: h.paths.ResolveRawPath("image", "ghost")}

	_, err := pipeline.NewExpander(h.blobs, h.paths, 2).Expand(context.Background(), file, scenarioRules.Compress)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestExpanderSkipsReadWithoutMatchingRules(t *testing.T) {
	h := newHarness(t)
	file := models.FileRecord{FileID: "ghost", FileType: "video", StoragePath: "missing"}

	results, err := pipeline.NewExpander(h.blobs, h.paths, 2).Expand(context.Background(), file, scenarioRules.Compress)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCompressStageIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := models.Key{FileID: "f1", FileType: "image"}
	h.upload(t, key, pngBytes(t, 300, 150), nil)
	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)

	require.NoError(t, h.compress.Run(ctx, []models.Key{key}))
	first, err := h.store.ListVariants(ctx, []models.Key{key})
	require.NoError(t, err)
	firstBytes := map[string][]byte{}
	for _, v := range first {
		b, err := h.blobs.Get(ctx, v.StoragePath)
		require.NoError(t, err)
		firstBytes[v.StoragePath] = b
	}

	require.NoError(t, h.compress.Run(ctx, []models.Key{key}))
	second, err := h.store.ListVariants(ctx, []models.Key{key})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for _, v := range second {
		b, err := h.blobs.Get(ctx, v.StoragePath)
		require.NoError(t, err)
		assert.Equal(t, firstBytes[v.StoragePath], b, v.StoragePath)
	}
}

func TestCompressStageDropsVariantsOfRemovedRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := models.Key{FileID: "f1", FileType: "image"}
	h.upload(t, key, pngBytes(t, 300, 150), nil)
	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	require.NoError(t, h.compress.Run(ctx, []models.Key{key}))

	thumbPath := h.paths.ResolveVariantPath("image", "f1", "thumb", "JPEG")
	_, err = h.blobs.Get(ctx, thumbPath)
	require.NoError(t, err)

	onlyOrig := models.RuleDocument{Compress: scenarioRules.Compress[:1], Moderation: scenarioRules.Moderation}
	_, err = h.rules.Apply(ctx, onlyOrig)
	require.NoError(t, err)
	require.NoError(t, h.compress.Run(ctx, []models.Key{key}))

	variants, err := h.store.ListVariants(ctx, []models.Key{key})
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "orig", variants[0].VariantName)

	_, err = h.blobs.Get(ctx, thumbPath)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestCompressStageSkipsDeletedFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := models.Key{FileID: "gone", FileType: "image"}
	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, key, pngBytes(t, 20, 20), nil)
	require.NoError(t, h.compress.Run(ctx, []models.Key{key}))
	require.NoError(t, h.store.CascadeDelete(ctx, models.DeletionRecord{FileID: "gone", FileType: "image", ReviewedAt: time.Now()}))

	require.NoError(t, h.compress.Run(ctx, []models.Key{key}))
	variants, err := h.store.ListVariants(ctx, []models.Key{key})
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestCompressStageWritesWebPVariants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := models.Key{FileID: "f1", FileType: "image"}
	webpRules := models.RuleDocument{
		Compress: []models.CompressionRule{
			{FileType: "image", OutputFormat: "WEBP", VariantName: "orig", TargetWidth: 0, Resample: models.ResampleLanczos},
			{FileType: "image", OutputFormat: "WEBP", VariantName: "thumb", TargetWidth: 32, Resample: models.ResampleLanczos},
		},
		Moderation: scenarioRules.Moderation,
	}
	_, err := h.rules.Apply(ctx, webpRules)
	require.NoError(t, err)
	h.upload(t, key, pngBytes(t, 64, 48), nil)

	require.NoError(t, h.compress.Run(ctx, []models.Key{key}))
	variants, err := h.store.ListVariants(ctx, []models.Key{key})
	require.NoError(t, err)
	require.Len(t, variants, 2)
	for _, v := range variants {
		data, err := h.blobs.Get(ctx, v.StoragePath)
		require.NoError(t, err)
		assert.Equal(t, "RIFF", string(data[:4]), v.StoragePath)
		assert.Equal(t, pipeline.ContentChecksum(data), v.Checksum)
	}

	require.NoError(t, h.filter.Run(ctx, []models.Key{key}))
	candidates, err := h.store.ListCandidates(ctx, []models.Key{key})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "files/image/f1/orig/image.WEBP", candidates[0].SourcePath)
}

// deletingBlobs deletes the file through the store on the first variant
// write, like a review landing while compression runs.
type deletingBlobs struct {
	storage.BlobStore
	once   sync.Once
	delete func()
}

func (b *deletingBlobs) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if strings.HasSuffix(path, "/raw.bytes") {
		return b.BlobStore.Put(ctx, path, data, contentType)
	}
	b.once.Do(b.delete)
	return b.BlobStore.Put(ctx, path, data, contentType)
}

func TestCompressStageDoesNotResurrectDeletedFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := models.Key{FileID: "f1", FileType: "image"}
	keys := []models.Key{key}
	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, key, pngBytes(t, 60, 30), nil)

	blobs := &deletingBlobs{BlobStore: h.blobs}
	blobs.delete = func() {
		assert.NoError(t, h.store.CascadeDelete(ctx, models.DeletionRecord{FileID: "f1", FileType: "image", ReviewedAt: time.Now()}))
	}
	compress := pipeline.NewCompressStage(h.store, blobs, pipeline.NewExpander(h.blobs, h.paths, 1), 1, nil, zap.NewNop())

	require.NoError(t, compress.Run(ctx, keys), "a file deleted mid-run is not a stage failure")
	require.NoError(t, h.filter.Run(ctx, keys))

	files, err := h.store.GetFilesByKeys(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, files)
	variants, err := h.store.ListVariants(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, variants)
	candidates, err := h.store.ListCandidates(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	for _, rule := range scenarioRules.Compress {
		_, err := h.blobs.Get(ctx, h.paths.ResolveVariantPath("image", "f1", rule.VariantName, rule.OutputFormat))
		assert.ErrorIs(t, err, storage.ErrBlobNotFound, "variant bytes written for a deleted file are removed")
	}
}

func TestCompressFileReportsDeletedFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)

	// Raw bytes exist but the record is gone.
	raw := h.paths.ResolveRawPath("image", "f1")
	require.NoError(t, h.blobs.Put(ctx, raw, pngBytes(t, 10, 10), "image/png"))
	file := models.FileRecord{FileID: "f1", FileType: "image", StoragePath: raw}

	_, err = h.compress.CompressFile(ctx, file, scenarioRules.Compress)
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}
