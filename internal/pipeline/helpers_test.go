package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/database"
	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/storage"
	"github.com/PaulBabatuyi/filebox/internal/worker"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeSigner signs every path except those containing a failing marker.
type fakeSigner struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (s *fakeSigner) Sign(_ context.Context, path string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for marker := range s.fail {
		if strings.Contains(path, marker) {
			return "", errors.New("issuer unavailable")
		}
	}
	return "https://signed.example/" + path, nil
}

type fakeClassifier struct {
	mu      sync.Mutex
	outputs map[string]map[string]string
	err     error
	calls   int
}

func (c *fakeClassifier) Classify(_ context.Context, url string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.outputs[url], nil
}

var scenarioRules = models.RuleDocument{
	Compress: []models.CompressionRule{
		{FileType: "image", OutputFormat: "PNG", VariantName: "orig", TargetWidth: 0, Resample: models.ResampleLanczos},
		{FileType: "image", OutputFormat: "JPEG", VariantName: "thumb", TargetWidth: 200, Resample: models.ResampleLanczos},
	},
	Moderation: []models.ModerationRule{{
		FileType: "image",
		LabelData: models.LabelData{
			DefaultMetadata:   map[string]any{"title": "untitled", "tags": []any{}},
			ModerationChoices: map[string]any{"OK": "Approve", "DELETE": "Delete"},
		},
	}},
}

// harness wires every stage against an in-memory store and filesystem blobs.
type harness struct {
	store    *database.MemoryStore
	blobs    *storage.FilesystemStorage
	paths    *storage.Resolver
	signer   *fakeSigner
	classify *fakeClassifier
	rules    *pipeline.RuleManager

	compress *pipeline.CompressStage
	filter   *pipeline.FilterStage
	classSt  *pipeline.ClassifyStage
	merge    *pipeline.MergeStage
	review   *pipeline.ReviewProcessor
	purge    *pipeline.PurgeStage
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	blobs, err := storage.NewFilesystemStorage(t.TempDir(), "")
	require.NoError(t, err)

	logger := zap.NewNop()
	h := &harness{
		store:    database.NewMemoryStore(),
		blobs:    blobs,
		paths:    storage.NewResolver(""),
		signer:   &fakeSigner{fail: map[string]bool{}},
		classify: &fakeClassifier{outputs: map[string]map[string]string{}},
	}
	h.rules = pipeline.NewRuleManager(h.store, logger)
	expander := pipeline.NewExpander(blobs, h.paths, 2)
	h.compress = pipeline.NewCompressStage(h.store, blobs, expander, 2, nil, logger)
	h.filter = pipeline.NewFilterStage(h.store, pipeline.NewModerationFilter(h.signer, time.Hour, 2, nil, logger), nil)
	h.classSt = pipeline.NewClassifyStage(h.store, h.classify, 2, nil, logger)
	h.merge = pipeline.NewMergeStage(h.store, nil)
	h.review = pipeline.NewReviewProcessor(h.store, blobs, h.paths, nil, logger)
	h.purge = pipeline.NewPurgeStage(h.store, blobs, h.paths)
	return h
}

func (h *harness) upload(t *testing.T, key models.Key, data []byte, meta map[string]any) {
	t.Helper()
	ctx := context.Background()
	raw := h.paths.ResolveRawPath(key.FileType, key.FileID)
	require.NoError(t, h.blobs.Put(ctx, raw, data, "image/png"))
	require.NoError(t, h.store.UpsertFile(ctx, models.FileRecord{
		FileID: key.FileID, FileType: key.FileType, StoragePath: raw, Metadata: meta,
	}))
}

// runAll pushes keys through every stage in order. Deferred keys flow on
// like they do under the worker.
func (h *harness) runAll(t *testing.T, keys ...models.Key) {
	t.Helper()
	ctx := context.Background()
	for _, st := range []pipeline.Stage{h.compress, h.filter, h.classSt, h.merge} {
		err := st.Run(ctx, keys)
		var retry *worker.RetryLaterError
		if errors.As(err, &retry) {
			continue
		}
		require.NoError(t, err, st.Name())
	}
}
