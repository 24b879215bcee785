package pipeline_test

import (
	"context"
	"errors"
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

func TestUploadExcludeDeleteScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f1 := models.Key{FileID: "f1", FileType: "image"}
	keys := []models.Key{f1}

	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, f1, pngBytes(t, 400, 300), map[string]any{"title": "harbour"})
	h.classify.outputs["https://signed.example/files/image/f1/orig/image.PNG"] = map[string]string{"adult": "VERY_UNLIKELY"}

	h.runAll(t, f1)

	variants, err := h.store.ListVariants(ctx, keys)
	require.NoError(t, err)
	require.Len(t, variants, 2)

	candidates, err := h.store.ListCandidates(ctx, keys)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "files/image/f1/orig/image.PNG", candidates[0].SourcePath)

	tasks, err := h.store.ListTasks(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusApproved, tasks[0].AutomatedStatus)
	assert.Equal(t, "harbour", tasks[0].Metadata["title"])

	// Excluding the file removes it from moderation on the next filter run.
	require.NoError(t, h.store.AddExclusion(ctx, f1))
	require.NoError(t, h.filter.Run(ctx, keys))
	candidates, err = h.store.ListCandidates(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// A DELETE review removes the record, its variants and the blobs.
	res, err := h.review.Process(ctx, []models.ReviewOutcome{{
		FileID: "f1", FileType: "image",
		Entries: []models.ChoiceEntry{{ChoiceGroup: "moderation", SelectedChoices: []string{"DELETE"}}},
	}})
	require.NoError(t, err)
	assert.Len(t, res.Deletions, 1)
	assert.Empty(t, res.Verdicts)

	files, err := h.store.GetFilesByKeys(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, files)
	variants, err = h.store.ListVariants(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, variants)
	manual, err := h.store.ListManualVerdicts(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, manual)

	_, err = h.blobs.Get(ctx, h.paths.ResolveRawPath("image", "f1"))
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
	_, err = h.blobs.Get(ctx, h.paths.ResolveVariantPath("image", "f1", "thumb", "JPEG"))
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestClassifierFailureLeavesTaskPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f1 := models.Key{FileID: "f1", FileType: "image"}

	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, f1, pngBytes(t, 50, 50), nil)
	h.classify.err = errors.New("deadline exceeded")

	h.runAll(t, f1)

	tasks, err := h.store.ListTasks(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusPending, tasks[0].AutomatedStatus)
	assert.Equal(t, "untitled", tasks[0].Metadata["title"])
}

const f1OrigURL = "https://signed.example/files/image/f1/orig/image.PNG"

func TestClassifyStageClassifiesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f1 := models.Key{FileID: "f1", FileType: "image"}

	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, f1, pngBytes(t, 50, 50), nil)
	h.classify.outputs[f1OrigURL] = map[string]string{"adult": "VERY_UNLIKELY"}

	h.runAll(t, f1)
	h.runAll(t, f1)
	assert.Equal(t, 1, h.classify.calls, "unchanged bytes keep their verdict")
}

func TestReuploadReclassifiesNewBytes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f1 := models.Key{FileID: "f1", FileType: "image"}
	keys := []models.Key{f1}

	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, f1, pngBytes(t, 50, 50), nil)
	h.classify.outputs[f1OrigURL] = map[string]string{"adult": "VERY_UNLIKELY"}
	h.runAll(t, f1)

	tasks, err := h.store.ListTasks(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, models.StatusApproved, tasks[0].AutomatedStatus)

	// Same id, new picture at the same variant path.
	h.upload(t, f1, pngBytes(t, 80, 40), nil)
	h.classify.outputs[f1OrigURL] = map[string]string{"adult": "VERY_LIKELY"}
	h.runAll(t, f1)

	assert.Equal(t, 2, h.classify.calls)
	tasks, err = h.store.ListTasks(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusBlocked, tasks[0].AutomatedStatus)

	candidates, err := h.store.ListCandidates(ctx, keys)
	require.NoError(t, err)
	verdicts, err := h.store.ListVerdicts(ctx, keys)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Len(t, verdicts, 1)
	assert.NotEmpty(t, verdicts[0].Checksum)
	assert.True(t, verdicts[0].Matches(candidates[0]))
}

func TestFilterDropsVerdictOfChangedCandidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f1 := models.Key{FileID: "f1", FileType: "image"}
	keys := []models.Key{f1}

	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, f1, pngBytes(t, 50, 50), nil)
	h.classify.outputs[f1OrigURL] = map[string]string{"adult": "VERY_UNLIKELY"}
	h.runAll(t, f1)

	h.upload(t, f1, pngBytes(t, 20, 70), nil)
	require.NoError(t, h.compress.Run(ctx, keys))
	require.NoError(t, h.filter.Run(ctx, keys))

	verdicts, err := h.store.ListVerdicts(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, verdicts, "the verdict described the old bytes")

	// Merging before classify runs again must not reuse the old status.
	require.NoError(t, h.merge.Run(ctx, keys))
	tasks, err := h.store.ListTasks(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusPending, tasks[0].AutomatedStatus)
}

func TestEmptyClassifierOutputIsRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f1 := models.Key{FileID: "f1", FileType: "image"}
	keys := []models.Key{f1}

	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, f1, pngBytes(t, 50, 50), nil)
	require.NoError(t, h.compress.Run(ctx, keys))
	require.NoError(t, h.filter.Run(ctx, keys))

	err = h.classSt.Run(ctx, keys)
	var retry *worker.RetryLaterError
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, keys, retry.Keys)
	assert.ErrorIs(t, err, pipeline.ErrNoVerdict)

	verdicts, err := h.store.ListVerdicts(ctx, keys)
	require.NoError(t, err)
	assert.Empty(t, verdicts, "an empty answer is not stored")

	h.classify.outputs[f1OrigURL] = map[string]string{"adult": "UNLIKELY"}
	require.NoError(t, h.classSt.Run(ctx, keys))
	require.NoError(t, h.merge.Run(ctx, keys))

	tasks, err := h.store.ListTasks(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusApproved, tasks[0].AutomatedStatus)
	assert.Equal(t, 2, h.classify.calls)
}

func TestSignedURLFailureDropsCandidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f1 := models.Key{FileID: "f1", FileType: "image"}

	_, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	h.upload(t, f1, pngBytes(t, 50, 50), nil)
	h.signer.fail["/f1/"] = true

	h.runAll(t, f1)

	candidates, err := h.store.ListCandidates(ctx, []models.Key{f1})
	require.NoError(t, err)
	assert.Empty(t, candidates)
	tasks, err := h.store.ListTasks(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRuleManagerRequeuesOnChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.rules.Loaded(ctx), pipeline.ErrConfigMissing)

	h.upload(t, models.Key{FileID: "a", FileType: "image"}, pngBytes(t, 2, 2), nil)
	h.upload(t, models.Key{FileID: "b", FileType: "image"}, pngBytes(t, 2, 2), nil)

	changed, err := h.rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, h.rules.Loaded(ctx))

	jobs, err := h.store.Claim(ctx, pipeline.StageCompress, 10, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	require.NoError(t, h.store.Ack(ctx, jobs))
	jobs, err = h.store.Claim(ctx, pipeline.StageModerationFilter, 10, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	require.NoError(t, h.store.Ack(ctx, jobs))

	reordered := models.RuleDocument{
		Compress:   []models.CompressionRule{scenarioRules.Compress[1], scenarioRules.Compress[0]},
		Moderation: scenarioRules.Moderation,
	}
	changed, err = h.rules.Apply(ctx, reordered)
	require.NoError(t, err)
	assert.False(t, changed, "rule order does not change the checksum")

	jobs, err = h.store.Claim(ctx, pipeline.StageCompress, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	doc, version, err := h.rules.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version.Version)
	assert.Len(t, doc.Compress, 2)
}

func TestRuleManagerRejectsInvalidDocument(t *testing.T) {
	h := newHarness(t)
	_, err := h.rules.Apply(context.Background(), models.RuleDocument{Compress: []models.CompressionRule{
		{FileType: "image", OutputFormat: "PNG", VariantName: "x", TargetWidth: -1},
	}})
	assert.Error(t, err)
	assert.ErrorIs(t, h.rules.Loaded(context.Background()), pipeline.ErrConfigMissing)
}

// failingRuleStore fails the first n rule replacements.
type failingRuleStore struct {
	pipeline.RuleStore
	n int
}

func (s *failingRuleStore) ReplaceRules(ctx context.Context, doc models.RuleDocument, checksum string, requeue []string) (bool, error) {
	if s.n > 0 {
		s.n--
		return false, errors.New("db blip")
	}
	return s.RuleStore.ReplaceRules(ctx, doc, checksum, requeue)
}

func TestRuleApplyRetryRequeuesFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, models.Key{FileID: "a", FileType: "image"}, pngBytes(t, 2, 2), nil)
	h.upload(t, models.Key{FileID: "b", FileType: "image"}, pngBytes(t, 2, 2), nil)

	rules := pipeline.NewRuleManager(&failingRuleStore{RuleStore: h.store, n: 1}, zap.NewNop())
	_, err := rules.Apply(ctx, scenarioRules)
	require.Error(t, err)
	assert.ErrorIs(t, rules.Loaded(ctx), pipeline.ErrConfigMissing, "nothing committed")

	changed, err := rules.Apply(ctx, scenarioRules)
	require.NoError(t, err)
	assert.True(t, changed, "the retry still sees a change")

	for _, stage := range []string{pipeline.StageCompress, pipeline.StageModerationFilter} {
		jobs, err := h.store.Claim(ctx, stage, 10, time.Minute)
		require.NoError(t, err)
		assert.Len(t, jobs, 2, stage)
	}
}
