package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
)

func TestMergeMetadataUploaderWins(t *testing.T) {
	defaults := map[string]any{"title": "untitled", "nsfw": false}
	uploader := map[string]any{"title": "sunset", "camera": "x100"}

	got := pipeline.MergeMetadata(defaults, uploader)
	assert.Equal(t, map[string]any{"title": "sunset", "nsfw": false, "camera": "x100"}, got)
	assert.Equal(t, "untitled", defaults["title"], "defaults are not modified")
}

func TestMergeTasksLeftOuterJoins(t *testing.T) {
	labels := models.LabelData{DefaultMetadata: map[string]any{"title": "untitled", "score": 0}}
	candidates := []models.ModerationCandidate{
		{FileID: "f1", FileType: "image", AccessURL: "u1", LabelDefaults: labels},
		{FileID: "f2", FileType: "image", AccessURL: "u2", LabelDefaults: labels},
		{FileID: "f3", FileType: "image", AccessURL: "u3", LabelDefaults: labels},
	}
	verdicts := []models.AutomatedVerdict{
		{FileID: "f1", FileType: "image", ClassifierOutput: map[string]string{"adult": "VERY_LIKELY"}},
		{FileID: "f2", FileType: "image", ClassifierOutput: map[string]string{"adult": "UNLIKELY"}},
		{FileID: "f9", FileType: "image", ClassifierOutput: map[string]string{}},
	}
	files := []models.FileRecord{
		{FileID: "f1", FileType: "image", Metadata: map[string]any{"title": "mine"}},
		{FileID: "f2", FileType: "image"},
	}

	tasks := pipeline.MergeTasks(candidates, verdicts, files)
	require.Len(t, tasks, 3, "one task per candidate")

	assert.Equal(t, models.StatusBlocked, tasks[0].AutomatedStatus)
	assert.Equal(t, "mine", tasks[0].Metadata["title"])
	assert.Equal(t, 0, tasks[0].Metadata["score"])

	assert.Equal(t, models.StatusApproved, tasks[1].AutomatedStatus)
	assert.Equal(t, "untitled", tasks[1].Metadata["title"])

	assert.Equal(t, models.StatusPending, tasks[2].AutomatedStatus, "no verdict yet")
	assert.Equal(t, map[string]any{"title": "untitled", "score": 0}, tasks[2].Metadata, "no file record")
	assert.Equal(t, "u3", tasks[2].AccessURL)
}

func TestMergeTasksIgnoresVerdictForOtherBytes(t *testing.T) {
	candidates := []models.ModerationCandidate{
		{FileID: "f1", FileType: "image", SourcePath: "p", Checksum: "new"},
	}
	verdicts := []models.AutomatedVerdict{
		{FileID: "f1", FileType: "image", SourcePath: "p", Checksum: "old", ClassifierOutput: map[string]string{"adult": "VERY_UNLIKELY"}},
	}

	tasks := pipeline.MergeTasks(candidates, verdicts, nil)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusPending, tasks[0].AutomatedStatus)
}
