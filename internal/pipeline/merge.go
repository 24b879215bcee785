package pipeline

import (
	"context"
	"fmt"
	"maps"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/observability"
)

// MergeMetadata starts from defaults and overlays uploader values. Neither
// input is modified.
func MergeMetadata(defaults, uploader map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(uploader))
	maps.Copy(out, defaults)
	maps.Copy(out, uploader)
	return out
}

// MergeTasks joins candidates with verdicts and file metadata. Both joins
// are left outer: a candidate with no verdict is pending and a candidate
// with no file record carries only the defaults. A verdict computed from
// other bytes than the candidate's counts as missing.
func MergeTasks(candidates []models.ModerationCandidate, verdicts []models.AutomatedVerdict, files []models.FileRecord) []models.ModerationTask {
	byKey := make(map[models.Key]models.AutomatedVerdict, len(verdicts))
	for _, v := range verdicts {
		byKey[v.Key()] = v
	}
	metadata := make(map[models.Key]map[string]any, len(files))
	for _, f := range files {
		metadata[f.Key()] = f.Metadata
	}

	tasks := make([]models.ModerationTask, 0, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		var output map[string]string
		if v, ok := byKey[key]; ok && v.Matches(c) {
			output = v.ClassifierOutput
		}
		tasks = append(tasks, models.ModerationTask{
			FileID:          c.FileID,
			FileType:        c.FileType,
			Metadata:        MergeMetadata(c.LabelDefaults.DefaultMetadata, metadata[key]),
			AutomatedStatus: AutomatedStatus(output),
			AccessURL:       c.AccessURL,
			LabelDefaults:   c.LabelDefaults,
		})
	}
	return tasks
}

// MergeStage re-derives the ModerationTask rows of a chunk of keys.
type MergeStage struct {
	store   MergeStore
	metrics *observability.StageMetrics
}

func NewMergeStage(store MergeStore, metrics *observability.StageMetrics) *MergeStage {
	return &MergeStage{store: store, metrics: metrics}
}

func (s *MergeStage) Name() string { return StageModerationMerge }

func (s *MergeStage) Run(ctx context.Context, keys []models.Key) error {
	candidates, err := s.store.ListCandidates(ctx, keys)
	if err != nil {
		return fmt.Errorf("load candidates: %w", err)
	}
	verdicts, err := s.store.ListVerdicts(ctx, keys)
	if err != nil {
		return fmt.Errorf("load verdicts: %w", err)
	}
	files, err := s.store.GetFilesByKeys(ctx, keys)
	if err != nil {
		return fmt.Errorf("load files: %w", err)
	}

	tasks := MergeTasks(candidates, verdicts, files)
	if err := s.store.ReplaceTasks(ctx, keys, tasks); err != nil {
		return fmt.Errorf("replace tasks: %w", err)
	}
	s.metrics.Rows(StageModerationMerge, len(tasks))
	return nil
}
