package pipeline

import (
	"context"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

// Stage names, also used as the queue name of each stage.
const (
	StageCompress         = "compress"
	StageModerationFilter = "moderation_filter"
	StageClassify         = "classify"
	StageModerationMerge  = "moderation_merge"
	StagePurge            = "purge"
)

// Stage recomputes everything it owns for a chunk of keys. Run must be
// idempotent; a returned error means the whole chunk should be retried.
type Stage interface {
	Name() string
	Run(ctx context.Context, keys []models.Key) error
}

// Downstream returns the stage to notify after stage succeeds.
func Downstream(stage string) (string, bool) {
	switch stage {
	case StageCompress:
		return StageModerationFilter, true
	case StageModerationFilter:
		return StageClassify, true
	case StageClassify:
		return StageModerationMerge, true
	default:
		return "", false
	}
}

func keySet(keys []models.Key) map[models.Key]bool {
	set := make(map[models.Key]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 4
	}
	return n
}
