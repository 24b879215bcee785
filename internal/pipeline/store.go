package pipeline

import (
	"context"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

// Each stage depends only on the slice of the relational store it reads and
// writes. All implementations must treat writes for disjoint keys as
// independent.

type RuleReader interface {
	CompressionRules(ctx context.Context) ([]models.CompressionRule, error)
	ModerationRules(ctx context.Context) ([]models.ModerationRule, error)
}

type RuleStore interface {
	RuleReader
	// ReplaceRules swaps both rule tables in one transaction. It reports
	// false when checksum matches the active version. On a change every file
	// is queued for each stage in requeue within the same transaction.
	ReplaceRules(ctx context.Context, doc models.RuleDocument, checksum string, requeue []string) (bool, error)
	// ActiveRuleSet returns models.ErrConfigMissing before the first load.
	ActiveRuleSet(ctx context.Context) (*models.RuleSetVersion, error)
	ListFileKeys(ctx context.Context) ([]models.Key, error)
}

type FileReader interface {
	GetFilesByKeys(ctx context.Context, keys []models.Key) ([]models.FileRecord, error)
}

type CompressStore interface {
	RuleReader
	FileReader
	// ReplaceVariants stores the full variant set of one file and returns
	// the rows it removed. A non-empty set for a file that no longer exists
	// fails with models.ErrNotFound and changes nothing.
	ReplaceVariants(ctx context.Context, key models.Key, variants []models.CompressedVariant) ([]models.CompressedVariant, error)
}

type FilterStore interface {
	RuleReader
	ListVariants(ctx context.Context, keys []models.Key) ([]models.CompressedVariant, error)
	ListExclusions(ctx context.Context, keys []models.Key) ([]models.ModerationExclusion, error)
	// ReplaceCandidates deletes candidates of keys and inserts candidates
	// whose file still exists. Verdicts that no longer match the candidate
	// of their key are dropped in the same write.
	ReplaceCandidates(ctx context.Context, keys []models.Key, candidates []models.ModerationCandidate) error
}

type ClassifyStore interface {
	ListCandidates(ctx context.Context, keys []models.Key) ([]models.ModerationCandidate, error)
	ListVerdicts(ctx context.Context, keys []models.Key) ([]models.AutomatedVerdict, error)
	UpsertVerdicts(ctx context.Context, verdicts []models.AutomatedVerdict) error
	DeleteVerdicts(ctx context.Context, keys []models.Key) error
}

type MergeStore interface {
	FileReader
	ListCandidates(ctx context.Context, keys []models.Key) ([]models.ModerationCandidate, error)
	ListVerdicts(ctx context.Context, keys []models.Key) ([]models.AutomatedVerdict, error)
	ReplaceTasks(ctx context.Context, keys []models.Key, tasks []models.ModerationTask) error
}

type ReviewStore interface {
	UpsertManualVerdicts(ctx context.Context, verdicts []models.ManualVerdict) error
	// CascadeDelete writes rec, removes the file and every row derived from
	// it, and queues a blob purge, all in one transaction.
	CascadeDelete(ctx context.Context, rec models.DeletionRecord) error
}

// Queue is the change feed between stages.
type Queue interface {
	Enqueue(ctx context.Context, stage string, keys []models.Key) error
}
