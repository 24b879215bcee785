package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

// RuleManager owns the active rule set.
type RuleManager struct {
	store  RuleStore
	logger *zap.Logger
}

func NewRuleManager(store RuleStore, logger *zap.Logger) *RuleManager {
	return &RuleManager{store: store, logger: logger}
}

// rerunOnChange lists the stages whose output depends on the rule document.
var rerunOnChange = []string{StageCompress, StageModerationFilter}

// Checksum hashes the canonical form of doc. Rule order does not matter.
func Checksum(doc models.RuleDocument) (string, error) {
	c := models.RuleDocument{
		Compress:   append([]models.CompressionRule(nil), doc.Compress...),
		Moderation: append([]models.ModerationRule(nil), doc.Moderation...),
	}
	sort.Slice(c.Compress, func(i, j int) bool {
		a, b := c.Compress[i], c.Compress[j]
		if a.FileType != b.FileType {
			return a.FileType < b.FileType
		}
		if a.VariantName != b.VariantName {
			return a.VariantName < b.VariantName
		}
		return a.OutputFormat < b.OutputFormat
	})
	sort.Slice(c.Moderation, func(i, j int) bool {
		return c.Moderation[i].FileType < c.Moderation[j].FileType
	})
	// encoding/json sorts map keys, so nested label data is canonical too.
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode rule document: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Apply validates doc, replaces both rule tables and, when anything changed,
// queues every file for recompression and refiltering. The queueing commits
// with the rules, so a failed apply can be retried with the same document.
func (m *RuleManager) Apply(ctx context.Context, doc models.RuleDocument) (bool, error) {
	if err := doc.Validate(); err != nil {
		return false, fmt.Errorf("invalid rule document: %w", err)
	}
	sum, err := Checksum(doc)
	if err != nil {
		return false, err
	}

	changed, err := m.store.ReplaceRules(ctx, doc, sum, rerunOnChange)
	if err != nil {
		return false, fmt.Errorf("replace rules: %w", err)
	}
	if !changed {
		m.logger.Debug("rule document unchanged", zap.String("checksum", sum))
		return false, nil
	}
	m.logger.Info("rule document applied",
		zap.String("checksum", sum),
		zap.Int("compress_rules", len(doc.Compress)),
		zap.Int("moderation_rules", len(doc.Moderation)),
		zap.Strings("requeued_stages", rerunOnChange),
	)
	return true, nil
}

// Active returns the rule document in force, or ErrConfigMissing.
func (m *RuleManager) Active(ctx context.Context) (models.RuleDocument, *models.RuleSetVersion, error) {
	version, err := m.store.ActiveRuleSet(ctx)
	if err != nil {
		return models.RuleDocument{}, nil, err
	}
	compress, err := m.store.CompressionRules(ctx)
	if err != nil {
		return models.RuleDocument{}, nil, fmt.Errorf("load compression rules: %w", err)
	}
	moderation, err := m.store.ModerationRules(ctx)
	if err != nil {
		return models.RuleDocument{}, nil, fmt.Errorf("load moderation rules: %w", err)
	}
	return models.RuleDocument{Compress: compress, Moderation: moderation}, version, nil
}

// Loaded reports ErrConfigMissing until a rule document has been applied.
func (m *RuleManager) Loaded(ctx context.Context) error {
	_, err := m.store.ActiveRuleSet(ctx)
	return err
}
