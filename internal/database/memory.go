package database

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
)

type variantID struct {
	format, name string
}

type memJob struct {
	seq         int64
	enqueuedAt  time.Time
	leasedUntil time.Time
}

// MemoryStore keeps every table in process memory. Each method holds a
// single lock, so multi-table operations are atomic like a transaction.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	files      map[models.Key]models.FileRecord
	compress   []models.CompressionRule
	moderation []models.ModerationRule
	versions   []models.RuleSetVersion
	variants   map[models.Key]map[variantID]models.CompressedVariant
	exclusions map[models.Key]bool
	candidates map[models.Key]models.ModerationCandidate
	verdicts   map[models.Key]models.AutomatedVerdict
	tasks      map[models.Key]models.ModerationTask
	manual     map[models.Key]models.ManualVerdict
	deletions  map[models.Key]models.DeletionRecord
	jobs       map[string]map[models.Key]*memJob
	seq        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:        func() time.Time { return time.Now().UTC() },
		files:      make(map[models.Key]models.FileRecord),
		variants:   make(map[models.Key]map[variantID]models.CompressedVariant),
		exclusions: make(map[models.Key]bool),
		candidates: make(map[models.Key]models.ModerationCandidate),
		verdicts:   make(map[models.Key]models.AutomatedVerdict),
		tasks:      make(map[models.Key]models.ModerationTask),
		manual:     make(map[models.Key]models.ManualVerdict),
		deletions:  make(map[models.Key]models.DeletionRecord),
		jobs:       make(map[string]map[models.Key]*memJob),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func sortedKeys[V any](in map[models.Key]V) []models.Key {
	keys := make([]models.Key, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].FileType != keys[j].FileType {
			return keys[i].FileType < keys[j].FileType
		}
		return keys[i].FileID < keys[j].FileID
	})
	return keys
}

func cloneFile(f models.FileRecord) models.FileRecord {
	f.Metadata = maps.Clone(f.Metadata)
	return f
}

func cloneLabels(ld models.LabelData) models.LabelData {
	return models.LabelData{
		DefaultMetadata:      maps.Clone(ld.DefaultMetadata),
		ModerationChoices:    maps.Clone(ld.ModerationChoices),
		TagsChoices:          maps.Clone(ld.TagsChoices),
		PickOfTheWeekChoices: maps.Clone(ld.PickOfTheWeekChoices),
	}
}

// Files

func (m *MemoryStore) UpsertFile(_ context.Context, file models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.Key()] = cloneFile(file)
	return nil
}

func (m *MemoryStore) GetFile(_ context.Context, fileID string) (*models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range sortedKeys(m.files) {
		if k.FileID == fileID {
			f := cloneFile(m.files[k])
			return &f, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryStore) UpdateMetadata(_ context.Context, fileID string, metadata map[string]any) (*models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range sortedKeys(m.files) {
		if k.FileID == fileID {
			f := m.files[k]
			f.Metadata = maps.Clone(metadata)
			m.files[k] = f
			out := cloneFile(f)
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryStore) GetFilesByKeys(_ context.Context, keys []models.Key) ([]models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FileRecord
	for _, k := range keys {
		if f, ok := m.files[k]; ok {
			out = append(out, cloneFile(f))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListFileKeys(context.Context) ([]models.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.files), nil
}

// Rules

func (m *MemoryStore) CompressionRules(context.Context) ([]models.CompressionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.compress), nil
}

func (m *MemoryStore) ModerationRules(context.Context) ([]models.ModerationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ModerationRule, len(m.moderation))
	for i, r := range m.moderation {
		out[i] = models.ModerationRule{FileType: r.FileType, LabelData: cloneLabels(r.LabelData)}
	}
	return out, nil
}

func (m *MemoryStore) ReplaceRules(_ context.Context, doc models.RuleDocument, checksum string, requeue []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.versions); n > 0 && m.versions[n-1].Checksum == checksum {
		return false, nil
	}
	m.compress = slices.Clone(doc.Compress)
	m.moderation = make([]models.ModerationRule, len(doc.Moderation))
	for i, r := range doc.Moderation {
		m.moderation[i] = models.ModerationRule{FileType: r.FileType, LabelData: cloneLabels(r.LabelData)}
	}
	m.versions = append(m.versions, models.RuleSetVersion{
		Version:   int64(len(m.versions) + 1),
		Checksum:  checksum,
		AppliedAt: m.now(),
	})
	keys := sortedKeys(m.files)
	for _, stage := range requeue {
		m.enqueueLocked(stage, keys)
	}
	return true, nil
}

func (m *MemoryStore) ActiveRuleSet(context.Context) (*models.RuleSetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.versions) == 0 {
		return nil, models.ErrConfigMissing
	}
	v := m.versions[len(m.versions)-1]
	return &v, nil
}

// Variants

func (m *MemoryStore) ListVariants(_ context.Context, keys []models.Key) ([]models.CompressedVariant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CompressedVariant
	for _, k := range keys {
		byID := m.variants[k]
		ids := make([]variantID, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if ids[i].name != ids[j].name {
				return ids[i].name < ids[j].name
			}
			return ids[i].format < ids[j].format
		})
		for _, id := range ids {
			out = append(out, byID[id])
		}
	}
	return out, nil
}

func (m *MemoryStore) ReplaceVariants(_ context.Context, key models.Key, variants []models.CompressedVariant) ([]models.CompressedVariant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[key]; !ok && len(variants) > 0 {
		return nil, fmt.Errorf("file %s: %w", key, models.ErrNotFound)
	}
	next := make(map[variantID]models.CompressedVariant, len(variants))
	for _, v := range variants {
		next[variantID{v.OutputFormat, v.VariantName}] = v
	}
	var removed []models.CompressedVariant
	for id, v := range m.variants[key] {
		if _, ok := next[id]; !ok {
			removed = append(removed, v)
		}
	}
	if len(next) == 0 {
		delete(m.variants, key)
	} else {
		m.variants[key] = next
	}
	return removed, nil
}

// Exclusions

func (m *MemoryStore) ListExclusions(_ context.Context, keys []models.Key) ([]models.ModerationExclusion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ModerationExclusion
	for _, k := range keys {
		if m.exclusions[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemoryStore) AddExclusion(_ context.Context, key models.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exclusions[key] = true
	return nil
}

func (m *MemoryStore) RemoveExclusion(_ context.Context, key models.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.exclusions, key)
	return nil
}

// Candidates and verdicts

func (m *MemoryStore) ListCandidates(_ context.Context, keys []models.Key) ([]models.ModerationCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ModerationCandidate
	for _, k := range keys {
		if c, ok := m.candidates[k]; ok {
			c.LabelDefaults = cloneLabels(c.LabelDefaults)
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) ReplaceCandidates(_ context.Context, keys []models.Key, candidates []models.ModerationCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.candidates, k)
	}
	for _, c := range candidates {
		if _, ok := m.files[c.Key()]; !ok {
			continue
		}
		c.LabelDefaults = cloneLabels(c.LabelDefaults)
		m.candidates[c.Key()] = c
	}
	for _, k := range keys {
		v, ok := m.verdicts[k]
		if !ok {
			continue
		}
		if c, ok := m.candidates[k]; !ok || !v.Matches(c) {
			delete(m.verdicts, k)
		}
	}
	return nil
}

func (m *MemoryStore) ListVerdicts(_ context.Context, keys []models.Key) ([]models.AutomatedVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AutomatedVerdict
	for _, k := range keys {
		if v, ok := m.verdicts[k]; ok {
			v.ClassifierOutput = maps.Clone(v.ClassifierOutput)
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertVerdicts(_ context.Context, verdicts []models.AutomatedVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range verdicts {
		v.ClassifierOutput = maps.Clone(v.ClassifierOutput)
		m.verdicts[v.Key()] = v
	}
	return nil
}

func (m *MemoryStore) DeleteVerdicts(_ context.Context, keys []models.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.verdicts, k)
	}
	return nil
}

// Tasks

func (m *MemoryStore) ReplaceTasks(_ context.Context, keys []models.Key, tasks []models.ModerationTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.tasks, k)
	}
	for _, t := range tasks {
		t.Metadata = maps.Clone(t.Metadata)
		m.tasks[models.Key{FileID: t.FileID, FileType: t.FileType}] = t
	}
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, limit, offset int) ([]models.ModerationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := sortedKeys(m.tasks)
	if offset >= len(keys) {
		return nil, nil
	}
	keys = keys[offset:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}
	out := make([]models.ModerationTask, 0, len(keys))
	for _, k := range keys {
		t := m.tasks[k]
		t.Metadata = maps.Clone(t.Metadata)
		out = append(out, t)
	}
	return out, nil
}

// Review

func (m *MemoryStore) UpsertManualVerdicts(_ context.Context, verdicts []models.ManualVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range verdicts {
		v.Entries = slices.Clone(v.Entries)
		m.manual[models.Key{FileID: v.FileID, FileType: v.FileType}] = v
	}
	return nil
}

func (m *MemoryStore) ListManualVerdicts(_ context.Context, keys []models.Key) ([]models.ManualVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ManualVerdict
	for _, k := range keys {
		if v, ok := m.manual[k]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListDeletions(_ context.Context, keys []models.Key) ([]models.DeletionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeletionRecord
	for _, k := range keys {
		if d, ok := m.deletions[k]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) CascadeDelete(_ context.Context, rec models.DeletionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.Key()
	m.deletions[key] = rec
	delete(m.files, key)
	delete(m.variants, key)
	delete(m.candidates, key)
	delete(m.verdicts, key)
	delete(m.tasks, key)
	delete(m.manual, key)
	delete(m.exclusions, key)
	for stage, queued := range m.jobs {
		if stage != pipeline.StagePurge {
			delete(queued, key)
		}
	}
	m.enqueueLocked(pipeline.StagePurge, []models.Key{key})
	return nil
}

// Jobs

func (m *MemoryStore) Enqueue(_ context.Context, stage string, keys []models.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueLocked(stage, keys)
	return nil
}

func (m *MemoryStore) enqueueLocked(stage string, keys []models.Key) {
	queued, ok := m.jobs[stage]
	if !ok {
		queued = make(map[models.Key]*memJob)
		m.jobs[stage] = queued
	}
	now := m.now()
	for _, k := range keys {
		m.seq++
		if j, ok := queued[k]; ok {
			j.seq = m.seq
			j.leasedUntil = time.Time{}
			continue
		}
		queued[k] = &memJob{seq: m.seq, enqueuedAt: now}
	}
}

func (m *MemoryStore) Claim(_ context.Context, stage string, limit int, lease time.Duration) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []models.Job
	for k, j := range m.jobs[stage] {
		if !j.leasedUntil.IsZero() && j.leasedUntil.After(now) {
			continue
		}
		out = append(out, models.Job{Stage: stage, Key: k, Seq: j.seq, EnqueuedAt: j.enqueuedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for _, job := range out {
		m.jobs[stage][job.Key].leasedUntil = now.Add(lease)
	}
	return out, nil
}

func (m *MemoryStore) Ack(_ context.Context, jobs []models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range jobs {
		if j, ok := m.jobs[job.Stage][job.Key]; ok && j.seq == job.Seq {
			delete(m.jobs[job.Stage], job.Key)
		}
	}
	return nil
}

func (m *MemoryStore) Release(_ context.Context, jobs []models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range jobs {
		if j, ok := m.jobs[job.Stage][job.Key]; ok && j.seq == job.Seq {
			j.leasedUntil = time.Time{}
		}
	}
	return nil
}
