package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

// RuleApplier persists a rule document and reports whether it changed.
type RuleApplier interface {
	Apply(ctx context.Context, doc models.RuleDocument) (bool, error)
}

// ParseRules decodes a rule document in YAML or JSON. Keys inside label
// data keep their case.
func ParseRules(data []byte) (models.RuleDocument, error) {
	var doc models.RuleDocument
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return doc, fmt.Errorf("decode rule document: %w", err)
	}
	if raw == nil {
		return doc, fmt.Errorf("rule document is empty")
	}
	// Round trip through JSON so the json tags on the model apply.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return doc, fmt.Errorf("decode rule document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return doc, fmt.Errorf("decode rule document: %w", err)
	}
	return doc, nil
}

func LoadRules(path string) (models.RuleDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RuleDocument{}, fmt.Errorf("read rule document: %w", err)
	}
	return ParseRules(data)
}

// WriteRules replaces the document at path atomically. The encoding follows
// the file extension.
func WriteRules(path string, doc models.RuleDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rule document: %w", err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("encode rule document: %w", err)
		}
		if data, err = yaml.Marshal(raw); err != nil {
			return fmt.Errorf("encode rule document: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rule directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".rules-*")
	if err != nil {
		return fmt.Errorf("write rule document: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write rule document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write rule document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write rule document: %w", err)
	}
	return nil
}

// RuleWatcher loads the rule file into the store and reapplies it whenever
// the file changes on disk.
type RuleWatcher struct {
	path    string
	applier RuleApplier
	logger  *zap.Logger

	mu sync.Mutex
}

func NewRuleWatcher(path string, applier RuleApplier, logger *zap.Logger) *RuleWatcher {
	return &RuleWatcher{path: path, applier: applier, logger: logger}
}

func (w *RuleWatcher) Path() string { return w.path }

// Load reads and applies the file once.
func (w *RuleWatcher) Load(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	doc, err := LoadRules(w.path)
	if err != nil {
		return false, err
	}
	return w.applier.Apply(ctx, doc)
}

// Save writes doc to the watched file and applies it without waiting for
// the file event.
func (w *RuleWatcher) Save(ctx context.Context, doc models.RuleDocument) (bool, error) {
	if err := doc.Validate(); err != nil {
		return false, fmt.Errorf("invalid rule document: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := WriteRules(w.path, doc); err != nil {
		return false, err
	}
	return w.applier.Apply(ctx, doc)
}

// Watch starts watching the file. Changes after ctx is done are ignored.
func (w *RuleWatcher) Watch(ctx context.Context) {
	v := viper.New()
	v.SetConfigFile(w.path)
	v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		changed, err := w.Load(ctx)
		if err != nil {
			w.logger.Error("reload rule document", zap.String("path", e.Name), zap.Error(err))
			return
		}
		w.logger.Info("rule document reloaded", zap.String("path", e.Name), zap.Bool("changed", changed))
	})
	v.WatchConfig()
	w.logger.Info("watching rule document", zap.String("path", w.path))
}
