package models

import (
	"fmt"
	"strings"
	"time"
)

type Resample string

const (
	ResampleLanczos  Resample = "LANCZOS"
	ResampleBilinear Resample = "BILINEAR"
	ResampleBicubic  Resample = "BICUBIC"
	ResampleNearest  Resample = "NEAREST"
)

// ParseResample accepts any casing; an empty name means lanczos.
func ParseResample(name string) (Resample, error) {
	switch r := Resample(strings.ToUpper(strings.TrimSpace(name))); r {
	case "":
		return ResampleLanczos, nil
	case ResampleLanczos, ResampleBilinear, ResampleBicubic, ResampleNearest:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resample algorithm %q", name)
	}
}

// CompressionRule describes one variant to produce for a file type.
// TargetWidth 0 keeps the original size and marks the master variant.
type CompressionRule struct {
	FileType     string   `json:"file_type"`
	OutputFormat string   `json:"file_format"`
	VariantName  string   `json:"compress_name"`
	TargetWidth  int      `json:"width"`
	Resample     Resample `json:"resampling,omitempty"`
}

func (r *CompressionRule) IsMaster() bool {
	return r.TargetWidth == 0
}

// LabelData is the review-tool configuration attached to a moderation rule.
type LabelData struct {
	DefaultMetadata      map[string]any `json:"default_metadata"`
	ModerationChoices    map[string]any `json:"moderation_choices"`
	TagsChoices          map[string]any `json:"tags_choices"`
	PickOfTheWeekChoices map[string]any `json:"pick_of_the_week_choices"`
}

// ModerationRule enables moderation for a file type.
type ModerationRule struct {
	FileType  string    `json:"file_type"`
	LabelData LabelData `json:"ls_data"`
}

// RuleDocument is the whole transform configuration as one document.
type RuleDocument struct {
	Compress   []CompressionRule `json:"compress"`
	Moderation []ModerationRule  `json:"moderation"`
}

// Validate normalizes resample names and rejects duplicate keys.
func (d *RuleDocument) Validate() error {
	seen := make(map[string]bool, len(d.Compress))
	for i := range d.Compress {
		r := &d.Compress[i]
		if r.FileType == "" || r.OutputFormat == "" || r.VariantName == "" {
			return fmt.Errorf("compress[%d]: file_type, file_format and compress_name are required", i)
		}
		if r.TargetWidth < 0 {
			return fmt.Errorf("compress[%d]: width must be non-negative", i)
		}
		resample, err := ParseResample(string(r.Resample))
		if err != nil {
			return fmt.Errorf("compress[%d]: %w", i, err)
		}
		r.Resample = resample
		r.OutputFormat = strings.ToUpper(r.OutputFormat)
		k := r.FileType + "\x00" + r.OutputFormat + "\x00" + r.VariantName
		if seen[k] {
			return fmt.Errorf("compress[%d]: duplicate rule %s/%s/%s", i, r.FileType, r.OutputFormat, r.VariantName)
		}
		seen[k] = true
	}

	types := make(map[string]bool, len(d.Moderation))
	for i, m := range d.Moderation {
		if m.FileType == "" {
			return fmt.Errorf("moderation[%d]: file_type is required", i)
		}
		if types[m.FileType] {
			return fmt.Errorf("moderation[%d]: duplicate file_type %q", i, m.FileType)
		}
		types[m.FileType] = true
	}
	return nil
}

// RuleSetVersion records one applied rule document.
type RuleSetVersion struct {
	Version   int64     `json:"version"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"applied_at"`
}
