package models

import (
	"strings"
	"time"
)

// Key identifies a file across every pipeline table.
type Key struct {
	FileID   string `json:"file_id"`
	FileType string `json:"file_type"`
}

func (k Key) String() string {
	return k.FileType + "/" + k.FileID
}

// FileRecord is the primary record of an uploaded file.
type FileRecord struct {
	FileID      string         `json:"file_id"`
	FileType    string         `json:"file_type"`
	Metadata    map[string]any `json:"meta_data"`
	StoragePath string         `json:"path"`
}

func (f *FileRecord) Key() Key {
	return Key{FileID: f.FileID, FileType: f.FileType}
}

type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
	FileTypeDocument FileType = "document"
	FileTypeOther    FileType = "other"
)

// DeriveFileType maps a detected MIME type to a file type category.
// Used when an upload does not name its type.
func DeriveFileType(contentType string) FileType {
	if strings.HasPrefix(contentType, "image/") {
		return FileTypeImage
	}
	if strings.HasPrefix(contentType, "video/") {
		return FileTypeVideo
	}
	if strings.HasPrefix(contentType, "audio/") {
		return FileTypeAudio
	}
	if strings.Contains(contentType, "pdf") {
		return FileTypeDocument
	}
	return FileTypeOther
}

// CompressedVariant is the metadata half of a derived image variant.
// Its bytes live in the blob store under StoragePath.
type CompressedVariant struct {
	FileID       string `json:"file_id"`
	FileType     string `json:"file_type"`
	OutputFormat string `json:"file_format"`
	VariantName  string `json:"compress_name"`
	StoragePath  string `json:"path"`
	// Checksum is the sha256 of the stored bytes.
	Checksum string `json:"checksum"`
}

func (v *CompressedVariant) Key() Key {
	return Key{FileID: v.FileID, FileType: v.FileType}
}

// ModerationExclusion marks a file as exempt from moderation.
type ModerationExclusion = Key

// ModerationCandidate is a master variant that is due for review.
type ModerationCandidate struct {
	FileID        string    `json:"file_id"`
	FileType      string    `json:"file_type"`
	AccessURL     string    `json:"file_url"`
	SourcePath    string    `json:"file_gs_url"`
	Checksum      string    `json:"checksum"`
	LabelDefaults LabelData `json:"ls_data"`
}

func (c *ModerationCandidate) Key() Key {
	return Key{FileID: c.FileID, FileType: c.FileType}
}

// AutomatedVerdict holds the raw classifier output for a candidate.
// A nil ClassifierOutput means the classifier had nothing to say.
// SourcePath and Checksum name the candidate bytes that were classified.
type AutomatedVerdict struct {
	FileID           string            `json:"file_id"`
	FileType         string            `json:"file_type"`
	SourcePath       string            `json:"file_gs_url"`
	Checksum         string            `json:"checksum"`
	ClassifierOutput map[string]string `json:"google_details"`
}

func (v *AutomatedVerdict) Key() Key {
	return Key{FileID: v.FileID, FileType: v.FileType}
}

// Matches reports whether v was computed from the bytes c points at.
func (v *AutomatedVerdict) Matches(c ModerationCandidate) bool {
	return v.Key() == c.Key() && v.SourcePath == c.SourcePath && v.Checksum == c.Checksum
}

type AutomatedStatus string

const (
	StatusPending  AutomatedStatus = "pending"
	StatusApproved AutomatedStatus = "approved"
	StatusBlocked  AutomatedStatus = "blocked"
)

// ModerationTask is the payload handed to the review tool.
type ModerationTask struct {
	FileID          string          `json:"file_id"`
	FileType        string          `json:"file_type"`
	Metadata        map[string]any  `json:"meta_data"`
	AutomatedStatus AutomatedStatus `json:"google_review_status"`
	AccessURL       string          `json:"file_url"`
	LabelDefaults   LabelData       `json:"ls_data"`
}

// ChoiceEntry is one labelled group of choices made by a reviewer.
type ChoiceEntry struct {
	ChoiceGroup     string   `json:"choice_name"`
	SelectedChoices []string `json:"choices"`
}

// ReviewOutcome is what the review tool returns for one file.
type ReviewOutcome struct {
	FileID   string        `json:"file_id"`
	FileType string        `json:"file_type"`
	Entries  []ChoiceEntry `json:"entries"`
}

// ManualVerdict stores a reviewer's non-deleting decision.
type ManualVerdict struct {
	FileID     string        `json:"file_id"`
	FileType   string        `json:"file_type"`
	Entries    []ChoiceEntry `json:"moderation_data"`
	ReviewedAt time.Time     `json:"last_reviewed"`
}

// DeletionRecord marks a file removed by review.
type DeletionRecord struct {
	FileID     string    `json:"file_id"`
	FileType   string    `json:"file_type"`
	ReviewedAt time.Time `json:"last_reviewed"`
}

func (d *DeletionRecord) Key() Key {
	return Key{FileID: d.FileID, FileType: d.FileType}
}

// VariantInfo is one entry of Response.CompressInfo.
type VariantInfo struct {
	Path string `json:"path"`
}

// Response is the externally visible shape of a file.
type Response struct {
	FileID       string                 `json:"file_id"`
	SourcePath   string                 `json:"source_path"`
	CompressInfo map[string]VariantInfo `json:"compress_info"`
	Metadata     map[string]any         `json:"meta_data"`
}
