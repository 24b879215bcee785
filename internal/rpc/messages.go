package rpc

import (
	"github.com/PaulBabatuyi/filebox/internal/models"
)

// UploadMetadata opens an upload stream. FileID may be empty.
type UploadMetadata struct {
	FileID   string         `json:"file_id,omitempty"`
	FileType string         `json:"file_type,omitempty"`
	Size     int64          `json:"size,omitempty"`
	Metadata map[string]any `json:"meta_data,omitempty"`
}

// UploadFileRequest carries either the metadata (first message) or a chunk.
type UploadFileRequest struct {
	Metadata *UploadMetadata `json:"metadata,omitempty"`
	Chunk    []byte          `json:"chunk,omitempty"`
}

func (r *UploadFileRequest) GetMetadata() *UploadMetadata {
	if r == nil {
		return nil
	}
	return r.Metadata
}

func (r *UploadFileRequest) GetChunk() []byte {
	if r == nil {
		return nil
	}
	return r.Chunk
}

type GetFileRequest struct {
	FileID string `json:"file_id"`
}

type UpdateMetadataRequest struct {
	FileID   string         `json:"file_id"`
	Metadata map[string]any `json:"meta_data"`
}

type GetConfigRequest struct{}

type SetConfigRequest struct {
	Document models.RuleDocument `json:"document"`
}

type ConfigResponse struct {
	Document models.RuleDocument `json:"document"`
	Version  int64               `json:"version"`
	Checksum string              `json:"checksum"`
	// Changed is set by SetConfig.
	Changed bool `json:"changed,omitempty"`
}
