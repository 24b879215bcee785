package service

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

// ErrInvalidArgument marks a request the caller has to fix.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

const maxIDLength = 256

// ValidateFileID rejects ids that cannot be used as a single path segment.
func ValidateFileID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidf("file_id is required")
	}
	if len(id) > maxIDLength {
		return invalidf("file_id longer than %d characters", maxIDLength)
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return invalidf("file_id %q is not a valid path segment", id)
	}
	return nil
}

func ValidateFileType(fileType string) error {
	if fileType == "" {
		return invalidf("file_type is required")
	}
	if len(fileType) > 64 || strings.ContainsAny(fileType, "/\\ ") || fileType == "." || fileType == ".." {
		return invalidf("file_type %q is not a valid path segment", fileType)
	}
	return nil
}

func validateKey(k models.Key) error {
	if err := ValidateFileID(k.FileID); err != nil {
		return err
	}
	return ValidateFileType(k.FileType)
}

// DetectFileType sniffs the content type of data. An empty declaration is
// derived from the sniffed type; a declared type always wins.
func DetectFileType(data []byte, declared string) (fileType, contentType string) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	contentType = http.DetectContentType(head)
	if declared != "" {
		return declared, contentType
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	return string(models.DeriveFileType(mediaType)), contentType
}
