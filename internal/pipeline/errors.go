package pipeline

import (
	"errors"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/storage"
)

var (
	ErrConfigMissing = models.ErrConfigMissing
	ErrNotFound      = models.ErrNotFound
	ErrStoreMismatch = storage.ErrStoreMismatch
	// ErrSignedURL marks a path that could not be signed. Callers degrade
	// the row instead of failing.
	ErrSignedURL = errors.New("signed url unavailable")
)
