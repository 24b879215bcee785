package models

import "errors"

var (
	// ErrNotFound is returned when a file id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrConfigMissing is returned when no rule set has been loaded yet.
	ErrConfigMissing = errors.New("file config not found, set it via SetConfig")
)
