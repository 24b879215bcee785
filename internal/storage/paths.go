package storage

import (
	"net/url"
	"strings"
)

// Resolver maps file and variant identities to blob paths.
// Every segment is escaped, so distinct keys never share a path.
type Resolver struct {
	root string
}

func NewResolver(base string) *Resolver {
	root := strings.Trim(base, "/")
	if root != "" {
		root += "/"
	}
	return &Resolver{root: root}
}

// ResolveRawPath returns {base}/files/{file_type}/{file_id}/raw.bytes.
func (r *Resolver) ResolveRawPath(fileType, fileID string) string {
	return r.ResolvePrefix(fileType, fileID) + "raw.bytes"
}

// ResolveVariantPath returns {base}/files/{file_type}/{file_id}/{variant}/image.{format}.
func (r *Resolver) ResolveVariantPath(fileType, fileID, variantName, format string) string {
	return r.ResolvePrefix(fileType, fileID) + escapeSegment(variantName) + "/image." + escapeSegment(format)
}

// ResolvePrefix is the directory holding every blob of one file, with a trailing slash.
func (r *Resolver) ResolvePrefix(fileType, fileID string) string {
	return r.root + "files/" + escapeSegment(fileType) + "/" + escapeSegment(fileID) + "/"
}

// escapeSegment never returns "", "." or ".." and never produces a slash.
// PathEscape leaves dots alone and always emits %XX triples, so the
// special cases below cannot collide with a regular escaped value.
func escapeSegment(s string) string {
	switch s {
	case "":
		return "%"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}
