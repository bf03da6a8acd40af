// Package filestore is the file service the agent reads and writes themes
// through.
//
// Implementations serialize writes to the same path. Callers never cache a
// private mutable copy of file content across turns.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a path does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("invalid path")
)

// Store is the file service contract.
type Store interface {
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, content string) error
	Delete(ctx context.Context, path string) error
	// List returns every file path, sorted.
	List(ctx context.Context) ([]string, error)
}

// CleanPath normalizes a theme-relative path. It rejects paths that are empty,
// absolute, or that climb out of the theme root.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the theme root", ErrInvalidPath, p)
	}
	return clean, nil
}
