package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DirStore serves a theme from a directory on disk.
type DirStore struct {
	root   string
	ignore Ignorer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Ignorer reports whether a theme-relative path is excluded from listings.
type Ignorer interface {
	Ignored(rel string, isDir bool) bool
}

// DirOption configures a DirStore.
type DirOption func(*DirStore)

// WithIgnore excludes matching paths from List.
func WithIgnore(ig Ignorer) DirOption {
	return func(d *DirStore) { d.ignore = ig }
}

// NewDirStore opens a theme directory.
func NewDirStore(root string, opts ...DirOption) (*DirStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving theme root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening theme root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("theme root %s is not a directory", abs)
	}
	d := &DirStore{root: abs, locks: make(map[string]*sync.Mutex)}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Root returns the absolute theme directory.
func (d *DirStore) Root() string { return d.root }

func (d *DirStore) lock(clean string) func() {
	d.mu.Lock()
	l, ok := d.locks[clean]
	if !ok {
		l = &sync.Mutex{}
		d.locks[clean] = l
	}
	d.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (d *DirStore) abs(p string) (string, string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

func (d *DirStore) Read(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, full, err := d.abs(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", clean, err)
	}
	return string(data), nil
}

// Write replaces the file atomically through a temp file in the same directory.
func (d *DirStore) Write(ctx context.Context, p, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, full, err := d.abs(p)
	if err != nil {
		return err
	}
	defer d.lock(clean)()

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", clean, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-"+filepath.Base(full)+"-*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", clean, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", clean, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", clean, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", clean, err)
	}
	return nil
}

func (d *DirStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, full, err := d.abs(p)
	if err != nil {
		return err
	}
	defer d.lock(clean)()
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return fmt.Errorf("deleting %s: %w", clean, err)
	}
	return nil
}

// List walks the theme, skipping hidden and ignored files and directories.
func (d *DirStore) List(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == d.root {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.ignore != nil && d.ignore.Ignored(rel, entry.IsDir()) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing theme: %w", err)
	}
	sort.Strings(out)
	return out, nil
}
