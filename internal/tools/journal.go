package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/themeagent/internal/filestore"
)

// Entry is the pre-edit state of one path.
type Entry struct {
	Path    string
	Before  string
	Existed bool
}

// Journal records the content of each path before its first unvalidated edit
// so a rejected batch of edits can be rolled back.
type Journal struct {
	mu      sync.Mutex
	order   []string
	entries map[string]Entry
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{entries: make(map[string]Entry)}
}

// Record notes the pre-edit state of a path. Only the first record per path
// since the last Clear is kept.
func (j *Journal) Record(path, before string, existed bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[path]; ok {
		return
	}
	j.order = append(j.order, path)
	j.entries[path] = Entry{Path: path, Before: before, Existed: existed}
}

// Entries returns the recorded paths in first-edit order.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.order))
	for _, p := range j.order {
		out = append(out, j.entries[p])
	}
	return out
}

// Len is the number of paths with pending edits.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.order)
}

// Clear forgets every entry, keeping the current file state.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.order = nil
	j.entries = make(map[string]Entry)
}

// Rollback restores every recorded path to its pre-edit content, in reverse
// order, then clears the journal. Errors for individual paths are joined.
func (j *Journal) Rollback(ctx context.Context, store filestore.Store) error {
	entries := j.Entries()
	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		var err error
		if e.Existed {
			err = store.Write(ctx, e.Path, e.Before)
		} else {
			err = store.Delete(ctx, e.Path)
			if errors.Is(err, filestore.ErrNotFound) {
				err = nil
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", e.Path, err))
		}
	}
	j.Clear()
	return errors.Join(errs...)
}
