package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/themeagent/internal/filestore"
)

// target resolves and authorizes the path an edit tool acts on, returning the
// current content and whether the file exists.
func (e *Executor) target(ctx context.Context, in Input) (string, string, bool, error) {
	p, err := in.String("path")
	if err != nil {
		return "", "", false, err
	}
	clean, err := filestore.CleanPath(p)
	if err != nil {
		return "", "", false, err
	}
	if err := e.checkEditScope(clean); err != nil {
		return "", "", false, err
	}
	content, err := e.store.Read(ctx, clean)
	switch {
	case err == nil:
		return clean, content, true, nil
	case errors.Is(err, filestore.ErrNotFound):
		return clean, "", false, nil
	default:
		return "", "", false, err
	}
}

// commit journals and writes one edit. A cancelled call writes nothing, so a
// handler that outlives its run cannot change files after rollback.
func (e *Executor) commit(ctx context.Context, path, before string, existed bool, after string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.journal.Record(path, before, existed)
	return e.store.Write(ctx, path, after)
}

func (e *Executor) editLines(ctx context.Context, in Input) (string, error) {
	p, before, existed, err := e.target(ctx, in)
	if err != nil {
		return "", err
	}
	if !existed {
		return "", fmt.Errorf("%w: %s", filestore.ErrNotFound, p)
	}
	start, err := in.Int("start_line")
	if err != nil {
		return "", err
	}
	end, err := in.Int("end_line")
	if err != nil {
		return "", err
	}
	replacement, err := in.RawString("new_content")
	if err != nil {
		return "", err
	}
	lines := splitLines(before)
	if start < 1 || end < start || end > len(lines) {
		return "", fmt.Errorf("line range %d-%d is invalid for %s (%d lines)", start, end, p, len(lines))
	}

	var next []string
	next = append(next, lines[:start-1]...)
	if replacement != "" {
		next = append(next, splitLines(replacement)...)
	}
	next = append(next, lines[end:]...)
	after := strings.Join(next, "\n")
	if strings.HasSuffix(before, "\n") {
		after += "\n"
	}
	if err := e.commit(ctx, p, before, true, after); err != nil {
		return "", err
	}
	return fmt.Sprintf("Replaced lines %d-%d of %s (%d lines now)", start, end, p, len(next)), nil
}

func (e *Executor) searchReplace(ctx context.Context, in Input) (string, error) {
	p, before, existed, err := e.target(ctx, in)
	if err != nil {
		return "", err
	}
	if !existed {
		return "", fmt.Errorf("%w: %s", filestore.ErrNotFound, p)
	}
	search, err := in.String("search")
	if err != nil {
		return "", err
	}
	replace, err := in.RawString("replace")
	if err != nil {
		return "", err
	}
	n := strings.Count(before, search)
	switch {
	case n == 0:
		return "", fmt.Errorf("search text not found in %s", p)
	case n > 1 && !in.Bool("replace_all"):
		return "", fmt.Errorf("search text occurs %d times in %s; add context or set replace_all", n, p)
	}
	after := strings.ReplaceAll(before, search, replace)
	if err := e.commit(ctx, p, before, true, after); err != nil {
		return "", err
	}
	return fmt.Sprintf("Replaced %d occurrence(s) in %s", n, p), nil
}

func (e *Executor) writeFile(ctx context.Context, in Input) (string, error) {
	p, before, existed, err := e.target(ctx, in)
	if err != nil {
		return "", err
	}
	content, err := in.RawString("content")
	if err != nil {
		return "", err
	}
	if err := e.commit(ctx, p, before, existed, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %s (%d bytes)", p, len(content)), nil
}

func (e *Executor) createFile(ctx context.Context, in Input) (string, error) {
	p, before, existed, err := e.target(ctx, in)
	if err != nil {
		return "", err
	}
	if existed {
		return "", fmt.Errorf("%s already exists; use write_file or edit_lines", p)
	}
	content, err := in.RawString("content")
	if err != nil {
		return "", err
	}
	if err := e.commit(ctx, p, before, false, content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created %s (%d bytes)", p, len(content)), nil
}

func (e *Executor) deleteFile(ctx context.Context, in Input) (string, error) {
	p, before, existed, err := e.target(ctx, in)
	if err != nil {
		return "", err
	}
	if !existed {
		return "", fmt.Errorf("%w: %s", filestore.ErrNotFound, p)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.journal.Record(p, before, true)
	if err := e.store.Delete(ctx, p); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %s", p), nil
}
