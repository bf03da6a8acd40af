package tools

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/themeagent/internal/filestore"
)

func (e *Executor) readFile(ctx context.Context, in Input) (string, error) {
	p, err := in.String("path")
	if err != nil {
		return "", err
	}
	clean, err := filestore.CleanPath(p)
	if err != nil {
		return "", err
	}
	content, err := e.store.Read(ctx, clean)
	if err != nil {
		return "", err
	}
	lines := splitLines(content)
	start, err := in.OptInt("start_line", 1)
	if err != nil {
		return "", err
	}
	end, err := in.OptInt("end_line", len(lines))
	if err != nil {
		return "", err
	}
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if len(lines) == 0 {
		return fmt.Sprintf("%s is empty", clean), nil
	}
	if start > end {
		return "", fmt.Errorf("line range %d-%d is outside %s (%d lines)", start, end, clean, len(lines))
	}
	return numbered(lines[start-1:end], start), nil
}

// parallelBatchRead reads files concurrently. Output keeps input order and a
// failure on one path is reported inline.
func (e *Executor) parallelBatchRead(ctx context.Context, in Input) (string, error) {
	paths, err := in.Strings("paths")
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", errors.New(`input "paths" must name at least one file`)
	}

	contents := make([]string, len(paths))
	failures := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, p := range paths {
		g.Go(func() error {
			clean, err := filestore.CleanPath(p)
			if err != nil {
				failures[i] = err
				return nil
			}
			c, err := e.store.Read(gctx, clean)
			if err != nil {
				failures[i] = err
				return nil
			}
			contents[i] = c
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	failed := 0
	for i, p := range paths {
		fmt.Fprintf(&b, "=== %s ===\n", p)
		if failures[i] != nil {
			failed++
			fmt.Fprintf(&b, "error: %v\n", failures[i])
			continue
		}
		b.WriteString(numbered(splitLines(contents[i]), 1))
		b.WriteString("\n")
	}
	if failed == len(paths) {
		return "", fmt.Errorf("could not read any of %d files:\n%s", len(paths), b.String())
	}
	return b.String(), nil
}

func (e *Executor) searchFiles(ctx context.Context, in Input) (string, error) {
	q, err := in.String("query")
	if err != nil {
		return "", err
	}
	files, err := e.store.List(ctx)
	if err != nil {
		return "", err
	}
	glob := strings.ContainsAny(q, "*?[")
	lower := strings.ToLower(q)
	var out []string
	for _, f := range files {
		if glob {
			if ok, _ := path.Match(q, f); ok {
				out = append(out, f)
				continue
			}
			if ok, _ := path.Match(q, path.Base(f)); ok {
				out = append(out, f)
			}
			continue
		}
		if strings.Contains(strings.ToLower(f), lower) {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return fmt.Sprintf("no files match %q", q), nil
	}
	return strings.Join(out, "\n"), nil
}

func (e *Executor) grepContent(ctx context.Context, in Input) (string, error) {
	pattern, err := in.String("pattern")
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	prefix := in.OptString("path_prefix")
	files, err := e.store.List(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	matches := 0
	for _, f := range files {
		if prefix != "" && !strings.HasPrefix(f, prefix) {
			continue
		}
		content, err := e.store.Read(ctx, f)
		if err != nil {
			continue
		}
		for i, line := range splitLines(content) {
			if !re.MatchString(line) {
				continue
			}
			fmt.Fprintf(&b, "%s:%d: %s\n", f, i+1, strings.TrimSpace(line))
			matches++
			if matches >= maxGrepMatches {
				fmt.Fprintf(&b, "... stopped after %d matches\n", maxGrepMatches)
				return b.String(), nil
			}
		}
	}
	if matches == 0 {
		return fmt.Sprintf("no matches for %q", pattern), nil
	}
	return b.String(), nil
}

func (e *Executor) listFiles(ctx context.Context, in Input) (string, error) {
	files, err := e.store.List(ctx)
	if err != nil {
		return "", err
	}
	dir := strings.Trim(in.OptString("dir"), "/")
	var out []string
	for _, f := range files {
		if dir == "" || strings.HasPrefix(f, dir+"/") {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return "no files", nil
	}
	return strings.Join(out, "\n"), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func numbered(lines []string, first int) string {
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%4d| %s\n", first+i, l)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
