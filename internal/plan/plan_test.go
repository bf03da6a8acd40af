package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
title = "Spring refresh"
text = """
Lighter palette, bigger hero.
"""

[[todos]]
text = "Update hero section"
done = true

[[todos]]
text = "Swap accent color"
`

func TestFileStore_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	p, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Spring refresh", p.Title)
	require.Len(t, p.Todos, 2)
	assert.True(t, p.Todos[0].Done)
	assert.False(t, p.Todos[1].Done)

	assert.Equal(t,
		"Plan: Spring refresh\nLighter palette, bigger hero.\nTodos:\n- [x] Update hero section\n- [ ] Swap accent color",
		p.Render())
}

func TestFileStore_MissingAndInvalid(t *testing.T) {
	dir := t.TempDir()
	p, err := NewFileStore(filepath.Join(dir, "nope.toml")).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Empty())
	assert.Empty(t, p.Render())

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("title = "), 0o600))
	_, err = NewFileStore(bad).Load(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTOML)
}

func TestParseAndMemoryStore(t *testing.T) {
	p, err := Parse(`text = "ship it"`)
	require.NoError(t, err)
	assert.Equal(t, "ship it", p.Render())

	_, err = Parse("[[todos]\n")
	assert.ErrorIs(t, err, ErrInvalidTOML)

	s := NewMemoryStore(p)
	s.Set(Plan{Todos: []Todo{{Text: "a"}}})
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Todos:\n- [ ] a", got.Render())
}
