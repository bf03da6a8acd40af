package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"sections/header.liquid", "sections/header.liquid", false},
		{"./sections//header.liquid", "sections/header.liquid", false},
		{"snippets\\icon.liquid", "snippets/icon.liquid", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../secrets", "", true},
		{"sections/../../x", "", true},
		{".", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Read(ctx, "sections/missing.liquid")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "sections/hero.liquid", "<h1>{{ section.settings.title }}</h1>"))
	got, err := s.Read(ctx, "sections/hero.liquid")
	require.NoError(t, err)
	assert.Equal(t, "<h1>{{ section.settings.title }}</h1>", got)

	require.NoError(t, s.Write(ctx, "assets/base.css", "body{}"))
	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/base.css", "sections/hero.liquid"}, files)

	require.NoError(t, s.Delete(ctx, "assets/base.css"))
	assert.ErrorIs(t, s.Delete(ctx, "assets/base.css"), ErrNotFound)

	assert.ErrorIs(t, s.Write(ctx, "../escape", "x"), ErrInvalidPath)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Read(cancelled, "sections/hero.liquid")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore(nil))
}

func TestDirStore(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	storeContract(t, s)
}

func TestDirStore_SkipsHidden(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("x"), 0o644))

	s, err := NewDirStore(root)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "layout/theme.liquid", "{{ content_for_layout }}"))

	files, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"layout/theme.liquid"}, files)
}

type prefixIgnorer []string

func (p prefixIgnorer) Ignored(rel string, isDir bool) bool {
	for _, prefix := range p {
		if strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}

func TestDirStore_WithIgnore(t *testing.T) {
	s, err := NewDirStore(t.TempDir(), WithIgnore(prefixIgnorer{"node_modules", "assets/app.js.map"}))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "node_modules/lib/index.js", "x"))
	require.NoError(t, s.Write(ctx, "assets/app.js.map", "{}"))
	require.NoError(t, s.Write(ctx, "assets/app.js", "x"))

	files, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"assets/app.js"}, files)

	// Ignored files stay readable.
	_, err = s.Read(ctx, "assets/app.js.map")
	assert.NoError(t, err)
}

func TestDirStore_ConcurrentWritesSamePath(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Write(ctx, "assets/app.js", "console.log(1)"))
		}()
	}
	wg.Wait()

	got, err := s.Read(ctx, "assets/app.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", got)
}

func TestNewDirStore_NotADirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, nil, 0o644))
	_, err := NewDirStore(f)
	assert.Error(t, err)
}

func TestGitVersioner_Commit(t *testing.T) {
	root := t.TempDir()
	_, err := git.PlainInit(root, false)
	require.NoError(t, err)

	s, err := NewDirStore(root)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "sections/hero.liquid", "<h1>hi</h1>"))

	v, err := NewGitVersioner(root)
	require.NoError(t, err)

	hash, err := v.Commit(ctx, "themeagent: update hero", []string{"sections/hero.liquid"})
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	_, err = v.Commit(ctx, "again", []string{"sections/hero.liquid"})
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestNewGitVersioner_NotARepo(t *testing.T) {
	_, err := NewGitVersioner(t.TempDir())
	assert.Error(t, err)
}
