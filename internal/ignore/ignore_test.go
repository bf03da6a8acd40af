package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{"empty line", "", ""},
		{"whitespace only", "   ", ""},
		{"comment", "# build output", ""},
		{"negation kept", "!assets/keep.map", "!assets/keep.map"},
		{"glob", "*.log", "*.log"},
		{"directory", "node_modules/", "node_modules/"},
		{"trailing whitespace trimmed", "dist/  \r", "dist/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLine(tt.line))
		})
	}
}

func TestParseProject(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("# deps\nnode_modules/\n*.log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".themeagentignore"), []byte("*.log\nassets/vendor/\n"), 0o644))

	p := NewParser(DefaultFiles, DefaultPatterns)
	patterns, err := p.ParseProject(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"node_modules/", "*.log", "assets/vendor/"}, patterns)
}

func TestParseProject_Fallback(t *testing.T) {
	p := NewParser(DefaultFiles, DefaultPatterns)
	patterns, err := p.ParseProject(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultPatterns, patterns)
}

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{"node_modules/", "*.map", "!assets/theme.css.map", "assets/vendor/"})

	tests := []struct {
		path    string
		isDir   bool
		ignored bool
	}{
		{"node_modules", true, true},
		{"sections/header.liquid", false, false},
		{"assets/app.js.map", false, true},
		{"assets/theme.css.map", false, false},
		{"assets/vendor", true, true},
		{"assets/theme.css", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ignored, m.Ignored(tt.path, tt.isDir))
		})
	}
}

func TestMatcher_NilIgnoresNothing(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Ignored("anything.log", false))
	assert.Nil(t, m.Patterns())
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".themeagentignore"), []byte("drafts/\n"), 0o644))
	m, err := NewParser(DefaultFiles, DefaultPatterns).Load(root)
	require.NoError(t, err)
	assert.True(t, m.Ignored("drafts", true))
	assert.Equal(t, []string{"drafts/"}, m.Patterns())
}
