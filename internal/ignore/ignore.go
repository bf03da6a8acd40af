// Package ignore filters theme files with gitignore-style pattern files.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultFiles are the ignore files read from a theme root, in order.
var DefaultFiles = []string{".gitignore", ".themeagentignore"}

// DefaultPatterns apply when a theme has no ignore files.
var DefaultPatterns = []string{"node_modules/", "*.log", "*.map"}

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string
}

// NewParser creates a new ignore file parser with the given configuration.
func NewParser(ignoreFiles, fallbackPatterns []string) *Parser {
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
	}
}

// ParseProject reads all ignore files from the theme root and returns the
// combined patterns. If no ignore files are found, returns fallback patterns.
func (p *Parser) ParseProject(root string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		filePatterns, err := p.parseFile(filepath.Join(root, ignoreFile))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}
	return deduplicate(patterns), nil
}

// Load parses the theme's ignore files into a Matcher.
func (p *Parser) Load(root string) (*Matcher, error) {
	patterns, err := p.ParseProject(root)
	if err != nil {
		return nil, err
	}
	return NewMatcher(patterns), nil
}

// parseFile reads a single gitignore-style file and returns patterns.
func (p *Parser) parseFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine returns the pattern on a line, or "" for comments and blank lines.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	return line
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// Matcher reports whether theme paths are ignored. A nil Matcher ignores
// nothing.
type Matcher struct {
	m        gitignore.Matcher
	patterns []string
}

// NewMatcher compiles gitignore patterns. Later patterns take precedence and
// "!" re-includes.
func NewMatcher(patterns []string) *Matcher {
	ps := make([]gitignore.Pattern, 0, len(patterns))
	for _, p := range patterns {
		ps = append(ps, gitignore.ParsePattern(p, nil))
	}
	return &Matcher{m: gitignore.NewMatcher(ps), patterns: patterns}
}

// Ignored reports whether the slash-separated relative path is ignored.
func (m *Matcher) Ignored(rel string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	return m.m.Match(strings.Split(strings.Trim(rel, "/"), "/"), isDir)
}

// Patterns returns the compiled patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}
