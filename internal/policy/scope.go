package policy

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// protectedFiles may be edited but never deleted.
var protectedFiles = map[string]bool{
	"layout/theme.liquid":         true,
	"config/settings_schema.json": true,
}

// ScopeGate rejects edits outside the theme's editable directories or outside
// the scope the request was given. Its failures are not retryable.
type ScopeGate struct {
	allowed map[string]bool
}

// rootDir keys files that sit directly in the theme root.
const rootDir = "."

// NewScopeGate creates a scope gate over the allowed top-level directories.
// An entry of "." (or "/") admits root-level files.
func NewScopeGate(allowedDirs []string) *ScopeGate {
	g := &ScopeGate{allowed: make(map[string]bool, len(allowedDirs))}
	for _, d := range allowedDirs {
		d = strings.Trim(d, "/")
		if d == "" {
			d = rootDir
		}
		g.allowed[d] = true
	}
	return g
}

// Name returns the gate identifier
func (g *ScopeGate) Name() string { return GateScopeBoundary }

// Check validates every edited path.
func (g *ScopeGate) Check(ctx context.Context, p *Proposal) (Result, error) {
	var errs []string
	for _, e := range p.Edits {
		dir, _, nested := strings.Cut(e.Path, "/")
		if !nested {
			dir = rootDir
		}
		switch {
		case !g.allowed[dir]:
			errs = append(errs, fmt.Sprintf("%s is outside the editable theme directories", e.Path))
		case len(p.Scope) > 0 && !inScope(e.Path, p.Scope):
			errs = append(errs, fmt.Sprintf("%s is outside the requested scope", e.Path))
		case e.Deleted && protectedFiles[e.Path]:
			errs = append(errs, fmt.Sprintf("%s is required by the theme and cannot be deleted", e.Path))
		}
	}
	if len(errs) == 0 {
		return pass(), nil
	}
	return Result{Errors: errs}, nil
}

func inScope(p string, scope []string) bool {
	for _, s := range scope {
		s = strings.TrimSuffix(s, "/")
		if p == s || strings.HasPrefix(p, s+"/") {
			return true
		}
		if ok, _ := path.Match(s, p); ok {
			return true
		}
	}
	return false
}
