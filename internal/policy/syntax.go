package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// SyntaxGate rejects Liquid, JSON and CSS files that no longer parse.
type SyntaxGate struct{}

// NewSyntaxGate creates the syntax gate.
func NewSyntaxGate() *SyntaxGate { return &SyntaxGate{} }

// Name returns the gate identifier
func (g *SyntaxGate) Name() string { return GateSyntax }

// Check validates each surviving file by extension.
func (g *SyntaxGate) Check(ctx context.Context, p *Proposal) (Result, error) {
	var errs []string
	for _, e := range p.Edits {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if e.Deleted {
			continue
		}
		var problems []string
		switch path.Ext(e.Path) {
		case ".liquid":
			problems = checkLiquid(e.After)
		case ".json":
			problems = checkJSON(e.After)
		case ".css":
			problems = checkCSS(e.After)
		}
		for _, msg := range problems {
			errs = append(errs, e.Path+": "+msg)
		}
	}
	if len(errs) == 0 {
		return pass(), nil
	}
	return Result{Errors: errs, Retryable: true}, nil
}

var blockTags = map[string]bool{
	"if": true, "unless": true, "for": true, "case": true, "capture": true,
	"form": true, "paginate": true, "tablerow": true, "schema": true,
	"style": true, "javascript": true, "stylesheet": true,
}

// rawTags suspend parsing until their end tag.
var rawTags = map[string]*regexp.Regexp{
	"raw":     regexp.MustCompile(`\{%-?\s*endraw\s*-?%\}`),
	"comment": regexp.MustCompile(`\{%-?\s*endcomment\s*-?%\}`),
}

var tagName = regexp.MustCompile(`^\s*([a-z_]+)`)

// checkLiquid verifies output and tag delimiters close and that block tags
// nest correctly.
func checkLiquid(src string) []string {
	var problems []string
	var stack []string
	rest := src
	line := 1
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 || open+1 >= len(rest) {
			break
		}
		line += strings.Count(rest[:open], "\n")
		next := rest[open+1]
		if next != '{' && next != '%' {
			rest = rest[open+1:]
			continue
		}
		closer := "}}"
		if next == '%' {
			closer = "%}"
		}
		end := strings.Index(rest[open+2:], closer)
		if end < 0 {
			problems = append(problems, fmt.Sprintf("line %d: unclosed %q", line, rest[open:open+2]))
			break
		}
		body := rest[open+2 : open+2+end]
		consumed := rest[:open+2+end+2]
		line += strings.Count(consumed[open:], "\n")
		rest = rest[open+2+end+2:]
		if next == '{' {
			continue
		}

		inner := strings.TrimSpace(strings.Trim(body, "-"))
		if strings.HasPrefix(inner, "#") {
			continue
		}
		m := tagName.FindStringSubmatch(inner)
		if m == nil {
			problems = append(problems, fmt.Sprintf("line %d: empty tag", line))
			continue
		}
		name := m[1]
		switch {
		case rawTags[name] != nil:
			loc := rawTags[name].FindStringIndex(rest)
			if loc == nil {
				problems = append(problems, fmt.Sprintf("line %d: %q is never closed", line, name))
				return problems
			}
			line += strings.Count(rest[:loc[1]], "\n")
			rest = rest[loc[1]:]
		case blockTags[name]:
			stack = append(stack, name)
		case strings.HasPrefix(name, "end"):
			opened := strings.TrimPrefix(name, "end")
			if len(stack) == 0 {
				problems = append(problems, fmt.Sprintf("line %d: %q without matching %q", line, name, opened))
				continue
			}
			top := stack[len(stack)-1]
			if top != opened {
				problems = append(problems, fmt.Sprintf("line %d: %q closes %q", line, name, top))
			}
			stack = stack[:len(stack)-1]
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		problems = append(problems, fmt.Sprintf("%q is never closed", stack[i]))
	}
	return problems
}

// checkJSON accepts Shopify JSON templates, which may start with a block comment.
func checkJSON(src string) []string {
	trimmed := strings.TrimSpace(src)
	if strings.HasPrefix(trimmed, "/*") {
		if end := strings.Index(trimmed, "*/"); end >= 0 {
			trimmed = trimmed[end+2:]
		}
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

// checkCSS checks that braces balance outside comments and strings.
func checkCSS(src string) []string {
	depth := 0
	line := 1
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\n' {
			line++
		}
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return []string{fmt.Sprintf("line %d: unterminated comment", line)}
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 3
		case c == '"' || c == '\'':
			quote = c
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth < 0 {
				return []string{fmt.Sprintf("line %d: unexpected '}'", line)}
			}
		}
	}
	if depth > 0 {
		return []string{fmt.Sprintf("%d unclosed '{'", depth)}
	}
	return nil
}
