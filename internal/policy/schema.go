package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
)

// SchemaGate checks section schemas, JSON templates and the theme settings
// schema for the structure the storefront editor relies on.
type SchemaGate struct{}

// NewSchemaGate creates the schema gate.
func NewSchemaGate() *SchemaGate { return &SchemaGate{} }

// Name returns the gate identifier
func (g *SchemaGate) Name() string { return GateSchema }

var schemaBlock = regexp.MustCompile(`(?s)\{%-?\s*schema\s*-?%\}(.*?)\{%-?\s*endschema\s*-?%\}`)

// settings without an id
var displayOnlySettings = map[string]bool{"header": true, "paragraph": true}

// Check validates the edited files the editor parses.
func (g *SchemaGate) Check(ctx context.Context, p *Proposal) (Result, error) {
	var errs []string
	for _, e := range p.Edits {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if e.Deleted {
			continue
		}
		var problems []string
		dir, file := path.Split(e.Path)
		switch {
		case dir == "sections/" && path.Ext(file) == ".liquid":
			problems = checkSectionSchema(e.After)
		case dir == "templates/" && path.Ext(file) == ".json":
			problems = checkTemplate(e.After)
		case e.Path == "config/settings_schema.json":
			problems = checkSettingsSchema(e.After)
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

type sectionSchema struct {
	Name     *string          `json:"name"`
	Settings []map[string]any `json:"settings"`
	Blocks   []map[string]any `json:"blocks"`
}

func checkSectionSchema(src string) []string {
	matches := schemaBlock.FindAllStringSubmatch(src, -1)
	switch len(matches) {
	case 0:
		return nil
	case 1:
	default:
		return []string{"a section may contain only one schema tag"}
	}
	var s sectionSchema
	if err := json.Unmarshal([]byte(matches[0][1]), &s); err != nil {
		return []string{fmt.Sprintf("schema is not valid JSON: %v", err)}
	}
	var problems []string
	if s.Name == nil || strings.TrimSpace(*s.Name) == "" {
		problems = append(problems, `schema is missing "name"`)
	}
	problems = append(problems, checkSettings("settings", s.Settings)...)
	for i, b := range s.Blocks {
		if str(b["type"]) == "" {
			problems = append(problems, fmt.Sprintf("blocks[%d] is missing \"type\"", i))
		}
		if str(b["type"]) != "@app" && str(b["name"]) == "" {
			problems = append(problems, fmt.Sprintf("blocks[%d] is missing \"name\"", i))
		}
		if raw, ok := b["settings"].([]any); ok {
			problems = append(problems, checkSettings(fmt.Sprintf("blocks[%d].settings", i), toMaps(raw))...)
		}
	}
	return problems
}

func checkSettings(where string, settings []map[string]any) []string {
	var problems []string
	seen := map[string]bool{}
	for i, s := range settings {
		typ := str(s["type"])
		if typ == "" {
			problems = append(problems, fmt.Sprintf("%s[%d] is missing \"type\"", where, i))
			continue
		}
		if displayOnlySettings[typ] {
			continue
		}
		id := str(s["id"])
		if id == "" {
			problems = append(problems, fmt.Sprintf("%s[%d] (%s) is missing \"id\"", where, i, typ))
			continue
		}
		if seen[id] {
			problems = append(problems, fmt.Sprintf("%s: duplicate id %q", where, id))
		}
		seen[id] = true
	}
	return problems
}

type jsonTemplate struct {
	Sections map[string]map[string]any `json:"sections"`
	Order    []string                  `json:"order"`
}

func checkTemplate(src string) []string {
	trimmed := strings.TrimSpace(src)
	if strings.HasPrefix(trimmed, "/*") {
		if end := strings.Index(trimmed, "*/"); end >= 0 {
			trimmed = trimmed[end+2:]
		}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return []string{fmt.Sprintf("template is not a JSON object: %v", err)}
	}
	if _, ok := raw["sections"]; !ok {
		return []string{`template is missing "sections"`}
	}
	var t jsonTemplate
	if err := json.Unmarshal([]byte(trimmed), &t); err != nil {
		return []string{fmt.Sprintf("template structure is invalid: %v", err)}
	}
	var problems []string
	if _, ok := raw["order"]; !ok {
		problems = append(problems, `template is missing "order"`)
	}
	for _, key := range t.Order {
		if _, ok := t.Sections[key]; !ok {
			problems = append(problems, fmt.Sprintf("order references unknown section %q", key))
		}
	}
	keys := make([]string, 0, len(t.Sections))
	for key := range t.Sections {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if str(t.Sections[key]["type"]) == "" {
			problems = append(problems, fmt.Sprintf("section %q is missing \"type\"", key))
		}
	}
	return problems
}

func checkSettingsSchema(src string) []string {
	var groups []map[string]any
	if err := json.Unmarshal([]byte(src), &groups); err != nil {
		return []string{fmt.Sprintf("settings schema must be a JSON array: %v", err)}
	}
	var problems []string
	for i, g := range groups {
		if str(g["name"]) == "" {
			problems = append(problems, fmt.Sprintf("group %d is missing \"name\"", i))
		}
		if raw, ok := g["settings"].([]any); ok {
			problems = append(problems, checkSettings(fmt.Sprintf("group %q settings", str(g["name"])), toMaps(raw))...)
		}
	}
	return problems
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func toMaps(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, _ := item.(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		out = append(out, m)
	}
	return out
}
