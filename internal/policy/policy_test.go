package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/themeagent/internal/config"
)

func edit(path, after string) Edit {
	return Edit{Path: path, After: after, Existed: true}
}

func check(t *testing.T, g Gate, edits ...Edit) Result {
	t.Helper()
	res, err := g.Check(context.Background(), &Proposal{Edits: edits})
	require.NoError(t, err)
	return res
}

func TestSyntaxGate_Liquid(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"valid", "{% if x %}<p>{{ x | upcase }}</p>{% else %}-{% endif %}", ""},
		{"whitespace control", "{%- for p in products -%}{{- p.title -}}{%- endfor -%}", ""},
		{"raw skips content", "{% raw %}{{ not closed {% if %}{% endraw %}", ""},
		{"comment skips content", "{% comment %}{% if{% endcomment %}ok", ""},
		{"inline comment", "{% # note %}<p></p>", ""},
		{"liquid tag", "{% liquid\n  if x\n    echo x\n  endif\n%}", ""},
		{"css braces in liquid", "<style>.a { color: red }</style>", ""},
		{"unclosed output", "<p>{{ product.title </p>", `unclosed "{{"`},
		{"unclosed tag", "{% if x <p>", `unclosed "{%"`},
		{"missing endif", "{% if x %}<p></p>", `"if" is never closed`},
		{"mismatched", "{% for a in b %}{% endif %}", `"endif" closes "for"`},
		{"stray end", "<p></p>{% endunless %}", `"endunless" without matching "unless"`},
		{"unclosed comment", "{% comment %} oops", `"comment" is never closed`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := check(t, NewSyntaxGate(), edit("snippets/x.liquid", tt.src))
			if tt.wantErr == "" {
				assert.True(t, res.Passed(), "%v", res.Errors)
				return
			}
			require.False(t, res.Passed())
			assert.False(t, res.ChangesKept)
			assert.True(t, res.Retryable)
			assert.Contains(t, strings.Join(res.Errors, "\n"), tt.wantErr)
		})
	}
}

func TestSyntaxGate_JSONAndCSS(t *testing.T) {
	g := NewSyntaxGate()
	assert.True(t, check(t, g, edit("templates/index.json", "/* generated */ {\"sections\":{}}")).Passed())
	assert.False(t, check(t, g, edit("locales/en.default.json", `{"a":`)).Passed())

	assert.True(t, check(t, g, edit("assets/base.css", `a::after { content: "}"; } /* } */`)).Passed())
	assert.False(t, check(t, g, edit("assets/base.css", ".a { color: red;")).Passed())
	assert.False(t, check(t, g, edit("assets/base.css", ".a { } }")).Passed())

	// Deleted files and unknown types are not parsed.
	assert.True(t, check(t, g, Edit{Path: "assets/base.css", Deleted: true}).Passed())
	assert.True(t, check(t, g, edit("assets/app.js", "function(")).Passed())
}

const validSection = `<div>{{ section.settings.title }}</div>
{% schema %}
{
  "name": "Hero",
  "settings": [
    {"type": "header", "content": "Text"},
    {"type": "text", "id": "title", "label": "Title"}
  ],
  "blocks": [{"type": "@app"}, {"type": "button", "name": "Button", "settings": [{"type": "url", "id": "link"}]}]
}
{% endschema %}`

func TestSchemaGate_Sections(t *testing.T) {
	g := NewSchemaGate()
	assert.True(t, check(t, g, edit("sections/hero.liquid", validSection)).Passed())
	assert.True(t, check(t, g, edit("sections/plain.liquid", "<div></div>")).Passed())

	res := check(t, g, edit("sections/hero.liquid",
		`{% schema %}{"settings":[{"type":"text","id":"a"},{"type":"text","id":"a"},{"id":"b"}]}{% endschema %}`))
	require.False(t, res.Passed())
	joined := strings.Join(res.Errors, "\n")
	assert.Contains(t, joined, `missing "name"`)
	assert.Contains(t, joined, `duplicate id "a"`)
	assert.Contains(t, joined, `settings[2] is missing "type"`)

	res = check(t, g, edit("sections/hero.liquid", `{% schema %}{"name": }{% endschema %}`))
	assert.Contains(t, strings.Join(res.Errors, "\n"), "not valid JSON")

	// Snippets are not sections.
	assert.True(t, check(t, g, edit("snippets/x.liquid", `{% schema %}nope{% endschema %}`)).Passed())
}

func TestSchemaGate_Templates(t *testing.T) {
	g := NewSchemaGate()
	good := `{"sections":{"main":{"type":"main-product"}},"order":["main"]}`
	assert.True(t, check(t, g, edit("templates/product.json", good)).Passed())

	res := check(t, g, edit("templates/product.json", `{"sections":{"main":{}},"order":["main","ghost"]}`))
	joined := strings.Join(res.Errors, "\n")
	assert.Contains(t, joined, `unknown section "ghost"`)
	assert.Contains(t, joined, `section "main" is missing "type"`)

	res = check(t, g, edit("templates/index.json", `{"order":[]}`))
	assert.Contains(t, strings.Join(res.Errors, "\n"), `missing "sections"`)
}

func TestSchemaGate_SettingsSchema(t *testing.T) {
	g := NewSchemaGate()
	assert.True(t, check(t, g, edit("config/settings_schema.json",
		`[{"name":"theme_info"},{"name":"Colors","settings":[{"type":"color","id":"bg"}]}]`)).Passed())
	assert.False(t, check(t, g, edit("config/settings_schema.json", `{"name":"x"}`)).Passed())
}

func TestScopeGate(t *testing.T) {
	g := NewScopeGate(config.Default().Policy.AllowedDirs)

	assert.True(t, check(t, g, edit("sections/hero.liquid", "")).Passed())

	res := check(t, g, edit("checkout/secret.liquid", ""))
	require.False(t, res.Passed())
	assert.False(t, res.ChangesKept)
	assert.False(t, res.Retryable)
	assert.Contains(t, res.Errors[0], "outside the editable theme directories")

	// Root-level files are editable by default and only when "." is allowed.
	assert.True(t, check(t, g, edit("a.liquid", "")).Passed())
	res = check(t, NewScopeGate([]string{"sections"}), edit("a.liquid", ""))
	require.False(t, res.Passed())
	assert.Contains(t, res.Errors[0], "a.liquid is outside the editable theme directories")
	assert.True(t, check(t, NewScopeGate([]string{"/"}), edit("a.liquid", "")).Passed())

	res = check(t, g, Edit{Path: "layout/theme.liquid", Deleted: true, Existed: true})
	assert.Contains(t, res.Errors[0], "cannot be deleted")

	scoped, err := g.Check(context.Background(), &Proposal{
		Edits: []Edit{edit("sections/hero.liquid", ""), edit("assets/hero.css", ""), edit("snippets/a.liquid", "")},
		Scope: []string{"sections/", "assets/*.css"},
	})
	require.NoError(t, err)
	require.Len(t, scoped.Errors, 1)
	assert.Contains(t, scoped.Errors[0], "snippets/a.liquid is outside the requested scope")
}

func TestChangeSizeGate(t *testing.T) {
	g := NewChangeSizeGate(3)
	assert.True(t, check(t, g, Edit{Path: "a.css", Before: "a\nb", After: "a\nc"}).Passed())

	res := check(t, g, Edit{Path: "a.css", Before: "a", After: "b\nc\nd"})
	require.False(t, res.Passed())
	assert.True(t, res.ChangesKept)

	assert.True(t, check(t, NewChangeSizeGate(0), Edit{Before: "", After: strings.Repeat("x\n", 1000)}).Passed())
	assert.Equal(t, 2, ChangedLines("a\nb", "a\nc"))
	assert.Zero(t, ChangedLines("a\nb", "b\na"))
}

type erroringGate struct{}

func (erroringGate) Name() string { return "flaky" }
func (erroringGate) Check(context.Context, *Proposal) (Result, error) {
	return Result{}, errors.New("boom")
}

func TestPolicy_Evaluate(t *testing.T) {
	cfg := config.Default().Policy
	p, err := New([]string{GateScopeBoundary, GateSyntax, GateChangeSize}, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"scope-boundary", "syntax", "change-size"}, p.Gates())
	ctx := context.Background()

	v := p.Evaluate(ctx, &Proposal{Edits: []Edit{edit("sections/a.liquid", "{{ ok }}")}})
	assert.Empty(t, v.Issues)
	assert.False(t, v.Blocked)

	// Syntax failure alone is hard but correctable.
	v = p.Evaluate(ctx, &Proposal{Edits: []Edit{edit("sections/a.liquid", "{% if %}")}})
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "syntax", v.Issues[0].Gate)
	assert.False(t, v.Issues[0].ChangesKept)
	assert.True(t, v.Blocked)
	assert.True(t, v.Correctable)

	// Scope failure blocks without retry.
	v = p.Evaluate(ctx, &Proposal{Edits: []Edit{edit("checkout/a.liquid", "{{ ok }}")}})
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "scope-boundary", v.Issues[0].Gate)
	assert.True(t, v.Blocked)
	assert.False(t, v.Correctable)

	// Soft warnings keep edits.
	soft := NewWithGates(NewChangeSizeGate(1))
	v = soft.Evaluate(ctx, &Proposal{Edits: []Edit{{Path: "assets/a.css", After: "a\nb\nc"}}})
	require.Len(t, v.Issues, 1)
	assert.True(t, v.Issues[0].ChangesKept)
	assert.False(t, v.Blocked)

	v = NewWithGates(erroringGate{}).Evaluate(ctx, &Proposal{})
	require.Len(t, v.Issues, 1)
	assert.True(t, v.Blocked)
	assert.False(t, v.Correctable)

	_, err = New([]string{"vibes"}, cfg)
	assert.Error(t, err)
}
