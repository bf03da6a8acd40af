package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const script = `agents:
  coordinator:
    - {action: reason, text: The footer needs the shop name.}
    - {action: tool, tool: read_file, input: {path: sections/footer.liquid}}
    - {action: tool, tool: write_file, input: {path: sections/footer.liquid, content: "<footer>{{ shop.name }}</footer>\n"}}
    - {action: complete, text: Added the shop name to the footer}
`

func TestRunThenReplay(t *testing.T) {
	dir := t.TempDir()
	theme := filepath.Join(dir, "theme")
	require.NoError(t, os.MkdirAll(filepath.Join(theme, "sections"), 0o755))
	footer := filepath.Join(theme, "sections", "footer.liquid")
	require.NoError(t, os.WriteFile(footer, []byte("<footer></footer>\n"), 0o644))
	scriptPath := filepath.Join(dir, "steps.yaml")
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o644))
	recordPath := filepath.Join(dir, "run.jsonl")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{
		"run",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--workspace", theme,
		"--script", scriptPath,
		"--tier", "simple",
		"--record", recordPath,
		"Show the shop name in the footer",
	})
	require.NoError(t, rootCmd.Execute(), out.String())

	assert.Contains(t, out.String(), "-> read_file sections/footer.liquid")
	assert.Contains(t, out.String(), "Outcome: applied")
	data, err := os.ReadFile(footer)
	require.NoError(t, err)
	assert.Equal(t, "<footer>{{ shop.name }}</footer>\n", string(data))

	out.Reset()
	rootCmd.SetArgs([]string{"replay", recordPath})
	require.NoError(t, rootCmd.Execute(), out.String())
	assert.Contains(t, out.String(), "Calls: 2 (edit 1, read 1, search 0, errors 0)")
	assert.Contains(t, out.String(), "Outcome: applied")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("  one  "))
	assert.Equal(t, "one ...", firstLine("one\ntwo"))
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "sections/a.liquid", target(map[string]any{"path": "sections/a.liquid"}))
	assert.Equal(t, "css", target(map[string]any{"domain": "css", "task": "x"}))
	assert.Equal(t, "", target(nil))
}

func TestArc(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"arc", "edit", "edit", "edit"})
	require.NoError(t, rootCmd.Execute(), out.String())

	assert.Contains(t, out.String(), "Turns: 3")
	assert.Contains(t, out.String(), "Escalation: loop_detected at turn 3")
	assert.Contains(t, out.String(), "Escalation factor: 1.5")
	assert.Contains(t, out.String(), "Suggestion level: intermediate")
}
