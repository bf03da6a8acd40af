package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/themeagent/internal/filestore"
)

func newTheme() *filestore.MemoryStore {
	return filestore.NewMemoryStore(map[string]string{
		"sections/header.liquid": "<header>\n  {{ shop.name }}\n</header>\n",
		"sections/footer.liquid": "<footer>\n  &copy; {{ 'now' | date: '%Y' }}\n</footer>\n",
		"assets/base.css":        ".header { color: red; }\n.footer { color: red; }\n",
		"templates/index.json":   `{"sections":{},"order":[]}`,
	})
}

func call(name Name, in Input) Call {
	return Call{ID: "call-" + name.String(), Name: name, Input: in, Agent: "coordinator"}
}

func TestDispatchTableComplete(t *testing.T) {
	e := NewExecutor(newTheme(), nil, Options{})
	seen := map[string]bool{}
	for n := Name(0); n < numTools; n++ {
		assert.NotNil(t, e.handlers[n], "handler for %d", n)
		assert.NotEmpty(t, specs[n].name, "name for %d", n)
		assert.NotEmpty(t, specs[n].class, "class for %s", n)
		assert.NotEmpty(t, n.Description(), "description for %s", n)
		assert.False(t, seen[n.String()], "duplicate name %s", n)
		seen[n.String()] = true

		parsed, ok := ParseName(n.String())
		require.True(t, ok)
		assert.Equal(t, n, parsed)
	}
	_, ok := ParseName("rm_rf")
	assert.False(t, ok)
}

func TestClassification(t *testing.T) {
	assert.Equal(t, ClassRead, ReadFile.Class())
	assert.Equal(t, ClassRead, ParallelBatchRead.Class())
	assert.Equal(t, ClassSearch, GrepContent.Class())
	assert.Equal(t, ClassEdit, EditLines.Class())
	assert.Equal(t, ClassEdit, DeleteFile.Class())
	for _, n := range []Name{RunSpecialist, RunReview, GetSecondOpinion} {
		assert.Equal(t, ClassOther, n.Class())
	}
}

func TestToolsets(t *testing.T) {
	assert.Len(t, Toolset(RolePlanner), int(numTools))
	for _, n := range Toolset(RoleSpecialist) {
		assert.NotEqual(t, ClassOther, n.Class(), n.String())
	}
	for _, n := range Toolset(RoleReviewer) {
		c := n.Class()
		assert.True(t, c == ClassRead || c == ClassSearch, n.String())
	}
	assert.False(t, Allowed(RoleSpecialist, GetSecondOpinion))
	assert.False(t, Allowed(Role("intruder"), ReadFile))
}

func TestExecute_ReadFile(t *testing.T) {
	e := NewExecutor(newTheme(), nil, Options{})
	res := e.Execute(context.Background(), call(ReadFile, Input{"path": "sections/header.liquid"}))
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "call-read_file", res.CallID)
	assert.Contains(t, res.Content, "   2|   {{ shop.name }}")

	res = e.Execute(context.Background(), call(ReadFile, Input{"path": "sections/header.liquid", "start_line": 2.0, "end_line": 2.0}))
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "   2|   {{ shop.name }}", res.Content)
}

func TestExecute_ErrorsAreData(t *testing.T) {
	e := NewExecutor(newTheme(), nil, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		call Call
		want string
	}{
		{"missing file", call(ReadFile, Input{"path": "sections/nope.liquid"}), "file not found"},
		{"missing target", call(ReadFile, Input{}), `missing required input "path"`},
		{"escaping path", call(WriteFile, Input{"path": "../x", "content": ""}), "invalid path"},
		{"unknown tool", Call{ID: "x", Name: Name(99)}, "unknown tool"},
		{"bad regex", call(GrepContent, Input{"pattern": "("}), "invalid pattern"},
		{"no delegator", call(RunReview, Input{"task": "check"}), "delegation is not available"},
		{"wrong role", Call{ID: "y", Name: RunSpecialist, Role: RoleSpecialist,
			Input: Input{"domain": "css", "task": "t"}}, "not available to the specialist agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(ctx, tt.call)
			assert.True(t, res.IsError)
			assert.Contains(t, res.Content, tt.want)
		})
	}
}

func TestExecute_EditLines(t *testing.T) {
	store := newTheme()
	journal := NewJournal()
	e := NewExecutor(store, journal, Options{})
	ctx := context.Background()

	res := e.Execute(ctx, call(EditLines, Input{
		"path": "sections/header.liquid", "start_line": 2, "end_line": 2,
		"new_content": "  <h1>{{ shop.name }}</h1>",
	}))
	require.False(t, res.IsError, res.Content)

	got, err := store.Read(ctx, "sections/header.liquid")
	require.NoError(t, err)
	assert.Equal(t, "<header>\n  <h1>{{ shop.name }}</h1>\n</header>\n", got)

	entries := journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "<header>\n  {{ shop.name }}\n</header>\n", entries[0].Before)
	assert.True(t, entries[0].Existed)

	res = e.Execute(ctx, call(EditLines, Input{
		"path": "sections/header.liquid", "start_line": 5, "end_line": 9, "new_content": "x",
	}))
	assert.True(t, res.IsError)
}

func TestExecute_SearchReplace(t *testing.T) {
	store := newTheme()
	e := NewExecutor(store, nil, Options{})
	ctx := context.Background()

	res := e.Execute(ctx, call(SearchReplace, Input{"path": "assets/base.css", "search": "red", "replace": "blue"}))
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "occurs 2 times")

	res = e.Execute(ctx, call(SearchReplace, Input{
		"path": "assets/base.css", "search": "red", "replace": "blue", "replace_all": true,
	}))
	require.False(t, res.IsError, res.Content)
	got, _ := store.Read(ctx, "assets/base.css")
	assert.NotContains(t, got, "red")
}

func TestExecute_CreateDeleteAndRollback(t *testing.T) {
	store := newTheme()
	journal := NewJournal()
	e := NewExecutor(store, journal, Options{})
	ctx := context.Background()
	before := store.Snapshot()

	res := e.Execute(ctx, call(CreateFile, Input{"path": "snippets/badge.liquid", "content": "<span></span>"}))
	require.False(t, res.IsError, res.Content)
	res = e.Execute(ctx, call(CreateFile, Input{"path": "snippets/badge.liquid", "content": "again"}))
	assert.True(t, res.IsError)

	res = e.Execute(ctx, call(DeleteFile, Input{"path": "sections/footer.liquid"}))
	require.False(t, res.IsError, res.Content)
	res = e.Execute(ctx, call(WriteFile, Input{"path": "assets/base.css", "content": ""}))
	require.False(t, res.IsError, res.Content)
	res = e.Execute(ctx, call(WriteFile, Input{"path": "assets/base.css", "content": "body{}"}))
	require.False(t, res.IsError, res.Content)

	assert.Equal(t, 3, journal.Len())
	require.NoError(t, journal.Rollback(ctx, store))
	assert.Equal(t, before, store.Snapshot())
	assert.Zero(t, journal.Len())
}

// cancelOnReadStore cancels the call's context while the handler reads, and
// writes regardless of cancellation.
type cancelOnReadStore struct {
	*filestore.MemoryStore
	cancel context.CancelFunc
}

func (s cancelOnReadStore) Read(ctx context.Context, p string) (string, error) {
	content, err := s.MemoryStore.Read(ctx, p)
	s.cancel()
	return content, err
}

func (s cancelOnReadStore) Write(_ context.Context, p, content string) error {
	return s.MemoryStore.Write(context.Background(), p, content)
}

func (s cancelOnReadStore) Delete(_ context.Context, p string) error {
	return s.MemoryStore.Delete(context.Background(), p)
}

func TestExecute_CancelledEditWritesNothing(t *testing.T) {
	tests := []struct {
		name string
		call Call
	}{
		{"write_file", call(WriteFile, Input{"path": "assets/base.css", "content": "body{}"})},
		{"edit_lines", call(EditLines, Input{"path": "assets/base.css", "start_line": 1, "end_line": 1, "new_content": ".x{}"})},
		{"delete_file", call(DeleteFile, Input{"path": "assets/base.css"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			theme := newTheme()
			before := theme.Snapshot()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			journal := NewJournal()
			e := NewExecutor(cancelOnReadStore{MemoryStore: theme, cancel: cancel}, journal, Options{})

			res := e.Execute(ctx, tt.call)
			assert.True(t, res.IsError)
			assert.Zero(t, journal.Len())
			assert.Equal(t, before, theme.Snapshot())
		})
	}
}

func TestExecute_Restrict(t *testing.T) {
	e := NewExecutor(newTheme(), nil, Options{}).Restrict([]string{"assets/base.css"})
	ctx := context.Background()

	res := e.Execute(ctx, call(WriteFile, Input{"path": "sections/header.liquid", "content": "x"}))
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "outside the files delegated")

	res = e.Execute(ctx, call(WriteFile, Input{"path": "./assets/base.css", "content": "x"}))
	assert.False(t, res.IsError, res.Content)

	res = e.Execute(ctx, call(ReadFile, Input{"path": "sections/header.liquid"}))
	assert.False(t, res.IsError, res.Content)
}

func TestExecute_Search(t *testing.T) {
	e := NewExecutor(newTheme(), nil, Options{})
	ctx := context.Background()

	res := e.Execute(ctx, call(SearchFiles, Input{"query": "*.liquid"}))
	require.False(t, res.IsError)
	assert.Equal(t, "sections/footer.liquid\nsections/header.liquid", res.Content)

	res = e.Execute(ctx, call(SearchFiles, Input{"query": "FOOT"}))
	assert.Equal(t, "sections/footer.liquid", res.Content)

	res = e.Execute(ctx, call(GrepContent, Input{"pattern": `shop\.name`}))
	assert.Equal(t, "sections/header.liquid:2: {{ shop.name }}\n", res.Content)

	res = e.Execute(ctx, call(ListFiles, Input{"dir": "sections"}))
	assert.Equal(t, "sections/footer.liquid\nsections/header.liquid", res.Content)
}

type countingStore struct {
	filestore.Store
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingStore) Read(ctx context.Context, p string) (string, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return c.Store.Read(ctx, p)
}

func TestExecute_ParallelBatchRead(t *testing.T) {
	files := map[string]string{}
	var paths []any
	for i := 0; i < 30; i++ {
		p := fmt.Sprintf("snippets/s%02d.liquid", i)
		files[p] = fmt.Sprintf("snippet %d", i)
		paths = append(paths, p)
	}
	paths = append(paths, "snippets/missing.liquid")
	store := &countingStore{Store: filestore.NewMemoryStore(files)}
	e := NewExecutor(store, nil, Options{BatchConcurrency: 50})

	res := e.Execute(context.Background(), call(ParallelBatchRead, Input{"paths": paths}))
	require.False(t, res.IsError, res.Content)
	assert.LessOrEqual(t, store.peak.Load(), int32(10))

	idx0 := strings.Index(res.Content, "=== snippets/s00.liquid ===")
	idx29 := strings.Index(res.Content, "=== snippets/s29.liquid ===")
	idxMissing := strings.Index(res.Content, "=== snippets/missing.liquid ===")
	assert.True(t, idx0 >= 0 && idx0 < idx29 && idx29 < idxMissing)
	assert.Contains(t, res.Content, "error: file not found")

	res = e.Execute(context.Background(), call(ParallelBatchRead, Input{"paths": []any{"nope/a", "nope/b"}}))
	assert.True(t, res.IsError)
}

func TestExecute_BoundsResult(t *testing.T) {
	store := filestore.NewMemoryStore(map[string]string{"assets/big.js": strings.Repeat("x", 500)})
	e := NewExecutor(store, nil, Options{MaxResultChars: 100})
	res := e.Execute(context.Background(), call(ReadFile, Input{"path": "assets/big.js"}))
	require.False(t, res.IsError)
	assert.Contains(t, res.Content, "[truncated")
	assert.Less(t, len(res.Content), 200)
}

type redactAll struct{}

func (redactAll) Scrub(content string) (string, int) {
	if strings.Contains(content, "sk_live") {
		return strings.ReplaceAll(content, "sk_live_123", "[REDACTED:stripe]"), 1
	}
	return content, 0
}

func TestExecute_ScrubsSecrets(t *testing.T) {
	store := filestore.NewMemoryStore(map[string]string{"assets/app.js": "const key = 'sk_live_123'"})
	e := NewExecutor(store, nil, Options{Scrubber: redactAll{}})
	res := e.Execute(context.Background(), call(ReadFile, Input{"path": "assets/app.js"}))
	assert.NotContains(t, res.Content, "sk_live_123")
	assert.Contains(t, res.Content, "[REDACTED:stripe]")
}

type recordingDelegator struct {
	mu   sync.Mutex
	reqs []DelegationRequest
	err  error
}

func (d *recordingDelegator) Delegate(_ context.Context, req DelegationRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return "", d.err
	}
	return "specialist updated 1 file", nil
}

func TestExecute_Delegation(t *testing.T) {
	d := &recordingDelegator{}
	e := NewExecutor(newTheme(), nil, Options{Delegator: d})

	res := e.Execute(context.Background(), Call{ID: "c9", Name: RunSpecialist, Input: Input{
		"domain": "css", "task": "make header sticky", "files": []any{"assets/base.css"},
	}})
	require.False(t, res.IsError, res.Content)
	assert.Equal(t, "specialist updated 1 file", res.Content)
	require.Len(t, d.reqs, 1)
	assert.Equal(t, DelegationRequest{
		Kind: KindSpecialist, Domain: "css", Task: "make header sticky",
		Files: []string{"assets/base.css"}, CallID: "c9",
	}, d.reqs[0])

	d.err = errors.New("budget exhausted")
	res = e.Execute(context.Background(), call(GetSecondOpinion, Input{"question": "is this right?"}))
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "second_opinion delegation failed: budget exhausted")
}

func TestExecute_Cancelled(t *testing.T) {
	e := NewExecutor(newTheme(), nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, call(ReadFile, Input{"path": "sections/header.liquid"}))
	assert.True(t, res.IsError)
}

func TestInput(t *testing.T) {
	in := Input{"n": 3.0, "f": 2.5, "s": "x", "list": []any{"a", 1}}
	n, err := in.Int("n")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = in.Int("f")
	assert.Error(t, err)
	_, err = in.Strings("list")
	assert.Error(t, err)
	def, err := in.OptInt("absent", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, def)
	assert.Equal(t, "x", Input{"path": "x"}.Target())
}
