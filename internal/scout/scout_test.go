package scout

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/themeagent/internal/filestore"
)

func themeStore() *filestore.MemoryStore {
	return filestore.NewMemoryStore(map[string]string{
		"sections/header.liquid":       "<header>{% render 'logo' %} navigation menu</header>",
		"sections/footer.liquid":       "<footer>newsletter signup copyright</footer>",
		"sections/product-main.liquid": "product price variant add to cart",
		"assets/base.css":              ".header { position: sticky; }",
		"templates/index.json":         `{"sections":{},"order":[]}`,
	})
}

func TestIndex_Relevant(t *testing.T) {
	x := NewIndex(themeStore(), nil)

	files, err := x.Relevant(context.Background(), "footer newsletter", 2)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "sections/footer.liquid", files[0])
	assert.LessOrEqual(t, len(files), 2)
}

func TestIndex_LimitClampedToCount(t *testing.T) {
	x := NewIndex(themeStore(), nil)
	files, err := x.Relevant(context.Background(), "header", 50)
	require.NoError(t, err)
	assert.Len(t, files, 5)
}

func TestIndex_InvalidInput(t *testing.T) {
	x := NewIndex(themeStore(), nil)
	_, err := x.Relevant(context.Background(), "  ", 5)
	assert.Error(t, err)
	_, err = x.Relevant(context.Background(), "header", 0)
	assert.Error(t, err)
}

func TestIndex_InvalidateRebuilds(t *testing.T) {
	store := themeStore()
	x := NewIndex(store, nil)
	ctx := context.Background()

	_, err := x.Relevant(ctx, "header", 5)
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "snippets/testimonial-card.liquid", "testimonial quote author"))
	x.Invalidate()

	files, err := x.Relevant(ctx, "testimonial quote", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"snippets/testimonial-card.liquid"}, files)
}

type failingScout struct{}

func (failingScout) Relevant(context.Context, string, int) ([]string, error) {
	return nil, errors.New("index unavailable")
}

func TestNarrow_FallsBackToFullListing(t *testing.T) {
	store := themeStore()
	all, err := store.List(context.Background())
	require.NoError(t, err)

	files, narrowed := Narrow(context.Background(), failingScout{}, store, "header", 3, nil)
	assert.False(t, narrowed)
	assert.Equal(t, all, files)

	files, narrowed = Narrow(context.Background(), nil, store, "header", 3, nil)
	assert.False(t, narrowed)
	assert.Equal(t, all, files)

	files, narrowed = Narrow(context.Background(), NewIndex(store, nil), store, "header menu", 3, nil)
	assert.True(t, narrowed)
	assert.Len(t, files, 3)
}

func TestVectorize_Normalized(t *testing.T) {
	for _, text := range []string{"", "header", "a b c d e f"} {
		v := vectorize(text)
		var sum float64
		for _, f := range v {
			sum += float64(f) * float64(f)
		}
		assert.InDelta(t, 1.0, sum, 1e-4, text)
	}
}

func TestWatch_InvalidatesOnChange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sections"), 0o755))
	store, err := filestore.NewDirStore(root)
	require.NoError(t, err)

	x := NewIndex(store, nil)
	require.NoError(t, x.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- x.Watch(ctx, root) }()
	// let the watcher register before writing
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "sections", "hero.liquid"), []byte("hero"), 0o644))
	assert.Eventually(t, func() bool {
		x.mu.Lock()
		defer x.mu.Unlock()
		return x.stale
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
