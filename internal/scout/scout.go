// Package scout narrows a theme to the files relevant to a request.
//
// The index is advisory: every failure degrades to the full file listing.
package scout

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/filestore"
	"github.com/fyrsmithlabs/themeagent/internal/logging"
)

const (
	collectionName = "theme_files"
	embeddingDim   = 256
	contentPrefix  = 4096
)

// Scout returns the files most relevant to a query.
type Scout interface {
	Relevant(ctx context.Context, query string, limit int) ([]string, error)
}

// Index is an in-memory chromem-go index over a theme's files.
type Index struct {
	store  filestore.Store
	logger *logging.Logger
	db     *chromem.DB

	mu    sync.Mutex
	stale bool
}

// NewIndex creates an index. It is built lazily on first query.
func NewIndex(store filestore.Store, logger *logging.Logger) *Index {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Index{
		store:  store,
		logger: logger.Named("scout"),
		db:     chromem.NewDB(),
		stale:  true,
	}
}

// Invalidate marks the index for rebuild on the next query.
func (x *Index) Invalidate() {
	x.mu.Lock()
	x.stale = true
	x.mu.Unlock()
}

// Refresh rebuilds the index from the file store.
func (x *Index) Refresh(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.refreshLocked(ctx)
}

func (x *Index) refreshLocked(ctx context.Context) error {
	files, err := x.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing theme files: %w", err)
	}
	if err := x.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("dropping index: %w", err)
	}
	col, err := x.db.CreateCollection(collectionName, nil, embed)
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}

	docs := make([]chromem.Document, 0, len(files))
	for _, p := range files {
		content, err := x.store.Read(ctx, p)
		if err != nil {
			x.logger.Debug(ctx, "skipping unreadable file", zap.String("path", p), zap.Error(err))
			content = ""
		}
		if len(content) > contentPrefix {
			content = content[:contentPrefix]
		}
		text := pathTerms(p) + "\n" + content
		docs = append(docs, chromem.Document{
			ID:        p,
			Content:   text,
			Metadata:  map[string]string{"dir": topDir(p)},
			Embedding: vectorize(text),
		})
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("indexing theme files: %w", err)
		}
	}
	x.stale = false
	x.logger.Debug(ctx, "scout index rebuilt", zap.Int("files", len(docs)))
	return nil
}

// Relevant returns up to limit file paths ranked by similarity to query.
func (x *Index) Relevant(ctx context.Context, query string, limit int) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stale {
		if err := x.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	col := x.db.GetCollection(collectionName, embed)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}
	if limit > col.Count() {
		limit = col.Count()
	}
	results, err := col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out, nil
}

// Narrow asks the scout for relevant files and falls back to the full listing
// when the scout is missing, fails, or finds nothing. The bool reports whether
// the list was narrowed.
func Narrow(ctx context.Context, s Scout, store filestore.Store, query string, limit int, logger *logging.Logger) ([]string, bool) {
	if s != nil {
		files, err := s.Relevant(ctx, query, limit)
		if err == nil && len(files) > 0 {
			return files, true
		}
		if err != nil && logger != nil {
			logger.Warn(ctx, "scout lookup failed, using full listing", zap.Error(err))
		}
	}
	files, err := store.List(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn(ctx, "listing theme files failed", zap.Error(err))
		}
		return nil, false
	}
	return files, false
}

func embed(_ context.Context, text string) ([]float32, error) {
	return vectorize(text), nil
}

// vectorize hashes word tokens into a fixed-size normalized vector. Slot 0 is
// a constant bias so empty text still yields a valid vector.
func vectorize(text string) []float32 {
	v := make([]float32, embeddingDim)
	v[0] = 0.1
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[1+int(h.Sum32()%uint32(embeddingDim-1))] += 1
	}
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func pathTerms(p string) string {
	return strings.Join(tokenize(p), " ")
}

func topDir(p string) string {
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return ""
}
