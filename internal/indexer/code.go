// Package indexer embeds repository files and tracker issues into the vector
// store.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/codereviewer/internal/github"
	"github.com/jacklau/codereviewer/internal/provider"
	"github.com/jacklau/codereviewer/internal/retrieval"
	"github.com/jacklau/codereviewer/internal/vectorstore"
)

const (
	defaultChunkChars   = 6000
	defaultChunkOverlap = 400
	defaultWorkers      = 4
)

// CodeIndexer embeds repository files into the code namespace.
type CodeIndexer struct {
	vectors    vectorstore.Store
	logger     *slog.Logger
	chunkChars int
	overlap    int
	workers    int
}

// CodeOption configures a CodeIndexer.
type CodeOption func(*CodeIndexer)

// WithChunking sets the chunk size and the overlap between consecutive
// chunks, both in runes.
func WithChunking(size, overlap int) CodeOption {
	return func(c *CodeIndexer) {
		c.chunkChars = size
		c.overlap = overlap
	}
}

// WithWorkers sets how many files are embedded concurrently.
func WithWorkers(n int) CodeOption {
	return func(c *CodeIndexer) { c.workers = n }
}

// NewCodeIndexer creates a CodeIndexer.
func NewCodeIndexer(vectors vectorstore.Store, logger *slog.Logger, opts ...CodeOption) *CodeIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CodeIndexer{
		vectors:    vectors,
		logger:     logger,
		chunkChars: defaultChunkChars,
		overlap:    defaultChunkOverlap,
		workers:    defaultWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkChars {
		c.overlap = 0
	}
	if c.workers < 1 {
		c.workers = 1
	}
	return c
}

// Index embeds every non-binary file under repoKey and returns how many
// files were fully indexed. A file whose embedding or upsert fails is logged
// and skipped; only cancellation aborts the run.
func (c *CodeIndexer) Index(ctx context.Context, emb provider.Embedder, repoKey string, files []github.File) (int, error) {
	var indexed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, f := range files {
		if github.IsBinaryPath(f.Path) || f.Content == "" {
			continue
		}
		g.Go(func() error {
			if err := c.indexFile(gctx, emb, repoKey, f); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("skipping file", "repo", repoKey, "path", f.Path, "error", err)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(indexed.Load()), fmt.Errorf("indexing %s: %w", repoKey, err)
	}

	n := int(indexed.Load())
	c.logger.Info("indexed codebase", "repo", repoKey, "files", n)
	return n, nil
}

func (c *CodeIndexer) indexFile(ctx context.Context, emb provider.Embedder, repoKey string, f github.File) error {
	chunks := Chunk(f.Content, c.chunkChars, c.overlap)
	for i, chunk := range chunks {
		id := repoKey + ":" + f.Path
		if len(chunks) > 1 {
			id = fmt.Sprintf("%s:%d", id, i)
		}

		vec, err := emb.Embed(ctx, "File: "+f.Path+"\n"+chunk)
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		meta := map[string]string{
			retrieval.MetaRepo:    repoKey,
			retrieval.MetaPath:    f.Path,
			retrieval.MetaContent: chunk,
		}
		if err := c.vectors.Upsert(ctx, vectorstore.NamespaceCode, id, vec, meta); err != nil {
			return err
		}
	}
	return nil
}

// Chunk splits s into pieces of at most size runes, each starting overlap
// runes before the previous one ended. Text that fits in one chunk is
// returned whole.
func Chunk(s string, size, overlap int) []string {
	runes := []rune(s)
	if size <= 0 || len(runes) <= size {
		return []string{s}
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
