// Package retrieval answers questions about a document: it loads and chunks
// the document, embeds the chunks into a vector store and feeds the closest
// chunks to a model as context.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/avi3tal/fixloop/internal/llm"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Pipeline is load, split, embed, search and answer.
type Pipeline struct {
	store    vectorstores.VectorStore
	splitter textsplitter.TextSplitter
	answer   *llm.Chain
	topK     int
	logger   *slog.Logger
}

type Option func(*Pipeline)

func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) {
		p.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		)
	}
}

func WithTopK(k int) Option {
	return func(p *Pipeline) {
		p.topK = k
	}
}

// WithStore replaces the default in-memory store.
func WithStore(store vectorstores.VectorStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func NewPipeline(embedder embeddings.Embedder, model llms.Model, opts ...Option) *Pipeline {
	p := &Pipeline{
		answer: llm.NewChain(model, llm.AnswerPrompt()),
		topK:   defaultK,
		logger: slog.Default(),
	}
	WithChunking(DefaultChunkSize, DefaultChunkOverlap)(p)
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = NewMemoryStore(embedder)
	}
	return p
}

// Load splits everything loader yields and indexes the chunks.
func (p *Pipeline) Load(ctx context.Context, loader documentloaders.Loader) (int, error) {
	docs, err := loader.LoadAndSplit(ctx, p.splitter)
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}
	ids, err := p.store.AddDocuments(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("index documents: %w", err)
	}
	p.logger.InfoContext(ctx, "indexed document chunks", "chunks", len(ids))
	return len(ids), nil
}

// LoadFile indexes a PDF, or any other file as plain text.
func (p *Pipeline) LoadFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var loader documentloaders.Loader
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		loader = documentloaders.NewPDF(f, info.Size())
	} else {
		loader = documentloaders.NewText(f)
	}
	return p.Load(ctx, loader)
}

// Search returns the chunks closest to query.
func (p *Pipeline) Search(ctx context.Context, query string) ([]schema.Document, error) {
	return vectorstores.ToRetriever(p.store, p.topK).GetRelevantDocuments(ctx, query)
}

// Answer asks the model question with the closest chunks as context.
func (p *Pipeline) Answer(ctx context.Context, question string) (string, error) {
	docs, err := p.Search(ctx, question)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.PageContent)
	}
	return p.answer.Complete(ctx, map[string]any{
		"context":  strings.Join(parts, "\n"),
		"question": question,
	})
}
