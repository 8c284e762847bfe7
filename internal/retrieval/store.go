package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

const defaultK = 4

var _ vectorstores.VectorStore = (*MemoryStore)(nil)

type record struct {
	doc schema.Document
	vec []float32
}

// MemoryStore is an in-process vector store ranking by cosine similarity.
type MemoryStore struct {
	embedder embeddings.Embedder

	mu      sync.RWMutex
	records []record
}

func NewMemoryStore(embedder embeddings.Embedder) *MemoryStore {
	return &MemoryStore{embedder: embedder}
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts, err := s.options(options)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vecs, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(docs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(docs))
	for i, d := range docs {
		ids = append(ids, strconv.Itoa(len(s.records)))
		s.records = append(s.records, record{doc: d, vec: vecs[i]})
	}
	return ids, nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts, err := s.options(options)
	if err != nil {
		return nil, err
	}
	if numDocuments <= 0 {
		numDocuments = defaultK
	}

	q, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	scored := make([]schema.Document, 0, len(s.records))
	for _, r := range s.records {
		score := cosine(q, r.vec)
		if score < opts.ScoreThreshold {
			continue
		}
		d := r.doc
		d.Score = score
		scored = append(scored, d)
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > numDocuments {
		scored = scored[:numDocuments]
	}
	return scored, nil
}

func (s *MemoryStore) options(options []vectorstores.Option) (vectorstores.Options, error) {
	opts := vectorstores.Options{Embedder: s.embedder}
	for _, o := range options {
		o(&opts)
	}
	if opts.Embedder == nil {
		return opts, ErrNoEmbedder
	}
	return opts, nil
}

// ErrNoEmbedder is returned when neither the store nor the call has one.
var ErrNoEmbedder = errors.New("no embedder configured")

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
