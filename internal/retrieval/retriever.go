package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Options tunes MMR search.
type Options struct {
	// K is the number of results returned.
	K int
	// FetchK is the number of most similar candidates MMR chooses from.
	FetchK int
	// Lambda weighs relevance against diversity.
	Lambda float64
}

// DefaultOptions returns k=3, fetch_k=20, lambda=0.5.
func DefaultOptions() Options {
	return Options{K: 3, FetchK: 20, Lambda: 0.5}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.K <= 0 {
		o.K = d.K
	}
	if o.FetchK < o.K {
		o.FetchK = max(d.FetchK, o.K)
	}
	if o.Lambda < 0 || o.Lambda > 1 {
		o.Lambda = d.Lambda
	}
	return o
}

// TeachingHeader opens the teaching-example block appended to the system prompt.
const TeachingHeader = "\nMore teaching examples:\n"

// Retriever searches the example index. A nil *Retriever is a valid,
// disabled retriever that returns no results.
type Retriever struct {
	store    *Store
	embedder Embedder
	opts     Options
	log      *zap.Logger
}

// NewRetriever creates a retriever over store.
func NewRetriever(store *Store, embedder Embedder, opts Options, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		opts:     opts.withDefaults(),
		log:      log.Named("retrieval"),
	}
}

// Search returns up to K examples of collection for text, chosen by MMR among
// the FetchK most similar. ct filters by context type unless it is AnyContext.
func (r *Retriever) Search(ctx context.Context, collection string, ct ContextType, text string) ([]Hit, error) {
	if r == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	candidates, err := r.store.List(ctx, collection, ct)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	top := topBySimilarity(vecs[0], candidates, r.opts.FetchK)
	hits := maxMarginalRelevance(top, r.opts.K, r.opts.Lambda)
	r.log.Debug("search",
		zap.String("collection", collection),
		zap.Stringer("context_type", ct),
		zap.Int("candidates", len(candidates)),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}

// ContextExamples returns classification examples for input, one per line.
func (r *Retriever) ContextExamples(ctx context.Context, input string) (string, error) {
	hits, err := r.Search(ctx, CollectionContext, AnyContext, input)
	if err != nil || len(hits) == 0 {
		return "", err
	}
	return joinContent(hits), nil
}

// TeachingExamples returns the teaching-example block for a classified
// turn, or "" when ct is not a known situation or nothing matches.
func (r *Retriever) TeachingExamples(ctx context.Context, input string, ct ContextType) (string, error) {
	if !ct.Valid() {
		return "", nil
	}
	hits, err := r.Search(ctx, CollectionTeaching, ct, input)
	if err != nil || len(hits) == 0 {
		return "", err
	}
	return TeachingHeader + joinContent(hits), nil
}

func joinContent(hits []Hit) string {
	var sb strings.Builder
	for _, h := range hits {
		sb.WriteString(h.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
