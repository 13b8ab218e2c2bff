// Package retrieval serves ranked product passages to the answer chain.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"ecombot/internal/models"
)

// MetaScore is the metadata key holding the similarity score of a returned document.
const MetaScore = "score"

const defaultTopK = 3

// Index ranks a fixed set of embedded passages against a query by cosine
// similarity. It implements eino's retriever.Retriever.
type Index struct {
	embedder embedding.Embedder
	passages []models.Passage
	dim      int
	topK     int
}

var _ retriever.Retriever = (*Index)(nil)

// NewIndex builds an index over passages. Passages without a vector are
// skipped; the rest must share one dimension.
func NewIndex(embedder embedding.Embedder, passages []models.Passage, topK int) (*Index, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	kept := make([]models.Passage, 0, len(passages))
	dim := 0
	for _, p := range passages {
		if len(p.Vector) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(p.Vector)
		} else if len(p.Vector) != dim {
			return nil, fmt.Errorf("passage %s: embedding has %d dimensions, want %d", p.ID, len(p.Vector), dim)
		}
		kept = append(kept, p)
	}
	return &Index{embedder: embedder, passages: kept, dim: dim, topK: topK}, nil
}

// Len reports the number of searchable passages.
func (idx *Index) Len() int {
	return len(idx.passages)
}

// Retrieve embeds the query and returns up to TopK passages, best first.
func (idx *Index) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	topK := idx.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	if options.TopK != nil && *options.TopK > 0 {
		topK = *options.TopK
	}

	embedder := idx.embedder
	if options.Embedding != nil {
		embedder = options.Embedding
	}
	vectors, err := embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: expected 1 vector, got %d", len(vectors))
	}
	queryVec := vectors[0]
	if len(idx.passages) > 0 && len(queryVec) != idx.dim {
		return nil, fmt.Errorf("embedding query: got %d dimensions, index has %d", len(queryVec), idx.dim)
	}

	type scored struct {
		passage *models.Passage
		score   float64
	}
	results := make([]scored, 0, len(idx.passages))
	for i := range idx.passages {
		p := &idx.passages[i]
		score := cosineSimilarity(queryVec, p.Vector)
		if options.ScoreThreshold != nil && score < *options.ScoreThreshold {
			continue
		}
		results = append(results, scored{passage: p, score: score})
	}

	// stable keeps ingestion order between equal scores
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	docs := make([]*schema.Document, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.passage.Metadata)+1)
		for k, v := range r.passage.Metadata {
			meta[k] = v
		}
		meta[MetaScore] = r.score
		docs = append(docs, &schema.Document{
			ID:       r.passage.ID,
			Content:  r.passage.Content,
			MetaData: meta,
		})
	}
	return docs, nil
}

// cosineSimilarity expects vectors of equal length.
func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
