package retrieval

import (
	"math"
	"sort"
)

// Hit is a search result with its relevance to the query.
type Hit struct {
	Example
	Score float64 `json:"score"`
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topBySimilarity scores candidates against query and keeps the best n.
func topBySimilarity(query []float32, candidates []Example, n int) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, Hit{Example: c, Score: cosineSimilarity(query, c.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if n > 0 && len(hits) > n {
		hits = hits[:n]
	}
	return hits
}

// maxMarginalRelevance picks k hits that balance relevance against
// redundancy. lambda = 1 is pure relevance; lambda = 0 is pure diversity.
// hits must be sorted by Score, highest first.
func maxMarginalRelevance(hits []Hit, k int, lambda float64) []Hit {
	if k <= 0 || len(hits) == 0 {
		return nil
	}
	if k > len(hits) {
		k = len(hits)
	}

	selected := []Hit{hits[0]}
	used := map[int]bool{0: true}
	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, h := range hits {
			if used[i] {
				continue
			}
			redundancy := math.Inf(-1)
			for _, s := range selected {
				redundancy = math.Max(redundancy, cosineSimilarity(h.Embedding, s.Embedding))
			}
			score := lambda*h.Score - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		selected = append(selected, hits[best])
	}
	return selected
}
