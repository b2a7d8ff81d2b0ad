package chunkindex

import (
	"hash/fnv"
	"math"
)

// DefaultEmbeddingDim matches the default remote embedding model so
// simulated and real vectors can live in the same index during tests.
const DefaultEmbeddingDim = 1536

// SimulatedEmbedding produces a deterministic unit vector seeded by a hash
// of the text. It carries no real semantics; its purpose is to guarantee
// that embeddings always exist and that identical text always maps to the
// identical vector.
func SimulatedEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}

	h := fnv.New32a()
	h.Write([]byte(text))
	seed := float64(h.Sum32()%1000000) / 1000.0

	vector := make([]float32, dim)
	var norm float64
	for i := range vector {
		v := math.Sin(seed*float64(i+1)) * math.Cos(seed*float64(i+1)*0.5)
		vector[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vector[0] = 1
		return vector
	}
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}

	return vector
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when dimensions differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
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
