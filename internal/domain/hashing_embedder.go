package domain

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashingDimensions matches the kb_embeddings collection vector size.
const DefaultHashingDimensions = 384

// HashingEmbedder is a deterministic, model-free embedder.
// Character trigrams of the lowercased text are hashed into a fixed number of
// buckets and the resulting frequency vector is L2-normalised. It carries no
// semantics beyond surface overlap and exists for local setups and tests.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a hashing embedder. dims <= 0 falls back to DefaultHashingDimensions.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the output vector size.
func (e *HashingEmbedder) Dimensions() int { return e.dims }

// Embed implements Embedder. Empty or whitespace-only text yields a zero vector.
func (e *HashingEmbedder) Embed(_ context.Context, text string) (EmbeddingResult, error) {
	vec := make([]float32, e.dims)

	for _, word := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		padded := []rune(" " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			vec[e.bucket(string(padded[i:i+3]))]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return EmbeddingResult{Embedding: vec}, nil
}

func (e *HashingEmbedder) bucket(gram string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(gram))
	return int(h.Sum32() % uint32(e.dims)) //nolint:gosec // dims is positive
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
