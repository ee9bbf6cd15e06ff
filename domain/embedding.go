package domain

import (
	"context"
	"fmt"
	"math"
)

// Embedding represents a numerical vector representation of text.
type Embedding []float32

// EmbeddingClient defines the interface for generating embeddings from text.
type EmbeddingClient interface {
	// GenerateEmbeddings generates embeddings for the given texts, one per text
	// and in the same order.
	GenerateEmbeddings(ctx context.Context, texts []string) ([]Embedding, error)
	// ModelVersion identifies the model; it is stored with every index entry.
	ModelVersion() string
	// Dimension is the fixed length of every embedding the client returns.
	Dimension() int
}

// EmbeddingClientFactory opens an embedding client. Workers call it lazily and
// own the returned handle until they retire.
type EmbeddingClientFactory func(ctx context.Context) (EmbeddingClient, error)

// Normalize returns a copy of v scaled to unit L2 norm. A zero or non-finite
// vector cannot be normalized and is reported as malformed input.
func Normalize(v Embedding) (Embedding, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrMalformedInput)
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: embedding contains non-finite values", ErrMalformedInput)
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: zero embedding", ErrMalformedInput)
	}
	norm := math.Sqrt(sum)
	out := make(Embedding, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// Norm returns the L2 norm of v.
func Norm(v Embedding) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns 1 - cosine distance between a and b, or 0 when the
// lengths differ or either vector is zero.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
