package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"profile-indexer/domain"
)

// DefaultHashingDimension is the dimension of the local encoder unless configured.
const DefaultHashingDimension = 256

// biasToken is mixed into every text so even empty input encodes to a
// non-zero vector.
const biasToken = "\x00bias"

// HashingEmbeddingClient is a deterministic local encoder. It hashes the
// lowercased word unigrams and bigrams of a text into a fixed number of
// buckets. It needs no network and is used for development and tests.
type HashingEmbeddingClient struct {
	dim int
}

// NewHashingEmbeddingClient creates a HashingEmbeddingClient with dim buckets.
func NewHashingEmbeddingClient(dim int) *HashingEmbeddingClient {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &HashingEmbeddingClient{dim: dim}
}

func (c *HashingEmbeddingClient) ModelVersion() string { return fmt.Sprintf("hashing-v1-%d", c.dim) }

func (c *HashingEmbeddingClient) Dimension() int { return c.dim }

// GenerateEmbeddings returns one raw (unnormalized) count vector per text.
func (c *HashingEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = c.encode(text)
	}
	return out, nil
}

func (c *HashingEmbeddingClient) encode(text string) domain.Embedding {
	v := make(domain.Embedding, c.dim)
	c.add(v, biasToken, 0.5)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		c.add(v, w, 1)
		if i > 0 {
			c.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	return v
}

func (c *HashingEmbeddingClient) add(v domain.Embedding, token string, weight float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	v[h.Sum32()%uint32(c.dim)] += weight
}
