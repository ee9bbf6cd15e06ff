package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"profile-indexer/domain"
)

// DefaultModel is used when no embedding model is configured.
const DefaultModel = openai.SmallEmbedding3

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // empty selects the public OpenAI API
	Model      string
	Dimensions int // requested output dimension; 0 keeps the model default
}

// OpenAIEmbeddingClient implements the domain.EmbeddingClient interface using the OpenAI API.
type OpenAIEmbeddingClient struct {
	client     *openai.Client
	model      openai.EmbeddingModel // e.g., text-embedding-3-small
	dimensions int
}

// NewOpenAIEmbeddingClient creates a new OpenAIEmbeddingClient.
// If cfg.APIKey is empty it reads the API key from the OPENAI_API_KEY environment variable.
func NewOpenAIEmbeddingClient(cfg OpenAIConfig) (*OpenAIEmbeddingClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	model := cfg.Model
	if model == "" {
		model = string(DefaultModel)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEmbeddingClient{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(model),
		dimensions: cfg.Dimensions,
	}, nil
}

// ModelVersion returns the model name, suffixed with the requested dimension
// when one is set.
func (c *OpenAIEmbeddingClient) ModelVersion() string {
	if c.dimensions > 0 {
		return fmt.Sprintf("%s@%d", c.model, c.dimensions)
	}
	return string(c.model)
}

// Dimension returns the requested dimension, or 0 when the model default is used.
func (c *OpenAIEmbeddingClient) Dimension() int { return c.dimensions }

// GenerateEmbeddings generates embeddings for the given texts using the specified OpenAI model.
func (c *OpenAIEmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([]domain.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      c.model,
		Dimensions: c.dimensions,
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrTransientEncoder, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	embeddings := make([]domain.Embedding, len(data))
	for i, d := range data {
		embeddings[i] = domain.Embedding(d.Embedding)
	}
	return embeddings, nil
}

// classifyError maps request rejections to malformed input and auth or model
// errors to a rejection; everything else is worth retrying.
func classifyError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", domain.ErrMalformedInput, err)
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrEncoderRejected, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientEncoder, err)
}
