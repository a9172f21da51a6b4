package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "gemini-embedding-001"

// GenAI generates embeddings through Google's Gemini embedding API.
type GenAI struct {
	client *genai.Client
	model  string
	task   string
	dim    int
}

// NewGenAI creates a GenAI embedding provider.
// The task type defaults to code retrieval, which matches how the vectors
// are queried at review time.
func NewGenAI(ctx context.Context, apiKey, model string, dim int) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if dim <= 0 {
		dim = 768
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAI{
		client: client,
		model:  model,
		task:   "CODE_RETRIEVAL_QUERY",
		dim:    dim,
	}, nil
}

// Dimensions implements Provider.
func (g *GenAI) Dimensions() int { return g.dim }

// EmbedBatch implements Provider. The API supports native batching.
func (g *GenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType: g.task,
	})
	if err != nil {
		return nil, fmt.Errorf("genai batch embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
