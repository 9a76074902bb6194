package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
)

const openAIMaxBatchSize = 128

// OpenAIEmbedder implements batched embedding using OpenAI's API.
type OpenAIEmbedder struct {
	apiKey       string
	model        string
	dimension    int
	maxTokens    int
	maxBatchSize int
	httpClient   *http.Client
	apiURL       string
	guard        *providerGuard
	logger       zerolog.Logger
}

// OpenAIEmbeddingRequest represents the request structure for OpenAI embeddings API.
type OpenAIEmbeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

// OpenAIEmbeddingResponse represents the response structure from OpenAI embeddings API.
type OpenAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
		Object    string    `json:"object"`
	} `json:"data"`
	Model  string `json:"model"`
	Object string `json:"object"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(model string) (*OpenAIEmbedder, error) {
	return NewOpenAIEmbedderWithClient(model, nil, "")
}

// NewOpenAIEmbedderWithClient creates a new OpenAI embedder with custom HTTP client and API URL.
func NewOpenAIEmbedderWithClient(model string, httpClient *http.Client, apiURL string) (*OpenAIEmbedder, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if strings.EqualFold(apiKey, "") {
		logger.Error().Msg("OPENAI_API_KEY env variable not set")
		return nil, ErrAPIKeyNotSet
	}

	// Set dimension and max tokens based on model
	var dimension, maxTokens int
	switch model {
	case "text-embedding-3-small":
		dimension = 1536
		maxTokens = 8191
	case "text-embedding-3-large":
		dimension = 3072
		maxTokens = 8191
	case "text-embedding-ada-002":
		dimension = 1536
		maxTokens = 8191
	default:
		logger.Error().Str("unsupported model", model).Err(ErrUnsupportedModel)
		return nil, ErrUnsupportedModel
	}

	// Use provided HTTP client or create default one
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	// Use provided API URL or default one
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1/embeddings"
	}

	return &OpenAIEmbedder{
		apiKey:       apiKey,
		model:        model,
		dimension:    dimension,
		maxTokens:    maxTokens,
		maxBatchSize: openAIMaxBatchSize,
		httpClient:   httpClient,
		apiURL:       apiURL,
		guard:        newProviderGuard("OpenAIEmbeddings", defaultRequestsPerMinute),
		logger:       logger,
	}, nil
}

// EmbedBatch creates one vector per input, preserving order.
func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		o.logger.Warn().Msg("batch is empty")
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, ErrContentEmpty)
	}
	if len(inputs) > o.maxBatchSize {
		return nil, fmt.Errorf("%w: %w: %d > %d", ErrEmbedding, ErrBatchTooLarge, len(inputs), o.maxBatchSize)
	}

	// Clean the inputs (remove newlines and extra spaces)
	cleaned := make([]string, len(inputs))
	for i, input := range inputs {
		cleaned[i] = strings.TrimSpace(strings.ReplaceAll(input, "\n", " "))
	}

	raw, err := o.guard.call(ctx, func() (any, error) {
		return o.requestEmbeddings(ctx, cleaned)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	vectors, ok := raw.([][]float32)
	if !ok || len(vectors) != len(inputs) {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, ErrCountMismatch)
	}
	return vectors, nil
}

func (o *OpenAIEmbedder) requestEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	request := OpenAIEmbeddingRequest{
		Input:          inputs,
		Model:          o.model,
		EncodingFormat: "float",
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		o.logger.Err(err).Msg("failed to marshal request")
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		o.apiURL,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		o.logger.Err(err).Msg("failed to create request")
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.apiKey))

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Err(err).Msg("failed to make request")
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			o.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		o.logger.Error().Int("status_code", resp.StatusCode).Msg("API request failed")
		return nil, fmt.Errorf("%w: %d", ErrAPIRequestFailed, resp.StatusCode)
	}

	var response OpenAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		o.logger.Err(err).Msg("failed to decode response")
		return nil, err
	}

	if len(response.Data) == 0 {
		return nil, ErrNoEmbeddingData
	}

	// The API may reorder entries; the index field is authoritative.
	vectors := make([][]float32, len(inputs))
	for _, item := range response.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, ErrCountMismatch
		}
		vectors[item.Index] = item.Embedding
	}
	for _, v := range vectors {
		if v == nil {
			return nil, ErrCountMismatch
		}
	}

	o.logger.Debug().Str("model", o.model).Int("tokens_used", response.Usage.TotalTokens).Msg("Generated embeddings")
	return vectors, nil
}

// GetModelName returns the name of the embedding model.
func (o *OpenAIEmbedder) GetModelName() string {
	return o.model
}

// GetDimension returns the dimension of the embedding vectors.
func (o *OpenAIEmbedder) GetDimension() int {
	return o.dimension
}

// GetMaxTokens returns the maximum number of tokens this embedder can handle.
func (o *OpenAIEmbedder) GetMaxTokens() int {
	return o.maxTokens
}

// GetMaxBatchSize returns the largest batch the provider accepts.
func (o *OpenAIEmbedder) GetMaxBatchSize() int {
	return o.maxBatchSize
}
