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

const jinaMaxBatchSize = 64

// JinaEmbedder implements batched embedding using Jina's API. Jina models
// support late chunking, so they pair with the sentence-bounded chunker.
type JinaEmbedder struct {
	apiKey       string
	model        string
	dimension    int
	maxTokens    int
	maxBatchSize int
	lateChunking bool
	httpClient   *http.Client
	apiURL       string
	guard        *providerGuard
	logger       zerolog.Logger
}

// JinaEmbeddingRequest represents the request structure for Jina embeddings API.
type JinaEmbeddingRequest struct {
	Input        []string `json:"input"`
	Model        string   `json:"model"`
	LateChunking bool     `json:"late_chunking,omitempty"`
}

// JinaEmbeddingResponse represents the response structure from Jina embeddings API.
type JinaEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewJinaEmbedder creates a new Jina embedder.
func NewJinaEmbedder(model string, lateChunking bool) (*JinaEmbedder, error) {
	return NewJinaEmbedderWithClient(model, lateChunking, nil, "")
}

// NewJinaEmbedderWithClient creates a new Jina embedder with custom HTTP client and API URL.
func NewJinaEmbedderWithClient(
	model string,
	lateChunking bool,
	httpClient *http.Client,
	apiURL string,
) (*JinaEmbedder, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	apiKey := os.Getenv("JINA_API_KEY")
	if strings.EqualFold(apiKey, "") {
		logger.Error().Msg("JINA_API_KEY env variable not set")
		return nil, ErrAPIKeyNotSet
	}

	var dimension, maxTokens int
	switch model {
	case "jina-embeddings-v3":
		dimension = 1024
		maxTokens = 8192
	case "jina-embeddings-v2-base-en":
		dimension = 768
		maxTokens = 8192
	default:
		logger.Error().Str("unsupported model", model).Err(ErrUnsupportedModel)
		return nil, ErrUnsupportedModel
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	if apiURL == "" {
		apiURL = "https://api.jina.ai/v1/embeddings"
	}

	return &JinaEmbedder{
		apiKey:       apiKey,
		model:        model,
		dimension:    dimension,
		maxTokens:    maxTokens,
		maxBatchSize: jinaMaxBatchSize,
		lateChunking: lateChunking,
		httpClient:   httpClient,
		apiURL:       apiURL,
		guard:        newProviderGuard("JinaEmbeddings", defaultRequestsPerMinute),
		logger:       logger,
	}, nil
}

// EmbedBatch creates one vector per input, preserving order.
func (j *JinaEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		j.logger.Warn().Msg("batch is empty")
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, ErrContentEmpty)
	}
	if len(inputs) > j.maxBatchSize {
		return nil, fmt.Errorf("%w: %w: %d > %d", ErrEmbedding, ErrBatchTooLarge, len(inputs), j.maxBatchSize)
	}

	raw, err := j.guard.call(ctx, func() (any, error) {
		return j.requestEmbeddings(ctx, inputs)
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

func (j *JinaEmbedder) requestEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	request := JinaEmbeddingRequest{
		Input:        inputs,
		Model:        j.model,
		LateChunking: j.lateChunking,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		j.logger.Err(err).Msg("failed to marshal request")
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		j.apiURL,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		j.logger.Err(err).Msg("failed to create request")
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", j.apiKey))

	resp, err := j.httpClient.Do(req)
	if err != nil {
		j.logger.Err(err).Msg("failed to make request")
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			j.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		j.logger.Error().Int("status_code", resp.StatusCode).Msg("API request failed")
		return nil, fmt.Errorf("%w: %d", ErrAPIRequestFailed, resp.StatusCode)
	}

	var response JinaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		j.logger.Err(err).Msg("failed to decode response")
		return nil, err
	}

	if len(response.Data) == 0 {
		return nil, ErrNoEmbeddingData
	}

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

	j.logger.Debug().Str("model", j.model).Int("tokens_used", response.Usage.TotalTokens).Msg("Generated embeddings")
	return vectors, nil
}

// GetModelName returns the name of the embedding model.
func (j *JinaEmbedder) GetModelName() string {
	return j.model
}

// GetDimension returns the dimension of the embedding vectors.
func (j *JinaEmbedder) GetDimension() int {
	return j.dimension
}

// GetMaxTokens returns the maximum number of tokens this embedder can handle.
func (j *JinaEmbedder) GetMaxTokens() int {
	return j.maxTokens
}

// GetMaxBatchSize returns the largest batch the provider accepts.
func (j *JinaEmbedder) GetMaxBatchSize() int {
	return j.maxBatchSize
}

// SupportsLateChunking reports whether late chunking is enabled for this
// embedder instance.
func (j *JinaEmbedder) SupportsLateChunking() bool {
	return j.lateChunking
}
