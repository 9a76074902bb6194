package vectorstores

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	qdrantTimeout         = 30 * time.Second
	qdrantWritesPerSecond = 30
)

// QdrantStore persists embedded chunks in a Qdrant collection over the REST
// API. Qdrant snapshots give it native bulk export.
type QdrantStore struct {
	apiKey     string
	baseURL    string
	collection string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type qdrantUpsertRequest struct {
	Points []qdrantPoint `json:"points"`
}

// NewQdrantStore creates a Qdrant-backed vector store. The URL and API key
// come from QDRANT_URL and QDRANT_API_KEY.
func NewQdrantStore(collection string) (*QdrantStore, error) {
	return NewQdrantStoreWithClient(collection, nil, "")
}

// NewQdrantStoreWithClient creates a Qdrant store with a custom HTTP client
// and base URL.
func NewQdrantStoreWithClient(collection string, httpClient *http.Client, baseURL string) (*QdrantStore, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	if baseURL == "" {
		baseURL = os.Getenv("QDRANT_URL")
	}
	if baseURL == "" {
		logger.Error().Msg("QDRANT_URL env variable not set")
		return nil, fmt.Errorf("%w: QDRANT_URL not set", ErrStorage)
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: qdrantTimeout,
		}
	}

	return &QdrantStore{
		apiKey:     os.Getenv("QDRANT_API_KEY"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(qdrantWritesPerSecond), qdrantWritesPerSecond),
		logger:     logger,
	}, nil
}

// Name returns the vector database identifier.
func (s *QdrantStore) Name() string {
	return "qdrant"
}

// SupportsNativeExport reports bulk native export support.
func (s *QdrantStore) SupportsNativeExport() bool {
	return true
}

// UpsertBatch writes all points in one request with wait=true, so the write
// is acknowledged or rejected as a whole.
func (s *QdrantStore) UpsertBatch(ctx context.Context, points []models.VectorPoint) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: %w", ErrStorage, ErrEmptyBatch)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	payload := qdrantUpsertRequest{Points: make([]qdrantPoint, 0, len(points))}
	for _, point := range points {
		body := map[string]any{
			"source_id":   point.SourceID,
			"chunk_index": point.ChunkIndex,
			"body":        point.Body,
			"model":       point.Model,
		}
		for k, v := range point.Metadata {
			body[k] = v
		}
		payload.Points = append(payload.Points, qdrantPoint{
			ID:      point.ID,
			Vector:  point.Vector,
			Payload: body,
		})
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		s.logger.Err(err).Msg("failed to marshal upsert request")
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.baseURL, s.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Err(err).Msg("failed to make request")
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		s.logger.Error().Int("status_code", resp.StatusCode).Msg("Qdrant upsert failed")
		return fmt.Errorf("%w: %w: %d", ErrStorage, ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
