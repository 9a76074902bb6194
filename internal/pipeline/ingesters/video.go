package ingesters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
)

const videoClientTimeout = 60 * time.Second

var ErrTranscriptAPIURLNotSet = errors.New("RAGLINE_TRANSCRIPT_API_URL env variable not set")

// VideoIngester fetches a video's transcript from the transcript extraction
// service.
type VideoIngester struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewVideoIngester creates a video ingester from env configuration.
func NewVideoIngester() (*VideoIngester, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	apiURL := os.Getenv("RAGLINE_TRANSCRIPT_API_URL")
	if strings.EqualFold(apiURL, "") {
		logger.Error().Msg("RAGLINE_TRANSCRIPT_API_URL env variable not set")
		return nil, ErrTranscriptAPIURLNotSet
	}

	return &VideoIngester{
		apiURL:     apiURL,
		apiKey:     os.Getenv("RAGLINE_TRANSCRIPT_API_KEY"),
		httpClient: &http.Client{Timeout: videoClientTimeout},
		logger:     logger,
	}, nil
}

// NewVideoIngesterWithClient creates a video ingester with a custom HTTP
// client and API URL for testing.
func NewVideoIngesterWithClient(httpClient *http.Client, apiURL string) *VideoIngester {
	return &VideoIngester{
		apiURL:     apiURL,
		httpClient: httpClient,
		logger:     util.NewLogger(zerolog.ErrorLevel),
	}
}

// GetSourceKind returns the kind of source this ingester handles.
func (v *VideoIngester) GetSourceKind() models.SourceKind {
	return models.KindVideo
}

type transcriptResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Ingest fetches the transcript for a video source.
func (v *VideoIngester) Ingest(ctx context.Context, source models.ContentSource) (*models.RawContent, error) {
	if source.Kind != models.KindVideo {
		return nil, fmt.Errorf("%w: %s", ErrWrongSourceKind, source.Kind)
	}

	endpoint := v.apiURL + "/transcripts?video_url=" + url.QueryEscape(source.Locator) +
		"&platform=" + url.QueryEscape(string(source.Platform))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		v.logger.Err(err).Str("source_id", source.ID).Msg("failed to create request")
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Err(err).Str("source_id", source.ID).Msg("transcript fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			v.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		v.logger.Error().Int("status_code", resp.StatusCode).Str("source_id", source.ID).Msg("transcript fetch failed")
		return nil, fmt.Errorf("%w: %w: %d", ErrSourceFetch, ErrUnexpectedStatus, resp.StatusCode)
	}

	var body transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		v.logger.Err(err).Str("source_id", source.ID).Msg("failed to decode response")
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}

	text := strings.TrimSpace(body.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, ErrEmptyContent)
	}

	content := &models.RawContent{
		SourceID:  source.ID,
		Text:      text,
		WordCount: len(strings.Fields(text)),
	}
	if body.Language != "" {
		lang := body.Language
		content.Language = &lang
	}
	return content, nil
}
