package ingesters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog"
)

const (
	urlClientTimeout = 30 * time.Second
	maxURLBodyBytes  = 20 << 20
)

// URLIngester fetches a web page and extracts its text as markdown.
type URLIngester struct {
	client    *http.Client
	converter *md.Converter
	logger    zerolog.Logger
}

// NewURLIngester creates a URL ingester with a default HTTP client.
func NewURLIngester() *URLIngester {
	return &URLIngester{
		client:    &http.Client{Timeout: urlClientTimeout},
		converter: md.NewConverter("", true, nil),
		logger:    util.NewLogger(zerolog.ErrorLevel),
	}
}

// SetHTTPClient overrides the HTTP client.
func (u *URLIngester) SetHTTPClient(client *http.Client) {
	u.client = client
}

// GetSourceKind returns the kind of source this ingester handles.
func (u *URLIngester) GetSourceKind() models.SourceKind {
	return models.KindURL
}

// Ingest fetches the page and converts it to markdown text.
func (u *URLIngester) Ingest(ctx context.Context, source models.ContentSource) (*models.RawContent, error) {
	if source.Kind != models.KindURL {
		return nil, fmt.Errorf("%w: %s", ErrWrongSourceKind, source.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.Locator, nil)
	if err != nil {
		u.logger.Err(err).Str("source_id", source.ID).Msg("failed to create request")
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}
	req.Header.Set("User-Agent", "ragline/1.0")

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Err(err).Str("source_id", source.ID).Msg("failed to fetch page")
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			u.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		u.logger.Error().Int("status_code", resp.StatusCode).Str("source_id", source.ID).Msg("page fetch failed")
		return nil, fmt.Errorf("%w: %w: %d", ErrSourceFetch, ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}

	markdown, err := u.converter.ConvertString(string(body))
	if err != nil {
		u.logger.Err(err).Str("source_id", source.ID).Msg("markdown conversion failed")
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}

	text := strings.TrimSpace(markdown)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, ErrEmptyContent)
	}

	return &models.RawContent{
		SourceID:  source.ID,
		Text:      text,
		WordCount: len(strings.Fields(text)),
	}, nil
}
