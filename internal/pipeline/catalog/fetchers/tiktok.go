package fetchers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
)

const tiktokClientTimeout = 30 * time.Second

var (
	ErrTikTokAPIURLNotSet = errors.New("TIKTOK_API_URL env variable not set")
	ErrTikTokStatusCode   = errors.New("unexpected status code from tiktok API")
)

// TikTokFetcher lists a creator's videos through a scraping proxy API
// configured by TIKTOK_API_URL (TikTok has no public listing endpoint).
type TikTokFetcher struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTikTokFetcher creates a TikTok channel fetcher from env configuration.
func NewTikTokFetcher() (*TikTokFetcher, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	apiURL := os.Getenv("TIKTOK_API_URL")
	if strings.EqualFold(apiURL, "") {
		logger.Error().Msg("TIKTOK_API_URL env variable not set")
		return nil, ErrTikTokAPIURLNotSet
	}

	return &TikTokFetcher{
		apiURL:     apiURL,
		apiKey:     os.Getenv("TIKTOK_API_KEY"),
		httpClient: &http.Client{Timeout: tiktokClientTimeout},
		logger:     logger,
	}, nil
}

// GetPlatform returns the platform this fetcher handles.
func (t *TikTokFetcher) GetPlatform() models.Platform {
	return models.PlatformTikTok
}

type tiktokVideosResponse struct {
	Videos []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Cover    string `json:"cover"`
		Duration int64  `json:"duration"`
		ShareURL string `json:"share_url"`
	} `json:"videos"`
}

// FetchChannelVideos returns one page of the creator's recent videos.
func (t *TikTokFetcher) FetchChannelVideos(
	ctx context.Context,
	handle string,
	limit int,
) ([]models.ContentSource, error) {
	endpoint := t.apiURL + "/user/videos?handle=" + url.QueryEscape(strings.TrimPrefix(handle, "@")) +
		"&count=" + strconv.Itoa(limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		t.logger.Err(err).Msg("failed to create request")
		return nil, err
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Err(err).Str("handle", handle).Msg("failed to make request")
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		t.logger.Error().Int("status_code", resp.StatusCode).Msg("API request failed")
		return nil, fmt.Errorf("%w: %d", ErrTikTokStatusCode, resp.StatusCode)
	}

	var body tiktokVideosResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.logger.Err(err).Msg("failed to decode response")
		return nil, err
	}

	sources := make([]models.ContentSource, 0, len(body.Videos))
	for _, v := range body.Videos {
		source := models.ContentSource{
			ID:             v.ID,
			Kind:           models.KindVideo,
			Platform:       models.PlatformTikTok,
			DisplayTitle:   v.Title,
			SizeOrDuration: v.Duration,
			Locator:        v.ShareURL,
		}
		if v.Cover != "" {
			cover := v.Cover
			source.ThumbnailRef = &cover
		}
		sources = append(sources, source)
	}

	t.logger.Info().Str("handle", handle).Int("count", len(sources)).Msg("fetched channel page")
	return sources, nil
}
