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

const (
	defaultHelixURL     = "https://api.twitch.tv/helix"
	twitchClientTimeout = 30 * time.Second
)

var (
	ErrTwitchCredentialsNotSet = errors.New("TWITCH_CLIENT_ID or TWITCH_AUTH_TOKEN env variable not set")
	ErrTwitchUserNotFound      = errors.New("twitch user not found")
	ErrTwitchStatusCode        = errors.New("unexpected status code from twitch API")
)

// TwitchFetcher lists a broadcaster's archived videos through the Helix API.
type TwitchFetcher struct {
	clientID   string
	authToken  string
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTwitchFetcher creates a Twitch channel fetcher from env credentials.
func NewTwitchFetcher() (*TwitchFetcher, error) {
	return NewTwitchFetcherWithClient(nil, "")
}

// NewTwitchFetcherWithClient creates a Twitch fetcher with a custom HTTP
// client and API URL for testing.
func NewTwitchFetcherWithClient(httpClient *http.Client, apiURL string) (*TwitchFetcher, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	clientID := os.Getenv("TWITCH_CLIENT_ID")
	authToken := os.Getenv("TWITCH_AUTH_TOKEN")
	if strings.EqualFold(clientID, "") || strings.EqualFold(authToken, "") {
		logger.Error().Msg("twitch credentials not set")
		return nil, ErrTwitchCredentialsNotSet
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: twitchClientTimeout}
	}
	if apiURL == "" {
		apiURL = defaultHelixURL
	}

	return &TwitchFetcher{
		clientID:   clientID,
		authToken:  authToken,
		apiURL:     apiURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// GetPlatform returns the platform this fetcher handles.
func (t *TwitchFetcher) GetPlatform() models.Platform {
	return models.PlatformTwitch
}

type twitchUsersResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

type twitchVideosResponse struct {
	Data []struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		URL          string `json:"url"`
		ThumbnailURL string `json:"thumbnail_url"`
		Duration     string `json:"duration"`
	} `json:"data"`
}

// FetchChannelVideos returns one page of the broadcaster's archived videos.
func (t *TwitchFetcher) FetchChannelVideos(
	ctx context.Context,
	handle string,
	limit int,
) ([]models.ContentSource, error) {
	login := strings.TrimPrefix(handle, "@")

	var users twitchUsersResponse
	if err := t.get(ctx, "/users?login="+url.QueryEscape(login), &users); err != nil {
		return nil, err
	}
	if len(users.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTwitchUserNotFound, handle)
	}

	var videos twitchVideosResponse
	path := "/videos?type=archive&user_id=" + url.QueryEscape(users.Data[0].ID) +
		"&first=" + strconv.Itoa(limit)
	if err := t.get(ctx, path, &videos); err != nil {
		return nil, err
	}

	sources := make([]models.ContentSource, 0, len(videos.Data))
	for _, v := range videos.Data {
		source := models.ContentSource{
			ID:             v.ID,
			Kind:           models.KindVideo,
			Platform:       models.PlatformTwitch,
			DisplayTitle:   v.Title,
			SizeOrDuration: parseTwitchDuration(v.Duration),
			Locator:        v.URL,
		}
		if v.ThumbnailURL != "" {
			thumb := v.ThumbnailURL
			source.ThumbnailRef = &thumb
		}
		sources = append(sources, source)
	}

	t.logger.Info().Str("handle", handle).Int("count", len(sources)).Msg("fetched channel page")
	return sources, nil
}

func (t *TwitchFetcher) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiURL+path, nil)
	if err != nil {
		t.logger.Err(err).Msg("failed to create request")
		return err
	}
	req.Header.Set("Client-Id", t.clientID)
	req.Header.Set("Authorization", "Bearer "+t.authToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Err(err).Msg("failed to make request")
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		t.logger.Error().Int("status_code", resp.StatusCode).Str("path", path).Msg("API request failed")
		return fmt.Errorf("%w: %d", ErrTwitchStatusCode, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// parseTwitchDuration converts Helix's "1h2m3s" form to seconds.
func parseTwitchDuration(raw string) int64 {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return int64(d.Seconds())
}
