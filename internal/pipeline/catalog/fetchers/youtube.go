package fetchers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"
)

var (
	ErrYouTubeAPIKeyNotSet = errors.New("YOUTUBE_API_KEY env variable not set")
	ErrChannelNotFound     = errors.New("channel not found for handle")
)

// YouTubeFetcher lists a channel's uploads through the YouTube Data API.
type YouTubeFetcher struct {
	service *youtube.Service
	logger  zerolog.Logger
}

// NewYouTubeFetcher creates a YouTube channel fetcher using YOUTUBE_API_KEY.
func NewYouTubeFetcher(ctx context.Context) (*YouTubeFetcher, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	apiKey := os.Getenv("YOUTUBE_API_KEY")
	if strings.EqualFold(apiKey, "") {
		logger.Error().Msg("YOUTUBE_API_KEY env variable not set")
		return nil, ErrYouTubeAPIKeyNotSet
	}

	service, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		logger.Err(err).Msg("failed to create youtube service")
		return nil, err
	}

	return &YouTubeFetcher{service: service, logger: logger}, nil
}

// GetPlatform returns the platform this fetcher handles.
func (y *YouTubeFetcher) GetPlatform() models.Platform {
	return models.PlatformYouTube
}

// FetchChannelVideos returns one page of the channel's most recent uploads.
func (y *YouTubeFetcher) FetchChannelVideos(
	ctx context.Context,
	handle string,
	limit int,
) ([]models.ContentSource, error) {
	channels, err := y.service.Channels.
		List([]string{"contentDetails"}).
		ForHandle(strings.TrimPrefix(handle, "@")).
		Context(ctx).
		Do()
	if err != nil {
		y.logger.Err(err).Str("handle", handle).Msg("channel lookup failed")
		return nil, err
	}
	if len(channels.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, handle)
	}

	uploads := channels.Items[0].ContentDetails.RelatedPlaylists.Uploads
	items, err := y.service.PlaylistItems.
		List([]string{"snippet", "contentDetails"}).
		PlaylistId(uploads).
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		y.logger.Err(err).Str("playlist_id", uploads).Msg("playlist listing failed")
		return nil, err
	}

	videoIDs := make([]string, 0, len(items.Items))
	for _, item := range items.Items {
		videoIDs = append(videoIDs, item.ContentDetails.VideoId)
	}
	durations, err := y.fetchDurations(ctx, videoIDs)
	if err != nil {
		// Durations are preview metadata; keep going without them.
		y.logger.Warn().Err(err).Msg("duration lookup failed")
		durations = map[string]int64{}
	}

	sources := make([]models.ContentSource, 0, len(items.Items))
	for _, item := range items.Items {
		videoID := item.ContentDetails.VideoId
		source := models.ContentSource{
			ID:             videoID,
			Kind:           models.KindVideo,
			Platform:       models.PlatformYouTube,
			DisplayTitle:   item.Snippet.Title,
			SizeOrDuration: durations[videoID],
			Locator:        "https://www.youtube.com/watch?v=" + videoID,
		}
		if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.Medium != nil {
			thumb := item.Snippet.Thumbnails.Medium.Url
			source.ThumbnailRef = &thumb
		}
		sources = append(sources, source)
	}

	y.logger.Info().Str("handle", handle).Int("count", len(sources)).Msg("fetched channel page")
	return sources, nil
}

func (y *YouTubeFetcher) fetchDurations(ctx context.Context, videoIDs []string) (map[string]int64, error) {
	if len(videoIDs) == 0 {
		return map[string]int64{}, nil
	}

	videos, err := y.service.Videos.
		List([]string{"contentDetails"}).
		Id(videoIDs...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}

	durations := make(map[string]int64, len(videos.Items))
	for _, video := range videos.Items {
		durations[video.Id] = parseISO8601Duration(video.ContentDetails.Duration)
	}
	return durations, nil
}

// parseISO8601Duration converts the API's PT#H#M#S form to seconds. Unknown
// shapes yield zero.
func parseISO8601Duration(iso string) int64 {
	trimmed := strings.TrimPrefix(iso, "PT")
	if trimmed == iso {
		return 0
	}
	lowered := strings.ToLower(trimmed)
	d, err := time.ParseDuration(lowered)
	if err != nil {
		return 0
	}
	return int64(d.Seconds())
}
