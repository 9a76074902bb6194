package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/interfaces"
	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
)

// Input limits enforced before any source is built.
const (
	MaxURLs          = 20
	MaxDocuments     = 50
	MaxDocumentBytes = 10 << 20
	ChannelPageSize  = 20

	metadataTimeout = 15 * time.Second
)

var (
	// ErrValidation is the root of the input validation error family.
	ErrValidation = errors.New("invalid catalog input")

	ErrNoInput             = errors.New("no input provided")
	ErrTooManyURLs         = errors.New("too many URLs")
	ErrDuplicateURL        = errors.New("duplicate URL")
	ErrTooManyDocuments    = errors.New("too many documents")
	ErrDocumentTooLarge    = errors.New("document exceeds size limit")
	ErrDuplicateDocument   = errors.New("duplicate document")
	ErrUnknownPlatform     = errors.New("no fetcher registered for platform")
	ErrFetcherRegistered   = errors.New("fetcher already registered for platform")
	ErrDuplicateChannelIDs = errors.New("channel fetch returned duplicate source ids")
)

// Document is one uploaded file offered to the catalog. Path, when set, is
// where the ingester reads the file from; Name alone is used otherwise.
type Document struct {
	Name string
	Path string
	Data []byte
}

// Catalog is an immutable snapshot of normalized content sources. Source
// ids are unique within one snapshot and ordering matches the input.
type Catalog struct {
	sources []models.ContentSource
	byID    map[string]models.ContentSource
}

func newCatalog(sources []models.ContentSource) *Catalog {
	byID := make(map[string]models.ContentSource, len(sources))
	for _, s := range sources {
		byID[s.ID] = s
	}
	return &Catalog{sources: sources, byID: byID}
}

// Sources returns the sources in input order.
func (c *Catalog) Sources() []models.ContentSource {
	out := make([]models.ContentSource, len(c.sources))
	copy(out, c.sources)
	return out
}

// Contains reports whether the id belongs to this snapshot.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Get returns the source for an id.
func (c *Catalog) Get(id string) (models.ContentSource, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// Len returns the number of sources in the snapshot.
func (c *Catalog) Len() int {
	return len(c.sources)
}

// Builder normalizes heterogeneous inputs into catalogs.
type Builder struct {
	client   *http.Client
	fetchers map[models.Platform]interfaces.ChannelFetcher
	logger   zerolog.Logger
}

// NewBuilder creates a catalog builder with a default HTTP client for
// best-effort metadata fetches.
func NewBuilder() *Builder {
	return &Builder{
		client:   &http.Client{Timeout: metadataTimeout},
		fetchers: make(map[models.Platform]interfaces.ChannelFetcher),
		logger:   util.NewLogger(zerolog.ErrorLevel),
	}
}

// SetHTTPClient overrides the metadata HTTP client.
func (b *Builder) SetHTTPClient(client *http.Client) {
	b.client = client
}

// RegisterFetcher adds a platform channel fetcher.
func (b *Builder) RegisterFetcher(fetcher interfaces.ChannelFetcher) error {
	platform := fetcher.GetPlatform()
	if _, exists := b.fetchers[platform]; exists {
		b.logger.Error().Str("platform", string(platform)).Msg("Fetcher already registered")
		return ErrFetcherRegistered
	}
	b.fetchers[platform] = fetcher
	b.logger.Info().Str("platform", string(platform)).Msg("Registered fetcher")
	return nil
}

// BuildFromURLs normalizes a pasted URL list. Every input URL yields exactly
// one source: unreachable pages become placeholder-titled sources, only the
// input limits reject the whole list.
func (b *Builder) BuildFromURLs(ctx context.Context, urls []string) (*Catalog, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNoInput)
	}
	if len(urls) > MaxURLs {
		return nil, fmt.Errorf("%w: %w: %d > %d", ErrValidation, ErrTooManyURLs, len(urls), MaxURLs)
	}

	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		key := strings.TrimSpace(raw)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %w: %s", ErrValidation, ErrDuplicateURL, key)
		}
		seen[key] = struct{}{}
	}

	sources := make([]models.ContentSource, 0, len(urls))
	for _, raw := range urls {
		sources = append(sources, b.buildURLSource(ctx, strings.TrimSpace(raw)))
	}

	return newCatalog(sources), nil
}

func (b *Builder) buildURLSource(ctx context.Context, raw string) models.ContentSource {
	source := models.ContentSource{
		ID:      raw,
		Kind:    models.KindURL,
		Locator: raw,
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		b.logger.Warn().Str("url", raw).Msg("invalid URL, keeping placeholder source")
		reason := "invalid URL"
		source.DisplayTitle = "Invalid URL"
		source.Failed = true
		source.FailureReason = &reason
		return source
	}

	meta, err := fetchPageMetadata(ctx, b.client, raw)
	if err != nil {
		// Metadata is preview-only; the source stays selectable.
		b.logger.Warn().Err(err).Str("url", raw).Msg("metadata fetch failed")
		source.DisplayTitle = raw + " (Error)"
		return source
	}

	source.DisplayTitle = meta.Title
	if source.DisplayTitle == "" {
		source.DisplayTitle = raw
	}
	if meta.Thumbnail != "" {
		thumb := meta.Thumbnail
		source.ThumbnailRef = &thumb
	}
	source.SizeOrDuration = meta.ContentLength
	return source
}

// BuildFromDocuments normalizes uploaded files. Oversized or duplicate
// entries reject the upload rather than being dropped silently.
func (b *Builder) BuildFromDocuments(docs []Document) (*Catalog, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrNoInput)
	}
	if len(docs) > MaxDocuments {
		return nil, fmt.Errorf("%w: %w: %d > %d", ErrValidation, ErrTooManyDocuments, len(docs), MaxDocuments)
	}

	seen := make(map[string]struct{}, len(docs))
	sources := make([]models.ContentSource, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Data) > MaxDocumentBytes {
			return nil, fmt.Errorf("%w: %w: %s is %d bytes",
				ErrValidation, ErrDocumentTooLarge, doc.Name, len(doc.Data))
		}
		if _, dup := seen[doc.Name]; dup {
			return nil, fmt.Errorf("%w: %w: %s", ErrValidation, ErrDuplicateDocument, doc.Name)
		}
		seen[doc.Name] = struct{}{}

		locator := doc.Name
		if doc.Path != "" {
			locator = doc.Path
		}
		sources = append(sources, models.ContentSource{
			ID:             "doc:" + doc.Name,
			Kind:           models.KindDocument,
			DisplayTitle:   doc.Name,
			SizeOrDuration: int64(len(doc.Data)),
			Locator:        locator,
		})
	}

	return newCatalog(sources), nil
}

// BuildFromChannel fetches one bounded page of a platform channel's items.
func (b *Builder) BuildFromChannel(
	ctx context.Context,
	platform models.Platform,
	handle string,
) (*Catalog, error) {
	fetcher, exists := b.fetchers[platform]
	if !exists {
		b.logger.Error().Str("platform", string(platform)).Msg("No fetcher registered")
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}

	b.logger.Info().Str("platform", string(platform)).Str("handle", handle).Msg("Fetching channel page")
	sources, err := fetcher.FetchChannelVideos(ctx, handle, ChannelPageSize)
	if err != nil {
		return nil, err
	}
	if len(sources) > ChannelPageSize {
		sources = sources[:ChannelPageSize]
	}

	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChannelIDs, s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	return newCatalog(sources), nil
}
