package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrMetadataStatus = errors.New("metadata fetch returned non-OK status")

// pageMetadata is the preview information scraped from a URL source.
type pageMetadata struct {
	Title         string
	Thumbnail     string
	ContentLength int64
}

// fetchPageMetadata scrapes title and thumbnail from the page head. It is
// best-effort: callers keep the source on any error.
func fetchPageMetadata(ctx context.Context, client *http.Client, pageURL string) (*pageMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "ragline/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrMetadataStatus, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	meta := &pageMetadata{ContentLength: resp.ContentLength}
	if resp.ContentLength < 0 {
		meta.ContentLength = 0
	}

	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && og != "" {
		meta.Title = strings.TrimSpace(og)
	} else {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if image, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		meta.Thumbnail = strings.TrimSpace(image)
	}

	return meta, nil
}
