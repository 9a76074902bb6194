package ingesters

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

const maxDocumentBytes = 10 << 20

// DocumentIngester extracts text from uploaded files. The source locator is
// the file path recorded at catalog build.
type DocumentIngester struct {
	logger zerolog.Logger
}

// NewDocumentIngester creates a document ingester.
func NewDocumentIngester() *DocumentIngester {
	return &DocumentIngester{logger: util.NewLogger(zerolog.ErrorLevel)}
}

// GetSourceKind returns the kind of source this ingester handles.
func (d *DocumentIngester) GetSourceKind() models.SourceKind {
	return models.KindDocument
}

// Ingest reads the file and extracts its text. PDFs go through the PDF
// reader; everything else is treated as plain text.
func (d *DocumentIngester) Ingest(ctx context.Context, source models.ContentSource) (*models.RawContent, error) {
	if source.Kind != models.KindDocument {
		return nil, fmt.Errorf("%w: %s", ErrWrongSourceKind, source.Kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(source.Locator)
	if err != nil {
		d.logger.Err(err).Str("source_id", source.ID).Msg("failed to stat document")
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}
	// The cap was checked at upload; re-check in case the file changed.
	if info.Size() > maxDocumentBytes {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrSourceFetch, ErrFileTooLarge, info.Size())
	}

	data, err := os.ReadFile(source.Locator)
	if err != nil {
		d.logger.Err(err).Str("source_id", source.ID).Msg("failed to read document")
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}

	var text string
	switch strings.ToLower(filepath.Ext(source.Locator)) {
	case ".pdf":
		text, err = extractPDFText(data)
		if err != nil {
			d.logger.Err(err).Str("source_id", source.ID).Msg("pdf extraction failed")
			return nil, fmt.Errorf("%w: %w", ErrSourceFetch, err)
		}
	case ".txt", ".md", ".markdown", ".csv", ".json", ".html":
		text = string(data)
	default:
		return nil, fmt.Errorf("%w: %w: %s",
			ErrSourceFetch, ErrUnsupportedFile, filepath.Ext(source.Locator))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", ErrSourceFetch, ErrEmptyContent)
	}

	return &models.RawContent{
		SourceID:  source.ID,
		Text:      text,
		WordCount: len(strings.Fields(text)),
	}, nil
}

func extractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			// A broken page should not sink the whole document.
			continue
		}
		builder.WriteString(pageText)
		builder.WriteString("\n")
	}

	return builder.String(), nil
}
