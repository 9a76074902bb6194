package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/db"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrTranscriptNotFound = errors.New("transcript not found")

type TranscriptRepository struct {
	db     *db.DB
	logger zerolog.Logger
}

func NewTranscriptRepository(database *db.DB) *TranscriptRepository {
	logger := util.NewLogger(zerolog.ErrorLevel)
	return &TranscriptRepository{
		db:     database,
		logger: logger,
	}
}

func (r *TranscriptRepository) StoreTranscript(ctx context.Context, record *models.TranscriptRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	query := `
		INSERT OR REPLACE INTO transcripts (id, job_id, video_id, text, language, word_count, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
	`

	_, err := r.db.ExecContext(ctx, query, record.ID, record.JobID, record.VideoID,
		record.Text, record.Language, record.WordCount, record.Metadata)
	if err != nil {
		r.logger.Error().Err(err).Str("video_id", record.VideoID).Msg("Failed to store transcript")
	}
	return err
}

func (r *TranscriptRepository) GetTranscriptByVideoID(ctx context.Context, videoID string) (*models.TranscriptRecord, error) {
	query := `
		SELECT id, job_id, video_id, text, language, word_count, metadata, created_at
		FROM transcripts WHERE video_id = ?
		ORDER BY created_at DESC LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, videoID)

	var record models.TranscriptRecord
	err := row.Scan(&record.ID, &record.JobID, &record.VideoID, &record.Text,
		&record.Language, &record.WordCount, &record.Metadata, &record.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to get transcript")
		return nil, err
	}

	return &record, nil
}
