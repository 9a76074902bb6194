package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/db"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
)

var ErrJobNotFound = errors.New("job not found")

type JobRepository struct {
	db     *db.DB
	logger zerolog.Logger
}

func NewJobRepository(database *db.DB) *JobRepository {
	logger := util.NewLogger(zerolog.ErrorLevel)
	return &JobRepository{
		db:     database,
		logger: logger,
	}
}

func (r *JobRepository) CreateJob(ctx context.Context, jobID, userID, sourceLocator string) error {
	query := `
		INSERT INTO jobs (id, user_id, source_locator, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'), datetime('now'))
	`

	_, err := r.db.ExecContext(ctx, query, jobID, userID, sourceLocator, models.JobStatusProcessing)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to create job")
	}
	return err
}

func (r *JobRepository) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, jobErr *string) error {
	query := `
		UPDATE jobs SET status = ?, error = ?, updated_at = datetime('now')
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, jobErr, jobID)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to update job status")
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		r.logger.Error().Str("job_id", jobID).Msg("Job not found")
		return ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	query := `
		SELECT id, user_id, source_locator, status, error, created_at, updated_at
		FROM jobs WHERE id = ?
	`
	row := r.db.QueryRowContext(ctx, query, jobID)

	var job models.JobRecord
	err := row.Scan(&job.ID, &job.UserID, &job.SourceLocator, &job.Status,
		&job.Error, &job.CreatedAt, &job.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Error().Str("job_id", jobID).Msg("Job not found")
		return nil, ErrJobNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to get job")
		return nil, err
	}

	return &job, nil
}

func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]models.JobRecord, error) {
	query := `
		SELECT id, user_id, source_locator, status, error, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err = rows.Err(); err != nil {
		return nil, err
	}

	var jobs []models.JobRecord
	for rows.Next() {
		var job models.JobRecord
		err := rows.Scan(&job.ID, &job.UserID, &job.SourceLocator, &job.Status,
			&job.Error, &job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to scan job")
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}
